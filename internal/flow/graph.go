package flow

import "fmt"

// Graph is a validated, executable view of a flow config. Construction via
// Build is the only way to obtain one, so holding a *Graph implies the step
// set passed validation: unique ids, resolvable auto_receive_from
// references, and an acyclic dependency set.
type Graph struct {
	steps  []Step
	byID   map[string]*Step
	usedBy map[string][]string
}

// Build validates the step set and returns an executable graph.
//
// Validation rules:
//  1. step ids are unique and non-empty
//  2. every auto_receive_from reference names an existing step
//  3. the dependency set is acyclic (including self-references)
//
// Order values need not be contiguous and are not checked against the
// dependency set; order is advisory (display and staleness only).
func Build(cfg *Config) (*Graph, error) {
	if cfg == nil || len(cfg.Steps) == 0 {
		return nil, &ConfigError{Reason: "no steps defined"}
	}

	steps := cfg.SortedSteps()
	byID := make(map[string]*Step, len(steps))
	for i := range steps {
		s := &steps[i]
		if s.ID == "" {
			return nil, &ConfigError{Reason: fmt.Sprintf("step %d has an empty id", i)}
		}
		if _, dup := byID[s.ID]; dup {
			return nil, &ConfigError{StepID: s.ID, Reason: "duplicate step id"}
		}
		byID[s.ID] = s
	}

	usedBy := make(map[string][]string)
	for i := range steps {
		s := &steps[i]
		for _, dep := range s.AutoReceiveFrom {
			if _, ok := byID[dep]; !ok {
				return nil, &ConfigError{StepID: s.ID, Reason: fmt.Sprintf("auto_receive_from references unknown step %q", dep)}
			}
			usedBy[dep] = append(usedBy[dep], s.ID)
		}
	}

	if cycle := findCycle(steps, byID); cycle != nil {
		return nil, &ConfigError{Cycle: cycle}
	}

	return &Graph{steps: steps, byID: byID, usedBy: usedBy}, nil
}

// DFS colors for cycle detection.
const (
	colorWhite = iota // unvisited
	colorGray         // on the current DFS path
	colorBlack        // fully explored
)

// findCycle runs a three-color DFS over the dependency edges and returns
// the ids forming a cycle, or nil when the set is acyclic.
func findCycle(steps []Step, byID map[string]*Step) []string {
	color := make(map[string]int, len(steps))
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = colorGray
		path = append(path, id)
		for _, dep := range byID[id].AutoReceiveFrom {
			switch color[dep] {
			case colorGray:
				// Close the loop at the first repeated id so the
				// reported cycle reads start -> ... -> start.
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				cycle = append(append([]string{}, path[start:]...), dep)
				return true
			case colorWhite:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = colorBlack
		return false
	}

	for i := range steps {
		if color[steps[i].ID] == colorWhite {
			if visit(steps[i].ID) {
				return cycle
			}
		}
	}
	return nil
}

// Steps returns the steps in deterministic (order, id) sequence. This is
// the sequence a full-campaign run executes.
func (g *Graph) Steps() []Step {
	out := make([]Step, len(g.steps))
	copy(out, g.steps)
	return out
}

// Step returns the step with the given id, or nil.
func (g *Graph) Step(id string) *Step {
	return g.byID[id]
}

// Dependents returns the ids of steps that auto-receive from the given
// step. Used by the lint surface to warn before destructive re-runs.
func (g *Graph) Dependents(id string) []string {
	out := make([]string, len(g.usedBy[id]))
	copy(out, g.usedBy[id])
	return out
}
