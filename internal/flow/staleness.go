package flow

import "time"

// Staleness is a read-time heuristic: a step's recorded output is stale
// when some step with strictly lower order was completed after it. Order
// encodes intended causal precedence, so an earlier-in-order step re-run
// after a later one means the later output was computed against upstream
// content that has since changed.
//
// The heuristic deliberately uses declared order, not auto_receive_from
// edges, preserving the observed product behavior (see DESIGN.md). Nothing
// is ever auto-invalidated; staleness only flags outputs for a deliberate
// user re-run.

// OutputStamp records that a step has output and when it completed.
// A zero CompletedAt means the output predates completion stamping; such
// outputs are neither stale nor count as "later" comparators.
type OutputStamp struct {
	CompletedAt time.Time
}

// IsStale reports whether the output recorded for stepID is stale relative
// to the other recorded outputs. A step with no recorded output is never
// stale. Pure and idempotent; a single linear scan over lower-order steps.
func IsStale(stepID string, steps []Step, stamps map[string]OutputStamp) bool {
	stamp, ok := stamps[stepID]
	if !ok || stamp.CompletedAt.IsZero() {
		return false
	}

	var candidate *Step
	for i := range steps {
		if steps[i].ID == stepID {
			candidate = &steps[i]
			break
		}
	}
	if candidate == nil {
		return false
	}

	for i := range steps {
		s := &steps[i]
		if s.Order >= candidate.Order {
			continue
		}
		upstream, ok := stamps[s.ID]
		if !ok || upstream.CompletedAt.IsZero() {
			continue
		}
		if upstream.CompletedAt.After(stamp.CompletedAt) {
			return true
		}
	}
	return false
}

// StaleSteps returns the ids of every stale step, in (order, id) sequence.
// O(n^2) over the step count, which is fine for flows of tens of steps.
func StaleSteps(cfg *Config, stamps map[string]OutputStamp) []string {
	if cfg == nil {
		return nil
	}
	var stale []string
	for _, s := range cfg.SortedSteps() {
		if IsStale(s.ID, cfg.Steps, stamps) {
			stale = append(stale, s.ID)
		}
	}
	return stale
}
