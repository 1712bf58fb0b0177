package flow

import (
	"fmt"
	"regexp"
)

// placeholderRe matches {{ key }} with whitespace tolerated around the key.
// Key names are whatever the flow author declared, including spaces and
// non-ASCII letters; no nesting, no expressions.
var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Resolve substitutes every {{ key }} occurrence in template with
// vars[key]. Keys absent from vars render as "[key: sin valor]" instead of
// failing: prompts are user-authored and variable sets evolve independently
// of them, so resolution favors partial, inspectable output over failure.
// Matching is case-sensitive and exact.
func Resolve(template string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		key := placeholderRe.FindStringSubmatch(match)[1]
		if val, ok := vars[key]; ok {
			return val
		}
		return fmt.Sprintf("[%s: sin valor]", key)
	})
}

// ReferencedVariables returns the distinct keys a template references, in
// first-occurrence order.
func ReferencedVariables(template string) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range placeholderRe.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			keys = append(keys, m[1])
		}
	}
	return keys
}
