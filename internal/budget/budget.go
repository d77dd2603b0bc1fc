// Package budget enforces bounded response sizes: callers may cap a
// response at max_chars, and the enforcer trims named sections in a fixed,
// documented order until the response fits (or nothing more can be cut).
package budget

import "unicode/utf8"

// Section order mirrors spec.md §4.10: jobs list items trim first, then
// runner leases, then diagnostics, then the bootstrap hint.
const (
	SectionJobs         = "jobs"
	SectionRunnerLeases = "runner_leases"
	SectionDiagnostics  = "diagnostics"
	SectionBootstrapHint = "bootstrap_hint"
)

var trimOrder = []string{SectionJobs, SectionRunnerLeases, SectionDiagnostics, SectionBootstrapHint}

// Section holds pre-rendered items for one named part of a response. Items
// are trimmed from the tail, one at a time, in the order they'd be
// displayed — a reader sees the highest-priority items survive longest.
type Section struct {
	Name  string
	Items []string
}

// Result is the outcome of an enforcement pass.
type Result struct {
	Sections  map[string][]string
	UsedChars int
	Truncated bool
	// HasMore mirrors which sections lost at least one item to trimming.
	HasMore map[string]bool
}

// Info is the budget envelope every list/open/tail response carries.
type Info struct {
	MaxChars  int  `json:"max_chars,omitempty"`
	UsedChars int  `json:"used_chars"`
	Truncated bool `json:"truncated"`
}

// Enforce measures fixedChars (the part of the response that can't be
// trimmed: ids, envelope scaffolding, pagination cursors) plus every
// section's items, and if the total exceeds maxChars, trims sections in
// trimOrder until it fits or every section is empty. maxChars <= 0 means
// unbounded.
func Enforce(maxChars int, fixedChars int, sections ...Section) Result {
	byName := make(map[string][]string, len(sections))
	for _, s := range sections {
		byName[s.Name] = append([]string(nil), s.Items...)
	}

	total := func() int {
		sum := fixedChars
		for _, items := range byName {
			for _, it := range items {
				sum += utf8.RuneCountInString(it)
			}
		}
		return sum
	}

	used := total()
	if maxChars <= 0 || used <= maxChars {
		return Result{Sections: byName, UsedChars: used, Truncated: false, HasMore: map[string]bool{}}
	}

	hasMore := make(map[string]bool, len(trimOrder))
	for _, name := range trimOrder {
		items, ok := byName[name]
		if !ok {
			continue
		}
		for len(items) > 0 && total() > maxChars {
			items = items[:len(items)-1]
			byName[name] = items
			hasMore[name] = true
		}
		if total() <= maxChars {
			break
		}
	}

	return Result{Sections: byName, UsedChars: total(), Truncated: true, HasMore: hasMore}
}
