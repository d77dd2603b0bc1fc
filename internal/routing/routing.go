// Package routing selects an executor/runner pair for a job given the
// caller's requested profile, expected artifacts, and policy constraints.
package routing

import (
	"sort"

	"github.com/cascadehq/cascade/internal/runners"
)

// Profile ranks. fast < deep < audit.
const (
	ProfileFast  = "fast"
	ProfileDeep  = "deep"
	ProfileAudit = "audit"
)

func profileRank(p string) int {
	switch p {
	case ProfileFast:
		return 0
	case ProfileDeep:
		return 1
	case ProfileAudit:
		return 2
	default:
		return -1
	}
}

// Capabilities describes what a runner lease advertises in its meta, as
// surfaced by the Runner Registry.
type Capabilities struct {
	RunnerID         string
	Executors        []string
	Profiles         []string
	SupportsArtifact []string
	Availability     string // runners.StatusLive or runners.StatusIdle
}

// Policy constrains candidate selection.
type Policy struct {
	Prefer      []string
	Forbid      []string
	MinProfile  string
}

// Selection is the routing outcome.
type Selection struct {
	SelectedExecutor string `json:"selected_executor"`
	SelectedRunnerID string `json:"selected_runner_id"`
}

// Route picks the minimum-ranked candidate executor/runner pair that
// satisfies the requested profile, expected artifacts, and policy. Returns
// (nil, false) if no runner qualifies.
func Route(runnersAvail []Capabilities, requestedProfile string, expectedArtifacts []string, policy Policy) (*Selection, bool) {
	forbidden := toSet(policy.Forbid)
	minRank := profileRank(policy.MinProfile)
	if policy.MinProfile == "" {
		minRank = 0
	}
	reqRank := profileRank(requestedProfile)

	type candidate struct {
		preferIndex  int
		availRank    int
		runnerID     string
		executor     string
	}
	var candidates []candidate

	for _, r := range runnersAvail {
		if !hasProfile(r.Profiles, requestedProfile) {
			continue
		}
		if reqRank < minRank {
			continue
		}
		if len(expectedArtifacts) > 0 && len(r.SupportsArtifact) > 0 && !subsetOf(expectedArtifacts, r.SupportsArtifact) {
			continue
		}
		for _, exec := range r.Executors {
			if forbidden[exec] {
				continue
			}
			candidates = append(candidates, candidate{
				preferIndex: preferIndex(policy.Prefer, exec),
				availRank:   availabilityRank(r.Availability),
				runnerID:    r.RunnerID,
				executor:    exec,
			})
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.preferIndex != b.preferIndex {
			return a.preferIndex < b.preferIndex
		}
		if a.availRank != b.availRank {
			return a.availRank < b.availRank
		}
		if a.runnerID != b.runnerID {
			return a.runnerID < b.runnerID
		}
		return a.executor < b.executor
	})

	best := candidates[0]
	return &Selection{SelectedExecutor: best.executor, SelectedRunnerID: best.runnerID}, true
}

func hasProfile(profiles []string, want string) bool {
	for _, p := range profiles {
		if p == want {
			return true
		}
	}
	return false
}

// subsetOf reports whether every item in want is present in have. Called
// only when both lists are non-empty — an empty supports_artifacts list is
// treated as "unknown, permit" by the caller (Open Question 2).
func subsetOf(want, have []string) bool {
	haveSet := toSet(have)
	for _, w := range want {
		if !haveSet[w] {
			return false
		}
	}
	return true
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, it := range items {
		s[it] = true
	}
	return s
}

func preferIndex(prefer []string, executor string) int {
	for i, p := range prefer {
		if p == executor {
			return i
		}
	}
	return len(prefer)
}

func availabilityRank(status string) int {
	if status == runners.StatusIdle {
		return 0
	}
	return 1
}
