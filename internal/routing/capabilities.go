package routing

import (
	"encoding/json"

	"github.com/cascadehq/cascade/internal/runners"
)

// leaseMeta is the subset of a runner lease's opaque meta this package
// understands: the executor/profile/artifact capabilities a runner
// advertises on heartbeat.
type leaseMeta struct {
	Executors        []string `json:"executors"`
	Profiles         []string `json:"profiles"`
	SupportsArtifact []string `json:"supports_artifacts"`
}

// FromLeases extracts routing capabilities from a set of active runner
// leases, skipping offline leases. A lease whose meta doesn't parse as
// capabilities yields empty capabilities (an executor that never declares
// capabilities simply never matches).
func FromLeases(leases []runners.Lease, now int64) []Capabilities {
	out := make([]Capabilities, 0, len(leases))
	for _, l := range leases {
		effective := l.Effective(now)
		if effective == runners.StatusOffline {
			continue
		}
		var m leaseMeta
		if len(l.Meta) > 0 {
			_ = json.Unmarshal(l.Meta, &m)
		}
		out = append(out, Capabilities{
			RunnerID:         l.RunnerID,
			Executors:        m.Executors,
			Profiles:         m.Profiles,
			SupportsArtifact: m.SupportsArtifact,
			Availability:     effective,
		})
	}
	return out
}
