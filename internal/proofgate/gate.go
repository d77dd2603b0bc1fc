// Package proofgate implements the rule that a DONE completion requires at
// least one non-navigation proof reference, plus best-effort salvage of
// proof-like tokens out of free-form runner text so placeholder summaries
// can't trick the gate.
package proofgate

import (
	"regexp"
	"strings"
)

// IsProofRef reports whether ref qualifies as proof: non-empty, not the
// job's own id, not a JOB- navigation ref, not an anchor ref.
func IsProofRef(jobID, ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false
	}
	if ref == jobID {
		return false
	}
	if strings.HasPrefix(ref, "JOB-") {
		return false
	}
	if strings.HasPrefix(ref, "a:") {
		return false
	}
	return true
}

// Passes reports whether any ref in refs qualifies as proof.
func Passes(jobID string, refs []string) bool {
	for _, r := range refs {
		if IsProofRef(jobID, r) {
			return true
		}
	}
	return false
}

var (
	urlPattern      = regexp.MustCompile(`https?://\S+`)
	cardPattern     = regexp.MustCompile(`\bCARD-[A-Za-z0-9_-]+\b`)
	taskPattern     = regexp.MustCompile(`\bTASK-[A-Za-z0-9_-]+\b`)
	notesPattern    = regexp.MustCompile(`\bnotes@\d+\b`)
	recognizedCmds  = []string{"cargo ", "pytest", "go test", "npm test", "make test", "go build", "go vet"}
)

// Salvage extracts proof-like tokens from free-form text (a job summary or
// message) that the runner did not explicitly tag as refs. Salvage is
// additive — callers merge the result onto explicit refs, never replacing
// them.
func Salvage(text string) []string {
	var found []string
	seen := map[string]bool{}
	add := func(ref string) {
		if ref == "" || seen[ref] {
			return
		}
		seen[ref] = true
		found = append(found, ref)
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "CMD:"):
			add(trimmed)
			continue
		case strings.HasPrefix(trimmed, "LINK:"):
			add(trimmed)
			continue
		}
		lower := strings.ToLower(trimmed)
		for _, cmd := range recognizedCmds {
			if strings.HasPrefix(lower, cmd) {
				add("CMD: " + trimmed)
				break
			}
		}
	}

	for _, u := range urlPattern.FindAllString(text, -1) {
		add("LINK: " + u)
	}
	for _, c := range cardPattern.FindAllString(text, -1) {
		add(c)
	}
	for _, tk := range taskPattern.FindAllString(text, -1) {
		add(tk)
	}
	for _, n := range notesPattern.FindAllString(text, -1) {
		add(n)
	}
	return found
}

// RecoveryHint is the operator-facing instruction attached to a
// PRECONDITION_FAILED proof-gate rejection.
const RecoveryHint = "attach at least one non-navigation proof ref (CMD+LINK)"
