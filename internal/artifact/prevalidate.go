package artifact

import "strings"

// Verdicts from the deterministic, LLM-free pre-validator.
const (
	VerdictPass     = "pass"
	VerdictNeedMore = "need_more"
	VerdictReject   = "reject"
)

// PreValidateResult is the pre-validator's decision plus diagnostics.
type PreValidateResult struct {
	Verdict                string   `json:"verdict"`
	Hints                  []string `json:"hints,omitempty"`
	DependenciesSatisfied  bool     `json:"dependencies_satisfied"`
}

// PreValidate runs the deterministic completeness/dependencies/patterns/
// intent-coverage checks over a normalized scout pack.
func PreValidate(p *ScoutContextPack) PreValidateResult {
	p.Normalize()

	if len(p.Anchors) == 0 {
		return PreValidateResult{Verdict: VerdictReject, Hints: []string{"no anchors present"}}
	}

	uncovered := uncoveredChangeHints(p)
	if len(p.ChangeHints) > 0 && len(uncovered)*2 > len(p.ChangeHints) {
		return PreValidateResult{Verdict: VerdictReject, Hints: []string{"more than half of change_hints are uncovered"}}
	}

	var hints []string
	if len(uncovered) > 0 {
		hints = append(hints, "completeness: uncovered change_hints: "+strings.Join(uncovered, ", "))
	}
	if !hasReferenceAnchor(p) {
		hints = append(hints, "patterns: at least one reference anchor is required")
	}
	if !hasIntentCoverage(p) {
		hints = append(hints, "intent_coverage: coverage_matrix.objective_items or objective must be non-empty")
	}

	depsSatisfied := dependenciesSatisfied(p)

	if len(hints) > 0 {
		return PreValidateResult{Verdict: VerdictNeedMore, Hints: hints, DependenciesSatisfied: depsSatisfied}
	}
	return PreValidateResult{Verdict: VerdictPass, DependenciesSatisfied: depsSatisfied}
}

func uncoveredChangeHints(p *ScoutContextPack) []string {
	var uncovered []string
	for _, hint := range p.ChangeHints {
		if !pathCoveredByAnchor(p, hint.Path) {
			uncovered = append(uncovered, hint.Path)
		}
	}
	return uncovered
}

func pathCoveredByAnchor(p *ScoutContextPack, path string) bool {
	for _, a := range p.Anchors {
		if a.AnchorType != AnchorPrimary && a.AnchorType != AnchorStructural {
			continue
		}
		if !strings.HasPrefix(a.CodeRef, "code:") {
			continue
		}
		anchorPath := anchorCodeRefPath(a.CodeRef)
		if anchorPath == path || strings.HasPrefix(path, strings.TrimSuffix(anchorPath, "/")+"/") || strings.HasPrefix(anchorPath, path) {
			return true
		}
	}
	return false
}

// dependenciesSatisfied is soft: reported, never blocks the gate.
func dependenciesSatisfied(p *ScoutContextPack) bool {
	hasPrimary := false
	hasDependency := false
	for _, a := range p.Anchors {
		switch a.AnchorType {
		case AnchorPrimary:
			hasPrimary = true
		case AnchorDependency:
			hasDependency = true
		}
	}
	if !hasPrimary {
		return true
	}
	return hasDependency
}

func hasReferenceAnchor(p *ScoutContextPack) bool {
	for _, a := range p.Anchors {
		if a.AnchorType == AnchorReference {
			return true
		}
	}
	return false
}

func hasIntentCoverage(p *ScoutContextPack) bool {
	if p.CoverageMatrix != nil && len(p.CoverageMatrix.ObjectiveItems) > 0 {
		return true
	}
	return strings.TrimSpace(p.Objective) != ""
}

// CrossValidateAffectedFiles enforces writer.affected_files ⊆ scope.in ∪
// change_hints[].path, returning the offending files.
func CrossValidateAffectedFiles(scout *ScoutContextPack, affectedFiles []string) []string {
	allowed := make(map[string]bool, len(scout.ScopeIn)+len(scout.ChangeHints))
	for _, p := range scout.ScopeIn {
		allowed[p] = true
	}
	for _, h := range scout.ChangeHints {
		allowed[h.Path] = true
	}
	var violations []string
	for _, f := range affectedFiles {
		if !allowed[f] {
			violations = append(violations, f)
		}
	}
	return violations
}
