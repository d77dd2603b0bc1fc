package artifact

import "strings"

// Anchor types, ranked for legacy-pack synthesis.
const (
	AnchorPrimary    = "primary"
	AnchorStructural = "structural"
	AnchorDependency = "dependency"
	AnchorReference  = "reference"
)

// Anchor binds a meaning-pointer to a code citation.
type Anchor struct {
	ID         string `json:"id"`
	Rationale  string `json:"rationale"`
	AnchorType string `json:"anchor_type"`
	CodeRef    string `json:"code_ref"`
	Content    string `json:"content,omitempty"`
	LineCount  int    `json:"line_count,omitempty"`
	MetaHint   string `json:"meta_hint,omitempty"`
}

// ChangeHint is a planned edit location plus intent/risk.
type ChangeHint struct {
	Path   string `json:"path"`
	Intent string `json:"intent"`
	Risk   string `json:"risk"`
}

// RiskEntry pairs a named risk with its falsifying check.
type RiskEntry struct {
	Risk      string `json:"risk"`
	Falsifier string `json:"falsifier"`
}

// ScoutContextPack is the scout stage's (v2) output.
type ScoutContextPack struct {
	Objective          string       `json:"objective"`
	ScopeIn            []string     `json:"scope_in"`
	ScopeOut           []string     `json:"scope_out,omitempty"`
	Anchors            []Anchor     `json:"anchors"`
	CodeRefs           []string     `json:"code_refs,omitempty"`
	ChangeHints        []ChangeHint `json:"change_hints"`
	TestHints          []string     `json:"test_hints,omitempty"`
	RiskMap            []RiskEntry  `json:"risk_map,omitempty"`
	OpenQuestions      []string     `json:"open_questions,omitempty"`
	SummaryForBuilder  string       `json:"summary_for_builder"`
	CoverageMatrix     *CoverageMatrix `json:"coverage_matrix,omitempty"`
	NoveltyIndex       float64      `json:"novelty_index,omitempty"`
	CriticFindings     []string     `json:"critic_findings,omitempty"`
	BuilderReadyChecklist   []string `json:"builder_ready_checklist,omitempty"`
	ValidatorReadyChecklist []string `json:"validator_ready_checklist,omitempty"`
}

// CoverageMatrix tracks which objective items the pack addresses.
type CoverageMatrix struct {
	ObjectiveItems []string `json:"objective_items"`
}

// SynthesizeLegacyAnchors builds typed anchors for a pre-v2 pack that only
// carried bare code_refs, assigning anchor_type by position: first=primary,
// second=structural, last=reference, everything else=dependency.
func SynthesizeLegacyAnchors(codeRefs []string) []Anchor {
	n := len(codeRefs)
	anchors := make([]Anchor, 0, n)
	for i, ref := range codeRefs {
		anchorType := AnchorDependency
		switch {
		case i == 0:
			anchorType = AnchorPrimary
		case i == 1:
			anchorType = AnchorStructural
		case i == n-1:
			anchorType = AnchorReference
		}
		anchors = append(anchors, Anchor{
			ID:         "synthesized-" + ref,
			AnchorType: anchorType,
			CodeRef:    ref,
			Rationale:  "synthesized from legacy code_refs",
		})
	}
	return anchors
}

// Normalize fills in typed anchors from CodeRefs when the pack predates
// typed anchors.
func (p *ScoutContextPack) Normalize() {
	if len(p.Anchors) == 0 && len(p.CodeRefs) > 0 {
		p.Anchors = SynthesizeLegacyAnchors(p.CodeRefs)
	}
}

func anchorCodeRefPath(ref string) string {
	if idx := strings.Index(ref, "#"); idx >= 0 {
		ref = ref[:idx]
	}
	return strings.TrimPrefix(ref, "code:")
}
