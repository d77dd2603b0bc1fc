package proofgate

import "testing"

func TestIsProofRef(t *testing.T) {
	cases := []struct {
		ref  string
		want bool
	}{
		{"", false},
		{"JOB-000000001", false},
		{"a:handler", false},
		{"CMD: cargo test -q", true},
		{"LINK: https://example.com", true},
		{"CARD-123", true},
		{"TASK-456", true},
		{"notes@42", true},
	}
	for _, c := range cases {
		if got := IsProofRef("JOB-000000001", c.ref); got != c.want {
			t.Errorf("IsProofRef(%q) = %v, want %v", c.ref, got, c.want)
		}
	}
}

func TestPassesRequiresOneQualifyingRef(t *testing.T) {
	if Passes("JOB-1", nil) {
		t.Fatal("empty refs should not pass")
	}
	if Passes("JOB-1", []string{"JOB-1", "a:x"}) {
		t.Fatal("navigation-only refs should not pass")
	}
	if !Passes("JOB-1", []string{"JOB-1", "CARD-9"}) {
		t.Fatal("a qualifying ref among navigation refs should pass")
	}
}

func TestSalvageExtractsProofLikeTokens(t *testing.T) {
	text := "ran the suite:\ncargo test -q\nsee https://example.com/run/42 and CARD-7 plus notes@3"
	refs := Salvage(text)

	want := map[string]bool{
		"CMD: cargo test -q":           true,
		"LINK: https://example.com/run/42": true,
		"CARD-7":                       true,
		"notes@3":                      true,
	}
	for _, r := range refs {
		delete(want, r)
	}
	if len(want) != 0 {
		t.Fatalf("missing salvaged refs: %v (got %v)", want, refs)
	}
}

func TestSalvageDoesNotRemoveExplicitRefs(t *testing.T) {
	explicit := []string{"CARD-1"}
	salvaged := Salvage("nothing interesting here")
	merged := append(append([]string{}, explicit...), salvaged...)
	if len(merged) != 1 || merged[0] != "CARD-1" {
		t.Fatalf("merged = %v, want explicit preserved", merged)
	}
}
