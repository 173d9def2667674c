package cascade

import "testing"

func TestValidatePolicyDocRejectsWrongName(t *testing.T) {
	doc := &yamlCascadePolicy{
		Policy: "something_else",
		Edges:  []yamlEdge{{Parent: "a", Child: "b"}},
	}
	if err := validatePolicyDoc(doc); err == nil {
		t.Fatalf("expected an error for a non-cascade policy document")
	}
}

func TestValidatePolicyDocRejectsEmptyEdges(t *testing.T) {
	doc := &yamlCascadePolicy{Policy: "cascade"}
	if err := validatePolicyDoc(doc); err == nil {
		t.Fatalf("expected an error for a document with no edges")
	}
}

func TestValidatePolicyDocRejectsMissingParentOrChild(t *testing.T) {
	doc := &yamlCascadePolicy{
		Policy: "cascade",
		Edges:  []yamlEdge{{Parent: "", Child: "flashcard_generation"}},
	}
	if err := validatePolicyDoc(doc); err == nil {
		t.Fatalf("expected an error for an edge missing its parent")
	}
}

func TestValidatePolicyDocRejectsDuplicateEdge(t *testing.T) {
	doc := &yamlCascadePolicy{
		Policy: "cascade",
		Edges: []yamlEdge{
			{Parent: "tree_generation", Child: "flashcard_generation"},
			{Parent: "tree_generation", Child: "flashcard_generation"},
		},
	}
	if err := validatePolicyDoc(doc); err == nil {
		t.Fatalf("expected an error for a duplicate edge")
	}
}

func TestValidatePolicyDocRejectsCycle(t *testing.T) {
	doc := &yamlCascadePolicy{
		Policy: "cascade",
		Edges: []yamlEdge{
			{Parent: "a", Child: "b"},
			{Parent: "b", Child: "c"},
			{Parent: "c", Child: "a"},
		},
	}
	if err := validatePolicyDoc(doc); err == nil {
		t.Fatalf("expected an error for a cascade policy with a cycle")
	}
}

func TestValidatePolicyDocAcceptsAcyclicGraph(t *testing.T) {
	doc := &yamlCascadePolicy{
		Policy: "cascade",
		Edges: []yamlEdge{
			{Parent: "tree_generation", Child: "flashcard_generation"},
			{Parent: "flashcard_generation", Child: "distractor_generation"},
		},
	}
	if err := validatePolicyDoc(doc); err != nil {
		t.Fatalf("unexpected error for a valid acyclic policy: %v", err)
	}
}

func TestValidatePolicyDocIgnoresDisabledEdgeForCycleCheck(t *testing.T) {
	disabled := false
	doc := &yamlCascadePolicy{
		Policy: "cascade",
		Edges: []yamlEdge{
			{Parent: "a", Child: "b"},
			{Parent: "b", Child: "a", Enabled: &disabled}, // would cycle if enabled
		},
	}
	if err := validatePolicyDoc(doc); err != nil {
		t.Fatalf("a disabled back-edge must not trip cycle detection: %v", err)
	}
}

func TestPolicyAllowedRespectsEdges(t *testing.T) {
	p := &Policy{allowed: map[string]map[string]bool{
		"tree_generation": {"flashcard_generation": true},
	}}
	if !p.Allowed("tree_generation", "flashcard_generation") {
		t.Fatalf("expected tree_generation -> flashcard_generation to be allowed")
	}
	if p.Allowed("tree_generation", "distractor_generation") {
		t.Fatalf("expected tree_generation -> distractor_generation to be disallowed")
	}
	if p.Allowed("flashcard_generation", "distractor_generation") {
		t.Fatalf("expected an unlisted parent to allow nothing")
	}
}

func TestPolicyAllowedNilPolicyIsUnrestricted(t *testing.T) {
	var p *Policy
	if !p.Allowed("anything", "anything_else") {
		t.Fatalf("a nil policy must allow everything per spec.md §4.7's no-cap default")
	}
}

func TestFallbackPolicyMatchesEmbeddedDefaultEdges(t *testing.T) {
	p := fallbackPolicy()
	if !p.Allowed("tree_generation", "flashcard_generation") {
		t.Fatalf("fallback policy missing tree_generation -> flashcard_generation")
	}
	if !p.Allowed("flashcard_generation", "distractor_generation") {
		t.Fatalf("fallback policy missing flashcard_generation -> distractor_generation")
	}
	if p.Allowed("distractor_generation", "tree_generation") {
		t.Fatalf("fallback policy should not allow an edge it never defines")
	}
}
