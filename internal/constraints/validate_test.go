package constraints

import (
	"net/http"
	"testing"

	"github.com/atlasbio/provenance-backend/internal/ontology"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(ontology.TestRegistry())
}

func TestConstraintsForDeterministicAndNonEmpty(t *testing.T) {
	e := newTestEngine(t)
	units := []Unit{
		{EntityType: "Source"},
		{EntityType: "Sample", SubType: []string{"Organ"}},
		{EntityType: "Sample", SubType: []string{"Block"}},
		{EntityType: "Sample", SubType: []string{"Section"}},
		{EntityType: "Sample", SubType: []string{"Suspension"}},
		{EntityType: "Dataset"},
		{EntityType: "Publication"},
		{EntityType: "Collection"},
		{EntityType: "Epicollection"},
	}
	for _, u := range units {
		first, err := e.ConstraintsFor(u)
		if err != nil {
			t.Fatalf("ConstraintsFor(%+v): %v", u, err)
		}
		if len(first) == 0 {
			t.Fatalf("ConstraintsFor(%+v): empty rule list", u)
		}
		second, err := e.ConstraintsFor(u)
		if err != nil || len(second) != len(first) {
			t.Fatalf("ConstraintsFor(%+v) not deterministic", u)
		}
	}
}

func TestValidateSuspensionMatchMode(t *testing.T) {
	e := newTestEngine(t)
	res := e.Validate(Entry{
		Ancestors:   []Unit{{EntityType: "Sample", SubType: []string{"Suspension"}}},
		Descendants: []Unit{{EntityType: "Sample", SubType: []string{"Suspension"}}},
	}, true)
	if !res.Allowed {
		t.Fatalf("expected success, got %+v", res)
	}
	var sawSuspension, sawDataset bool
	for _, p := range res.Patterns {
		if p.EntityType == "Sample" && len(p.SubType) == 1 && p.SubType[0] == "Suspension" {
			sawSuspension = true
		}
		if p.EntityType == "Dataset" {
			sawDataset = true
		}
	}
	if !sawSuspension || !sawDataset {
		t.Fatalf("permitted patterns missing Sample[Suspension] or Dataset: %+v", res.Patterns)
	}
}

func TestValidateSubTypeOrderIndependent(t *testing.T) {
	e := newTestEngine(t)
	a := e.Validate(Entry{
		Ancestors: []Unit{{EntityType: "Sample", SubType: []string{"Organ"}, SubTypeVal: []string{"UBERON:0000178"}}},
	}, false)
	b := e.Validate(Entry{
		Ancestors: []Unit{{EntityType: "sample", SubType: []string{"organ"}, SubTypeVal: []string{"uberon:0000178"}}},
	}, false)
	if a.Allowed != b.Allowed || a.Status != b.Status || len(a.Patterns) != len(b.Patterns) {
		t.Fatalf("casing changed the outcome: %+v vs %+v", a, b)
	}
}

func TestValidateBloodOrganPermitsSuspensionOnly(t *testing.T) {
	e := newTestEngine(t)
	res := e.Validate(Entry{
		Ancestors: []Unit{{EntityType: "Sample", SubType: []string{"Organ"}, SubTypeVal: []string{"UBERON:0000178"}}},
	}, false)
	if !res.Allowed {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(res.Patterns) != 1 || res.Patterns[0].EntityType != "Sample" || res.Patterns[0].SubType[0] != "Suspension" {
		t.Fatalf("blood organ should only permit suspension descendants, got %+v", res.Patterns)
	}
}

func TestValidateNonBloodOrganPermitsBlock(t *testing.T) {
	e := newTestEngine(t)
	res := e.Validate(Entry{
		Ancestors: []Unit{{EntityType: "Sample", SubType: []string{"Organ"}, SubTypeVal: []string{"UBERON:0000948"}}},
	}, false)
	if !res.Allowed {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(res.Patterns) != 1 || res.Patterns[0].SubType[0] != "Block" {
		t.Fatalf("heart organ should permit block descendants, got %+v", res.Patterns)
	}
}

func TestValidateAncestorWithoutMatchModeNeverFails(t *testing.T) {
	e := newTestEngine(t)
	res := e.Validate(Entry{
		Ancestors: []Unit{{EntityType: "Sample", SubType: []string{"Block"}}},
	}, false)
	if !res.Allowed {
		t.Fatalf("expected success for authored ancestor pattern, got %+v", res)
	}
}

func TestValidateRejectsDescendantMismatch(t *testing.T) {
	e := newTestEngine(t)
	res := e.Validate(Entry{
		Ancestors:   []Unit{{EntityType: "Source"}},
		Descendants: []Unit{{EntityType: "Dataset"}},
	}, true)
	if res.Allowed {
		t.Fatalf("dataset under source should be rejected, got %+v", res)
	}
	if res.Status != http.StatusNotFound {
		t.Fatalf("expected 404 rejection, got %d", res.Status)
	}
	if len(res.Patterns) == 0 {
		t.Fatalf("rejection must carry the violated rule's patterns")
	}
}

func TestValidateNoMatchingAncestorConstraint(t *testing.T) {
	e := newTestEngine(t)
	// The collection table's ancestor patterns are Source, Sample and
	// Dataset; a Collection unit satisfies none of them.
	res := e.Validate(Entry{
		Ancestors: []Unit{{EntityType: "Collection"}},
	}, false)
	if res.Allowed {
		t.Fatalf("expected no matching constraint, got %+v", res)
	}
	if res.Status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Status)
	}
}

func TestValidateUnknownEntityType(t *testing.T) {
	e := newTestEngine(t)
	res := e.Validate(Entry{Ancestors: []Unit{{EntityType: "Widget"}}}, false)
	if res.Allowed {
		t.Fatalf("unknown entity type must not validate")
	}
	if res.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown entity type, got %d", res.Status)
	}
}

func TestValidateSampleRequiresSubType(t *testing.T) {
	e := newTestEngine(t)
	res := e.Validate(Entry{Ancestors: []Unit{{EntityType: "Sample"}}}, false)
	if res.Allowed || res.Status != http.StatusBadRequest {
		t.Fatalf("sample without sub_type should be a bad request, got %+v", res)
	}

	res = e.Validate(Entry{Ancestors: []Unit{{EntityType: "Sample", SubType: []string{"Slide"}}}}, false)
	if res.Allowed || res.Status != http.StatusBadRequest {
		t.Fatalf("unrecognized sample sub_type should be a bad request, got %+v", res)
	}
}

func TestValidateEmptyEntry(t *testing.T) {
	e := newTestEngine(t)
	if res := e.Validate(Entry{}, false); !res.Allowed {
		t.Fatalf("nothing to validate should succeed, got %+v", res)
	}
	if res := e.Validate(Entry{}, true); res.Allowed || res.Status != http.StatusBadRequest {
		t.Fatalf("match mode without ancestors should be a bad request, got %+v", res)
	}
}

func TestValidateByDescendantCollection(t *testing.T) {
	e := newTestEngine(t)
	res := e.ValidateByDescendant(Entry{
		Descendants: []Unit{{EntityType: "Collection"}},
	}, false)
	if !res.Allowed {
		t.Fatalf("expected success, got %+v", res)
	}
	got := map[string]bool{}
	for _, p := range res.Patterns {
		got[p.EntityType] = true
	}
	for _, want := range []string{"Source", "Sample", "Dataset"} {
		if !got[want] {
			t.Fatalf("collection ancestors missing %s: %+v", want, res.Patterns)
		}
	}
}

func TestValidateByDescendantBlockIncludesOrganRule(t *testing.T) {
	e := newTestEngine(t)
	res := e.ValidateByDescendant(Entry{
		Descendants: []Unit{{EntityType: "Sample", SubType: []string{"Block"}}},
	}, false)
	if !res.Allowed {
		t.Fatalf("expected success, got %+v", res)
	}
	var sawOrgan, sawBlock bool
	for _, p := range res.Patterns {
		if len(p.SubType) == 1 && p.SubType[0] == "Organ" {
			sawOrgan = true
		}
		if len(p.SubType) == 1 && p.SubType[0] == "Block" {
			sawBlock = true
		}
	}
	if !sawOrgan || !sawBlock {
		t.Fatalf("block ancestors should include organ and block patterns: %+v", res.Patterns)
	}
}

func TestValidateByDescendantMatchMode(t *testing.T) {
	e := newTestEngine(t)
	res := e.ValidateByDescendant(Entry{
		Ancestors:   []Unit{{EntityType: "Publication"}},
		Descendants: []Unit{{EntityType: "Collection"}},
	}, true)
	if res.Allowed {
		t.Fatalf("publication above collection should be rejected, got %+v", res)
	}
	if len(res.Patterns) == 0 {
		t.Fatalf("rejection must carry the permitted ancestor patterns")
	}
}

func TestSatisfiesListOrderAndCase(t *testing.T) {
	pattern := Unit{EntityType: "Sample", SubType: []string{"organ"}, SubTypeVal: []string{"a", "B"}}
	candidate := Unit{EntityType: "sample", SubType: []string{"Organ"}, SubTypeVal: []string{"b", "A"}}
	if !satisfies(pattern, candidate) {
		t.Fatalf("sorted case-insensitive match failed")
	}
	candidate.SubTypeVal = []string{"a"}
	if satisfies(pattern, candidate) {
		t.Fatalf("length mismatch should not satisfy")
	}
}
