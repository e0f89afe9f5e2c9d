package ontology

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewRegistryRejectsPartialVocabulary(t *testing.T) {
	doc := Document{
		Entities:           []string{"Source", "Sample"},
		SpecimenCategories: []string{"Organ", "Block", "Section", "Suspension"},
	}
	if _, err := NewRegistry(doc); err == nil {
		t.Fatalf("partial vocabulary must fail at construction")
	}
}

func TestRegistryNormalization(t *testing.T) {
	reg := TestRegistry()

	if got, ok := reg.NormalizeEntityType("  dataset "); !ok || got != "Dataset" {
		t.Fatalf("entity normalization failed: %q %v", got, ok)
	}
	if _, ok := reg.NormalizeEntityType("Widget"); ok {
		t.Fatalf("unknown entity type must not normalize")
	}
	if got, ok := reg.NormalizeSpecimenCategory("SUSPENSION"); !ok || got != "Suspension" {
		t.Fatalf("category normalization failed: %q %v", got, ok)
	}
	if got, ok := reg.NormalizeCreationAction("lab process"); !ok || got != "Lab Process" {
		t.Fatalf("creation action normalization failed: %q %v", got, ok)
	}
	if got, ok := reg.NormalizeDatasetType("light sheet"); !ok || got != "Light Sheet" {
		t.Fatalf("dataset type normalization failed: %q %v", got, ok)
	}
}

func TestRegistryOrganLookups(t *testing.T) {
	reg := TestRegistry()

	name, ok := reg.OrganName("uberon:0000178")
	if !ok || name != "Blood" {
		t.Fatalf("organ code lookup failed: %q %v", name, ok)
	}
	code, ok := reg.OrganCode("blood")
	if !ok || code != "UBERON:0000178" {
		t.Fatalf("organ term lookup failed: %q %v", code, ok)
	}
	if _, ok := reg.OrganName("UBERON:9999999"); ok {
		t.Fatalf("unknown organ code must not resolve")
	}
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ontology.yaml")
	seed := `
entities: [Source, Sample, Dataset, Publication, Collection, Epicollection]
specimen_categories: [Organ, Block, Section, Suspension]
organ_types:
  - { code: "UBERON:0000178", term: Blood }
dataset_types: [Light Sheet, RNASeq]
source_types: [Human]
creation_actions: [Lab Process]
`
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	doc, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	reg, err := NewRegistry(doc)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, ok := reg.NormalizeEntityType("epicollection"); !ok {
		t.Fatalf("seeded vocabulary missing epicollection")
	}
}

func TestLoadSeedMissingFile(t *testing.T) {
	if _, err := LoadSeed(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("missing seed file must error")
	}
}
