package ontology

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/atlasbio/provenance-backend/internal/platform/envutil"
	"github.com/atlasbio/provenance-backend/internal/platform/logger"
	"github.com/atlasbio/provenance-backend/internal/platform/rediscache"
)

// LoadSeed reads a vocabulary document from a YAML file. The seed is used
// when no vocabulary service is configured, and by tests.
func LoadSeed(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("ontology: read seed %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("ontology: parse seed %s: %w", path, err)
	}
	return doc, nil
}

// Load builds the process-lifetime Registry: from the vocabulary service
// when ONTOLOGY_BASE_URL is set, otherwise from the YAML seed. Either path
// failing means the process must not come up.
func Load(ctx context.Context, log *logger.Logger, cache *rediscache.Cache) (*Registry, error) {
	client, err := NewClient(log, cache)
	if err != nil {
		return nil, err
	}

	var doc Document
	if client != nil {
		doc, err = client.FetchDocument(ctx)
		if err != nil {
			return nil, err
		}
		log.Info("ontology vocabularies loaded from service",
			"entities", len(doc.Entities), "organ_types", len(doc.OrganTypes))
	} else {
		path := envutil.Str("ONTOLOGY_SEED_PATH", "configs/ontology.yaml")
		doc, err = LoadSeed(path)
		if err != nil {
			return nil, err
		}
		log.Info("ontology vocabularies loaded from seed", "path", path)
	}

	reg, err := NewRegistry(doc)
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// TestRegistry returns a registry over the built-in vocabulary, for use in
// package tests that need ontology names without a seed file on disk.
func TestRegistry() *Registry {
	doc := Document{
		Entities:           []string{"Source", "Sample", "Dataset", "Publication", "Collection", "Epicollection", "Upload"},
		SpecimenCategories: []string{"Organ", "Block", "Section", "Suspension"},
		OrganTypes: []Term{
			{Code: "UBERON:0000178", Term: "Blood"},
			{Code: "UBERON:0000948", Term: "Heart"},
			{Code: "UBERON:0002113", Term: "Kidney"},
			{Code: "UBERON:0002048", Term: "Lung"},
			{Code: "UBERON:0002107", Term: "Liver"},
			{Code: "UBERON:0002371", Term: "Bone Marrow"},
			{Code: "UBERON:0010000", Term: "Other"},
		},
		DatasetTypes:    []string{"Light Sheet", "RNASeq", "ATACseq", "CODEX", "Other"},
		SourceTypes:     []string{"Human", "Human Organoid", "Mouse", "Mouse Organoid"},
		CreationActions: []string{"Create Dataset Activity", "Lab Process", "External Process", "Central Process", "Multi-Assay Split"},
	}
	reg, err := NewRegistry(doc)
	if err != nil {
		panic("ontology: built-in vocabulary invalid: " + err.Error())
	}
	return reg
}
