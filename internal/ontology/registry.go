package ontology

import (
	"fmt"
	"sort"
	"strings"
)

// Term is one entry of a controlled vocabulary. Code is empty for flat
// vocabularies (entity types, specimen categories); organ types carry a
// UBERON-style code.
type Term struct {
	Term string `yaml:"term" json:"term"`
	Code string `yaml:"code" json:"code"`
}

// Document is the raw shape of the vocabulary set, as fetched from the
// vocabulary service or read from the YAML seed.
type Document struct {
	Entities           []string `yaml:"entities" json:"entities"`
	SpecimenCategories []string `yaml:"specimen_categories" json:"specimen_categories"`
	OrganTypes         []Term   `yaml:"organ_types" json:"organ_types"`
	DatasetTypes       []string `yaml:"dataset_types" json:"dataset_types"`
	SourceTypes        []string `yaml:"source_types" json:"source_types"`
	CreationActions    []string `yaml:"creation_actions" json:"creation_actions"`
}

// Registry holds the closed vocabularies, loaded once at startup and
// immutable afterwards. Lookups are case-insensitive; canonical casing is
// whatever the vocabulary source declared.
type Registry struct {
	entities           []string
	specimenCategories []string
	organTypes         []Term
	datasetTypes       []string
	sourceTypes        []string
	creationActions    []string

	entityIndex   map[string]string
	categoryIndex map[string]string
	organByCode   map[string]string
	organByTerm   map[string]string
	datasetIndex  map[string]string
	actionIndex   map[string]string
}

// Vocabulary names the constraint builders depend on. NewRegistry rejects a
// document missing any of them so a partial vocabulary fails at startup, not
// mid-request.
var (
	requiredEntities   = []string{"Source", "Sample", "Dataset", "Publication", "Collection", "Epicollection"}
	requiredCategories = []string{"Organ", "Block", "Section", "Suspension"}
)

func NewRegistry(doc Document) (*Registry, error) {
	r := &Registry{
		entities:           append([]string(nil), doc.Entities...),
		specimenCategories: append([]string(nil), doc.SpecimenCategories...),
		organTypes:         append([]Term(nil), doc.OrganTypes...),
		datasetTypes:       append([]string(nil), doc.DatasetTypes...),
		sourceTypes:        append([]string(nil), doc.SourceTypes...),
		creationActions:    append([]string(nil), doc.CreationActions...),
		entityIndex:        indexOf(doc.Entities),
		categoryIndex:      indexOf(doc.SpecimenCategories),
		organByCode:        map[string]string{},
		organByTerm:        map[string]string{},
		datasetIndex:       indexOf(doc.DatasetTypes),
		actionIndex:        indexOf(doc.CreationActions),
	}
	for _, o := range doc.OrganTypes {
		r.organByCode[strings.ToLower(o.Code)] = o.Term
		r.organByTerm[strings.ToLower(o.Term)] = o.Code
	}

	for _, name := range requiredEntities {
		if _, ok := r.entityIndex[strings.ToLower(name)]; !ok {
			return nil, fmt.Errorf("ontology: entity type %q missing from vocabulary", name)
		}
	}
	for _, name := range requiredCategories {
		if _, ok := r.categoryIndex[strings.ToLower(name)]; !ok {
			return nil, fmt.Errorf("ontology: specimen category %q missing from vocabulary", name)
		}
	}
	if _, ok := r.organByTerm["blood"]; !ok {
		return nil, fmt.Errorf("ontology: organ type Blood missing from vocabulary")
	}
	if _, ok := r.datasetIndex["light sheet"]; !ok {
		return nil, fmt.Errorf("ontology: dataset type Light Sheet missing from vocabulary")
	}
	return r, nil
}

func indexOf(terms []string) map[string]string {
	idx := make(map[string]string, len(terms))
	for _, t := range terms {
		idx[strings.ToLower(strings.TrimSpace(t))] = t
	}
	return idx
}

func (r *Registry) Entities() []string           { return append([]string(nil), r.entities...) }
func (r *Registry) SpecimenCategories() []string { return append([]string(nil), r.specimenCategories...) }
func (r *Registry) DatasetTypes() []string       { return append([]string(nil), r.datasetTypes...) }
func (r *Registry) SourceTypes() []string        { return append([]string(nil), r.sourceTypes...) }
func (r *Registry) CreationActions() []string    { return append([]string(nil), r.creationActions...) }

// NormalizeEntityType maps any casing of a known entity type to its
// canonical form.
func (r *Registry) NormalizeEntityType(s string) (string, bool) {
	v, ok := r.entityIndex[strings.ToLower(strings.TrimSpace(s))]
	return v, ok
}

func (r *Registry) NormalizeSpecimenCategory(s string) (string, bool) {
	v, ok := r.categoryIndex[strings.ToLower(strings.TrimSpace(s))]
	return v, ok
}

func (r *Registry) NormalizeDatasetType(s string) (string, bool) {
	v, ok := r.datasetIndex[strings.ToLower(strings.TrimSpace(s))]
	return v, ok
}

func (r *Registry) NormalizeCreationAction(s string) (string, bool) {
	v, ok := r.actionIndex[strings.ToLower(strings.TrimSpace(s))]
	return v, ok
}

// OrganName resolves an organ code to its display term.
func (r *Registry) OrganName(code string) (string, bool) {
	v, ok := r.organByCode[strings.ToLower(strings.TrimSpace(code))]
	return v, ok
}

func (r *Registry) OrganCode(term string) (string, bool) {
	v, ok := r.organByTerm[strings.ToLower(strings.TrimSpace(term))]
	return v, ok
}

func (r *Registry) OrganCodes() []string {
	codes := make([]string, 0, len(r.organTypes))
	for _, o := range r.organTypes {
		codes = append(codes, o.Code)
	}
	sort.Strings(codes)
	return codes
}

// Names used by the constraint builders, in canonical casing.

type EntityNames struct {
	Source, Sample, Dataset, Publication, Collection, Epicollection string
}

type CategoryNames struct {
	Organ, Block, Section, Suspension string
}

func (r *Registry) EntityNames() EntityNames {
	return EntityNames{
		Source:        r.entityIndex["source"],
		Sample:        r.entityIndex["sample"],
		Dataset:       r.entityIndex["dataset"],
		Publication:   r.entityIndex["publication"],
		Collection:    r.entityIndex["collection"],
		Epicollection: r.entityIndex["epicollection"],
	}
}

func (r *Registry) CategoryNames() CategoryNames {
	return CategoryNames{
		Organ:      r.categoryIndex["organ"],
		Block:      r.categoryIndex["block"],
		Section:    r.categoryIndex["section"],
		Suspension: r.categoryIndex["suspension"],
	}
}
