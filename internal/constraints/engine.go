package constraints

import (
	"strings"

	"github.com/atlasbio/provenance-backend/internal/ontology"
)

// Engine holds the authored rule tables, built once over the loaded
// vocabulary and immutable afterwards. Rules read "ancestor pattern
// authorizes these descendant patterns"; declaration order is significant
// because validation scans in order.
type Engine struct {
	reg         *ontology.Registry
	byType      map[string][]Constraint
	sampleBySub map[string][]Constraint
}

func NewEngine(reg *ontology.Registry) *Engine {
	ent := reg.EntityNames()
	cat := reg.CategoryNames()
	bloodCode, _ := reg.OrganCode("Blood")
	lightSheet, _ := reg.NormalizeDatasetType("Light Sheet")

	unit := func(entityType string, subType ...string) Unit {
		u := Unit{EntityType: entityType}
		if len(subType) > 0 {
			u.SubType = subType
		}
		return u
	}

	// A suspension derived straight from an organ is only legal for blood;
	// every other organ must be blocked first.
	organRules := []Constraint{
		{
			Ancestor:    Unit{EntityType: ent.Sample, SubType: []string{cat.Organ}, SubTypeVal: []string{bloodCode}},
			Descendants: []Unit{unit(ent.Sample, cat.Suspension)},
		},
		{
			Ancestor:    unit(ent.Sample, cat.Organ),
			Descendants: []Unit{unit(ent.Sample, cat.Block)},
		},
	}
	blockRules := []Constraint{
		{
			Ancestor: unit(ent.Sample, cat.Block),
			Descendants: []Unit{
				unit(ent.Sample, cat.Block),
				unit(ent.Sample, cat.Section),
				unit(ent.Sample, cat.Suspension),
				unit(ent.Dataset, lightSheet),
			},
		},
	}
	sectionRules := []Constraint{
		{
			Ancestor:    unit(ent.Sample, cat.Section),
			Descendants: []Unit{unit(ent.Sample, cat.Suspension), unit(ent.Dataset)},
		},
	}
	suspensionRules := []Constraint{
		{
			Ancestor:    unit(ent.Sample, cat.Suspension),
			Descendants: []Unit{unit(ent.Sample, cat.Suspension), unit(ent.Dataset)},
		},
	}

	e := &Engine{
		reg: reg,
		sampleBySub: map[string][]Constraint{
			strings.ToLower(cat.Organ):      organRules,
			strings.ToLower(cat.Block):      blockRules,
			strings.ToLower(cat.Section):    sectionRules,
			strings.ToLower(cat.Suspension): suspensionRules,
		},
	}

	allSample := make([]Constraint, 0, 5)
	allSample = append(allSample, organRules...)
	allSample = append(allSample, blockRules...)
	allSample = append(allSample, sectionRules...)
	allSample = append(allSample, suspensionRules...)

	e.byType = map[string][]Constraint{
		strings.ToLower(ent.Source): {
			{Ancestor: unit(ent.Source), Descendants: []Unit{unit(ent.Sample, cat.Organ)}},
		},
		strings.ToLower(ent.Sample): allSample,
		strings.ToLower(ent.Dataset): {
			{Ancestor: unit(ent.Dataset), Descendants: []Unit{unit(ent.Dataset), unit(ent.Publication)}},
		},
		strings.ToLower(ent.Publication): {
			{Ancestor: unit(ent.Publication), Descendants: []Unit{unit(ent.Dataset)}},
		},
		strings.ToLower(ent.Collection): {
			{Ancestor: unit(ent.Source), Descendants: []Unit{unit(ent.Collection)}},
			{Ancestor: unit(ent.Sample), Descendants: []Unit{unit(ent.Collection)}},
			{Ancestor: unit(ent.Dataset), Descendants: []Unit{unit(ent.Collection)}},
		},
		strings.ToLower(ent.Epicollection): {
			{Ancestor: unit(ent.Dataset), Descendants: []Unit{unit(ent.Epicollection)}},
		},
	}
	return e
}

// ConstraintsFor returns the authored rule list for an ancestor unit. Sample
// rules are authored per specimen category, so a Sample unit must carry a
// recognized sub_type discriminator. A recognized entity type with no
// authored rules yields an empty list and no error; unknown vocabulary
// values yield *UnknownEntityTypeError / *UnknownSubTypeError.
func (e *Engine) ConstraintsFor(ancestor Unit) ([]Constraint, error) {
	canonical, ok := e.reg.NormalizeEntityType(ancestor.EntityType)
	if !ok {
		return nil, &UnknownEntityTypeError{Value: ancestor.EntityType}
	}
	key := strings.ToLower(canonical)

	if key == "sample" {
		if len(ancestor.SubType) == 0 {
			return nil, &UnknownSubTypeError{EntityType: canonical}
		}
		sub := strings.ToLower(strings.TrimSpace(ancestor.SubType[0]))
		rules, ok := e.sampleBySub[sub]
		if !ok {
			return nil, &UnknownSubTypeError{EntityType: canonical, Value: ancestor.SubType[0]}
		}
		return rules, nil
	}
	return e.byType[key], nil
}

// constraintsForType returns the whole table for an entity type, without a
// sub-type discriminator. Used by descendant-side lookups, which scan
// descendant patterns instead of dispatching on them.
func (e *Engine) constraintsForType(entityType string) ([]Constraint, error) {
	canonical, ok := e.reg.NormalizeEntityType(entityType)
	if !ok {
		return nil, &UnknownEntityTypeError{Value: entityType}
	}
	return e.byType[strings.ToLower(canonical)], nil
}
