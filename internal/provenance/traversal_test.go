package provenance

import (
	"context"
	"strings"
	"testing"

	"github.com/atlasbio/provenance-backend/internal/ontology"
)

func newTraversalService(t *testing.T, store *fakeStore) *TraversalService {
	t.Helper()
	return NewTraversalService(store, ontology.TestRegistry(), nil, testLogger(t))
}

func TestDirectAncestorsFiltersLab(t *testing.T) {
	store := newFakeStore()
	store.stub("COLLECT(DISTINCT a)", map[string]any{
		recordField: []any{
			map[string]any{"uuid": "p-1", "entity_type": "Sample"},
		},
	})
	svc := newTraversalService(t, store)

	ancestors, err := svc.DirectAncestors(context.Background(), "e-1")
	if err != nil {
		t.Fatalf("DirectAncestors: %v", err)
	}
	if len(ancestors) != 1 || ancestors[0]["uuid"] != "p-1" {
		t.Fatalf("unexpected ancestors: %+v", ancestors)
	}
	st := store.queryContaining(t, "WAS_GENERATED_BY]->(:Activity)-[:USED]")
	if !strings.Contains(st.query, "a.entity_type <> 'Lab'") {
		t.Fatalf("direct ancestor query must exclude Lab nodes: %s", st.query)
	}
}

func TestAncestorsTransitiveQuery(t *testing.T) {
	store := newFakeStore()
	svc := newTraversalService(t, store)

	if _, err := svc.Ancestors(context.Background(), "e-1"); err != nil {
		t.Fatalf("Ancestors: %v", err)
	}
	st := store.queryContaining(t, "USED|WAS_GENERATED_BY*")
	if !strings.Contains(st.query, ")-[:USED|WAS_GENERATED_BY*]->(") {
		t.Fatalf("ancestors must follow outgoing provenance edges: %s", st.query)
	}
}

func TestDescendantsNotFoundIsEmpty(t *testing.T) {
	store := newFakeStore()
	svc := newTraversalService(t, store)

	descendants, err := svc.Descendants(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Descendants: %v", err)
	}
	if len(descendants) != 0 {
		t.Fatalf("missing node should read as empty, got %+v", descendants)
	}
}

func TestPublishedDescendantCount(t *testing.T) {
	store := newFakeStore()
	store.stub("COUNT(DISTINCT d)", map[string]any{recordField: int64(3)})
	svc := newTraversalService(t, store)

	n, err := svc.PublishedDescendantCount(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("PublishedDescendantCount: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
	st := store.queryContaining(t, "COUNT(DISTINCT d)")
	if !strings.Contains(st.query, "toLower(d.status) = 'published'") {
		t.Fatalf("count must be case-insensitive on status: %s", st.query)
	}
}

func TestOriginSamplesReturnsSelfForOrgan(t *testing.T) {
	store := newFakeStore()
	store.stub("MATCH (e:Entity {uuid: $uuid}) RETURN e AS", map[string]any{
		recordField: map[string]any{
			"uuid":            "organ-1",
			"entity_type":     "Sample",
			"sample_category": "Organ",
		},
	})
	svc := newTraversalService(t, store)

	origins, err := svc.OriginSamples(context.Background(), "organ-1")
	if err != nil {
		t.Fatalf("OriginSamples: %v", err)
	}
	if len(origins) != 1 || origins[0]["uuid"] != "organ-1" {
		t.Fatalf("organ sample should be its own origin, got %+v", origins)
	}
	if store.countContaining("sample_category) = 'organ'") != 0 {
		t.Fatalf("self-origin must not run the ancestor query")
	}
}

func TestOriginSamplesWalksAncestors(t *testing.T) {
	store := newFakeStore()
	store.stub("MATCH (e:Entity {uuid: $uuid}) RETURN e AS", map[string]any{
		recordField: map[string]any{"uuid": "d-1", "entity_type": "Dataset"},
	})
	store.stub("COLLECT(DISTINCT o)", map[string]any{
		recordField: []any{
			map[string]any{"uuid": "organ-1", "organ": "UBERON:0000948"},
		},
	})
	svc := newTraversalService(t, store)

	origins, err := svc.OriginSamples(context.Background(), "d-1")
	if err != nil {
		t.Fatalf("OriginSamples: %v", err)
	}
	if len(origins) != 1 || origins[0]["uuid"] != "organ-1" {
		t.Fatalf("unexpected origins: %+v", origins)
	}
}

func TestOrganAndSourceSummary(t *testing.T) {
	store := newFakeStore()
	store.stub("COLLECT(DISTINCT o)", map[string]any{
		recordField: []any{
			map[string]any{"uuid": "organ-1", "organ": "UBERON:0000948"},
		},
	})
	store.stub("(src:Source)", map[string]any{
		recordField: map[string]any{"uuid": "src-1", "source_type": "Human"},
	})
	svc := newTraversalService(t, store)

	summary, err := svc.OrganAndSourceSummary(context.Background(), "d-1")
	if err != nil {
		t.Fatalf("OrganAndSourceSummary: %v", err)
	}
	if len(summary) != 1 {
		t.Fatalf("expected one organ entry, got %d", len(summary))
	}
	entry := summary[0]
	if entry.OrganName != "Heart" {
		t.Fatalf("organ code should resolve to display name, got %q", entry.OrganName)
	}
	if entry.SourceUUID != "src-1" || entry.SourceType != "Human" {
		t.Fatalf("source not resolved: %+v", entry)
	}
}

func TestOrganAndSourceSummaryFallsBackToStoredName(t *testing.T) {
	store := newFakeStore()
	store.stub("COLLECT(DISTINCT o)", map[string]any{
		recordField: []any{
			map[string]any{"uuid": "organ-1", "organ": "Spleen"},
		},
	})
	svc := newTraversalService(t, store)

	summary, err := svc.OrganAndSourceSummary(context.Background(), "d-1")
	if err != nil {
		t.Fatalf("OrganAndSourceSummary: %v", err)
	}
	if summary[0].OrganName != "Spleen" {
		t.Fatalf("unmapped organ should keep its stored value, got %q", summary[0].OrganName)
	}
}

func TestSiblingsTwoStepAndFilters(t *testing.T) {
	store := newFakeStore()
	store.stub("COLLECT(DISTINCT a.uuid)", map[string]any{
		recordField: []any{"parent-1"},
	})
	store.stub("COLLECT(DISTINCT sib)", map[string]any{
		recordField: []any{map[string]any{"uuid": "sib-1"}},
	})
	svc := newTraversalService(t, store)

	siblings, err := svc.Siblings(context.Background(), "e-1", SiblingOptions{Status: "QA"})
	if err != nil {
		t.Fatalf("Siblings: %v", err)
	}
	if len(siblings) != 1 || siblings[0]["uuid"] != "sib-1" {
		t.Fatalf("unexpected siblings: %+v", siblings)
	}

	ancestors := store.queryContaining(t, "COLLECT(DISTINCT a.uuid)")
	if !strings.Contains(ancestors.query, "a.entity_type <> 'Lab'") {
		t.Fatalf("sibling ancestor lookup must exclude Lab nodes: %s", ancestors.query)
	}

	st := store.queryContaining(t, "COLLECT(DISTINCT sib)")
	if !strings.Contains(st.query, "sib.uuid <> $uuid") {
		t.Fatalf("siblings must exclude the entity itself: %s", st.query)
	}
	if !strings.Contains(st.query, "NOT (sib)<-[:REVISION_OF]-") {
		t.Fatalf("superseded revisions excluded by default: %s", st.query)
	}
	if !strings.Contains(st.query, "NOT sib:Dataset OR toLower(sib.status) = $status") {
		t.Fatalf("status filter must only apply to Dataset siblings: %s", st.query)
	}
	if st.params["status"] != "qa" {
		t.Fatalf("status filter must be lowercased and bound, got %v", st.params["status"])
	}
}

func TestSiblingsNoAncestorsShortCircuits(t *testing.T) {
	store := newFakeStore()
	svc := newTraversalService(t, store)

	siblings, err := svc.Siblings(context.Background(), "root-1", SiblingOptions{})
	if err != nil {
		t.Fatalf("Siblings: %v", err)
	}
	if siblings != nil {
		t.Fatalf("rootless entity has no siblings, got %+v", siblings)
	}
	if store.countContaining("COLLECT(DISTINCT sib)") != 0 {
		t.Fatalf("sibling query must not run without ancestors")
	}
}

func TestRevisionChainOrdering(t *testing.T) {
	store := newFakeStore()
	store.stub("ORDER BY hops DESC", map[string]any{recordField: []any{"r3", "r2"}})
	store.stub("ORDER BY hops", map[string]any{recordField: []any{"r1", "r0"}})
	svc := newTraversalService(t, store)

	prev, err := svc.AllPreviousRevisionUUIDs(context.Background(), "r2")
	if err != nil {
		t.Fatalf("AllPreviousRevisionUUIDs: %v", err)
	}
	if len(prev) != 2 || prev[0] != "r1" {
		t.Fatalf("previous revisions must read nearest first, got %v", prev)
	}
	st := store.queryContaining(t, ")-[:REVISION_OF*]->(")
	if !strings.Contains(st.query, "ORDER BY hops") || strings.Contains(st.query, "DESC") {
		t.Fatalf("previous chain must order by ascending hops: %s", st.query)
	}

	store.statements = nil
	next, err := svc.AllNextRevisionUUIDs(context.Background(), "r2")
	if err != nil {
		t.Fatalf("AllNextRevisionUUIDs: %v", err)
	}
	if len(next) != 2 || next[0] != "r3" {
		t.Fatalf("next revisions must read newest first, got %v", next)
	}
	nst := store.queryContaining(t, ")<-[:REVISION_OF*]-(")
	if !strings.Contains(nst.query, "ORDER BY hops DESC") {
		t.Fatalf("next chain must order by descending hops: %s", nst.query)
	}
}

func TestNextRevisionUUIDNotFound(t *testing.T) {
	store := newFakeStore()
	svc := newTraversalService(t, store)

	_, found, err := svc.NextRevisionUUID(context.Background(), "head")
	if err != nil {
		t.Fatalf("NextRevisionUUID: %v", err)
	}
	if found {
		t.Fatalf("chain head has no next revision")
	}
}

func TestEntityTypeMismatchFilterGroupsByType(t *testing.T) {
	store := newFakeStore()
	store.stub("toLower(e.entity_type) <> toLower($type)", map[string]any{
		recordField: []any{
			map[string]any{"type": "Sample", "uuids": []any{"bad-1", "bad-2"}},
			map[string]any{"type": "Source", "uuids": []any{"bad-3"}},
		},
	})
	svc := newTraversalService(t, store)

	offending, err := svc.EntityTypeMismatchFilter(context.Background(), []string{"a", "bad-1", "bad-2", "bad-3"}, "Dataset")
	if err != nil {
		t.Fatalf("EntityTypeMismatchFilter: %v", err)
	}
	if len(offending) != 2 {
		t.Fatalf("expected offenders grouped by stored type, got %v", offending)
	}
	if samples := offending["Sample"]; len(samples) != 2 || samples[0] != "bad-1" {
		t.Fatalf("unexpected Sample group: %v", samples)
	}
	if sources := offending["Source"]; len(sources) != 1 || sources[0] != "bad-3" {
		t.Fatalf("unexpected Source group: %v", sources)
	}
	st := store.queryContaining(t, "toLower($type)")
	if !strings.Contains(st.query, "WITH e.entity_type AS actual") {
		t.Fatalf("grouping must happen in the query: %s", st.query)
	}
}

func TestEntityTypeMismatchFilterAllMatch(t *testing.T) {
	store := newFakeStore()
	store.stub("toLower(e.entity_type) <> toLower($type)", map[string]any{
		recordField: []any{},
	})
	svc := newTraversalService(t, store)

	offending, err := svc.EntityTypeMismatchFilter(context.Background(), []string{"d-1"}, "Dataset")
	if err != nil {
		t.Fatalf("EntityTypeMismatchFilter: %v", err)
	}
	if len(offending) != 0 {
		t.Fatalf("matching entities must not be reported, got %v", offending)
	}
}

func TestHasRUIRegistration(t *testing.T) {
	cases := []struct {
		name          string
		entity        map[string]any
		organs        []any
		ancestorCount int64
		want          string
	}{
		{
			name:   "non sample",
			entity: map[string]any{"uuid": "d-1", "entity_type": "Dataset"},
			want:   "N/A",
		},
		{
			name:   "exempt organ",
			entity: map[string]any{"uuid": "s-1", "entity_type": "Sample", "sample_category": "Block"},
			organs: []any{map[string]any{"uuid": "o-1", "organ": "UBERON:0000178"}},
			want:   "N/A",
		},
		{
			name: "self registered",
			entity: map[string]any{
				"uuid": "s-1", "entity_type": "Sample", "sample_category": "Block",
				"rui_location": `{"placement": {}}`,
			},
			organs: []any{map[string]any{"uuid": "o-1", "organ": "UBERON:0000948"}},
			want:   "True",
		},
		{
			name:          "ancestor registered",
			entity:        map[string]any{"uuid": "s-1", "entity_type": "Sample", "sample_category": "Suspension"},
			organs:        []any{map[string]any{"uuid": "o-1", "organ": "UBERON:0000948"}},
			ancestorCount: 1,
			want:          "True",
		},
		{
			name:   "unregistered",
			entity: map[string]any{"uuid": "s-1", "entity_type": "Sample", "sample_category": "Block"},
			organs: []any{map[string]any{"uuid": "o-1", "organ": "UBERON:0000948"}},
			want:   "False",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			store.stub("MATCH (e:Entity {uuid: $uuid}) RETURN e AS", map[string]any{recordField: tc.entity})
			if tc.organs != nil {
				store.stub("COLLECT(DISTINCT o)", map[string]any{recordField: tc.organs})
			}
			store.stub("trim(anc.rui_location)", map[string]any{recordField: tc.ancestorCount})
			svc := newTraversalService(t, store)

			got, err := svc.HasRUIRegistration(context.Background(), AsString(tc.entity["uuid"]))
			if err != nil {
				t.Fatalf("HasRUIRegistration: %v", err)
			}
			if got != tc.want {
				t.Fatalf("want %q, got %q", tc.want, got)
			}

			ancestorLookups := store.countContaining("trim(anc.rui_location)")
			switch tc.want {
			case "N/A":
				if ancestorLookups != 0 {
					t.Fatalf("exemption must short-circuit before the ancestor scan")
				}
			case "False":
				if ancestorLookups != 1 {
					t.Fatalf("unregistered sample must still scan Sample ancestors")
				}
			}
		})
	}
}

func TestHasRUIRegistrationReadsSampleAncestors(t *testing.T) {
	store := newFakeStore()
	store.stub("MATCH (e:Entity {uuid: $uuid}) RETURN e AS", map[string]any{
		recordField: map[string]any{"uuid": "s-1", "entity_type": "Sample", "sample_category": "Suspension"},
	})
	store.stub("COLLECT(DISTINCT o)", map[string]any{
		recordField: []any{map[string]any{"uuid": "o-1", "organ": "UBERON:0000948"}},
	})
	store.stub("trim(anc.rui_location)", map[string]any{recordField: int64(1)})
	svc := newTraversalService(t, store)

	got, err := svc.HasRUIRegistration(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("HasRUIRegistration: %v", err)
	}
	if got != "True" {
		t.Fatalf("registered ancestor must make the specimen report True, got %q", got)
	}
	st := store.queryContaining(t, "trim(anc.rui_location)")
	if !strings.Contains(st.query, ")-[:USED|WAS_GENERATED_BY*]->(anc:Sample)") {
		t.Fatalf("ancestor scan must walk outgoing provenance edges to Samples: %s", st.query)
	}
}

func TestEntitiesByTypeUnknown(t *testing.T) {
	store := newFakeStore()
	svc := newTraversalService(t, store)

	if _, err := svc.EntitiesByType(context.Background(), "Widget"); err == nil {
		t.Fatalf("unknown entity type must error")
	}
}

func TestUploadForEntity(t *testing.T) {
	store := newFakeStore()
	store.stub("IN_UPLOAD]->(u:Upload)", map[string]any{
		recordField: map[string]any{"uuid": "up-1"},
	})
	svc := newTraversalService(t, store)

	upload, found, err := svc.UploadForEntity(context.Background(), "d-1")
	if err != nil || !found {
		t.Fatalf("UploadForEntity: found=%v err=%v", found, err)
	}
	if upload["uuid"] != "up-1" {
		t.Fatalf("unexpected upload: %+v", upload)
	}
}
