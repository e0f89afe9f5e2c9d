package provenance

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/atlasbio/provenance-backend/internal/ontology"
	"github.com/atlasbio/provenance-backend/internal/platform/logger"
	"github.com/atlasbio/provenance-backend/internal/platform/rediscache"
)

// Organ codes for which spatial registration never applies. A specimen under
// one of these organs reports "N/A" before its rui_location is even looked at.
var ruiExemptOrganCodes = map[string]struct{}{
	"UBERON:0000178": {}, // Blood
	"UBERON:0002371": {}, // Bone Marrow
	"UBERON:0001630": {}, // Muscle
	"UBERON:0010000": {}, // Other
}

func originCacheKey(uuid string) string  { return "prov:origin_samples:" + uuid }
func summaryCacheKey(uuid string) string { return "prov:organ_source_summary:" + uuid }

// OrganSourceSummary pairs one ancestor organ with the Source it was
// procured from.
type OrganSourceSummary struct {
	OrganUUID  string `json:"organ_uuid"`
	OrganCode  string `json:"organ_code"`
	OrganName  string `json:"organ_name"`
	SourceUUID string `json:"source_uuid,omitempty"`
	SourceType string `json:"source_type,omitempty"`
}

// SiblingOptions narrow a sibling lookup. The zero value excludes nothing.
type SiblingOptions struct {
	// IncludeOldRevisions keeps siblings that a newer revision supersedes.
	IncludeOldRevisions bool
	// Status, when set, keeps only Dataset siblings with that status
	// (case-insensitive). Non-Dataset siblings carry no status and always
	// pass.
	Status string
}

// TraversalService answers the read-side provenance questions. Aggregate
// lookups that fan out across the graph go through the injected cache.
type TraversalService struct {
	store Store
	reg   *ontology.Registry
	cache *rediscache.Cache
	log   *logger.Logger
}

func NewTraversalService(store Store, reg *ontology.Registry, cache *rediscache.Cache, log *logger.Logger) *TraversalService {
	return &TraversalService{
		store: store,
		reg:   reg,
		cache: cache,
		log:   log.With("service", "ProvenanceTraversal"),
	}
}

// EntityByID fetches one entity's property map. found is false when no node
// carries the uuid.
func (s *TraversalService) EntityByID(ctx context.Context, uuid string) (map[string]any, bool, error) {
	rec, found, err := s.store.ReadSingle(ctx,
		"MATCH (e:Entity {uuid: $uuid}) RETURN e AS "+recordField,
		map[string]any{"uuid": uuid})
	if err != nil || !found {
		return nil, false, err
	}
	return NodeToMap(rec[recordField]), true, nil
}

// EntitiesByType lists every entity of one normalized type.
func (s *TraversalService) EntitiesByType(ctx context.Context, entityType string) ([]map[string]any, error) {
	canonical, ok := s.reg.NormalizeEntityType(entityType)
	if !ok {
		return nil, &UnknownTypeError{Kind: "entity type", Value: entityType}
	}
	return s.collect(ctx,
		"MATCH (e:Entity {entity_type: $type}) RETURN COLLECT(e) AS "+recordField,
		map[string]any{"type": canonical})
}

// ActivityForEntity returns the Activity that generated the entity.
func (s *TraversalService) ActivityForEntity(ctx context.Context, uuid string) (map[string]any, bool, error) {
	rec, found, err := s.store.ReadSingle(ctx,
		"MATCH (e:Entity {uuid: $uuid})-[:WAS_GENERATED_BY]->(a:Activity) RETURN a AS "+recordField,
		map[string]any{"uuid": uuid})
	if err != nil || !found {
		return nil, false, err
	}
	return NodeToMap(rec[recordField]), true, nil
}

// DirectAncestors returns the entities one process step above the given
// entity. Lab nodes are bookkeeping, not provenance, and never appear.
func (s *TraversalService) DirectAncestors(ctx context.Context, uuid string) ([]map[string]any, error) {
	return s.collect(ctx,
		"MATCH (e:Entity {uuid: $uuid})-[:WAS_GENERATED_BY]->(:Activity)-[:USED]->(a:Entity) "+
			"WHERE a.entity_type <> 'Lab' "+
			"RETURN COLLECT(DISTINCT a) AS "+recordField,
		map[string]any{"uuid": uuid})
}

// DirectDescendants returns the entities one process step below the given
// entity.
func (s *TraversalService) DirectDescendants(ctx context.Context, uuid string) ([]map[string]any, error) {
	return s.collect(ctx,
		"MATCH (e:Entity {uuid: $uuid})<-[:USED]-(:Activity)<-[:WAS_GENERATED_BY]-(d:Entity) "+
			"RETURN COLLECT(DISTINCT d) AS "+recordField,
		map[string]any{"uuid": uuid})
}

// Ancestors returns every entity reachable upward through any number of
// process steps.
func (s *TraversalService) Ancestors(ctx context.Context, uuid string) ([]map[string]any, error) {
	return s.collect(ctx,
		"MATCH (e:Entity {uuid: $uuid})-[:USED|WAS_GENERATED_BY*]->(a:Entity) "+
			"WHERE a.entity_type <> 'Lab' "+
			"RETURN COLLECT(DISTINCT a) AS "+recordField,
		map[string]any{"uuid": uuid})
}

// Descendants returns every entity reachable downward through any number of
// process steps.
func (s *TraversalService) Descendants(ctx context.Context, uuid string) ([]map[string]any, error) {
	return s.collect(ctx,
		"MATCH (e:Entity {uuid: $uuid})<-[:USED|WAS_GENERATED_BY*]-(d:Entity) "+
			"RETURN COLLECT(DISTINCT d) AS "+recordField,
		map[string]any{"uuid": uuid})
}

// DescendantDatasets returns only the Dataset descendants.
func (s *TraversalService) DescendantDatasets(ctx context.Context, uuid string) ([]map[string]any, error) {
	return s.collect(ctx,
		"MATCH (e:Entity {uuid: $uuid})<-[:USED|WAS_GENERATED_BY*]-(d:Dataset) "+
			"RETURN COLLECT(DISTINCT d) AS "+recordField,
		map[string]any{"uuid": uuid})
}

// PublishedDescendantCount counts Dataset descendants whose status is
// published, any casing.
func (s *TraversalService) PublishedDescendantCount(ctx context.Context, uuid string) (int64, error) {
	rec, found, err := s.store.ReadSingle(ctx,
		"MATCH (e:Entity {uuid: $uuid})<-[:USED|WAS_GENERATED_BY*]-(d:Dataset) "+
			"WHERE toLower(d.status) = 'published' "+
			"RETURN COUNT(DISTINCT d) AS "+recordField,
		map[string]any{"uuid": uuid})
	if err != nil || !found {
		return 0, err
	}
	return AsInt64(rec[recordField]), nil
}

// OriginSamples returns the organ-category Sample(s) the entity descends
// from. An organ sample is its own origin. Results are cached per entity.
func (s *TraversalService) OriginSamples(ctx context.Context, uuid string) ([]map[string]any, error) {
	key := originCacheKey(uuid)
	var cached []map[string]any
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	self, found, err := s.EntityByID(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if found && isOrganSample(self) {
		out := []map[string]any{self}
		s.cache.Set(ctx, key, out)
		return out, nil
	}

	organs, err := s.AncestorOrgans(ctx, uuid)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, organs)
	return organs, nil
}

// AncestorOrgans returns the distinct organ-category Samples above the
// entity.
func (s *TraversalService) AncestorOrgans(ctx context.Context, uuid string) ([]map[string]any, error) {
	return s.collect(ctx,
		"MATCH (e:Entity {uuid: $uuid})-[:USED|WAS_GENERATED_BY*]->(o:Sample) "+
			"WHERE toLower(o.sample_category) = 'organ' "+
			"RETURN COLLECT(DISTINCT o) AS "+recordField,
		map[string]any{"uuid": uuid})
}

// OrganAndSourceSummary builds, per ancestor organ, the organ identity plus
// the Source it came from. Source lookups fan out concurrently, one per
// organ. The assembled summary is cached per entity.
func (s *TraversalService) OrganAndSourceSummary(ctx context.Context, uuid string) ([]OrganSourceSummary, error) {
	key := summaryCacheKey(uuid)
	var cached []OrganSourceSummary
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	organs, err := s.AncestorOrgans(ctx, uuid)
	if err != nil {
		return nil, err
	}

	summaries := make([]OrganSourceSummary, len(organs))
	g, gctx := errgroup.WithContext(ctx)
	for i, organ := range organs {
		i, organ := i, organ
		g.Go(func() error {
			entry := OrganSourceSummary{
				OrganUUID: AsString(organ["uuid"]),
				OrganCode: AsString(organ["organ"]),
			}
			if name, ok := s.reg.OrganName(entry.OrganCode); ok {
				entry.OrganName = name
			} else {
				// Older records stored the display term directly.
				entry.OrganName = entry.OrganCode
			}

			rec, found, err := s.store.ReadSingle(gctx,
				"MATCH (o:Sample {uuid: $uuid})-[:USED|WAS_GENERATED_BY*]->(src:Source) "+
					"RETURN src AS "+recordField,
				map[string]any{"uuid": entry.OrganUUID})
			if err != nil {
				return err
			}
			if found {
				src := NodeToMap(rec[recordField])
				entry.SourceUUID = AsString(src["uuid"])
				entry.SourceType = AsString(src["source_type"])
			}
			summaries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.cache.Set(ctx, key, summaries)
	return summaries, nil
}

// Siblings returns the other direct descendants of the entity's direct
// ancestors. The lookup runs in two steps so the exclusion filters apply to
// the sibling set, not the ancestor set.
func (s *TraversalService) Siblings(ctx context.Context, uuid string, opts SiblingOptions) ([]map[string]any, error) {
	rec, found, err := s.store.ReadSingle(ctx,
		"MATCH (e:Entity {uuid: $uuid})-[:WAS_GENERATED_BY]->(:Activity)-[:USED]->(a:Entity) "+
			"WHERE a.entity_type <> 'Lab' "+
			"RETURN COLLECT(DISTINCT a.uuid) AS "+recordField,
		map[string]any{"uuid": uuid})
	if err != nil {
		return nil, err
	}
	var ancestorIDs []string
	if found {
		ancestorIDs = StringList(rec[recordField])
	}
	if len(ancestorIDs) == 0 {
		return nil, nil
	}

	query := "MATCH (a:Entity)<-[:USED]-(:Activity)<-[:WAS_GENERATED_BY]-(sib:Entity) " +
		"WHERE a.uuid IN $ancestors AND sib.uuid <> $uuid"
	params := map[string]any{"ancestors": ancestorIDs, "uuid": uuid}
	if !opts.IncludeOldRevisions {
		query += " AND NOT (sib)<-[:REVISION_OF]-(:Entity)"
	}
	if opts.Status != "" {
		query += " AND (NOT sib:Dataset OR toLower(sib.status) = $status)"
		params["status"] = strings.ToLower(opts.Status)
	}
	query += " RETURN COLLECT(DISTINCT sib) AS " + recordField

	return s.collect(ctx, query, params)
}

// Tuplets returns the entities generated by the same Activity as the given
// entity.
func (s *TraversalService) Tuplets(ctx context.Context, uuid string) ([]map[string]any, error) {
	return s.collect(ctx,
		"MATCH (e:Entity {uuid: $uuid})-[:WAS_GENERATED_BY]->(a:Activity)<-[:WAS_GENERATED_BY]-(t:Entity) "+
			"WHERE t.uuid <> $uuid "+
			"RETURN COLLECT(DISTINCT t) AS "+recordField,
		map[string]any{"uuid": uuid})
}

// PreviousRevisionUUID returns the immediate predecessor revision, if any.
func (s *TraversalService) PreviousRevisionUUID(ctx context.Context, uuid string) (string, bool, error) {
	return s.readUUID(ctx,
		"MATCH (e:Entity {uuid: $uuid})-[:REVISION_OF]->(p:Entity) RETURN p.uuid AS "+recordField,
		uuid)
}

// NextRevisionUUID returns the immediate successor revision, if any.
func (s *TraversalService) NextRevisionUUID(ctx context.Context, uuid string) (string, bool, error) {
	return s.readUUID(ctx,
		"MATCH (e:Entity {uuid: $uuid})<-[:REVISION_OF]-(n:Entity) RETURN n.uuid AS "+recordField,
		uuid)
}

// AllPreviousRevisionUUIDs walks the whole predecessor chain, nearest
// revision first, so the list reads in increasing age.
func (s *TraversalService) AllPreviousRevisionUUIDs(ctx context.Context, uuid string) ([]string, error) {
	return s.readUUIDChain(ctx,
		"MATCH p = (e:Entity {uuid: $uuid})-[:REVISION_OF*]->(prev:Entity) "+
			"WITH prev, length(p) AS hops ORDER BY hops "+
			"RETURN COLLECT(prev.uuid) AS "+recordField,
		uuid)
}

// AllNextRevisionUUIDs walks the whole successor chain, newest revision
// first.
func (s *TraversalService) AllNextRevisionUUIDs(ctx context.Context, uuid string) ([]string, error) {
	return s.readUUIDChain(ctx,
		"MATCH p = (e:Entity {uuid: $uuid})<-[:REVISION_OF*]-(next:Entity) "+
			"WITH next, length(p) AS hops ORDER BY hops DESC "+
			"RETURN COLLECT(next.uuid) AS "+recordField,
		uuid)
}

// CollectionsForEntity returns the collections the entity belongs to.
func (s *TraversalService) CollectionsForEntity(ctx context.Context, uuid string) ([]map[string]any, error) {
	return s.collect(ctx,
		"MATCH (e:Entity {uuid: $uuid})-[:IN_COLLECTION]->(c:Collection) "+
			"RETURN COLLECT(DISTINCT c) AS "+recordField,
		map[string]any{"uuid": uuid})
}

// CollectionMembers returns the entities linked into a collection.
func (s *TraversalService) CollectionMembers(ctx context.Context, collectionID string) ([]map[string]any, error) {
	return s.collect(ctx,
		"MATCH (c:Collection {uuid: $uuid})<-[:IN_COLLECTION]-(e:Entity) "+
			"RETURN COLLECT(DISTINCT e) AS "+recordField,
		map[string]any{"uuid": collectionID})
}

// CollectionsUsedByPublication returns the dataset collections a publication
// cites.
func (s *TraversalService) CollectionsUsedByPublication(ctx context.Context, publicationID string) ([]map[string]any, error) {
	return s.collect(ctx,
		"MATCH (p:Publication {uuid: $uuid})-[:USES_DATA]->(c:Collection) "+
			"RETURN COLLECT(DISTINCT c) AS "+recordField,
		map[string]any{"uuid": publicationID})
}

// UploadForEntity returns the upload a dataset was submitted under, if any.
func (s *TraversalService) UploadForEntity(ctx context.Context, datasetID string) (map[string]any, bool, error) {
	rec, found, err := s.store.ReadSingle(ctx,
		"MATCH (d:Dataset {uuid: $uuid})-[:IN_UPLOAD]->(u:Upload) RETURN u AS "+recordField,
		map[string]any{"uuid": datasetID})
	if err != nil || !found {
		return nil, false, err
	}
	return NodeToMap(rec[recordField]), true, nil
}

// UploadDatasets returns the datasets attached to an upload.
func (s *TraversalService) UploadDatasets(ctx context.Context, uploadID string) ([]map[string]any, error) {
	return s.collect(ctx,
		"MATCH (u:Upload {uuid: $uuid})<-[:IN_UPLOAD]-(d:Dataset) "+
			"RETURN COLLECT(DISTINCT d) AS "+recordField,
		map[string]any{"uuid": uploadID})
}

// EntityTypeMismatchFilter returns the uuids whose stored entity_type
// differs from the expected type, case-insensitively, grouped by the type
// actually stored. Callers use it to report every offending entity at once
// instead of failing on the first.
func (s *TraversalService) EntityTypeMismatchFilter(ctx context.Context, uuids []string, entityType string) (map[string][]string, error) {
	rec, found, err := s.store.ReadSingle(ctx,
		"MATCH (e:Entity) WHERE e.uuid IN $ids AND toLower(e.entity_type) <> toLower($type) "+
			"WITH e.entity_type AS actual, COLLECT(e.uuid) AS ids "+
			"RETURN COLLECT({type: actual, uuids: ids}) AS "+recordField,
		map[string]any{"ids": uuids, "type": entityType})
	if err != nil || !found {
		return nil, err
	}
	groups, _ := rec[recordField].([]any)
	var offending map[string][]string
	for _, g := range groups {
		m, ok := g.(map[string]any)
		if !ok {
			continue
		}
		if offending == nil {
			offending = map[string][]string{}
		}
		offending[AsString(m["type"])] = StringList(m["uuids"])
	}
	return offending, nil
}

// HasRUIRegistration reports the spatial-registration state of a specimen:
// "N/A" when the entity is not a Sample or its ancestor organ is exempt from
// registration, otherwise "True"/"False" by whether the sample itself or any
// transitive Sample ancestor carries a rui_location.
func (s *TraversalService) HasRUIRegistration(ctx context.Context, uuid string) (string, error) {
	self, found, err := s.EntityByID(ctx, uuid)
	if err != nil {
		return "", err
	}
	if !found || !strings.EqualFold(AsString(self["entity_type"]), "Sample") {
		return "N/A", nil
	}

	organs, err := s.OriginSamples(ctx, uuid)
	if err != nil {
		return "", err
	}
	for _, organ := range organs {
		code := strings.ToUpper(AsString(organ["organ"]))
		if _, exempt := ruiExemptOrganCodes[code]; exempt {
			return "N/A", nil
		}
	}

	if strings.TrimSpace(AsString(self["rui_location"])) != "" {
		return "True", nil
	}
	rec, found, err := s.store.ReadSingle(ctx,
		"MATCH (e:Entity {uuid: $uuid})-[:USED|WAS_GENERATED_BY*]->(anc:Sample) "+
			"WHERE anc.rui_location IS NOT NULL AND trim(anc.rui_location) <> '' "+
			"RETURN COUNT(DISTINCT anc) AS "+recordField,
		map[string]any{"uuid": uuid})
	if err != nil {
		return "", err
	}
	if found && AsInt64(rec[recordField]) > 0 {
		return "True", nil
	}
	return "False", nil
}

func (s *TraversalService) collect(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	rec, found, err := s.store.ReadSingle(ctx, query, params)
	if err != nil || !found {
		return nil, err
	}
	return NodesToMaps(rec[recordField]), nil
}

func (s *TraversalService) readUUID(ctx context.Context, query, uuid string) (string, bool, error) {
	rec, found, err := s.store.ReadSingle(ctx, query, map[string]any{"uuid": uuid})
	if err != nil || !found {
		return "", false, err
	}
	v := AsString(rec[recordField])
	return v, v != "", nil
}

func (s *TraversalService) readUUIDChain(ctx context.Context, query, uuid string) ([]string, error) {
	rec, found, err := s.store.ReadSingle(ctx, query, map[string]any{"uuid": uuid})
	if err != nil || !found {
		return nil, err
	}
	return StringList(rec[recordField]), nil
}

func isOrganSample(props map[string]any) bool {
	return strings.EqualFold(AsString(props["entity_type"]), "Sample") &&
		strings.EqualFold(AsString(props["sample_category"]), "organ")
}

// UnknownTypeError reports a value outside one of the closed vocabularies.
type UnknownTypeError struct {
	Kind  string
	Value string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unrecognized %s %q", e.Kind, e.Value)
}
