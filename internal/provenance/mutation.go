package provenance

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/atlasbio/provenance-backend/internal/ontology"
	"github.com/atlasbio/provenance-backend/internal/platform/apierr"
	"github.com/atlasbio/provenance-backend/internal/platform/logger"
	"github.com/atlasbio/provenance-backend/internal/platform/neo4jdb"
	"github.com/atlasbio/provenance-backend/internal/platform/rediscache"
)

// Relationship types of the provenance graph. Only these ever appear in
// query text; everything else is bound as a parameter.
const (
	RelUsed            = "USED"
	RelWasGeneratedBy  = "WAS_GENERATED_BY"
	RelWasAttributedTo = "WAS_ATTRIBUTED_TO"
	RelWasDerivedFrom  = "WAS_DERIVED_FROM"
	RelRevisionOf      = "REVISION_OF"
	RelInCollection    = "IN_COLLECTION"
	RelInUpload        = "IN_UPLOAD"
	RelUsesData        = "USES_DATA"
)

// ImmutableError reports a mutation attempted against an entity in a
// terminal lifecycle state. It is raised before any write happens.
type ImmutableError struct {
	UUID   string
	Status string
}

func (e *ImmutableError) Error() string {
	return fmt.Sprintf("entity %s has status %q and cannot be mutated", e.UUID, e.Status)
}

// MutationService performs the atomic multi-step edge rewrites. Every
// operation is one write transaction: on any failure the transaction rolls
// back and the caller gets a *neo4jdb.TxError naming the operation.
type MutationService struct {
	store Store
	reg   *ontology.Registry
	cache *rediscache.Cache
	log   *logger.Logger
}

func NewMutationService(store Store, reg *ontology.Registry, cache *rediscache.Cache, log *logger.Logger) *MutationService {
	return &MutationService{
		store: store,
		reg:   reg,
		cache: cache,
		log:   log.With("service", "ProvenanceMutation"),
	}
}

// ReplaceAncestry deletes the entity's current generating Activity together
// with its USED/WAS_GENERATED_BY edge-set, then creates the new Activity and
// edges. activityProps must carry a pre-minted "uuid".
func (s *MutationService) ReplaceAncestry(ctx context.Context, entityID string, ancestorIDs []string, activityProps map[string]any) error {
	return s.replaceAncestry(ctx, "ReplaceAncestry", entityID, ancestorIDs, activityProps, false)
}

// ReplaceAncestryWithAgents additionally rewrites the WAS_ATTRIBUTED_TO
// edges, for the case where the ancestors are attribution agents rather than
// consumed inputs. The whole rewrite is one transaction.
func (s *MutationService) ReplaceAncestryWithAgents(ctx context.Context, entityID string, ancestorIDs []string, activityProps map[string]any) error {
	return s.replaceAncestry(ctx, "ReplaceAncestryWithAgents", entityID, ancestorIDs, activityProps, true)
}

func (s *MutationService) replaceAncestry(ctx context.Context, op, entityID string, ancestorIDs []string, activityProps map[string]any, withAgents bool) error {
	activityID := AsString(activityProps["uuid"])
	if activityID == "" {
		return apierr.New(http.StatusBadRequest, "bad_request",
			fmt.Errorf("%s: activity properties missing pre-minted uuid", op))
	}
	if action := AsString(activityProps["creation_action"]); action != "" {
		if _, ok := s.reg.NormalizeCreationAction(action); !ok {
			return apierr.New(http.StatusBadRequest, "unknown_type",
				fmt.Errorf("%s: unrecognized creation_action %q", op, action))
		}
	}

	err := s.store.Write(ctx, op, func(ctx context.Context, tx neo4jdb.Tx) error {
		if err := s.requireMutable(ctx, tx, entityID); err != nil {
			return err
		}
		if err := deleteActivityAndLinkages(ctx, tx, entityID); err != nil {
			return err
		}
		if withAgents {
			if err := deleteAgentLinkages(ctx, tx, entityID); err != nil {
				return err
			}
		}
		if err := createActivity(ctx, tx, activityProps); err != nil {
			return err
		}
		if err := createRelationship(ctx, tx, activityID, entityID, RelWasGeneratedBy, "<-"); err != nil {
			return err
		}
		for _, ancestorID := range ancestorIDs {
			if err := createRelationship(ctx, tx, ancestorID, activityID, RelUsed, "<-"); err != nil {
				return err
			}
			if withAgents {
				if err := createRelationship(ctx, tx, ancestorID, entityID, RelWasAttributedTo, "<-"); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidateWithDescendants(ctx, entityID)
	return nil
}

// ReplaceDirectDerivation rewrites the entity's outgoing WAS_DERIVED_FROM
// edges without an Activity node.
func (s *MutationService) ReplaceDirectDerivation(ctx context.Context, entityID string, ancestorIDs []string) error {
	err := s.store.Write(ctx, "ReplaceDirectDerivation", func(ctx context.Context, tx neo4jdb.Tx) error {
		if err := s.requireMutable(ctx, tx, entityID); err != nil {
			return err
		}
		if err := tx.Run(ctx,
			"MATCH (s:Entity {uuid: $uuid})-[out:WAS_DERIVED_FROM]->(:Entity) DELETE out",
			map[string]any{"uuid": entityID}); err != nil {
			return err
		}
		for _, ancestorID := range ancestorIDs {
			if err := createRelationship(ctx, tx, ancestorID, entityID, RelWasDerivedFrom, "<-"); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidateWithDescendants(ctx, entityID)
	return nil
}

// AddEntityToEntityLinkage is the thin wrapper callers use when relinking an
// entity to new direct ancestors without a process step.
func (s *MutationService) AddEntityToEntityLinkage(ctx context.Context, entityID string, ancestorIDs []string) error {
	return s.ReplaceDirectDerivation(ctx, entityID, ancestorIDs)
}

// AddEntityAgentLinkage deletes stale WAS_ATTRIBUTED_TO edges and creates
// one per agent, in one transaction.
func (s *MutationService) AddEntityAgentLinkage(ctx context.Context, entityID string, agentIDs []string) error {
	return s.store.Write(ctx, "AddEntityAgentLinkage", func(ctx context.Context, tx neo4jdb.Tx) error {
		if err := deleteAgentLinkages(ctx, tx, entityID); err != nil {
			return err
		}
		for _, agentID := range agentIDs {
			if err := createRelationship(ctx, tx, agentID, entityID, RelWasAttributedTo, "<-"); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetPreviousRevision points the entity at its immediate predecessor
// revision. MERGE keeps repeated calls from multiplying edges.
func (s *MutationService) SetPreviousRevision(ctx context.Context, entityID, previousID string) error {
	return s.store.Write(ctx, "SetPreviousRevision", func(ctx context.Context, tx neo4jdb.Tx) error {
		return tx.Run(ctx,
			"MATCH (e:Entity {uuid: $uuid}), (prev:Entity {uuid: $prev}) MERGE (e)-[:REVISION_OF]->(prev)",
			map[string]any{"uuid": entityID, "prev": previousID})
	})
}

// ReplaceCollectionMembership deletes every IN_COLLECTION edge into the
// collection, then links the given members. Stale members fall away.
func (s *MutationService) ReplaceCollectionMembership(ctx context.Context, collectionID string, memberIDs []string) error {
	return s.store.Write(ctx, "ReplaceCollectionMembership", func(ctx context.Context, tx neo4jdb.Tx) error {
		if err := tx.Run(ctx,
			"MATCH (:Entity)-[r:IN_COLLECTION]->(c:Collection {uuid: $uuid}) DELETE r",
			map[string]any{"uuid": collectionID}); err != nil {
			return err
		}
		return tx.Run(ctx,
			"MATCH (c:Collection {uuid: $uuid}), (e:Entity) WHERE e.uuid IN $ids MERGE (c)<-[:IN_COLLECTION]-(e)",
			map[string]any{"uuid": collectionID, "ids": memberIDs})
	})
}

// AddEntitiesToCollection merge-links entities into a collection without
// touching existing membership.
func (s *MutationService) AddEntitiesToCollection(ctx context.Context, collectionID string, entityIDs []string) error {
	return s.store.Write(ctx, "AddEntitiesToCollection", func(ctx context.Context, tx neo4jdb.Tx) error {
		return tx.Run(ctx,
			"MATCH (c:Collection {uuid: $uuid}), (e:Entity) WHERE e.uuid IN $ids MERGE (c)<-[:IN_COLLECTION]-(e)",
			map[string]any{"uuid": collectionID, "ids": entityIDs})
	})
}

// LinkDatasetsToUpload merge-links datasets into an upload; existing edges
// are left alone rather than duplicated.
func (s *MutationService) LinkDatasetsToUpload(ctx context.Context, uploadID string, datasetIDs []string) error {
	return s.store.Write(ctx, "LinkDatasetsToUpload", func(ctx context.Context, tx neo4jdb.Tx) error {
		return tx.Run(ctx,
			"MATCH (u:Upload {uuid: $uuid}), (d:Dataset) WHERE d.uuid IN $ids MERGE (u)<-[:IN_UPLOAD]-(d)",
			map[string]any{"uuid": uploadID, "ids": datasetIDs})
	})
}

// UnlinkDatasetsFromUpload removes exactly the matching IN_UPLOAD edges.
func (s *MutationService) UnlinkDatasetsFromUpload(ctx context.Context, uploadID string, datasetIDs []string) error {
	return s.store.Write(ctx, "UnlinkDatasetsFromUpload", func(ctx context.Context, tx neo4jdb.Tx) error {
		return tx.Run(ctx,
			"MATCH (u:Upload {uuid: $uuid})<-[r:IN_UPLOAD]-(d:Dataset) WHERE d.uuid IN $ids DELETE r",
			map[string]any{"uuid": uploadID, "ids": datasetIDs})
	})
}

// ReplacePublicationCollections rewrites the USES_DATA edges from a
// publication to the dataset collections it references.
func (s *MutationService) ReplacePublicationCollections(ctx context.Context, publicationID string, collectionIDs []string) error {
	return s.store.Write(ctx, "ReplacePublicationCollections", func(ctx context.Context, tx neo4jdb.Tx) error {
		if err := tx.Run(ctx,
			"MATCH (p:Publication {uuid: $uuid})-[r:USES_DATA]->(:Collection) DELETE r",
			map[string]any{"uuid": publicationID}); err != nil {
			return err
		}
		return tx.Run(ctx,
			"MATCH (p:Publication {uuid: $uuid}), (c:Collection) WHERE c.uuid IN $ids MERGE (p)-[:USES_DATA]->(c)",
			map[string]any{"uuid": publicationID, "ids": collectionIDs})
	})
}

// CreateEntity creates one entity node labeled with its normalized type.
// Returns the stored property map.
func (s *MutationService) CreateEntity(ctx context.Context, entityType string, props map[string]any) (map[string]any, error) {
	label, ok := s.reg.NormalizeEntityType(entityType)
	if !ok {
		return nil, apierr.New(http.StatusBadRequest, "unknown_type",
			fmt.Errorf("CreateEntity: unrecognized entity type %q", entityType))
	}
	encoded, tsKeys, err := EncodeProps(props)
	if err != nil {
		return nil, fmt.Errorf("CreateEntity: %w", err)
	}

	var created map[string]any
	query := fmt.Sprintf("CREATE (e:Entity:%s) SET e += $props", label)
	if frag := TimestampAssignments("e", tsKeys); frag != "" {
		query += ", " + frag
	}
	query += " RETURN e AS " + recordField

	err = s.store.Write(ctx, "CreateEntity", func(ctx context.Context, tx neo4jdb.Tx) error {
		rec, found, err := tx.Single(ctx, query, map[string]any{"props": encoded})
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("entity node not returned after create")
		}
		created = NodeToMap(rec[recordField])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateEntity applies an append-mutable property update. Terminal entities
// are rejected before the write.
func (s *MutationService) UpdateEntity(ctx context.Context, entityID string, props map[string]any) (map[string]any, error) {
	encoded, tsKeys, err := EncodeProps(props)
	if err != nil {
		return nil, fmt.Errorf("UpdateEntity: %w", err)
	}

	query := "MATCH (e:Entity {uuid: $uuid}) SET e += $props"
	if frag := TimestampAssignments("e", tsKeys); frag != "" {
		query += ", " + frag
	}
	query += " RETURN e AS " + recordField

	var updated map[string]any
	err = s.store.Write(ctx, "UpdateEntity", func(ctx context.Context, tx neo4jdb.Tx) error {
		if err := s.requireMutable(ctx, tx, entityID); err != nil {
			return err
		}
		rec, found, err := tx.Single(ctx, query, map[string]any{"uuid": entityID, "props": encoded})
		if err != nil {
			return err
		}
		if found {
			updated = NodeToMap(rec[recordField])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, entityID)
	return updated, nil
}

// CreateDerivedEntities creates a batch of sibling entities generated by one
// new Activity from a single direct ancestor, all inside one transaction.
// Every entity property map and the activity map must carry pre-minted uuids.
func (s *MutationService) CreateDerivedEntities(ctx context.Context, entityType string, entityPropsList []map[string]any, activityProps map[string]any, ancestorID string) ([]map[string]any, error) {
	label, ok := s.reg.NormalizeEntityType(entityType)
	if !ok {
		return nil, apierr.New(http.StatusBadRequest, "unknown_type",
			fmt.Errorf("CreateDerivedEntities: unrecognized entity type %q", entityType))
	}
	activityID := AsString(activityProps["uuid"])
	if activityID == "" {
		return nil, apierr.New(http.StatusBadRequest, "bad_request",
			fmt.Errorf("CreateDerivedEntities: activity properties missing pre-minted uuid"))
	}

	created := make([]map[string]any, 0, len(entityPropsList))
	err := s.store.Write(ctx, "CreateDerivedEntities", func(ctx context.Context, tx neo4jdb.Tx) error {
		if err := createActivity(ctx, tx, activityProps); err != nil {
			return err
		}
		if err := createRelationship(ctx, tx, ancestorID, activityID, RelUsed, "<-"); err != nil {
			return err
		}
		for _, props := range entityPropsList {
			entityID := AsString(props["uuid"])
			if entityID == "" {
				return fmt.Errorf("entity properties missing pre-minted uuid")
			}
			encoded, tsKeys, err := EncodeProps(props)
			if err != nil {
				return err
			}
			query := fmt.Sprintf("CREATE (e:Entity:%s) SET e += $props", label)
			if frag := TimestampAssignments("e", tsKeys); frag != "" {
				query += ", " + frag
			}
			query += " RETURN e AS " + recordField
			rec, found, err := tx.Single(ctx, query, map[string]any{"props": encoded})
			if err != nil {
				return err
			}
			if found {
				created = append(created, NodeToMap(rec[recordField]))
			}
			if err := createRelationship(ctx, tx, activityID, entityID, RelWasGeneratedBy, "<-"); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// SetDataAccessLevelOnAncestors updates a dataset and its Source/Sample
// ancestors to the given access level in one statement.
func (s *MutationService) SetDataAccessLevelOnAncestors(ctx context.Context, datasetID, level string) error {
	return s.store.Write(ctx, "SetDataAccessLevelOnAncestors", func(ctx context.Context, tx neo4jdb.Tx) error {
		return tx.Run(ctx,
			"MATCH (e:Entity)<-[:USED|WAS_GENERATED_BY*]-(d:Dataset {uuid: $uuid}) "+
				"WHERE e.entity_type IN ['Source', 'Sample'] "+
				"SET e.data_access_level = $level, d.data_access_level = $level",
			map[string]any{"uuid": datasetID, "level": level})
	})
}

// requireMutable rejects writes against entities in a terminal state before
// anything in the transaction has touched the graph.
func (s *MutationService) requireMutable(ctx context.Context, tx neo4jdb.Tx, entityID string) error {
	rec, found, err := tx.Single(ctx,
		"MATCH (e:Entity {uuid: $uuid}) RETURN e.status AS "+recordField,
		map[string]any{"uuid": entityID})
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	status := AsString(rec[recordField])
	if strings.EqualFold(status, "published") {
		return &ImmutableError{UUID: entityID, Status: status}
	}
	return nil
}

func (s *MutationService) invalidate(ctx context.Context, entityID string) {
	s.cache.Delete(ctx,
		originCacheKey(entityID),
		summaryCacheKey(entityID),
	)
}

// invalidateWithDescendants additionally sweeps every descendant's cached
// aggregates: an ancestry rewrite changes what everything below the entity
// descends from, not just the entity itself.
func (s *MutationService) invalidateWithDescendants(ctx context.Context, entityID string) {
	keys := []string{originCacheKey(entityID), summaryCacheKey(entityID)}
	rec, found, err := s.store.ReadSingle(ctx,
		"MATCH (e:Entity {uuid: $uuid})<-[:USED|WAS_GENERATED_BY*]-(d:Entity) "+
			"RETURN COLLECT(DISTINCT d.uuid) AS "+recordField,
		map[string]any{"uuid": entityID})
	if err != nil {
		s.log.Warn("descendant lookup for cache invalidation failed", "uuid", entityID, "error", err)
	} else if found {
		for _, id := range StringList(rec[recordField]) {
			keys = append(keys, originCacheKey(id), summaryCacheKey(id))
		}
	}
	s.cache.Delete(ctx, keys...)
}

func deleteActivityAndLinkages(ctx context.Context, tx neo4jdb.Tx, entityID string) error {
	return tx.Run(ctx,
		"MATCH (s:Entity {uuid: $uuid})-[in:WAS_GENERATED_BY]->(a:Activity)-[out:USED]->(:Entity) DELETE in, a, out",
		map[string]any{"uuid": entityID})
}

func deleteAgentLinkages(ctx context.Context, tx neo4jdb.Tx, entityID string) error {
	return tx.Run(ctx,
		"MATCH (s:Entity {uuid: $uuid})-[out:WAS_ATTRIBUTED_TO]->(:Entity) DELETE out",
		map[string]any{"uuid": entityID})
}

func createActivity(ctx context.Context, tx neo4jdb.Tx, props map[string]any) error {
	encoded, tsKeys, err := EncodeProps(props)
	if err != nil {
		return fmt.Errorf("encode activity: %w", err)
	}
	query := "CREATE (a:Activity) SET a += $props"
	if frag := TimestampAssignments("a", tsKeys); frag != "" {
		query += ", " + frag
	}
	return tx.Run(ctx, query, map[string]any{"props": encoded})
}

// createRelationship links two nodes by uuid. relType comes from the fixed
// Rel* set and direction is one of "->" / "<-"; both are code-authored, the
// uuids are bound parameters.
func createRelationship(ctx context.Context, tx neo4jdb.Tx, sourceID, targetID, relType, direction string) error {
	incoming := "-"
	outgoing := "-"
	switch direction {
	case "<-":
		incoming = "<-"
	case "->":
		outgoing = "->"
	default:
		return fmt.Errorf("invalid relationship direction %q", direction)
	}
	query := fmt.Sprintf("MATCH (s {uuid: $src}), (t {uuid: $dst}) CREATE (s)%s[:%s]%s(t)",
		incoming, relType, outgoing)
	return tx.Run(ctx, query, map[string]any{"src": sourceID, "dst": targetID})
}
