package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/atlasbio/provenance-backend/internal/constraints"
	"github.com/atlasbio/provenance-backend/internal/platform/logger"
	"github.com/atlasbio/provenance-backend/internal/provenance"
)

// LinkageHandler serves the graph mutations. Ancestry rewrites consult the
// constraint engine before anything is written.
type LinkageHandler struct {
	mutation  *provenance.MutationService
	traversal *provenance.TraversalService
	engine    *constraints.Engine
	log       *logger.Logger
}

func NewLinkageHandler(mutation *provenance.MutationService, traversal *provenance.TraversalService, engine *constraints.Engine, log *logger.Logger) *LinkageHandler {
	return &LinkageHandler{
		mutation:  mutation,
		traversal: traversal,
		engine:    engine,
		log:       log.With("Handler", "Linkage"),
	}
}

type ancestryRequest struct {
	AncestorUUIDs []string       `json:"ancestor_uuids" binding:"required"`
	Activity      map[string]any `json:"activity"`
	WithAgents    bool           `json:"with_agents"`
}

func (h *LinkageHandler) ReplaceAncestry(c *gin.Context) {
	var req ancestryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	ctx := c.Request.Context()
	entityID := c.Param("uuid")

	if rejected := h.checkLinkage(c, entityID, req.AncestorUUIDs); rejected {
		return
	}

	activity := req.Activity
	if activity == nil {
		activity = map[string]any{}
	}
	if provenance.AsString(activity["uuid"]) == "" {
		activity["uuid"] = uuid.NewString()
	}
	if _, ok := activity["created_timestamp"]; !ok {
		activity["created_timestamp"] = provenance.TimestampSentinel
	}

	var err error
	if req.WithAgents {
		err = h.mutation.ReplaceAncestryWithAgents(ctx, entityID, req.AncestorUUIDs, activity)
	} else {
		err = h.mutation.ReplaceAncestry(ctx, entityID, req.AncestorUUIDs, activity)
	}
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"uuid": entityID, "activity_uuid": activity["uuid"]})
}

type idListRequest struct {
	UUIDs []string `json:"uuids" binding:"required"`
}

func (h *LinkageHandler) ReplaceDerivation(c *gin.Context) {
	var req idListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	entityID := c.Param("uuid")
	if rejected := h.checkLinkage(c, entityID, req.UUIDs); rejected {
		return
	}
	if err := h.mutation.ReplaceDirectDerivation(c.Request.Context(), entityID, req.UUIDs); err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"uuid": entityID})
}

func (h *LinkageHandler) ReplaceAgents(c *gin.Context) {
	var req idListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := h.mutation.AddEntityAgentLinkage(c.Request.Context(), c.Param("uuid"), req.UUIDs); err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"uuid": c.Param("uuid")})
}

type revisionRequest struct {
	PreviousUUID string `json:"previous_uuid" binding:"required"`
}

func (h *LinkageHandler) SetPreviousRevision(c *gin.Context) {
	var req revisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := h.mutation.SetPreviousRevision(c.Request.Context(), c.Param("uuid"), req.PreviousUUID); err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"uuid": c.Param("uuid"), "previous_uuid": req.PreviousUUID})
}

func (h *LinkageHandler) ReplaceCollectionMembers(c *gin.Context) {
	var req idListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := h.mutation.ReplaceCollectionMembership(c.Request.Context(), c.Param("uuid"), req.UUIDs); err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"uuid": c.Param("uuid")})
}

func (h *LinkageHandler) AddCollectionMembers(c *gin.Context) {
	var req idListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := h.mutation.AddEntitiesToCollection(c.Request.Context(), c.Param("uuid"), req.UUIDs); err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"uuid": c.Param("uuid")})
}

func (h *LinkageHandler) LinkUploadDatasets(c *gin.Context) {
	var req idListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	ctx := c.Request.Context()
	uploadID := c.Param("uuid")

	// Everything linked into an upload must actually be a dataset.
	offending, err := h.traversal.EntityTypeMismatchFilter(ctx, req.UUIDs, "Dataset")
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if len(offending) > 0 {
		groups := make([]string, 0, len(offending))
		for actual, ids := range offending {
			groups = append(groups, fmt.Sprintf("%s: %s", actual, strings.Join(ids, ", ")))
		}
		sort.Strings(groups)
		RespondError(c, http.StatusBadRequest, "type_mismatch",
			fmt.Errorf("not datasets (%s)", strings.Join(groups, "; ")))
		return
	}
	if err := h.mutation.LinkDatasetsToUpload(ctx, uploadID, req.UUIDs); err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"uuid": uploadID})
}

func (h *LinkageHandler) UnlinkUploadDatasets(c *gin.Context) {
	var req idListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := h.mutation.UnlinkDatasetsFromUpload(c.Request.Context(), c.Param("uuid"), req.UUIDs); err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"uuid": c.Param("uuid")})
}

func (h *LinkageHandler) ReplacePublicationCollections(c *gin.Context) {
	var req idListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := h.mutation.ReplacePublicationCollections(c.Request.Context(), c.Param("uuid"), req.UUIDs); err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"uuid": c.Param("uuid")})
}

type createEntityRequest struct {
	EntityType string         `json:"entity_type" binding:"required"`
	Properties map[string]any `json:"properties"`
}

func (h *LinkageHandler) CreateEntity(c *gin.Context) {
	var req createEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	props := req.Properties
	if props == nil {
		props = map[string]any{}
	}
	if provenance.AsString(props["uuid"]) == "" {
		props["uuid"] = uuid.NewString()
	}
	props["entity_type"] = req.EntityType
	if _, ok := props["created_timestamp"]; !ok {
		props["created_timestamp"] = provenance.TimestampSentinel
	}

	created, err := h.mutation.CreateEntity(c.Request.Context(), req.EntityType, props)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

type updateEntityRequest struct {
	Properties map[string]any `json:"properties" binding:"required"`
}

func (h *LinkageHandler) UpdateEntity(c *gin.Context) {
	var req updateEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	props := req.Properties
	if _, ok := props["last_modified_timestamp"]; !ok {
		props["last_modified_timestamp"] = provenance.TimestampSentinel
	}
	updated, err := h.mutation.UpdateEntity(c.Request.Context(), c.Param("uuid"), props)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, updated)
}

type createDerivedRequest struct {
	EntityType string           `json:"entity_type" binding:"required"`
	Entities   []map[string]any `json:"entities" binding:"required"`
	Activity   map[string]any   `json:"activity"`
}

func (h *LinkageHandler) CreateDerivedEntities(c *gin.Context) {
	var req createDerivedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	ctx := c.Request.Context()
	ancestorID := c.Param("uuid")

	ancestorUnit, found, err := h.unitForEntity(c, ancestorID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if !found {
		RespondError(c, http.StatusNotFound, "not_found", nil)
		return
	}
	for i := range req.Entities {
		result := h.engine.Validate(constraints.Entry{
			Ancestors:   []constraints.Unit{ancestorUnit},
			Descendants: []constraints.Unit{unitFromProps(req.EntityType, req.Entities[i])},
		}, true)
		if !result.Allowed {
			c.JSON(result.Status, result)
			return
		}
		if provenance.AsString(req.Entities[i]["uuid"]) == "" {
			req.Entities[i]["uuid"] = uuid.NewString()
		}
		req.Entities[i]["entity_type"] = req.EntityType
		if _, ok := req.Entities[i]["created_timestamp"]; !ok {
			req.Entities[i]["created_timestamp"] = provenance.TimestampSentinel
		}
	}

	activity := req.Activity
	if activity == nil {
		activity = map[string]any{}
	}
	if provenance.AsString(activity["uuid"]) == "" {
		activity["uuid"] = uuid.NewString()
	}
	if _, ok := activity["created_timestamp"]; !ok {
		activity["created_timestamp"] = provenance.TimestampSentinel
	}

	created, err := h.mutation.CreateDerivedEntities(ctx, req.EntityType, req.Entities, activity, ancestorID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entities": created})
}

type accessLevelRequest struct {
	Level string `json:"level" binding:"required"`
}

func (h *LinkageHandler) SetDataAccessLevel(c *gin.Context) {
	var req accessLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := h.mutation.SetDataAccessLevelOnAncestors(c.Request.Context(), c.Param("uuid"), req.Level); err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"uuid": c.Param("uuid"), "level": req.Level})
}

// checkLinkage validates each proposed ancestor against the target entity.
// Returns true when it has already written a rejection response.
func (h *LinkageHandler) checkLinkage(c *gin.Context, entityID string, ancestorIDs []string) bool {
	descendantUnit, found, err := h.unitForEntity(c, entityID)
	if err != nil {
		respondServiceError(c, err)
		return true
	}
	if !found {
		RespondError(c, http.StatusNotFound, "not_found", nil)
		return true
	}
	for _, ancestorID := range ancestorIDs {
		ancestorUnit, found, err := h.unitForEntity(c, ancestorID)
		if err != nil {
			respondServiceError(c, err)
			return true
		}
		if !found {
			RespondError(c, http.StatusNotFound, "not_found", nil)
			return true
		}
		result := h.engine.Validate(constraints.Entry{
			Ancestors:   []constraints.Unit{ancestorUnit},
			Descendants: []constraints.Unit{descendantUnit},
		}, true)
		if !result.Allowed {
			h.log.Info("linkage rejected by constraints",
				"entity", entityID, "ancestor", ancestorID, "reason", result.Description)
			c.JSON(result.Status, result)
			return true
		}
	}
	return false
}

func (h *LinkageHandler) unitForEntity(c *gin.Context, entityID string) (constraints.Unit, bool, error) {
	props, found, err := h.traversal.EntityByID(c.Request.Context(), entityID)
	if err != nil || !found {
		return constraints.Unit{}, found, err
	}
	return unitFromProps(provenance.AsString(props["entity_type"]), props), true, nil
}

// unitFromProps builds a constraint pattern from stored or proposed entity
// properties. Samples carry their specimen category as sub_type and, for
// organs, the organ code as sub_type_val.
func unitFromProps(entityType string, props map[string]any) constraints.Unit {
	unit := constraints.Unit{EntityType: entityType}
	if !strings.EqualFold(entityType, "Sample") {
		if dt := provenance.AsString(props["dataset_type"]); dt != "" && strings.EqualFold(entityType, "Dataset") {
			unit.SubType = []string{dt}
		}
		return unit
	}
	if category := provenance.AsString(props["sample_category"]); category != "" {
		unit.SubType = []string{category}
		if strings.EqualFold(category, "Organ") {
			if organ := provenance.AsString(props["organ"]); organ != "" {
				unit.SubTypeVal = []string{organ}
			}
		}
	}
	return unit
}
