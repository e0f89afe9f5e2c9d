package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/atlasbio/provenance-backend/internal/provenance"
)

// EntityHandler serves the read-side provenance queries.
type EntityHandler struct {
	traversal *provenance.TraversalService
}

func NewEntityHandler(traversal *provenance.TraversalService) *EntityHandler {
	return &EntityHandler{traversal: traversal}
}

func (h *EntityHandler) GetEntity(c *gin.Context) {
	entity, found, err := h.traversal.EntityByID(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if !found {
		RespondError(c, http.StatusNotFound, "not_found", nil)
		return
	}
	RespondOK(c, entity)
}

func (h *EntityHandler) ListEntitiesByType(c *gin.Context) {
	entities, err := h.traversal.EntitiesByType(c.Request.Context(), c.Param("type"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"entities": entities})
}

func (h *EntityHandler) GetActivity(c *gin.Context) {
	activity, found, err := h.traversal.ActivityForEntity(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if !found {
		RespondError(c, http.StatusNotFound, "not_found", nil)
		return
	}
	RespondOK(c, activity)
}

func (h *EntityHandler) GetAncestors(c *gin.Context) {
	uuid := c.Param("uuid")
	var (
		ancestors []map[string]any
		err       error
	)
	if c.Query("depth") == "direct" {
		ancestors, err = h.traversal.DirectAncestors(c.Request.Context(), uuid)
	} else {
		ancestors, err = h.traversal.Ancestors(c.Request.Context(), uuid)
	}
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"ancestors": ancestors})
}

func (h *EntityHandler) GetDescendants(c *gin.Context) {
	uuid := c.Param("uuid")
	var (
		descendants []map[string]any
		err         error
	)
	if c.Query("depth") == "direct" {
		descendants, err = h.traversal.DirectDescendants(c.Request.Context(), uuid)
	} else {
		descendants, err = h.traversal.Descendants(c.Request.Context(), uuid)
	}
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"descendants": descendants})
}

func (h *EntityHandler) GetDescendantDatasets(c *gin.Context) {
	datasets, err := h.traversal.DescendantDatasets(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"datasets": datasets})
}

func (h *EntityHandler) GetOriginSamples(c *gin.Context) {
	origins, err := h.traversal.OriginSamples(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"origin_samples": origins})
}

func (h *EntityHandler) GetOrganSourceSummary(c *gin.Context) {
	summary, err := h.traversal.OrganAndSourceSummary(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"summary": summary})
}

func (h *EntityHandler) GetSiblings(c *gin.Context) {
	opts := provenance.SiblingOptions{
		IncludeOldRevisions: c.Query("include_old_revisions") == "true",
		Status:              c.Query("status"),
	}
	siblings, err := h.traversal.Siblings(c.Request.Context(), c.Param("uuid"), opts)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"siblings": siblings})
}

func (h *EntityHandler) GetTuplets(c *gin.Context) {
	tuplets, err := h.traversal.Tuplets(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"tuplets": tuplets})
}

func (h *EntityHandler) GetRevisions(c *gin.Context) {
	ctx := c.Request.Context()
	uuid := c.Param("uuid")

	previous, err := h.traversal.AllPreviousRevisionUUIDs(ctx, uuid)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	next, err := h.traversal.AllNextRevisionUUIDs(ctx, uuid)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"previous": previous, "next": next})
}

func (h *EntityHandler) GetPublishedDescendantCount(c *gin.Context) {
	count, err := h.traversal.PublishedDescendantCount(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"count": count})
}

func (h *EntityHandler) GetRUIRegistration(c *gin.Context) {
	state, err := h.traversal.HasRUIRegistration(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"has_rui_information": state})
}

func (h *EntityHandler) GetCollections(c *gin.Context) {
	collections, err := h.traversal.CollectionsForEntity(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"collections": collections})
}

func (h *EntityHandler) GetCollectionMembers(c *gin.Context) {
	members, err := h.traversal.CollectionMembers(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"entities": members})
}

func (h *EntityHandler) GetUpload(c *gin.Context) {
	upload, found, err := h.traversal.UploadForEntity(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if !found {
		RespondError(c, http.StatusNotFound, "not_found", nil)
		return
	}
	RespondOK(c, upload)
}

func (h *EntityHandler) GetUploadDatasets(c *gin.Context) {
	datasets, err := h.traversal.UploadDatasets(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"datasets": datasets})
}
