package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/atlasbio/provenance-backend/internal/constraints"
)

// ConstraintHandler exposes the rule engine directly, for clients that want
// to check a linkage before attempting it.
type ConstraintHandler struct {
	engine *constraints.Engine
}

func NewConstraintHandler(engine *constraints.Engine) *ConstraintHandler {
	return &ConstraintHandler{engine: engine}
}

// Validate answers from the ancestor side by default; order=descendants
// flips the direction. match=true additionally requires the opposite side
// of the entry to fit the matched rule.
func (h *ConstraintHandler) Validate(c *gin.Context) {
	var entries []constraints.Entry
	if err := c.ShouldBindJSON(&entries); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}

	byDescendant := c.Query("order") == "descendants"
	matchMode := c.Query("match") == "true"

	results := make([]constraints.Result, 0, len(entries))
	status := http.StatusOK
	for _, entry := range entries {
		var result constraints.Result
		if byDescendant {
			result = h.engine.ValidateByDescendant(entry, matchMode)
		} else {
			result = h.engine.Validate(entry, matchMode)
		}
		if !result.Allowed && status == http.StatusOK {
			status = result.Status
		}
		results = append(results, result)
	}
	c.JSON(status, gin.H{"results": results})
}
