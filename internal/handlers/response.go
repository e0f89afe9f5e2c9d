package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/atlasbio/provenance-backend/internal/platform/apierr"
	"github.com/atlasbio/provenance-backend/internal/platform/neo4jdb"
	"github.com/atlasbio/provenance-backend/internal/provenance"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// respondServiceError maps the error taxonomy of the provenance services
// onto HTTP responses.
func respondServiceError(c *gin.Context, err error) {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		RespondError(c, apiErr.Status, apiErr.Code, apiErr.Err)
		return
	}
	var immutable *provenance.ImmutableError
	if errors.As(err, &immutable) {
		RespondError(c, http.StatusForbidden, "immutable_entity", err)
		return
	}
	var unknown *provenance.UnknownTypeError
	if errors.As(err, &unknown) {
		RespondError(c, http.StatusBadRequest, "unknown_type", err)
		return
	}
	var txErr *neo4jdb.TxError
	if errors.As(err, &txErr) {
		RespondError(c, http.StatusInternalServerError, "transaction_failed", err)
		return
	}
	RespondError(c, http.StatusInternalServerError, "internal", err)
}

func HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
