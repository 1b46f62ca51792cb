package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	agerrors "github.com/auditgraph/auditgraph-backend/internal/pkg/errors"
	"github.com/auditgraph/auditgraph-backend/internal/services"
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

// RespondDomainError maps the error taxonomy onto HTTP statuses.
func RespondDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, agerrors.ErrInvalidArgument):
		RespondError(c, http.StatusBadRequest, "invalid_argument", err)
	case errors.Is(err, agerrors.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, services.ErrIngestionInFlight):
		RespondError(c, http.StatusConflict, "ingestion_in_flight", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
