package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/auditgraph/auditgraph-backend/internal/platform/logger"
	"github.com/auditgraph/auditgraph-backend/internal/services"
	"github.com/auditgraph/auditgraph-backend/internal/vector"
)

type AdminHandler struct {
	log     *logger.Logger
	cleanup *services.CleanupService
	active  vector.Store
	standby vector.Store
}

// NewAdminHandler wires the sweeper and the vector stores. standby may be
// nil when no migration target is configured.
func NewAdminHandler(log *logger.Logger, cleanup *services.CleanupService, active, standby vector.Store) *AdminHandler {
	return &AdminHandler{log: log, cleanup: cleanup, active: active, standby: standby}
}

// Cleanup triggers a sweep of stale FAILED documents.
func (ah *AdminHandler) Cleanup(c *gin.Context) {
	var req struct {
		OlderThanHours int `json:"older_than_hours"`
	}
	// Body is optional; default cutoff applies when absent.
	_ = c.ShouldBindJSON(&req)

	res, err := ah.cleanup.CleanupFailedDocuments(c.Request.Context(), req.OlderThanHours)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, res)
}

// VectorMigrate copies every chunk from the active store into the standby
// backend.
func (ah *AdminHandler) VectorMigrate(c *gin.Context) {
	if ah.active == nil || ah.standby == nil {
		RespondError(c, 400, "not_configured", fmt.Errorf("both source and destination vector stores must be configured"))
		return
	}
	var req struct {
		BatchSize int `json:"batch_size"`
	}
	_ = c.ShouldBindJSON(&req)

	res, err := vector.Migrate(c.Request.Context(), ah.log, ah.active, ah.standby, req.BatchSize)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, res)
}
