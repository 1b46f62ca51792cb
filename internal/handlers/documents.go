package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/auditgraph/auditgraph-backend/internal/domain"
	"github.com/auditgraph/auditgraph-backend/internal/services"
)

type DocumentHandler struct {
	ingestion *services.IngestionService
}

func NewDocumentHandler(ingestion *services.IngestionService) *DocumentHandler {
	return &DocumentHandler{ingestion: ingestion}
}

// Ingest runs one document through the full pipeline synchronously and
// returns the run summary.
func (dh *DocumentHandler) Ingest(c *gin.Context) {
	var req struct {
		DocumentID string            `json:"document_id"`
		Name       string            `json:"name"`
		Type       string            `json:"type"`
		Content    string            `json:"content"`
		Metadata   map[string]string `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, 400, "invalid_body", err)
		return
	}
	if req.DocumentID == "" {
		req.DocumentID = uuid.NewString()
	}

	summary, err := dh.ingestion.Ingest(c.Request.Context(), services.IngestRequest{
		DocumentID: req.DocumentID,
		Name:       req.Name,
		Type:       domain.ParseDocumentType(req.Type),
		Content:    req.Content,
		Metadata:   req.Metadata,
	})
	if err != nil {
		if summary != nil {
			// Pipeline failures still carry a summary worth returning.
			c.JSON(422, gin.H{"summary": summary})
			return
		}
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"summary": summary})
}
