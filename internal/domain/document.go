package domain

import "strings"

// DocumentStatus tracks a document through the ingestion state machine:
// PENDING -> PROCESSING -> {PROCESSED | FAILED}.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "PENDING"
	DocumentProcessing DocumentStatus = "PROCESSING"
	DocumentProcessed  DocumentStatus = "PROCESSED"
	DocumentFailed     DocumentStatus = "FAILED"
)

// DocumentType selects segmentation and extraction rule sets.
type DocumentType string

const (
	DocumentTypeFMEA      DocumentType = "fmea"
	DocumentTypeHazard    DocumentType = "hazard_assessment"
	DocumentTypeProcedure DocumentType = "procedure_manual"
	DocumentTypeAuditLog  DocumentType = "audit_log"
	DocumentTypeGeneric   DocumentType = "generic"
)

// ParseDocumentType normalizes a raw document type; unknown shapes fall
// back to generic narrative handling.
func ParseDocumentType(raw string) DocumentType {
	switch DocumentType(strings.ToLower(strings.TrimSpace(raw))) {
	case DocumentTypeFMEA:
		return DocumentTypeFMEA
	case DocumentTypeHazard:
		return DocumentTypeHazard
	case DocumentTypeProcedure:
		return DocumentTypeProcedure
	case DocumentTypeAuditLog:
		return DocumentTypeAuditLog
	default:
		return DocumentTypeGeneric
	}
}

// Tabular reports whether the shape is sheet/table structured, which
// selects row-wise segmentation and the table-oriented extraction rules.
func (dt DocumentType) Tabular() bool {
	switch dt {
	case DocumentTypeFMEA, DocumentTypeHazard, DocumentTypeAuditLog:
		return true
	default:
		return false
	}
}

// IngestionSummary is the user-visible outcome of one document run.
type IngestionSummary struct {
	DocumentID           string         `json:"document_id"`
	Status               DocumentStatus `json:"status"`
	EntitiesCreated      map[string]int `json:"entities_created"`
	RelationshipsCreated int            `json:"relationships_created"`
	ProcessingTimeMS     int64          `json:"processing_time_ms"`
	SegmentsFailed       int            `json:"segments_failed,omitempty"`
	Conflicts            []string       `json:"conflicts,omitempty"`
	Error                string         `json:"error,omitempty"`
}
