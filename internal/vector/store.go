package vector

import (
	"context"

	"github.com/auditgraph/auditgraph-backend/internal/domain"
)

// Payload is the persisted metadata attached to every indexed chunk.
type Payload struct {
	DocumentID string                 `json:"document_id"`
	EntityID   string                 `json:"entity_id,omitempty"`
	Text       string                 `json:"text"`
	SourceRef  domain.SourceReference `json:"source_ref"`
}

// Document is one indexed chunk: id, embedding, payload.
type Document struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Match is a similarity hit; Score is normalized so higher is better.
type Match struct {
	ID      string
	Score   float64
	Payload Payload
}

// Filter is an equality filter over payload fields
// ("document_id", "entity_id").
type Filter map[string]string

// Store is the pluggable vector backend boundary. Implementations must be
// swappable without touching the pipeline; Migrate moves data between them.
type Store interface {
	// UpsertDocuments writes or replaces chunks by id.
	UpsertDocuments(ctx context.Context, docs []Document) error

	// QueryMatches runs similarity search over indexed chunks.
	QueryMatches(ctx context.Context, q []float32, topK int, filter Filter) ([]Match, error)

	// ScrollAll visits every stored chunk in batches, starting from offset
	// zero. The scan stops at the first visitor error.
	ScrollAll(ctx context.Context, batchSize int, visit func(batch []Document) error) error

	// CountByFilter counts chunks matching the filter; a nil filter counts
	// everything.
	CountByFilter(ctx context.Context, filter Filter) (int, error)

	// DeleteByFilter removes chunks matching the filter. Used to keep the
	// vector store in sync when documents are swept.
	DeleteByFilter(ctx context.Context, filter Filter) error

	// Name identifies the backend for logs and migration summaries.
	Name() string
}

// PayloadMap flattens a payload for backends that store loose maps.
func PayloadMap(p Payload) map[string]any {
	m := map[string]any{
		"document_id": p.DocumentID,
		"text":        p.Text,
		"section":     p.SourceRef.Section,
	}
	if p.EntityID != "" {
		m["entity_id"] = p.EntityID
	}
	if p.SourceRef.Page > 0 {
		m["page"] = p.SourceRef.Page
	}
	if p.SourceRef.LineStart > 0 {
		m["line_start"] = p.SourceRef.LineStart
		m["line_end"] = p.SourceRef.LineEnd
	}
	return m
}

// PayloadFromMap is the inverse of PayloadMap, tolerant of missing keys.
func PayloadFromMap(m map[string]any) Payload {
	str := func(k string) string {
		if v, ok := m[k].(string); ok {
			return v
		}
		return ""
	}
	num := func(k string) int {
		switch v := m[k].(type) {
		case float64:
			return int(v)
		case int:
			return v
		case int64:
			return int(v)
		}
		return 0
	}
	return Payload{
		DocumentID: str("document_id"),
		EntityID:   str("entity_id"),
		Text:       str("text"),
		SourceRef: domain.SourceReference{
			Section:   str("section"),
			Page:      num("page"),
			LineStart: num("line_start"),
			LineEnd:   num("line_end"),
		},
	}
}

// MatchesFilter applies the equality filter to a payload.
func MatchesFilter(p Payload, filter Filter) bool {
	for k, want := range filter {
		var got string
		switch k {
		case "document_id":
			got = p.DocumentID
		case "entity_id":
			got = p.EntityID
		default:
			return false
		}
		if got != want {
			return false
		}
	}
	return true
}
