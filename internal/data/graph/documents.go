package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/auditgraph/auditgraph-backend/internal/domain"
)

// DocumentRecord is the lifecycle node tracked per ingested document.
type DocumentRecord struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	Type      domain.DocumentType   `json:"type"`
	Status    domain.DocumentStatus `json:"status"`
	Error     string                `json:"error,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// CreateDocument registers a document in PENDING before any processing
// starts, so a crash mid-pipeline still leaves a findable record.
func (s *Store) CreateDocument(ctx context.Context, rec DocumentRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("graph: document id required")
	}
	if rec.Status == "" {
		rec.Status = domain.DocumentPending
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.write(ctx, `
MERGE (d:Document {id: $id})
ON CREATE SET d.name = $name,
              d.type = $type,
              d.status = $status,
              d.created_at = $now,
              d.updated_at = $now
`, map[string]any{
		"id":     rec.ID,
		"name":   rec.Name,
		"type":   string(rec.Type),
		"status": string(rec.Status),
		"now":    now,
	})
}

// UpdateDocumentStatus moves a document through its lifecycle. The error
// message is only stored on FAILED and cleared otherwise.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, status domain.DocumentStatus, errMsg string) error {
	if status != domain.DocumentFailed {
		errMsg = ""
	}
	return s.write(ctx, `
MATCH (d:Document {id: $id})
SET d.status = $status,
    d.error = $error,
    d.updated_at = $now
`, map[string]any{
		"id":     id,
		"status": string(status),
		"error":  errMsg,
		"now":    time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// GetDocument fetches one document record.
func (s *Store) GetDocument(ctx context.Context, id string) (*DocumentRecord, error) {
	recs, err := s.read(ctx, `MATCH (d:Document {id: $id}) RETURN d LIMIT 1`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, notFound("get_document", fmt.Sprintf("document %s not found", id))
	}
	node, ok := recs[0].AsMap()["d"].(neo4j.Node)
	if !ok {
		return nil, wrapPersistence("get_document", fmt.Errorf("unexpected record shape"))
	}
	return documentFromNode(node), nil
}

// ListFailedDocumentsBefore returns FAILED documents last updated before
// the cutoff. The sweeper uses this to pick cleanup targets. Retention is
// measured from updated_at, the moment the document entered FAILED, so a
// recently failed document is never swept regardless of when it was created.
func (s *Store) ListFailedDocumentsBefore(ctx context.Context, cutoff time.Time) ([]DocumentRecord, error) {
	recs, err := s.read(ctx, `
MATCH (d:Document {status: $status})
WHERE d.updated_at < $cutoff
RETURN d
ORDER BY d.updated_at
`, map[string]any{
		"status": string(domain.DocumentFailed),
		"cutoff": cutoff.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	out := make([]DocumentRecord, 0, len(recs))
	for _, rec := range recs {
		if node, ok := rec.AsMap()["d"].(neo4j.Node); ok {
			out = append(out, *documentFromNode(node))
		}
	}
	return out, nil
}

// CascadeResult reports what a document cleanup removed.
type CascadeResult struct {
	EntitiesDeleted int `json:"entities_deleted"`
	SharedRetained  int `json:"shared_retained"`
}

// DeleteDocumentCascade removes a document and every entity it exclusively
// produced. An entity another document also contributed to is retained;
// only the cleaned document's PRODUCED edge to it is dropped. Runs as one
// write transaction.
func (s *Store) DeleteDocumentCascade(ctx context.Context, documentID string) (*CascadeResult, error) {
	res := &CascadeResult{}
	err := s.WithWriteTx(ctx, func(tx *Tx) error {
		recs, err := tx.tx.Run(ctx, `
MATCH (d:Document {id: $id})-[:PRODUCED]->(n)
WITH d, n, size([ (other:Document)-[:PRODUCED]->(n) WHERE other.id <> $id | other ]) AS others
RETURN n.id AS node_id, others
`, map[string]any{"id": documentID})
		if err != nil {
			return err
		}
		var exclusive, shared []string
		for recs.Next(ctx) {
			m := recs.Record().AsMap()
			id, _ := m["node_id"].(string)
			if id == "" {
				continue
			}
			others, _ := m["others"].(int64)
			if others == 0 {
				exclusive = append(exclusive, id)
			} else {
				shared = append(shared, id)
			}
		}
		if err := recs.Err(); err != nil {
			return err
		}

		if len(exclusive) > 0 {
			if err := run(ctx, tx.tx, `
MATCH (n) WHERE n.id IN $ids
DETACH DELETE n
`, map[string]any{"ids": exclusive}); err != nil {
				return err
			}
		}
		if err := run(ctx, tx.tx, `
MATCH (d:Document {id: $id})
DETACH DELETE d
`, map[string]any{"id": documentID}); err != nil {
			return err
		}
		res.EntitiesDeleted = len(exclusive)
		res.SharedRetained = len(shared)
		return nil
	})
	if err != nil {
		return nil, wrapPersistence("delete_document_cascade", err)
	}
	return res, nil
}

// write runs a single auto-commit style write inside a managed transaction.
func (s *Store) write(ctx context.Context, cypher string, params map[string]any) error {
	return s.WithWriteTx(ctx, func(tx *Tx) error {
		return run(ctx, tx.tx, cypher, params)
	})
}

func documentFromNode(node neo4j.Node) *DocumentRecord {
	rec := &DocumentRecord{}
	for k, v := range node.Props {
		switch k {
		case "id":
			rec.ID, _ = v.(string)
		case "name":
			rec.Name, _ = v.(string)
		case "type":
			if sv, ok := v.(string); ok {
				rec.Type = domain.DocumentType(sv)
			}
		case "status":
			if sv, ok := v.(string); ok {
				rec.Status = domain.DocumentStatus(sv)
			}
		case "error":
			rec.Error, _ = v.(string)
		case "created_at":
			rec.CreatedAt = parseTime(v)
		case "updated_at":
			rec.UpdatedAt = parseTime(v)
		}
	}
	return rec
}
