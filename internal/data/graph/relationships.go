package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/auditgraph/auditgraph-backend/internal/domain"
)

// CreateRelationship merges one typed edge between two entities. Merging
// on the pair keeps repeated ingestion of the same document idempotent;
// confidence keeps the maximum seen across contributions.
func (t *Tx) CreateRelationship(ctx context.Context, r domain.Relationship) error {
	rt, ok := domain.ParseRelationshipType(string(r.Type))
	if !ok {
		return fmt.Errorf("graph: unknown relationship type %q", r.Type)
	}
	status := r.Status
	if status == "" {
		status = domain.RelStatusProposed
	}
	props := map[string]any{
		"status":     string(status),
		"confidence": r.Confidence,
		"created_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if r.SourceDocumentID != "" {
		props["source_document_id"] = r.SourceDocumentID
	}
	if r.ExtractorID != "" {
		props["extractor_id"] = r.ExtractorID
	}
	for k, v := range r.Properties {
		if _, reserved := props[k]; reserved {
			continue
		}
		props[k] = v
	}

	cypher := fmt.Sprintf(`
MATCH (a {id: $from_id})
MATCH (b {id: $to_id})
MERGE (a)-[r:%s]->(b)
ON CREATE SET r = $props
ON MATCH SET r.confidence = CASE WHEN $confidence > r.confidence THEN $confidence ELSE r.confidence END
RETURN r
`, string(rt))
	recs, err := t.tx.Run(ctx, cypher, map[string]any{
		"from_id":    r.FromID,
		"to_id":      r.ToID,
		"props":      props,
		"confidence": r.Confidence,
	})
	if err != nil {
		return err
	}
	if _, err := recs.Single(ctx); err != nil {
		return notFound("create_relationship", fmt.Sprintf("endpoint missing for %s-[%s]->%s", r.FromID, r.Type, r.ToID))
	}
	return nil
}

// RecordProduced links a document to an entity it contributed to. Every
// contribution gets an edge, including provenance merges, so ownership
// questions reduce to counting distinct producing documents.
func (t *Tx) RecordProduced(ctx context.Context, documentID, entityID string) error {
	return run(ctx, t.tx, `
MATCH (d:Document {id: $doc_id})
MATCH (n {id: $entity_id})
MERGE (d)-[r:PRODUCED]->(n)
ON CREATE SET r.created_at = $at
`, map[string]any{
		"doc_id":    documentID,
		"entity_id": entityID,
		"at":        time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Direction selects which edges GetRelationships walks.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// GetRelationships lists the domain edges touching one entity.
func (s *Store) GetRelationships(ctx context.Context, entityID string, dir Direction) ([]domain.Relationship, error) {
	var pattern string
	switch dir {
	case DirectionOutgoing:
		pattern = `(n {id: $id})-[r]->(m)`
	case DirectionIncoming:
		pattern = `(n {id: $id})<-[r]-(m)`
	default:
		pattern = `(n {id: $id})-[r]-(m)`
	}
	cypher := fmt.Sprintf(`
MATCH %s
WHERE type(r) <> 'PRODUCED'
RETURN r, startNode(r).id AS from_id, endNode(r).id AS to_id
`, pattern)
	recs, err := s.read(ctx, cypher, map[string]any{"id": entityID})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Relationship, 0, len(recs))
	for _, rec := range recs {
		m := rec.AsMap()
		rel, ok := m["r"].(neo4j.Relationship)
		if !ok {
			continue
		}
		fromID, _ := m["from_id"].(string)
		toID, _ := m["to_id"].(string)
		out = append(out, relationshipFromEdge(rel, fromID, toID))
	}
	return out, nil
}

func relationshipFromEdge(rel neo4j.Relationship, fromID, toID string) domain.Relationship {
	r := domain.Relationship{
		ID:         rel.ElementId,
		Type:       domain.RelationshipType(rel.Type),
		FromID:     fromID,
		ToID:       toID,
		Status:     domain.RelStatusProposed,
		Properties: map[string]any{},
	}
	for k, v := range rel.Props {
		switch k {
		case "status":
			if sv, ok := v.(string); ok {
				r.Status = domain.RelationshipStatus(sv)
			}
		case "confidence":
			if fv, ok := v.(float64); ok {
				r.Confidence = fv
			}
		case "source_document_id":
			if sv, ok := v.(string); ok {
				r.SourceDocumentID = sv
			}
		case "extractor_id":
			if sv, ok := v.(string); ok {
				r.ExtractorID = sv
			}
		case "created_at":
		default:
			r.Properties[k] = v
		}
	}
	return r
}
