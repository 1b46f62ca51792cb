package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/auditgraph/auditgraph-backend/internal/domain"
)

// OntologySnapshot aggregates the graph population for reporting.
type OntologySnapshot struct {
	EntityCounts       map[string]int `json:"entity_counts"`
	RelationshipCounts map[string]int `json:"relationship_counts"`
	RisksByLevel       map[string]int `json:"risks_by_level"`
	DocumentsByStatus  map[string]int `json:"documents_by_status"`
}

// OntologyAnalytics counts the current graph population by label, edge
// type, risk level, and document status.
func (s *Store) OntologyAnalytics(ctx context.Context) (*OntologySnapshot, error) {
	snap := &OntologySnapshot{
		EntityCounts:       map[string]int{},
		RelationshipCounts: map[string]int{},
		RisksByLevel:       map[string]int{},
		DocumentsByStatus:  map[string]int{},
	}

	recs, err := s.read(ctx, `
MATCH (n)
UNWIND labels(n) AS label
RETURN label, count(*) AS c
`, nil)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		m := rec.AsMap()
		if label, ok := m["label"].(string); ok {
			snap.EntityCounts[label] = int(asInt64(m["c"]))
		}
	}

	recs, err = s.read(ctx, `
MATCH ()-[r]->()
RETURN type(r) AS t, count(*) AS c
`, nil)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		m := rec.AsMap()
		if t, ok := m["t"].(string); ok {
			snap.RelationshipCounts[t] = int(asInt64(m["c"]))
		}
	}

	recs, err = s.read(ctx, `
MATCH (r:Risk)
WHERE NOT ( ()-[:SUPERSEDES]->(r) )
RETURN coalesce(r.level, 'UNKNOWN') AS level, count(*) AS c
`, nil)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		m := rec.AsMap()
		if level, ok := m["level"].(string); ok {
			snap.RisksByLevel[level] = int(asInt64(m["c"]))
		}
	}

	recs, err = s.read(ctx, `
MATCH (d:Document)
RETURN coalesce(d.status, 'UNKNOWN') AS status, count(*) AS c
`, nil)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		m := rec.AsMap()
		if status, ok := m["status"].(string); ok {
			snap.DocumentsByStatus[status] = int(asInt64(m["c"]))
		}
	}

	return snap, nil
}

// RisksWithoutControls finds head Risk entities with no mitigation path:
// no requirement addresses them and no control mitigates a failure mode
// implying them.
func (s *Store) RisksWithoutControls(ctx context.Context, limit int) ([]*domain.Entity, error) {
	return s.coverageQuery(ctx, `
MATCH (r:Risk)
WHERE NOT ( ()-[:SUPERSEDES]->(r) )
  AND NOT ( (:Requirement)-[:ADDRESSES]->(r) )
  AND NOT ( (:Control)-[:MITIGATES]->(:FailureMode)-[:IMPLIES]->(r) )
RETURN r AS n
ORDER BY r.created_at
LIMIT $limit
`, map[string]any{"limit": coverageLimit(limit)})
}

// ControlsWithoutSteps finds head Control entities no procedure step
// implements.
func (s *Store) ControlsWithoutSteps(ctx context.Context, limit int) ([]*domain.Entity, error) {
	return s.coverageQuery(ctx, `
MATCH (c:Control)
WHERE NOT ( ()-[:SUPERSEDES]->(c) )
  AND NOT ( (:ProcedureStep)-[:IMPLEMENTS]->(c) )
RETURN c AS n
ORDER BY c.created_at
LIMIT $limit
`, map[string]any{"limit": coverageLimit(limit)})
}

// UnmitigatedHighRPN finds head failure modes at or above the risk
// priority number threshold with no mitigating control.
func (s *Store) UnmitigatedHighRPN(ctx context.Context, threshold float64, limit int) ([]*domain.Entity, error) {
	return s.coverageQuery(ctx, `
MATCH (f:FailureMode)
WHERE NOT ( ()-[:SUPERSEDES]->(f) )
  AND toFloat(f.rpn) >= $threshold
  AND NOT ( (:Control)-[:MITIGATES]->(f) )
RETURN f AS n
ORDER BY toFloat(f.rpn) DESC
LIMIT $limit
`, map[string]any{"threshold": threshold, "limit": coverageLimit(limit)})
}

func (s *Store) coverageQuery(ctx context.Context, cypher string, params map[string]any) ([]*domain.Entity, error) {
	recs, err := s.read(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Entity, 0, len(recs))
	for _, rec := range recs {
		if node, ok := rec.AsMap()["n"].(neo4j.Node); ok {
			out = append(out, entityFromNode(node))
		}
	}
	return out, nil
}

func coverageLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	default:
		return 0
	}
}
