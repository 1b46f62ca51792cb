package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/auditgraph/auditgraph-backend/internal/domain"
)

// CreateEntity inserts a new node labeled with the entity's type.
func (t *Tx) CreateEntity(ctx context.Context, e *domain.Entity, businessKey string) error {
	if e == nil || e.ID == "" || e.Type == "" {
		return fmt.Errorf("graph: entity id and type required")
	}
	lbl, err := safeLabel(string(e.Type))
	if err != nil {
		return err
	}
	props, err := entityNodeProps(e, businessKey)
	if err != nil {
		return err
	}
	cypher := fmt.Sprintf(`CREATE (n:%s) SET n = $props`, lbl)
	return run(ctx, t.tx, cypher, map[string]any{"props": props})
}

// MergeIntoHead appends provenance to an existing head and fills
// properties it lacked. Existing property values are never changed here;
// changed values go through SupersedeEntity instead.
func (t *Tx) MergeIntoHead(ctx context.Context, headID string, addProps map[string]any, newProvenance []domain.Provenance) error {
	recs, err := t.tx.Run(ctx, `MATCH (n {id: $id}) RETURN n.provenance_json AS prov`, map[string]any{"id": headID})
	if err != nil {
		return err
	}
	rec, err := recs.Single(ctx)
	if err != nil {
		return notFound("merge_into_head", fmt.Sprintf("entity %s not found", headID))
	}

	var prov []domain.Provenance
	if raw, ok := rec.AsMap()["prov"].(string); ok && raw != "" {
		_ = json.Unmarshal([]byte(raw), &prov)
	}
	prov = append(prov, newProvenance...)
	provJSON, err := json.Marshal(prov)
	if err != nil {
		return fmt.Errorf("marshal provenance: %w", err)
	}

	add := map[string]any{}
	for k, v := range addProps {
		if reservedKeys[k] {
			continue
		}
		add[k] = v
	}
	return run(ctx, t.tx, `
MATCH (n {id: $id})
SET n += $add,
    n.provenance_json = $prov,
    n.updated_at = $updated_at
`, map[string]any{
		"id":         headID,
		"add":        add,
		"prov":       string(provJSON),
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// SupersedeEntity inserts the new version node and links it to the prior
// head: (new)-[:SUPERSEDES]->(old). The old version is retained untouched.
func (t *Tx) SupersedeEntity(ctx context.Context, version *domain.Entity, businessKey, priorHeadID string) error {
	if err := t.CreateEntity(ctx, version, businessKey); err != nil {
		return err
	}
	recs, err := t.tx.Run(ctx, `
MATCH (new {id: $new_id})
MATCH (old {id: $old_id})
CREATE (new)-[r:SUPERSEDES {created_at: $at}]->(old)
RETURN r
`, map[string]any{
		"new_id": version.ID,
		"old_id": priorHeadID,
		"at":     time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	if _, err := recs.Single(ctx); err != nil {
		return notFound("supersede", fmt.Sprintf("prior head %s not found", priorHeadID))
	}
	return nil
}

// DeleteEntity detach-deletes one node by id.
func (t *Tx) DeleteEntity(ctx context.Context, id string) error {
	return run(ctx, t.tx, `MATCH (n {id: $id}) DETACH DELETE n`, map[string]any{"id": id})
}

// GetEntity fetches one entity by id across all labels.
func (s *Store) GetEntity(ctx context.Context, id string) (*domain.Entity, error) {
	recs, err := s.read(ctx, `MATCH (n {id: $id}) RETURN n LIMIT 1`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, notFound("get_entity", fmt.Sprintf("entity %s not found", id))
	}
	node, ok := recs[0].AsMap()["n"].(neo4j.Node)
	if !ok {
		return nil, wrapPersistence("get_entity", fmt.Errorf("unexpected record shape"))
	}
	return entityFromNode(node), nil
}

// FindHeadByBusinessKey returns the current head version for a business
// key, or nil. Only heads qualify: versions another node supersedes are
// excluded, so historical versions never absorb new facts.
func (s *Store) FindHeadByBusinessKey(ctx context.Context, et domain.EntityType, businessKey string) (*domain.Entity, error) {
	lbl, err := safeLabel(string(et))
	if err != nil {
		return nil, err
	}
	cypher := fmt.Sprintf(`
MATCH (n:%s {business_key: $key})
WHERE NOT ( ()-[:SUPERSEDES]->(n) )
RETURN n
ORDER BY n.created_at DESC
LIMIT 1
`, lbl)
	recs, err := s.read(ctx, cypher, map[string]any{"key": businessKey})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	node, ok := recs[0].AsMap()["n"].(neo4j.Node)
	if !ok {
		return nil, wrapPersistence("find_head", fmt.Errorf("unexpected record shape"))
	}
	return entityFromNode(node), nil
}

// FindDuplicateEntity resolves a candidate to an existing head id, or ""
// when the candidate is new.
func (s *Store) FindDuplicateEntity(ctx context.Context, cand domain.ExtractionCandidate) (string, error) {
	bk, err := domain.BusinessKey(cand.Type, cand.Properties)
	if err != nil {
		return "", err
	}
	head, err := s.FindHeadByBusinessKey(ctx, cand.Type, bk)
	if err != nil || head == nil {
		return "", err
	}
	return head.ID, nil
}

// PatternQuery is the parameterized structural query shape.
type PatternQuery struct {
	Label      string
	Properties map[string]any
	Limit      int
}

// QueryByPattern matches nodes by label and exact property values.
func (s *Store) QueryByPattern(ctx context.Context, q PatternQuery) ([]*domain.Entity, error) {
	lbl, err := safeLabel(q.Label)
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	params := map[string]any{}
	where := ""
	if len(q.Properties) > 0 {
		keys := make([]string, 0, len(q.Properties))
		for k := range q.Properties {
			if _, err := safeLabel(k); err != nil {
				return nil, err
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i == 0 {
				where = "WHERE "
			} else {
				where += " AND "
			}
			param := fmt.Sprintf("p%d", i)
			where += fmt.Sprintf("n.%s = $%s", k, param)
			params[param] = q.Properties[k]
		}
	}

	cypher := fmt.Sprintf(`MATCH (n:%s) %s RETURN n ORDER BY n.created_at LIMIT %d`, lbl, where, limit)
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

// Expansion is one hop of graph neighborhood around a set of ids.
type Expansion struct {
	Entities      []*domain.Entity
	Relationships []domain.Relationship
}

// ExpandRelationships returns the one-hop neighborhood of ids, optionally
// restricted to the given relationship types. By default the hop covers
// domain edges only: PRODUCED is never expanded, and SUPERSEDES is skipped
// so superseded historical versions stay out of search results unless a
// caller asks for that edge type explicitly.
func (s *Store) ExpandRelationships(ctx context.Context, ids []string, types []domain.RelationshipType) (*Expansion, error) {
	if len(ids) == 0 {
		return &Expansion{}, nil
	}

	typeFilter := "NOT type(r) IN ['PRODUCED', 'SUPERSEDES']"
	if len(types) > 0 {
		names := make([]string, 0, len(types))
		for _, rt := range types {
			if _, err := safeLabel(string(rt)); err != nil {
				return nil, err
			}
			names = append(names, string(rt))
		}
		typeFilter = "type(r) IN $types"
	}

	cypher := fmt.Sprintf(`
MATCH (n)-[r]-(m)
WHERE n.id IN $ids AND %s
RETURN n, r, m, startNode(r).id AS from_id, endNode(r).id AS to_id
`, typeFilter)
	params := map[string]any{"ids": ids}
	if len(types) > 0 {
		names := make([]string, 0, len(types))
		for _, rt := range types {
			names = append(names, string(rt))
		}
		params["types"] = names
	}

	recs, err := s.read(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	seenEntities := map[string]bool{}
	seenRels := map[string]bool{}
	out := &Expansion{}
	for _, rec := range recs {
		m := rec.AsMap()
		for _, key := range []string{"n", "m"} {
			node, ok := m[key].(neo4j.Node)
			if !ok {
				continue
			}
			e := entityFromNode(node)
			if e.ID == "" || seenEntities[e.ID] {
				continue
			}
			seenEntities[e.ID] = true
			out.Entities = append(out.Entities, e)
		}
		rel, ok := m["r"].(neo4j.Relationship)
		if !ok {
			continue
		}
		fromID, _ := m["from_id"].(string)
		toID, _ := m["to_id"].(string)
		r := relationshipFromEdge(rel, fromID, toID)
		dedup := r.FromID + "|" + string(r.Type) + "|" + r.ToID
		if seenRels[dedup] {
			continue
		}
		seenRels[dedup] = true
		out.Relationships = append(out.Relationships, r)
	}
	return out, nil
}
