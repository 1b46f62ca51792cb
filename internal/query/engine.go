package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/auditgraph/auditgraph-backend/internal/data/graph"
	"github.com/auditgraph/auditgraph-backend/internal/domain"
	agerrors "github.com/auditgraph/auditgraph-backend/internal/pkg/errors"
	"github.com/auditgraph/auditgraph-backend/internal/platform/logger"
	"github.com/auditgraph/auditgraph-backend/internal/vector"
)

// GraphReader is the read-only slice of the graph store the engine uses.
type GraphReader interface {
	GetEntity(ctx context.Context, id string) (*domain.Entity, error)
	GetRelationships(ctx context.Context, entityID string, dir graph.Direction) ([]domain.Relationship, error)
	QueryByPattern(ctx context.Context, q graph.PatternQuery) ([]*domain.Entity, error)
	ExpandRelationships(ctx context.Context, ids []string, types []domain.RelationshipType) (*graph.Expansion, error)
	OntologyAnalytics(ctx context.Context) (*graph.OntologySnapshot, error)
	RisksWithoutControls(ctx context.Context, limit int) ([]*domain.Entity, error)
	ControlsWithoutSteps(ctx context.Context, limit int) ([]*domain.Entity, error)
	UnmitigatedHighRPN(ctx context.Context, threshold float64, limit int) ([]*domain.Entity, error)
}

// Searcher is the similarity slice of the vector store.
type Searcher interface {
	QueryMatches(ctx context.Context, q []float32, topK int, filter vector.Filter) ([]vector.Match, error)
}

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Engine composes vector similarity with graph traversal. All operations
// are read-only.
type Engine struct {
	log      *logger.Logger
	graph    GraphReader
	searcher Searcher
	embedder Embedder
}

func NewEngine(log *logger.Logger, gr GraphReader, searcher Searcher, embedder Embedder) (*Engine, error) {
	if log == nil || gr == nil {
		return nil, fmt.Errorf("query: logger and graph reader required")
	}
	return &Engine{log: log, graph: gr, searcher: searcher, embedder: embedder}, nil
}

// SemanticSearchParams tunes one hybrid search run.
type SemanticSearchParams struct {
	Query      string
	TopK       int
	DocumentID string
	// ExpandTypes restricts the expansion hop; empty expands every domain
	// edge type.
	ExpandTypes []domain.RelationshipType
	// SkipExpansion returns direct hits only.
	SkipExpansion bool
}

// RankedEntity is one fused result. Score is the best vector similarity
// supporting the entity; neighbors discovered only through expansion rank
// below every direct hit.
type RankedEntity struct {
	Entity   *domain.Entity `json:"entity"`
	Score    float64        `json:"score"`
	Direct   bool           `json:"direct"`
	ChunkIDs []string       `json:"chunk_ids,omitempty"`
}

// SemanticSearchResult is the fused answer set.
type SemanticSearchResult struct {
	Results       []RankedEntity        `json:"results"`
	Relationships []domain.Relationship `json:"relationships,omitempty"`
}

// SemanticSearch embeds the query, runs similarity search, resolves hits
// to their owning entities, expands one hop of neighbors, and merges
// everything deduplicated by entity id ranked by similarity.
func (e *Engine) SemanticSearch(ctx context.Context, p SemanticSearchParams) (*SemanticSearchResult, error) {
	if p.Query == "" {
		return nil, &agerrors.ValidationError{Field: "query", Message: "query text required"}
	}
	if e.searcher == nil || e.embedder == nil {
		return nil, fmt.Errorf("query: semantic search requires a vector store and an embedder")
	}
	topK := p.TopK
	if topK <= 0 || topK > 100 {
		topK = 10
	}

	vecs, err := e.embedder.Embed(ctx, []string{p.Query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embed query: empty embedding response")
	}

	var filter vector.Filter
	if p.DocumentID != "" {
		filter = vector.Filter{"document_id": p.DocumentID}
	}
	matches, err := e.searcher.QueryMatches(ctx, vecs[0], topK, filter)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	// Best-score-wins per entity across chunks.
	ranked := map[string]*RankedEntity{}
	var order []string
	for _, m := range matches {
		entityID := m.Payload.EntityID
		if entityID == "" {
			continue
		}
		if r, ok := ranked[entityID]; ok {
			if m.Score > r.Score {
				r.Score = m.Score
			}
			r.ChunkIDs = append(r.ChunkIDs, m.ID)
			continue
		}
		ranked[entityID] = &RankedEntity{Score: m.Score, Direct: true, ChunkIDs: []string{m.ID}}
		order = append(order, entityID)
	}

	out := &SemanticSearchResult{}
	if len(order) == 0 {
		return out, nil
	}

	var minDirect float64
	minDirectSet := false
	for _, id := range order {
		ent, err := e.graph.GetEntity(ctx, id)
		if err != nil {
			// A chunk can outlive its entity between a sweep and reindexing.
			e.log.Warn("semantic search hit missing entity", "entity_id", id, "error", err)
			delete(ranked, id)
			continue
		}
		ranked[id].Entity = ent
		if !minDirectSet || ranked[id].Score < minDirect {
			minDirect = ranked[id].Score
			minDirectSet = true
		}
	}

	if !p.SkipExpansion {
		ids := make([]string, 0, len(ranked))
		for id := range ranked {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		exp, err := e.graph.ExpandRelationships(ctx, ids, p.ExpandTypes)
		if err != nil {
			return nil, fmt.Errorf("graph expansion: %w", err)
		}
		for _, ent := range exp.Entities {
			if _, ok := ranked[ent.ID]; ok {
				continue
			}
			ranked[ent.ID] = &RankedEntity{Entity: ent, Score: minDirect * neighborDiscount}
			order = append(order, ent.ID)
		}
		out.Relationships = exp.Relationships
	}

	for _, id := range order {
		if r, ok := ranked[id]; ok && r.Entity != nil {
			out.Results = append(out.Results, *r)
		}
	}
	sort.SliceStable(out.Results, func(i, j int) bool {
		if out.Results[i].Direct != out.Results[j].Direct {
			return out.Results[i].Direct
		}
		return out.Results[i].Score > out.Results[j].Score
	})
	return out, nil
}

// neighborDiscount keeps expansion-only entities strictly below the
// weakest direct hit.
const neighborDiscount = 0.5
