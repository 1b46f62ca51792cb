package query

import (
	"context"
	"strings"

	"github.com/auditgraph/auditgraph-backend/internal/data/graph"
	"github.com/auditgraph/auditgraph-backend/internal/domain"
	agerrors "github.com/auditgraph/auditgraph-backend/internal/pkg/errors"
)

// ContextOptions shapes the neighborhood returned with an entity.
type ContextOptions struct {
	Direction graph.Direction
	Types     []domain.RelationshipType
	// IncludeNeighbors loads the entities on the far end of each edge.
	IncludeNeighbors bool
}

// EntityContext is one entity plus its immediate neighborhood.
type EntityContext struct {
	Entity        *domain.Entity        `json:"entity"`
	Relationships []domain.Relationship `json:"relationships"`
	Neighbors     []*domain.Entity      `json:"neighbors,omitempty"`
}

// GetEntityWithContext fetches one entity with its configured
// neighborhood. Missing entities surface as NotFound.
func (e *Engine) GetEntityWithContext(ctx context.Context, id string, opts ContextOptions) (*EntityContext, error) {
	if id == "" {
		return nil, &agerrors.ValidationError{Field: "id", Message: "entity id required"}
	}
	ent, err := e.graph.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	dir := opts.Direction
	if dir == "" {
		dir = graph.DirectionBoth
	}
	rels, err := e.graph.GetRelationships(ctx, id, dir)
	if err != nil {
		return nil, err
	}
	if len(opts.Types) > 0 {
		allowed := map[domain.RelationshipType]bool{}
		for _, t := range opts.Types {
			allowed[t] = true
		}
		filtered := rels[:0]
		for _, r := range rels {
			if allowed[r.Type] {
				filtered = append(filtered, r)
			}
		}
		rels = filtered
	}

	out := &EntityContext{Entity: ent, Relationships: rels}
	if opts.IncludeNeighbors {
		seen := map[string]bool{id: true}
		for _, r := range rels {
			for _, nid := range []string{r.FromID, r.ToID} {
				if nid == "" || seen[nid] {
					continue
				}
				seen[nid] = true
				neighbor, err := e.graph.GetEntity(ctx, nid)
				if err != nil {
					continue
				}
				out.Neighbors = append(out.Neighbors, neighbor)
			}
		}
	}
	return out, nil
}

// GetOntologyAnalytics aggregates graph population counts.
func (e *Engine) GetOntologyAnalytics(ctx context.Context) (*graph.OntologySnapshot, error) {
	return e.graph.OntologyAnalytics(ctx)
}

// QueryGraphPattern runs a structural label+property query with no vector
// involvement.
func (e *Engine) QueryGraphPattern(ctx context.Context, q graph.PatternQuery) ([]*domain.Entity, error) {
	if q.Label == "" {
		return nil, &agerrors.ValidationError{Field: "label", Message: "label required"}
	}
	if _, ok := domain.ParseEntityType(q.Label); !ok && q.Label != "Document" {
		return nil, &agerrors.ValidationError{Field: "label", Message: "unknown entity label " + q.Label}
	}
	return e.graph.QueryByPattern(ctx, q)
}

// CoverageParams tunes a canned compliance-gap query.
type CoverageParams struct {
	Threshold float64
	Limit     int
}

// defaultRPNThreshold flags failure modes whose risk priority number is at
// or above the common FMEA action cutoff.
const defaultRPNThreshold = 100

// Coverage runs one of the fixed compliance-gap traversals by name.
func (e *Engine) Coverage(ctx context.Context, name string, p CoverageParams) ([]*domain.Entity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "risks_without_controls", "riskswithoutcontrols":
		return e.graph.RisksWithoutControls(ctx, p.Limit)
	case "controls_without_steps", "controlswithoutsteps":
		return e.graph.ControlsWithoutSteps(ctx, p.Limit)
	case "unmitigated_high_rpn", "unmitigatedhighrpn":
		threshold := p.Threshold
		if threshold <= 0 {
			threshold = defaultRPNThreshold
		}
		return e.graph.UnmitigatedHighRPN(ctx, threshold, p.Limit)
	default:
		return nil, &agerrors.ValidationError{Field: "name", Message: "unknown coverage query " + name}
	}
}
