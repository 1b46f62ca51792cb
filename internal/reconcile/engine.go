package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/auditgraph/auditgraph-backend/internal/domain"
	agerrors "github.com/auditgraph/auditgraph-backend/internal/pkg/errors"
	"github.com/auditgraph/auditgraph-backend/internal/platform/logger"
)

// GraphView is the read slice of the persistence layer the engine resolves
// against. FindHeadByBusinessKey must only consider head versions: entities
// no newer version points at with a SUPERSEDES edge.
type GraphView interface {
	FindHeadByBusinessKey(ctx context.Context, et domain.EntityType, businessKey string) (*domain.Entity, error)
}

type OpKind string

const (
	// OpCreate inserts a fresh entity: no head shared the business key.
	OpCreate OpKind = "create"
	// OpMergeProvenance appends provenance to an existing head, optionally
	// filling properties the head lacked. Never changes existing fields.
	OpMergeProvenance OpKind = "merge_provenance"
	// OpSupersede creates a new version entity linked by SUPERSEDES to the
	// prior head. History is never mutated in place.
	OpSupersede OpKind = "supersede"
)

// EntityOp is one planned write against the graph.
type EntityOp struct {
	Kind        OpKind
	Type        domain.EntityType
	BusinessKey string

	// Entity is populated for create/supersede: the node to insert.
	Entity *domain.Entity
	// HeadID is the existing head for merge/supersede.
	HeadID string
	// AddProps are properties absent on the head, applied during merge.
	AddProps map[string]any
	// Provenance entries to append to the head during merge.
	Provenance []domain.Provenance
}

// RelationshipOp is one planned, fully resolved and validated edge write.
type RelationshipOp struct {
	FromID     string
	ToID       string
	Type       domain.RelationshipType
	Confidence float64
	Properties map[string]any
	SourceRef  domain.SourceReference
}

// Result is the reconciliation plan for one document's candidate batch.
type Result struct {
	EntityOps       []EntityOp
	RelationshipOps []RelationshipOp
	// EntityIDs maps "EntityType:businessKey" to the id that will hold that
	// business key after the plan is applied.
	EntityIDs map[string]string
	Conflicts []*agerrors.ReconciliationConflict
}

// Engine resolves extraction candidates against the existing graph using
// business keys, producing a write plan plus accumulated conflicts.
type Engine struct {
	log            *logger.Logger
	view           GraphView
	mergeThreshold float64
}

func NewEngine(log *logger.Logger, view GraphView, mergeThreshold float64) (*Engine, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if view == nil {
		return nil, fmt.Errorf("graph view required")
	}
	if mergeThreshold <= 0 || mergeThreshold > 1 {
		mergeThreshold = 0.7
	}
	return &Engine{
		log:            log.With("service", "ReconciliationEngine"),
		view:           view,
		mergeThreshold: mergeThreshold,
	}, nil
}

// Reconcile plans writes for a whole document batch. Conflicts are
// accumulated, never fatal; only a graph view failure returns an error.
func (e *Engine) Reconcile(
	ctx context.Context,
	documentID string,
	method string,
	entities []domain.ExtractionCandidate,
	relationships []domain.RelationshipCandidate,
) (Result, error) {
	res := Result{EntityIDs: map[string]string{}}
	now := time.Now().UTC()

	deduped := e.dedupeBatch(entities, &res)

	// Stable order keeps plans deterministic for a given batch.
	keys := make([]string, 0, len(deduped))
	for k := range deduped {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entityTypes := map[string]domain.EntityType{}
	for _, key := range keys {
		group := deduped[key]
		primary := group.primary

		head, err := e.view.FindHeadByBusinessKey(ctx, primary.Type, group.businessKey)
		if err != nil {
			return res, fmt.Errorf("head lookup %s: %w", key, err)
		}

		prov := make([]domain.Provenance, 0, 1+len(group.extras))
		prov = append(prov, provenanceFor(documentID, method, now, primary))
		for _, extra := range group.extras {
			prov = append(prov, provenanceFor(documentID, method, now, extra))
		}

		switch {
		case head == nil:
			entity := &domain.Entity{
				ID:         uuid.NewString(),
				Type:       primary.Type,
				Properties: cloneProps(group.props),
				Provenance: prov,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			res.EntityOps = append(res.EntityOps, EntityOp{
				Kind:        OpCreate,
				Type:        primary.Type,
				BusinessKey: group.businessKey,
				Entity:      entity,
			})
			res.EntityIDs[key] = entity.ID

		case materiallyDiffers(head.Properties, group.props) && primary.Confidence >= e.mergeThreshold:
			merged := cloneProps(head.Properties)
			for k, v := range group.props {
				merged[k] = v
			}
			version := &domain.Entity{
				ID:         uuid.NewString(),
				Type:       primary.Type,
				Properties: merged,
				Provenance: append(append([]domain.Provenance{}, head.Provenance...), prov...),
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			res.EntityOps = append(res.EntityOps, EntityOp{
				Kind:        OpSupersede,
				Type:        primary.Type,
				BusinessKey: group.businessKey,
				Entity:      version,
				HeadID:      head.ID,
			})
			res.EntityIDs[key] = version.ID

		default:
			addProps := map[string]any{}
			for k, v := range group.props {
				if _, exists := head.Properties[k]; !exists {
					addProps[k] = v
				}
			}
			res.EntityOps = append(res.EntityOps, EntityOp{
				Kind:        OpMergeProvenance,
				Type:        primary.Type,
				BusinessKey: group.businessKey,
				HeadID:      head.ID,
				AddProps:    addProps,
				Provenance:  prov,
			})
			res.EntityIDs[key] = head.ID
		}
		entityTypes[res.EntityIDs[key]] = primary.Type
	}

	e.planRelationships(ctx, relationships, entityTypes, &res)
	return res, nil
}

type candidateGroup struct {
	businessKey string
	primary     domain.ExtractionCandidate
	extras      []domain.ExtractionCandidate
	// props is the union of every duplicate's properties; the primary's
	// values win for keys more than one candidate carries.
	props map[string]any
}

// dedupeBatch merges duplicate candidates (same business key) before the
// graph is touched: the highest-confidence candidate stays primary, the
// rest become additional provenance. Properties accumulate across the whole
// group regardless of arrival order.
func (e *Engine) dedupeBatch(entities []domain.ExtractionCandidate, res *Result) map[string]*candidateGroup {
	out := map[string]*candidateGroup{}
	for _, cand := range entities {
		if err := domain.ValidateProperties(cand.Type, cand.Properties); err != nil {
			res.Conflicts = append(res.Conflicts, &agerrors.ReconciliationConflict{
				Kind:    "entity",
				Subject: string(cand.Type),
				Message: err.Error(),
			})
			continue
		}
		bk, err := domain.BusinessKey(cand.Type, cand.Properties)
		if err != nil {
			res.Conflicts = append(res.Conflicts, &agerrors.ReconciliationConflict{
				Kind:    "entity",
				Subject: string(cand.Type),
				Message: err.Error(),
			})
			continue
		}
		key := domain.SymbolicRef{Type: cand.Type, Key: bk}.String()

		group, exists := out[key]
		if !exists {
			out[key] = &candidateGroup{
				businessKey: bk,
				primary:     cand,
				props:       cloneProps(cand.Properties),
			}
			continue
		}
		if cand.Confidence > group.primary.Confidence {
			group.extras = append(group.extras, group.primary)
			group.primary = cand
			// The new primary overwrites shared keys but keeps fields only
			// earlier duplicates carried.
			for k, v := range cand.Properties {
				group.props[k] = v
			}
		} else {
			group.extras = append(group.extras, cand)
			for k, v := range cand.Properties {
				if _, ok := group.props[k]; !ok {
					group.props[k] = v
				}
			}
		}
	}
	return out
}

// planRelationships resolves symbolic references in two passes: first
// against the batch's id map, then against the live graph for entities
// earlier ingestions created. Leftovers and invalid type pairs become
// conflicts and are dropped, never persisted.
func (e *Engine) planRelationships(
	ctx context.Context,
	relationships []domain.RelationshipCandidate,
	entityTypes map[string]domain.EntityType,
	res *Result,
) {
	type pending struct {
		cand     domain.RelationshipCandidate
		from, to domain.SymbolicRef
	}

	var second []pending
	seen := map[string]int{}

	resolve := func(ref domain.SymbolicRef, fromGraph bool) (string, bool) {
		if id, ok := res.EntityIDs[ref.String()]; ok {
			return id, true
		}
		if !fromGraph {
			return "", false
		}
		head, err := e.view.FindHeadByBusinessKey(ctx, ref.Type, ref.Key)
		if err != nil || head == nil {
			return "", false
		}
		res.EntityIDs[ref.String()] = head.ID
		entityTypes[head.ID] = head.Type
		return head.ID, true
	}

	admit := func(p pending, fromID, toID string) {
		rt, ok := domain.ParseRelationshipType(p.cand.Type)
		if !ok {
			res.Conflicts = append(res.Conflicts, &agerrors.ReconciliationConflict{
				Kind:    "relationship",
				Subject: p.cand.Type,
				Message: fmt.Sprintf("unknown relationship type (%s -> %s)", p.cand.From, p.cand.To),
			})
			return
		}
		if !domain.ValidRelationship(rt, p.from.Type, p.to.Type) {
			res.Conflicts = append(res.Conflicts, &agerrors.ReconciliationConflict{
				Kind:    "relationship",
				Subject: string(rt),
				Message: fmt.Sprintf("invalid pair %s -> %s", p.from.Type, p.to.Type),
			})
			return
		}

		dedupKey := fromID + "|" + string(rt) + "|" + toID
		if idx, ok := seen[dedupKey]; ok {
			if p.cand.Confidence > res.RelationshipOps[idx].Confidence {
				res.RelationshipOps[idx].Confidence = p.cand.Confidence
				res.RelationshipOps[idx].SourceRef = p.cand.SourceRef
			}
			return
		}
		seen[dedupKey] = len(res.RelationshipOps)
		res.RelationshipOps = append(res.RelationshipOps, RelationshipOp{
			FromID:     fromID,
			ToID:       toID,
			Type:       rt,
			Confidence: p.cand.Confidence,
			Properties: cloneProps(p.cand.Properties),
			SourceRef:  p.cand.SourceRef,
		})
	}

	for _, cand := range relationships {
		fromRef, errFrom := domain.ParseSymbolicRef(cand.From)
		toRef, errTo := domain.ParseSymbolicRef(cand.To)
		if errFrom != nil || errTo != nil {
			msg := ""
			if errFrom != nil {
				msg = errFrom.Error()
			} else {
				msg = errTo.Error()
			}
			res.Conflicts = append(res.Conflicts, &agerrors.ReconciliationConflict{
				Kind:    "relationship",
				Subject: cand.Type,
				Message: msg,
			})
			continue
		}

		p := pending{cand: cand, from: fromRef, to: toRef}
		fromID, okFrom := resolve(fromRef, false)
		toID, okTo := resolve(toRef, false)
		if okFrom && okTo {
			admit(p, fromID, toID)
			continue
		}
		second = append(second, p)
	}

	for _, p := range second {
		fromID, okFrom := resolve(p.from, true)
		toID, okTo := resolve(p.to, true)
		if !okFrom || !okTo {
			unresolved := p.from.String()
			if okFrom {
				unresolved = p.to.String()
			}
			res.Conflicts = append(res.Conflicts, &agerrors.ReconciliationConflict{
				Kind:    "relationship",
				Subject: p.cand.Type,
				Message: "unresolved reference " + unresolved,
			})
			continue
		}
		admit(p, fromID, toID)
	}
}

func provenanceFor(documentID, method string, ts time.Time, cand domain.ExtractionCandidate) domain.Provenance {
	return domain.Provenance{
		DocumentID: documentID,
		Method:     method,
		Timestamp:  ts,
		Confidence: cand.Confidence,
		SourceRef:  cand.SourceRef,
	}
}

// materiallyDiffers reports whether any scalar field present on both maps
// carries a different value. New fields on the candidate are additive, not
// a material difference.
func materiallyDiffers(head, cand map[string]any) bool {
	for k, cv := range cand {
		hv, exists := head[k]
		if !exists {
			continue
		}
		if !scalarEqual(hv, cv) {
			return true
		}
	}
	return false
}

func scalarEqual(a, b any) bool {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		return af == bf
	}
	as := strings.TrimSpace(strings.ToLower(fmt.Sprint(a)))
	bs := strings.TrimSpace(strings.ToLower(fmt.Sprint(b)))
	return as == bs
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

func cloneProps(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
