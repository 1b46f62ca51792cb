package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/auditgraph/auditgraph-backend/internal/domain"
	"github.com/auditgraph/auditgraph-backend/internal/platform/logger"
)

type fakeView struct {
	heads map[string]*domain.Entity
}

func (f *fakeView) FindHeadByBusinessKey(_ context.Context, et domain.EntityType, key string) (*domain.Entity, error) {
	return f.heads[string(et)+":"+key], nil
}

func newTestEngine(t *testing.T, view GraphView) *Engine {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	eng, err := NewEngine(log, view, 0.7)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng
}

func TestReconcileCreatesFreshEntity(t *testing.T) {
	eng := newTestEngine(t, &fakeView{heads: map[string]*domain.Entity{}})

	res, err := eng.Reconcile(context.Background(), "doc-1", "llm_extraction",
		[]domain.ExtractionCandidate{{
			Type:       domain.EntityFailureMode,
			Properties: map[string]any{"code": "FM-01", "name": "Cold joint", "rpn": 120.0},
			Confidence: 0.9,
		}}, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.EntityOps) != 1 || res.EntityOps[0].Kind != OpCreate {
		t.Fatalf("ops = %+v", res.EntityOps)
	}
	op := res.EntityOps[0]
	if op.BusinessKey != "fm-01" {
		t.Fatalf("business key = %q", op.BusinessKey)
	}
	if op.Entity == nil || len(op.Entity.Provenance) != 1 {
		t.Fatalf("entity provenance = %+v", op.Entity)
	}
	if op.Entity.Provenance[0].DocumentID != "doc-1" {
		t.Fatalf("provenance document = %q", op.Entity.Provenance[0].DocumentID)
	}
	if got := res.EntityIDs["FailureMode:fm-01"]; got != op.Entity.ID {
		t.Fatalf("id map = %q, want %q", got, op.Entity.ID)
	}
}

func TestReconcileMergesProvenanceWhenNothingDiffers(t *testing.T) {
	head := &domain.Entity{
		ID:         "head-1",
		Type:       domain.EntityFailureMode,
		Properties: map[string]any{"code": "FM-01", "name": "Cold joint"},
		Provenance: []domain.Provenance{{DocumentID: "doc-0", Timestamp: time.Now()}},
	}
	eng := newTestEngine(t, &fakeView{heads: map[string]*domain.Entity{
		"FailureMode:fm-01": head,
	}})

	res, err := eng.Reconcile(context.Background(), "doc-2", "llm_extraction",
		[]domain.ExtractionCandidate{{
			Type:       domain.EntityFailureMode,
			Properties: map[string]any{"code": "FM-01", "name": "cold JOINT", "severity": 8.0},
			Confidence: 0.95,
		}}, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.EntityOps) != 1 || res.EntityOps[0].Kind != OpMergeProvenance {
		t.Fatalf("ops = %+v", res.EntityOps)
	}
	op := res.EntityOps[0]
	if op.HeadID != "head-1" {
		t.Fatalf("head id = %q", op.HeadID)
	}
	// severity is new on the head; name differs only in case.
	if _, ok := op.AddProps["severity"]; !ok {
		t.Fatalf("AddProps = %+v", op.AddProps)
	}
	if _, ok := op.AddProps["name"]; ok {
		t.Fatal("existing property must not be re-added")
	}
	if got := res.EntityIDs["FailureMode:fm-01"]; got != "head-1" {
		t.Fatalf("id map = %q", got)
	}
}

func TestReconcileSupersedesOnMaterialChange(t *testing.T) {
	head := &domain.Entity{
		ID:         "head-1",
		Type:       domain.EntityFailureMode,
		Properties: map[string]any{"code": "FM-01", "rpn": 120.0},
		Provenance: []domain.Provenance{{DocumentID: "doc-0"}},
	}
	eng := newTestEngine(t, &fakeView{heads: map[string]*domain.Entity{
		"FailureMode:fm-01": head,
	}})

	res, err := eng.Reconcile(context.Background(), "doc-2", "llm_extraction",
		[]domain.ExtractionCandidate{{
			Type:       domain.EntityFailureMode,
			Properties: map[string]any{"code": "FM-01", "rpn": 240.0},
			Confidence: 0.9,
		}}, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.EntityOps) != 1 || res.EntityOps[0].Kind != OpSupersede {
		t.Fatalf("ops = %+v", res.EntityOps)
	}
	op := res.EntityOps[0]
	if op.HeadID != "head-1" || op.Entity == nil || op.Entity.ID == "head-1" {
		t.Fatalf("supersede op = %+v", op)
	}
	if got, _ := op.Entity.Properties["rpn"].(float64); got != 240.0 {
		t.Fatalf("new version rpn = %v", op.Entity.Properties["rpn"])
	}
	// Head's provenance carries over, then the new record appends.
	if len(op.Entity.Provenance) != 2 {
		t.Fatalf("provenance = %+v", op.Entity.Provenance)
	}
}

func TestReconcileLowConfidenceChangeMergesInsteadOfSuperseding(t *testing.T) {
	head := &domain.Entity{
		ID:         "head-1",
		Type:       domain.EntityFailureMode,
		Properties: map[string]any{"code": "FM-01", "rpn": 120.0},
	}
	eng := newTestEngine(t, &fakeView{heads: map[string]*domain.Entity{
		"FailureMode:fm-01": head,
	}})

	res, err := eng.Reconcile(context.Background(), "doc-2", "llm_extraction",
		[]domain.ExtractionCandidate{{
			Type:       domain.EntityFailureMode,
			Properties: map[string]any{"code": "FM-01", "rpn": 240.0},
			Confidence: 0.4,
		}}, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.EntityOps) != 1 || res.EntityOps[0].Kind != OpMergeProvenance {
		t.Fatalf("below-threshold change must merge, got %+v", res.EntityOps)
	}
}

func TestReconcileDedupesWithinBatch(t *testing.T) {
	eng := newTestEngine(t, &fakeView{heads: map[string]*domain.Entity{}})

	res, err := eng.Reconcile(context.Background(), "doc-1", "llm_extraction",
		[]domain.ExtractionCandidate{
			{
				Type:       domain.EntityControl,
				Properties: map[string]any{"name": "Torque check"},
				Confidence: 0.6,
			},
			{
				Type:       domain.EntityControl,
				Properties: map[string]any{"name": "torque CHECK", "controlType": "inspection"},
				Confidence: 0.9,
			},
		}, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.EntityOps) != 1 {
		t.Fatalf("expected in-batch dedup to one op, got %d", len(res.EntityOps))
	}
	op := res.EntityOps[0]
	if op.Entity == nil || len(op.Entity.Provenance) != 2 {
		t.Fatalf("expected both candidates as provenance, got %+v", op.Entity)
	}
	// The higher-confidence candidate is primary.
	if got, _ := op.Entity.Properties["controlType"].(string); got != "inspection" {
		t.Fatalf("properties = %+v", op.Entity.Properties)
	}
}

func TestReconcileDedupKeepsExtraFieldsRegardlessOfOrder(t *testing.T) {
	rich := domain.ExtractionCandidate{
		Type:       domain.EntityControl,
		Properties: map[string]any{"name": "Torque check", "controlType": "inspection"},
		Confidence: 0.6,
	}
	confident := domain.ExtractionCandidate{
		Type:       domain.EntityControl,
		Properties: map[string]any{"name": "torque CHECK", "frequency": "per shift"},
		Confidence: 0.9,
	}

	orders := map[string][]domain.ExtractionCandidate{
		"rich first":      {rich, confident},
		"confident first": {confident, rich},
	}
	for name, batch := range orders {
		t.Run(name, func(t *testing.T) {
			eng := newTestEngine(t, &fakeView{heads: map[string]*domain.Entity{}})
			res, err := eng.Reconcile(context.Background(), "doc-1", "llm_extraction", batch, nil)
			if err != nil {
				t.Fatalf("Reconcile: %v", err)
			}
			if len(res.EntityOps) != 1 {
				t.Fatalf("ops = %d", len(res.EntityOps))
			}
			props := res.EntityOps[0].Entity.Properties
			if got, _ := props["controlType"].(string); got != "inspection" {
				t.Fatalf("controlType = %q, props = %+v", got, props)
			}
			if got, _ := props["frequency"].(string); got != "per shift" {
				t.Fatalf("frequency = %q, props = %+v", got, props)
			}
			// Shared keys carry the higher-confidence candidate's value.
			if got, _ := props["name"].(string); got != "torque CHECK" {
				t.Fatalf("name = %q", got)
			}
		})
	}
}

func TestReconcileResolvesRelationshipsAcrossBatchAndGraph(t *testing.T) {
	eng := newTestEngine(t, &fakeView{heads: map[string]*domain.Entity{
		"Risk:hydraulic failure": {
			ID:         "risk-9",
			Type:       domain.EntityRisk,
			Properties: map[string]any{"name": "Hydraulic failure", "level": "HIGH"},
		},
	}})

	res, err := eng.Reconcile(context.Background(), "doc-1", "llm_extraction",
		[]domain.ExtractionCandidate{{
			Type:       domain.EntityFailureMode,
			Properties: map[string]any{"code": "FM-01"},
			Confidence: 0.9,
		}},
		[]domain.RelationshipCandidate{{
			From:       "FailureMode:FM-01",
			To:         "Risk:Hydraulic failure",
			Type:       "implies",
			Confidence: 0.8,
		}})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.Conflicts) != 0 {
		t.Fatalf("conflicts = %+v", res.Conflicts)
	}
	if len(res.RelationshipOps) != 1 {
		t.Fatalf("relationship ops = %+v", res.RelationshipOps)
	}
	rel := res.RelationshipOps[0]
	if rel.Type != domain.RelImplies || rel.ToID != "risk-9" {
		t.Fatalf("rel = %+v", rel)
	}
	if rel.FromID != res.EntityIDs["FailureMode:fm-01"] {
		t.Fatalf("from id = %q", rel.FromID)
	}
}

func TestReconcileDropsUnresolvedAndInvalidRelationships(t *testing.T) {
	eng := newTestEngine(t, &fakeView{heads: map[string]*domain.Entity{}})

	res, err := eng.Reconcile(context.Background(), "doc-1", "llm_extraction",
		[]domain.ExtractionCandidate{
			{
				Type:       domain.EntityProcess,
				Properties: map[string]any{"name": "Welding"},
				Confidence: 0.9,
			},
			{
				Type:       domain.EntityAudit,
				Properties: map[string]any{"auditDate": "2026-03-01"},
				Confidence: 0.9,
			},
		},
		[]domain.RelationshipCandidate{
			{
				// Endpoint never extracted and absent from the graph.
				From:       "Control:phantom",
				To:         "Process:Welding",
				Type:       "applied_in",
				Confidence: 0.8,
			},
			{
				// Pair violates the allow-list.
				From:       "Audit:2026-03-01",
				To:         "Process:Welding",
				Type:       "mitigates",
				Confidence: 0.8,
			},
		})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.RelationshipOps) != 0 {
		t.Fatalf("no relationships should survive, got %+v", res.RelationshipOps)
	}
	if len(res.Conflicts) != 2 {
		t.Fatalf("conflicts = %+v", res.Conflicts)
	}
}

func TestReconcileDedupesRepeatedRelationships(t *testing.T) {
	eng := newTestEngine(t, &fakeView{heads: map[string]*domain.Entity{}})

	res, err := eng.Reconcile(context.Background(), "doc-1", "llm_extraction",
		[]domain.ExtractionCandidate{
			{Type: domain.EntityFailureMode, Properties: map[string]any{"code": "FM-01"}, Confidence: 0.9},
			{Type: domain.EntityRisk, Properties: map[string]any{"name": "Leak", "level": "LOW"}, Confidence: 0.9},
		},
		[]domain.RelationshipCandidate{
			{From: "FailureMode:FM-01", To: "Risk:Leak", Type: "IMPLIES", Confidence: 0.5},
			{From: "FailureMode:FM-01", To: "Risk:Leak", Type: "IMPLIES", Confidence: 0.9},
		})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.RelationshipOps) != 1 {
		t.Fatalf("ops = %+v", res.RelationshipOps)
	}
	if res.RelationshipOps[0].Confidence != 0.9 {
		t.Fatalf("confidence = %v, want max kept", res.RelationshipOps[0].Confidence)
	}
}

func TestReconcileRecordsInvalidCandidateAsConflict(t *testing.T) {
	eng := newTestEngine(t, &fakeView{heads: map[string]*domain.Entity{}})

	res, err := eng.Reconcile(context.Background(), "doc-1", "llm_extraction",
		[]domain.ExtractionCandidate{{
			Type:       domain.EntityRisk,
			Properties: map[string]any{"name": "Leak", "level": "EXTREME"},
			Confidence: 0.9,
		}}, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.EntityOps) != 0 {
		t.Fatalf("invalid candidate must not plan writes, got %+v", res.EntityOps)
	}
	if len(res.Conflicts) != 1 {
		t.Fatalf("conflicts = %+v", res.Conflicts)
	}
}
