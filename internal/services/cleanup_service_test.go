package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/auditgraph/auditgraph-backend/internal/data/graph"
	"github.com/auditgraph/auditgraph-backend/internal/platform/logger"
	"github.com/auditgraph/auditgraph-backend/internal/vector"
)

type fakeSweepStore struct {
	failed   []graph.DocumentRecord
	deleted  []string
	cascades map[string]*graph.CascadeResult
	failOn   string
}

func (f *fakeSweepStore) ListFailedDocumentsBefore(_ context.Context, _ time.Time) ([]graph.DocumentRecord, error) {
	return f.failed, nil
}

func (f *fakeSweepStore) DeleteDocumentCascade(_ context.Context, id string) (*graph.CascadeResult, error) {
	if id == f.failOn {
		return nil, fmt.Errorf("cascade failed")
	}
	f.deleted = append(f.deleted, id)
	if res, ok := f.cascades[id]; ok {
		return res, nil
	}
	return &graph.CascadeResult{}, nil
}

func testLog(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestCleanupSweepsStaleFailedDocuments(t *testing.T) {
	ctx := context.Background()
	store := &fakeSweepStore{
		failed: []graph.DocumentRecord{
			{ID: "doc-1"}, {ID: "doc-2"},
		},
		cascades: map[string]*graph.CascadeResult{
			"doc-1": {EntitiesDeleted: 3},
			"doc-2": {EntitiesDeleted: 1, SharedRetained: 2},
		},
	}
	vstore := vector.NewMemStore()
	if err := vstore.UpsertDocuments(ctx, []vector.Document{
		{ID: "c1", Vector: []float32{1}, Payload: vector.Payload{DocumentID: "doc-1", Text: "x"}},
		{ID: "c2", Vector: []float32{1}, Payload: vector.Payload{DocumentID: "doc-9", Text: "y"}},
	}); err != nil {
		t.Fatalf("seed vectors: %v", err)
	}

	svc, err := NewCleanupService(testLog(t), store, vstore)
	if err != nil {
		t.Fatalf("NewCleanupService: %v", err)
	}

	res, err := svc.CleanupFailedDocuments(ctx, 24)
	if err != nil {
		t.Fatalf("CleanupFailedDocuments: %v", err)
	}
	if res.DocumentsDeleted != 2 || res.EntitiesDeleted != 4 {
		t.Fatalf("result = %+v", res)
	}
	// Swept document's chunks are dropped, unrelated chunks survive.
	n, _ := vstore.CountByFilter(ctx, nil)
	if n != 1 {
		t.Fatalf("vector count = %d", n)
	}
}

func TestCleanupSkipsDocumentsThatFailToDelete(t *testing.T) {
	store := &fakeSweepStore{
		failed: []graph.DocumentRecord{{ID: "bad"}, {ID: "good"}},
		failOn: "bad",
	}
	svc, err := NewCleanupService(testLog(t), store, nil)
	if err != nil {
		t.Fatalf("NewCleanupService: %v", err)
	}

	res, err := svc.CleanupFailedDocuments(context.Background(), 0)
	if err != nil {
		t.Fatalf("CleanupFailedDocuments: %v", err)
	}
	if res.DocumentsDeleted != 1 {
		t.Fatalf("result = %+v", res)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "good" {
		t.Fatalf("deleted = %v", store.deleted)
	}
}
