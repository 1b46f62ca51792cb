package vector

import (
	"context"
	"fmt"
	"testing"

	"github.com/auditgraph/auditgraph-backend/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestMigrateCopiesEverything(t *testing.T) {
	ctx := context.Background()
	src := NewMemStore()
	dst := NewMemStore()

	var docs []Document
	for i := 0; i < 7; i++ {
		docs = append(docs, doc(fmt.Sprintf("c%d", i), "d1", "", 1, float32(i)))
	}
	if err := src.UpsertDocuments(ctx, docs); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := Migrate(ctx, testLogger(t), src, dst, 3)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if res.Migrated != 7 || res.Batches != 3 {
		t.Fatalf("result = %+v", res)
	}
	if !res.CountVerified || res.DestinationCount != 7 {
		t.Fatalf("verification = %+v", res)
	}
}

func TestMigrateEmptySource(t *testing.T) {
	res, err := Migrate(context.Background(), testLogger(t), NewMemStore(), NewMemStore(), 10)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if res.Migrated != 0 || res.Batches != 0 || !res.CountVerified {
		t.Fatalf("result = %+v", res)
	}
}
