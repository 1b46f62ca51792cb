package redis

import (
	"context"
	"testing"

	"github.com/auditgraph/auditgraph-backend/internal/platform/logger"
)

func TestLocalLockSingleFlightPerDocument(t *testing.T) {
	ctx := context.Background()
	lock := newLocalLock()

	release, ok, err := lock.Acquire(ctx, "doc-1")
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	// Same document is rejected while held; others are independent.
	if _, ok, _ := lock.Acquire(ctx, "doc-1"); ok {
		t.Fatalf("second acquire of held document succeeded")
	}
	otherRelease, ok, err := lock.Acquire(ctx, "doc-2")
	if err != nil || !ok {
		t.Fatalf("acquire of other document: ok=%v err=%v", ok, err)
	}
	otherRelease()

	release()
	release2, ok, err := lock.Acquire(ctx, "doc-1")
	if err != nil || !ok {
		t.Fatalf("reacquire after release: ok=%v err=%v", ok, err)
	}
	release2()
}

func TestNewIngestLockFallsBackWithoutRedis(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	lock, err := NewIngestLock(log)
	if err != nil {
		t.Fatalf("NewIngestLock: %v", err)
	}
	defer lock.Close()

	if _, isLocal := lock.(*localLock); !isLocal {
		t.Fatalf("expected in-process lock, got %T", lock)
	}
}
