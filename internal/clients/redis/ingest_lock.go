package redis

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/auditgraph/auditgraph-backend/internal/platform/logger"
)

// Locker enforces single-flight ingestion per document id.
type Locker interface {
	// Acquire returns a release func, or ok=false when another run holds
	// the document.
	Acquire(ctx context.Context, documentID string) (release func(), ok bool, err error)
	Close() error
}

type redisLock struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewIngestLock builds the distributed lock when REDIS_ADDR is set and
// falls back to an in-process lock otherwise, so single-instance
// deployments need no redis.
func NewIngestLock(log *logger.Logger) (Locker, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		log.Info("REDIS_ADDR not set; using in-process ingest lock")
		return newLocalLock(), nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttlMin := 30
	if raw := strings.TrimSpace(os.Getenv("INGEST_LOCK_TTL_MINUTES")); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &ttlMin); err != nil || ttlMin <= 0 {
			ttlMin = 30
		}
	}

	return &redisLock{
		log:    log.With("service", "RedisIngestLock"),
		rdb:    rdb,
		prefix: "auditgraph:ingest:",
		ttl:    time.Duration(ttlMin) * time.Minute,
	}, nil
}

func (l *redisLock) Acquire(ctx context.Context, documentID string) (func(), bool, error) {
	if l == nil || l.rdb == nil {
		return nil, false, fmt.Errorf("redis ingest lock not initialized")
	}
	key := l.prefix + documentID
	ok, err := l.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.rdb.Del(rctx, key).Err(); err != nil {
			l.log.Warn("failed to release ingest lock", "document_id", documentID, "error", err)
		}
	}
	return release, true, nil
}

func (l *redisLock) Close() error {
	if l == nil || l.rdb == nil {
		return nil
	}
	return l.rdb.Close()
}

type localLock struct {
	mu   sync.Mutex
	held map[string]bool
}

func newLocalLock() *localLock {
	return &localLock{held: map[string]bool{}}
}

func (l *localLock) Acquire(_ context.Context, documentID string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[documentID] {
		return nil, false, nil
	}
	l.held[documentID] = true
	release := func() {
		l.mu.Lock()
		delete(l.held, documentID)
		l.mu.Unlock()
	}
	return release, true, nil
}

func (l *localLock) Close() error { return nil }
