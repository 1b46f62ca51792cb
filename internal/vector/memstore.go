package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemStore is an in-process Store backed by brute-force cosine search.
// It serves as the default backend when no external store is configured,
// and as a migration source/destination in tests.
type MemStore struct {
	mu    sync.RWMutex
	docs  map[string]Document
	order []string
}

func NewMemStore() *MemStore {
	return &MemStore{docs: map[string]Document{}}
}

func (s *MemStore) Name() string { return "memory" }

func (s *MemStore) UpsertDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("memstore: document id is required")
		}
		if len(d.Vector) == 0 {
			return fmt.Errorf("memstore: document %q has empty vector", d.ID)
		}
		if _, exists := s.docs[d.ID]; !exists {
			s.order = append(s.order, d.ID)
		}
		s.docs[d.ID] = d
	}
	return nil
}

func (s *MemStore) QueryMatches(ctx context.Context, q []float32, topK int, filter Filter) ([]Match, error) {
	if len(q) == 0 {
		return nil, fmt.Errorf("memstore: query vector required")
	}
	if topK <= 0 {
		topK = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Match, 0, len(s.docs))
	for _, d := range s.docs {
		if len(filter) > 0 && !MatchesFilter(d.Payload, filter) {
			continue
		}
		score, ok := cosine(q, d.Vector)
		if !ok {
			continue
		}
		out = append(out, Match{ID: d.ID, Score: score, Payload: d.Payload})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *MemStore) ScrollAll(ctx context.Context, batchSize int, visit func(batch []Document) error) error {
	if visit == nil {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	s.mu.RLock()
	snapshot := make([]Document, 0, len(s.order))
	for _, id := range s.order {
		if d, ok := s.docs[id]; ok {
			snapshot = append(snapshot, d)
		}
	}
	s.mu.RUnlock()

	for start := 0; start < len(snapshot); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + batchSize
		if end > len(snapshot) {
			end = len(snapshot)
		}
		if err := visit(snapshot[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore) CountByFilter(ctx context.Context, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(filter) == 0 {
		return len(s.docs), nil
	}
	n := 0
	for _, d := range s.docs {
		if MatchesFilter(d.Payload, filter) {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) DeleteByFilter(ctx context.Context, filter Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("memstore: refusing to delete with empty filter")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	keep := s.order[:0]
	for _, id := range s.order {
		d, ok := s.docs[id]
		if !ok {
			continue
		}
		if MatchesFilter(d.Payload, filter) {
			delete(s.docs, id)
			continue
		}
		keep = append(keep, id)
	}
	s.order = keep
	return nil
}

func cosine(a []float32, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}
