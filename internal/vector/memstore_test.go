package vector

import (
	"context"
	"testing"
)

func doc(id, documentID, entityID string, vec ...float32) Document {
	return Document{
		ID:     id,
		Vector: vec,
		Payload: Payload{
			DocumentID: documentID,
			EntityID:   entityID,
			Text:       "text " + id,
		},
	}
}

func TestMemStoreQueryRanksByCosine(t *testing.T) {
	s := NewMemStore()
	err := s.UpsertDocuments(context.Background(), []Document{
		doc("a", "d1", "e1", 1, 0),
		doc("b", "d1", "e2", 0, 1),
		doc("c", "d2", "e3", 0.9, 0.1),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	matches, err := s.QueryMatches(context.Background(), []float32{1, 0}, 2, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %d", len(matches))
	}
	if matches[0].ID != "a" || matches[1].ID != "c" {
		t.Fatalf("ranking = %s, %s", matches[0].ID, matches[1].ID)
	}
	if matches[0].Score < matches[1].Score {
		t.Fatalf("scores not descending: %v %v", matches[0].Score, matches[1].Score)
	}
}

func TestMemStoreFilter(t *testing.T) {
	s := NewMemStore()
	if err := s.UpsertDocuments(context.Background(), []Document{
		doc("a", "d1", "e1", 1, 0),
		doc("b", "d2", "e2", 1, 0),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	matches, err := s.QueryMatches(context.Background(), []float32{1, 0}, 10, Filter{"document_id": "d2"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "b" {
		t.Fatalf("filtered matches = %+v", matches)
	}

	n, err := s.CountByFilter(context.Background(), Filter{"document_id": "d1"})
	if err != nil || n != 1 {
		t.Fatalf("count = %d, err = %v", n, err)
	}
}

func TestMemStoreUpsertReplacesByID(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	if err := s.UpsertDocuments(ctx, []Document{doc("a", "d1", "e1", 1, 0)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertDocuments(ctx, []Document{doc("a", "d9", "e1", 0, 1)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	n, err := s.CountByFilter(ctx, nil)
	if err != nil || n != 1 {
		t.Fatalf("count = %d, err = %v", n, err)
	}
	matches, _ := s.QueryMatches(ctx, []float32{0, 1}, 1, nil)
	if len(matches) != 1 || matches[0].Payload.DocumentID != "d9" {
		t.Fatalf("replacement not applied: %+v", matches)
	}
}

func TestMemStoreScrollAllBatches(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	var docs []Document
	for i := 0; i < 5; i++ {
		docs = append(docs, doc(string(rune('a'+i)), "d1", "", 1, float32(i)))
	}
	if err := s.UpsertDocuments(ctx, docs); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	var batches, total int
	err := s.ScrollAll(ctx, 2, func(batch []Document) error {
		batches++
		total += len(batch)
		return nil
	})
	if err != nil {
		t.Fatalf("scroll: %v", err)
	}
	if batches != 3 || total != 5 {
		t.Fatalf("batches = %d, total = %d", batches, total)
	}
}

func TestMemStoreDeleteByFilter(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	if err := s.UpsertDocuments(ctx, []Document{
		doc("a", "d1", "e1", 1, 0),
		doc("b", "d2", "e2", 1, 0),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := s.DeleteByFilter(ctx, nil); err == nil {
		t.Fatal("empty filter delete must be refused")
	}
	if err := s.DeleteByFilter(ctx, Filter{"document_id": "d1"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	n, _ := s.CountByFilter(ctx, nil)
	if n != 1 {
		t.Fatalf("count after delete = %d", n)
	}
}
