package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/auditgraph/auditgraph-backend/internal/platform/logger"
	"github.com/auditgraph/auditgraph-backend/internal/vector"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestStore(t *testing.T, rt roundTripperFunc) *vectorStore {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return &vectorStore{
		log:     log,
		cfg:     Config{URL: "http://qdrant.test", Collection: "chunks", VectorDim: 3},
		baseURL: "http://qdrant.test",
		http:    &http.Client{Transport: rt},
	}
}

func decodeBody(t *testing.T, req *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	return body
}

func TestUpsertDocumentsWritesPointsWithChunkPayload(t *testing.T) {
	var captured map[string]any
	store := newTestStore(t, func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPut {
			t.Fatalf("method = %s", req.Method)
		}
		if req.URL.Path != "/collections/chunks/points" || req.URL.RawQuery != "wait=true" {
			t.Fatalf("url = %s", req.URL.String())
		}
		captured = decodeBody(t, req)
		return jsonResponse(200, `{"result": {}, "status": "ok"}`), nil
	})

	err := store.UpsertDocuments(context.Background(), []vector.Document{
		{
			ID:      "ent-1",
			Vector:  []float32{0.1, 0.2, 0.3},
			Payload: vector.Payload{DocumentID: "doc-1", EntityID: "ent-1", Text: "Risk; name: Weld cracks"},
		},
	})
	if err != nil {
		t.Fatalf("UpsertDocuments: %v", err)
	}

	points, ok := captured["points"].([]any)
	if !ok || len(points) != 1 {
		t.Fatalf("points = %v", captured["points"])
	}
	point := points[0].(map[string]any)
	if id, _ := point["id"].(string); id == "" || id == "ent-1" {
		t.Fatalf("point id should be a derived uuid, got %q", id)
	}
	payload := point["payload"].(map[string]any)
	if payload[payloadChunkIDKey] != "ent-1" {
		t.Fatalf("chunk id payload = %v", payload[payloadChunkIDKey])
	}
	if payload["document_id"] != "doc-1" || payload["entity_id"] != "ent-1" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestUpsertDocumentsRejectsBadChunks(t *testing.T) {
	store := newTestStore(t, func(req *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected request to %s", req.URL.String())
		return nil, nil
	})

	cases := []vector.Document{
		{ID: "", Vector: []float32{1, 2, 3}},
		{ID: "a", Vector: nil},
		{ID: "b", Vector: []float32{1, 2}}, // dimension mismatch
	}
	for _, doc := range cases {
		err := store.UpsertDocuments(context.Background(), []vector.Document{doc})
		var opError *OperationError
		if !errors.As(err, &opError) || opError.Code != OperationErrorValidation {
			t.Fatalf("doc %q: expected validation error, got %v", doc.ID, err)
		}
	}
}

func TestQueryMatchesTranslatesFilterAndDecodesHits(t *testing.T) {
	var captured map[string]any
	store := newTestStore(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/collections/chunks/points/search" {
			t.Fatalf("url = %s", req.URL.String())
		}
		captured = decodeBody(t, req)
		return jsonResponse(200, `{
			"status": "ok",
			"result": [
				{"id": "11111111-1111-1111-1111-111111111111", "score": 0.91,
				 "payload": {"_ag_chunk_id": "ent-1", "document_id": "doc-1", "entity_id": "ent-1", "text": "a"}},
				{"id": "22222222-2222-2222-2222-222222222222", "score": 0.44,
				 "payload": {"_ag_chunk_id": "ent-2", "document_id": "doc-1", "entity_id": "ent-2", "text": "b"}}
			]
		}`), nil
	})

	matches, err := store.QueryMatches(context.Background(), []float32{1, 0, 0}, 5, vector.Filter{"document_id": "doc-1"})
	if err != nil {
		t.Fatalf("QueryMatches: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %d", len(matches))
	}
	if matches[0].ID != "ent-1" || matches[0].Score != 0.91 {
		t.Fatalf("first match = %+v", matches[0])
	}
	if matches[1].Payload.EntityID != "ent-2" {
		t.Fatalf("second payload = %+v", matches[1].Payload)
	}

	filter := captured["filter"].(map[string]any)
	must := filter["must"].([]any)
	cond := must[0].(map[string]any)
	if cond["key"] != "document_id" {
		t.Fatalf("filter condition = %v", cond)
	}
	if captured["limit"] != float64(5) {
		t.Fatalf("limit = %v", captured["limit"])
	}
}

func TestQueryMatchesRejectsDimensionMismatch(t *testing.T) {
	store := newTestStore(t, func(req *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected request to %s", req.URL.String())
		return nil, nil
	})

	_, err := store.QueryMatches(context.Background(), []float32{1, 2}, 5, nil)
	var opError *OperationError
	if !errors.As(err, &opError) || opError.Code != OperationErrorValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestScrollAllFollowsPagination(t *testing.T) {
	pages := []string{
		`{"status": "ok", "result": {
			"points": [{"id": "p1", "vector": [1,0,0], "payload": {"_ag_chunk_id": "ent-1", "document_id": "doc-1", "text": "a"}}],
			"next_page_offset": "p2"
		}}`,
		`{"status": "ok", "result": {
			"points": [{"id": "p2", "vector": [0,1,0], "payload": {"_ag_chunk_id": "ent-2", "document_id": "doc-1", "text": "b"}}],
			"next_page_offset": null
		}}`,
	}
	call := 0
	store := newTestStore(t, func(req *http.Request) (*http.Response, error) {
		body := decodeBody(t, req)
		if call == 0 && body["offset"] != nil {
			t.Fatalf("first page should not send an offset, got %v", body["offset"])
		}
		if call == 1 && body["offset"] != "p2" {
			t.Fatalf("second page offset = %v", body["offset"])
		}
		resp := jsonResponse(200, pages[call])
		call++
		return resp, nil
	})

	var seen []string
	err := store.ScrollAll(context.Background(), 1, func(batch []vector.Document) error {
		for _, d := range batch {
			seen = append(seen, d.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ScrollAll: %v", err)
	}
	if call != 2 {
		t.Fatalf("calls = %d", call)
	}
	if len(seen) != 2 || seen[0] != "ent-1" || seen[1] != "ent-2" {
		t.Fatalf("seen = %v", seen)
	}
}

func TestCountByFilter(t *testing.T) {
	store := newTestStore(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/collections/chunks/points/count" {
			t.Fatalf("url = %s", req.URL.String())
		}
		body := decodeBody(t, req)
		if body["exact"] != true {
			t.Fatalf("exact = %v", body["exact"])
		}
		return jsonResponse(200, `{"status": "ok", "result": {"count": 42}}`), nil
	})

	n, err := store.CountByFilter(context.Background(), vector.Filter{"document_id": "doc-1"})
	if err != nil {
		t.Fatalf("CountByFilter: %v", err)
	}
	if n != 42 {
		t.Fatalf("count = %d", n)
	}
}

func TestDeleteByFilterRefusesEmptyFilter(t *testing.T) {
	store := newTestStore(t, func(req *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected request to %s", req.URL.String())
		return nil, nil
	})

	err := store.DeleteByFilter(context.Background(), nil)
	var opError *OperationError
	if !errors.As(err, &opError) || opError.Code != OperationErrorValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeleteByFilterPostsTranslatedFilter(t *testing.T) {
	store := newTestStore(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/collections/chunks/points/delete" {
			t.Fatalf("url = %s", req.URL.String())
		}
		body := decodeBody(t, req)
		if body["filter"] == nil {
			t.Fatalf("missing filter in %v", body)
		}
		return jsonResponse(200, `{"status": "ok", "result": {"operation_id": 1}}`), nil
	})

	if err := store.DeleteByFilter(context.Background(), vector.Filter{"entity_id": "ent-1"}); err != nil {
		t.Fatalf("DeleteByFilter: %v", err)
	}
}

func TestErrorEnvelopeAndStatusSurfaceAsQueryFailed(t *testing.T) {
	t.Run("http error status", func(t *testing.T) {
		store := newTestStore(t, func(req *http.Request) (*http.Response, error) {
			return jsonResponse(500, `{"status": {"error": "wrong shard"}}`), nil
		})
		_, err := store.CountByFilter(context.Background(), nil)
		var opError *OperationError
		if !errors.As(err, &opError) || opError.Code != OperationErrorQueryFailed || opError.StatusCode != 500 {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("error inside 200 envelope", func(t *testing.T) {
		store := newTestStore(t, func(req *http.Request) (*http.Response, error) {
			return jsonResponse(200, `{"status": {"error": "collection not found"}, "result": null}`), nil
		})
		_, err := store.CountByFilter(context.Background(), nil)
		var opError *OperationError
		if !errors.As(err, &opError) || opError.Code != OperationErrorQueryFailed {
			t.Fatalf("err = %v", err)
		}
		if !strings.Contains(opError.Message, "collection not found") {
			t.Fatalf("message = %q", opError.Message)
		}
	})
}

func TestNormalizeScoreInvertsDistanceMetrics(t *testing.T) {
	store := newTestStore(t, nil)
	store.distance = "Cosine"
	if got := store.normalizeScore(0.7); got != 0.7 {
		t.Fatalf("cosine score = %v", got)
	}
	store.distance = "Euclid"
	if got := store.normalizeScore(1.0); got != 0.5 {
		t.Fatalf("euclid score = %v", got)
	}
}
