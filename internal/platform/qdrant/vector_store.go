package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/auditgraph/auditgraph-backend/internal/pkg/ctxutil"
	"github.com/auditgraph/auditgraph-backend/internal/platform/logger"
	"github.com/auditgraph/auditgraph-backend/internal/vector"
)

const (
	payloadChunkIDKey = "_ag_chunk_id"
	maxErrorBodyBytes = 1024
)

var pointIDNamespaceUUID = uuid.MustParse("6c1c6f6a-9f1e-4f2b-8e53-2f7a1d0b44c3")

type vectorStore struct {
	log      *logger.Logger
	cfg      Config
	baseURL  string
	distance string
	http     *http.Client
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type qdrantPointItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score,omitempty"`
	Payload map[string]any  `json:"payload"`
	Vector  []float32       `json:"vector,omitempty"`
}

// NewVectorStore builds the Qdrant-backed vector.Store. The collection
// must already exist with the configured dimension.
func NewVectorStore(log *logger.Logger, cfg Config) (vector.Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	s := &vectorStore{
		log:     log.With("service", "QdrantVectorStore"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	if err := s.verifyReady(context.Background()); err != nil {
		return nil, err
	}

	log.Info(
		"Qdrant vector store selected",
		"provider", "qdrant",
		"url", s.baseURL,
		"collection", cfg.Collection,
		"vector_dim", cfg.VectorDim,
		"distance", s.distance,
	)
	return s, nil
}

func (s *vectorStore) Name() string { return "qdrant" }

func (s *vectorStore) UpsertDocuments(ctx context.Context, docs []vector.Document) error {
	const op = "upsert"
	if len(docs) == 0 {
		return nil
	}

	points := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		chunkID := strings.TrimSpace(d.ID)
		if chunkID == "" {
			return opErr(op, OperationErrorValidation, "chunk id is required", nil)
		}
		if len(d.Vector) == 0 {
			return opErr(op, OperationErrorValidation, fmt.Sprintf("chunk %q has empty vector", chunkID), nil)
		}
		if s.cfg.VectorDim > 0 && len(d.Vector) != s.cfg.VectorDim {
			return opErr(
				op,
				OperationErrorValidation,
				fmt.Sprintf(
					"chunk %q dimension mismatch: expected=%d got=%d",
					chunkID,
					s.cfg.VectorDim,
					len(d.Vector),
				),
				nil,
			)
		}
		payload := vector.PayloadMap(d.Payload)
		payload[payloadChunkIDKey] = chunkID
		points = append(points, map[string]any{
			"id":      s.pointID(chunkID),
			"vector":  d.Vector,
			"payload": payload,
		})
	}

	req := map[string]any{"points": points}
	return s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), req, nil)
}

func (s *vectorStore) QueryMatches(ctx context.Context, q []float32, topK int, filter vector.Filter) ([]vector.Match, error) {
	const op = "query"
	if len(q) == 0 {
		return nil, opErr(op, OperationErrorValidation, "query vector required", nil)
	}
	if s.cfg.VectorDim > 0 && len(q) != s.cfg.VectorDim {
		return nil, opErr(
			op,
			OperationErrorValidation,
			fmt.Sprintf("query vector dimension mismatch: expected=%d got=%d", s.cfg.VectorDim, len(q)),
			nil,
		)
	}
	if topK <= 0 {
		topK = 10
	}

	req := map[string]any{
		"vector":       q,
		"limit":        topK,
		"with_payload": true,
		"with_vector":  false,
	}
	if f := translateFilter(filter); f != nil {
		req["filter"] = f
	}

	var rawResults []qdrantPointItem
	if err := s.doJSON(
		ctx,
		op,
		http.MethodPost,
		s.collectionPath("/points/search"),
		req,
		&rawResults,
	); err != nil {
		return nil, err
	}

	out := make([]vector.Match, 0, len(rawResults))
	for _, item := range rawResults {
		id := extractChunkID(item)
		if id == "" {
			continue
		}
		out = append(out, vector.Match{
			ID:      id,
			Score:   s.normalizeScore(item.Score),
			Payload: vector.PayloadFromMap(item.Payload),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	return out, nil
}

func (s *vectorStore) ScrollAll(ctx context.Context, batchSize int, visit func(batch []vector.Document) error) error {
	const op = "scroll"
	if visit == nil {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	var offset json.RawMessage
	for {
		req := map[string]any{
			"limit":        batchSize,
			"with_payload": true,
			"with_vector":  true,
		}
		if offset != nil {
			req["offset"] = offset
		}

		var result struct {
			Points         []qdrantPointItem `json:"points"`
			NextPageOffset json.RawMessage   `json:"next_page_offset"`
		}
		if err := s.doJSON(
			ctx,
			op,
			http.MethodPost,
			s.collectionPath("/points/scroll"),
			req,
			&result,
		); err != nil {
			return err
		}
		if len(result.Points) == 0 {
			return nil
		}

		batch := make([]vector.Document, 0, len(result.Points))
		for _, item := range result.Points {
			id := extractChunkID(item)
			if id == "" {
				continue
			}
			batch = append(batch, vector.Document{
				ID:      id,
				Vector:  item.Vector,
				Payload: vector.PayloadFromMap(item.Payload),
			})
		}
		if err := visit(batch); err != nil {
			return err
		}

		if len(result.NextPageOffset) == 0 || string(result.NextPageOffset) == "null" {
			return nil
		}
		offset = result.NextPageOffset
	}
}

func (s *vectorStore) CountByFilter(ctx context.Context, filter vector.Filter) (int, error) {
	const op = "count"

	req := map[string]any{"exact": true}
	if f := translateFilter(filter); f != nil {
		req["filter"] = f
	}

	var result struct {
		Count int `json:"count"`
	}
	if err := s.doJSON(
		ctx,
		op,
		http.MethodPost,
		s.collectionPath("/points/count"),
		req,
		&result,
	); err != nil {
		return 0, err
	}
	return result.Count, nil
}

func (s *vectorStore) DeleteByFilter(ctx context.Context, filter vector.Filter) error {
	const op = "delete"
	f := translateFilter(filter)
	if f == nil {
		return opErr(op, OperationErrorValidation, "refusing to delete with empty filter", nil)
	}

	req := map[string]any{"filter": f}
	return s.doJSON(
		ctx,
		op,
		http.MethodPost,
		s.collectionPath("/points/delete?wait=true"),
		req,
		nil,
	)
}

func (s *vectorStore) verifyReady(ctx context.Context) error {
	const op = "bootstrap_verify"

	readyReq, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodGet, s.baseURL+"/readyz", nil)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build ready request failed", err)
	}
	readyResp, err := s.http.Do(readyReq)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant ready check failed", err)
	}
	_ = readyResp.Body.Close()
	if readyResp.StatusCode < 200 || readyResp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: readyResp.StatusCode,
			Message:    fmt.Sprintf("qdrant ready check returned status=%d", readyResp.StatusCode),
		}
	}

	var result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	if err := s.doJSON(
		ctx,
		op,
		http.MethodGet,
		s.collectionPath(""),
		nil,
		&result,
	); err != nil {
		return err
	}

	size := result.Config.Params.Vectors.Size
	if size != 0 && size != s.cfg.VectorDim {
		return &OperationError{
			Code:      OperationErrorValidation,
			Operation: op,
			Message: fmt.Sprintf(
				"qdrant collection %q vector size mismatch: expected=%d actual=%d",
				s.cfg.Collection,
				s.cfg.VectorDim,
				size,
			),
		}
	}
	s.distance = strings.TrimSpace(result.Config.Params.Vectors.Distance)
	return nil
}

func (s *vectorStore) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, s.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10*maxErrorBodyBytes))
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(envelope.Status); statusErr != "" {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}

	if out == nil {
		return nil
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") || strings.EqualFold(statusString, "acknowledged") || strings.EqualFold(statusString, "completed") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}

	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil {
		if strings.TrimSpace(statusObject.Error) != "" {
			return strings.TrimSpace(statusObject.Error)
		}
	}

	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

// translateFilter converts the boundary's equality filter into qdrant
// must-match conditions. Nil when there is nothing to filter on.
func translateFilter(filter vector.Filter) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	must := make([]any, 0, len(keys))
	for _, k := range keys {
		must = append(must, map[string]any{
			"key":   k,
			"match": map[string]any{"value": filter[k]},
		})
	}
	return map[string]any{"must": must}
}

func extractChunkID(item qdrantPointItem) string {
	if payloadID, ok := item.Payload[payloadChunkIDKey].(string); ok {
		if id := strings.TrimSpace(payloadID); id != "" {
			return id
		}
	}
	// Fallback to the raw point id; rare, since upsert always writes the
	// payload chunk id.
	return decodePointID(item.ID)
}

func decodePointID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var idString string
	if err := json.Unmarshal(raw, &idString); err == nil {
		return strings.TrimSpace(idString)
	}
	var idNumber int64
	if err := json.Unmarshal(raw, &idNumber); err == nil {
		return fmt.Sprintf("%d", idNumber)
	}
	return strings.TrimSpace(string(raw))
}

func (s *vectorStore) normalizeScore(score float64) float64 {
	switch strings.ToLower(strings.TrimSpace(s.distance)) {
	case "euclid", "manhattan":
		if score < 0 {
			score = -score
		}
		return 1.0 / (1.0 + score)
	default:
		return score
	}
}

func (s *vectorStore) pointID(chunkID string) string {
	deterministic := uuid.NewSHA1(pointIDNamespaceUUID, []byte(chunkID))
	return deterministic.String()
}

func (s *vectorStore) collectionPath(suffix string) string {
	path := "/collections/" + s.cfg.Collection
	if strings.TrimSpace(suffix) == "" {
		return path
	}
	return path + suffix
}
