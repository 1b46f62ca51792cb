package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/auditgraph/auditgraph-backend/internal/clients/redis"
	"github.com/auditgraph/auditgraph-backend/internal/data/graph"
	"github.com/auditgraph/auditgraph-backend/internal/domain"
	"github.com/auditgraph/auditgraph-backend/internal/ingestion/extractor"
	"github.com/auditgraph/auditgraph-backend/internal/ingestion/segmenter"
	agerrors "github.com/auditgraph/auditgraph-backend/internal/pkg/errors"
	"github.com/auditgraph/auditgraph-backend/internal/platform/envutil"
	"github.com/auditgraph/auditgraph-backend/internal/platform/logger"
	"github.com/auditgraph/auditgraph-backend/internal/reconcile"
	"github.com/auditgraph/auditgraph-backend/internal/vector"
)

// ErrIngestionInFlight means another run already holds this document id.
var ErrIngestionInFlight = errors.New("ingestion already in flight for document")

// IngestRequest is the upload boundary input.
type IngestRequest struct {
	DocumentID string
	Name       string
	Type       domain.DocumentType
	Content    string
	Metadata   map[string]string
}

// IngestionService runs the pipeline per document:
// PENDING -> PROCESSING -> {PROCESSED | FAILED}. Segment extraction runs
// concurrently; all graph writes for one document commit in a single
// transaction.
type IngestionService struct {
	log         *logger.Logger
	graph       *graph.Store
	adapter     *extractor.Adapter
	reconciler  *reconcile.Engine
	indexer     *vector.Indexer
	vstore      vector.Store
	lock        redis.Locker
	concurrency int
}

func NewIngestionService(
	log *logger.Logger,
	gs *graph.Store,
	adapter *extractor.Adapter,
	reconciler *reconcile.Engine,
	indexer *vector.Indexer,
	vstore vector.Store,
	lock redis.Locker,
) (*IngestionService, error) {
	if log == nil || gs == nil || adapter == nil || reconciler == nil || lock == nil {
		return nil, fmt.Errorf("logger, graph store, adapter, reconciler, lock required")
	}
	return &IngestionService{
		log:         log.With("service", "IngestionService"),
		graph:       gs,
		adapter:     adapter,
		reconciler:  reconciler,
		indexer:     indexer,
		vstore:      vstore,
		lock:        lock,
		concurrency: envutil.Int("INGEST_SEGMENT_CONCURRENCY", 4),
	}, nil
}

// Ingest runs one document through the whole pipeline and returns the
// outcome summary. The summary is returned even on failure, with Status
// FAILED and Error populated.
func (s *IngestionService) Ingest(ctx context.Context, req IngestRequest) (*domain.IngestionSummary, error) {
	if req.DocumentID == "" {
		return nil, &agerrors.ValidationError{Field: "document_id", Message: "document id required"}
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, &agerrors.ValidationError{Field: "content", Message: "document content required"}
	}

	release, ok, err := s.lock.Acquire(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("acquire ingest lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIngestionInFlight, req.DocumentID)
	}
	defer release()

	started := time.Now()
	summary := &domain.IngestionSummary{
		DocumentID:      req.DocumentID,
		EntitiesCreated: map[string]int{},
	}

	if err := s.graph.CreateDocument(ctx, graph.DocumentRecord{
		ID:   req.DocumentID,
		Name: req.Name,
		Type: req.Type,
	}); err != nil {
		return nil, fmt.Errorf("register document: %w", err)
	}
	if err := s.graph.UpdateDocumentStatus(ctx, req.DocumentID, domain.DocumentProcessing, ""); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	if err := s.run(ctx, req, summary); err != nil {
		summary.Status = domain.DocumentFailed
		summary.Error = err.Error()
		summary.ProcessingTimeMS = time.Since(started).Milliseconds()
		if uerr := s.graph.UpdateDocumentStatus(ctx, req.DocumentID, domain.DocumentFailed, err.Error()); uerr != nil {
			s.log.Error("failed to mark document FAILED", "document_id", req.DocumentID, "error", uerr)
		}
		return summary, err
	}

	summary.Status = domain.DocumentProcessed
	summary.ProcessingTimeMS = time.Since(started).Milliseconds()
	if err := s.graph.UpdateDocumentStatus(ctx, req.DocumentID, domain.DocumentProcessed, ""); err != nil {
		return summary, fmt.Errorf("mark processed: %w", err)
	}
	s.log.Info("document ingested",
		"document_id", req.DocumentID,
		"segments_failed", summary.SegmentsFailed,
		"relationships", summary.RelationshipsCreated,
		"elapsed_ms", summary.ProcessingTimeMS)
	return summary, nil
}

func (s *IngestionService) run(ctx context.Context, req IngestRequest, summary *domain.IngestionSummary) error {
	segments := segmenter.Split(req.Content, req.Type)
	if len(segments) == 0 {
		return fmt.Errorf("no segments produced from document content")
	}

	entities, relationships, err := s.extractSegments(ctx, req, segments, summary)
	if err != nil {
		return err
	}

	plan, err := s.reconciler.Reconcile(ctx, req.DocumentID, "llm_extraction", entities, relationships)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	for _, c := range plan.Conflicts {
		summary.Conflicts = append(summary.Conflicts, c.Error())
	}

	if err := s.applyPlan(ctx, req.DocumentID, plan, summary); err != nil {
		return err
	}

	if err := s.indexEntities(ctx, req.DocumentID, plan); err != nil {
		return fmt.Errorf("vector indexing: %w", err)
	}
	return nil
}

// extractSegments fans segment extraction out over a bounded errgroup.
// Per-segment failures are collected, not fatal, unless every segment
// fails.
func (s *IngestionService) extractSegments(
	ctx context.Context,
	req IngestRequest,
	segments []segmenter.Segment,
	summary *domain.IngestionSummary,
) ([]domain.ExtractionCandidate, []domain.RelationshipCandidate, error) {
	results := make([]*extractor.Result, len(segments))
	var mu sync.Mutex
	var failures []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, seg := range segments {
		g.Go(func() error {
			res, err := s.adapter.Extract(gctx, extractor.Request{
				DocumentID:   req.DocumentID,
				DocumentType: req.Type,
				Content:      seg.Text,
				Context:      seg.Context,
				SourceRef:    seg.SourceRef,
				Metadata:     req.Metadata,
				SegmentIndex: i,
			})
			if err != nil {
				var exErr *agerrors.ExtractionError
				if errors.As(err, &exErr) {
					mu.Lock()
					failures = append(failures, err)
					mu.Unlock()
					s.log.Warn("segment extraction failed",
						"document_id", req.DocumentID, "segment", i, "error", err)
					return nil
				}
				return err
			}
			results[i] = &res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("segment extraction: %w", err)
	}

	summary.SegmentsFailed = len(failures)
	if len(failures) == len(segments) {
		return nil, nil, fmt.Errorf("all %d segments failed extraction: %w", len(segments), failures[0])
	}

	var entities []domain.ExtractionCandidate
	var relationships []domain.RelationshipCandidate
	for _, res := range results {
		if res == nil {
			continue
		}
		entities = append(entities, res.Entities...)
		relationships = append(relationships, res.Relationships...)
	}
	return entities, relationships, nil
}

// applyPlan commits every graph write for the document in one
// transaction. Any failure rolls the whole document back.
func (s *IngestionService) applyPlan(ctx context.Context, documentID string, plan reconcile.Result, summary *domain.IngestionSummary) error {
	err := s.graph.WithWriteTx(ctx, func(tx *graph.Tx) error {
		for _, op := range plan.EntityOps {
			switch op.Kind {
			case reconcile.OpCreate:
				if err := tx.CreateEntity(ctx, op.Entity, op.BusinessKey); err != nil {
					return fmt.Errorf("create %s: %w", op.BusinessKey, err)
				}
				summary.EntitiesCreated[string(op.Type)]++
			case reconcile.OpSupersede:
				if err := tx.SupersedeEntity(ctx, op.Entity, op.BusinessKey, op.HeadID); err != nil {
					return fmt.Errorf("supersede %s: %w", op.BusinessKey, err)
				}
				summary.EntitiesCreated[string(op.Type)]++
			case reconcile.OpMergeProvenance:
				if err := tx.MergeIntoHead(ctx, op.HeadID, op.AddProps, op.Provenance); err != nil {
					return fmt.Errorf("merge %s: %w", op.BusinessKey, err)
				}
			default:
				return fmt.Errorf("unknown entity op kind %q", op.Kind)
			}
		}

		ids := make([]string, 0, len(plan.EntityIDs))
		for _, id := range plan.EntityIDs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if err := tx.RecordProduced(ctx, documentID, id); err != nil {
				return fmt.Errorf("record produced %s: %w", id, err)
			}
		}

		for _, op := range plan.RelationshipOps {
			rel := domain.Relationship{
				FromID:           op.FromID,
				ToID:             op.ToID,
				Type:             op.Type,
				Confidence:       op.Confidence,
				SourceDocumentID: documentID,
				ExtractorID:      s.adapter.ProviderModel(),
				Status:           domain.RelStatusProposed,
				Properties:       op.Properties,
			}
			if err := tx.CreateRelationship(ctx, rel); err != nil {
				return fmt.Errorf("relationship %s-[%s]->%s: %w", op.FromID, op.Type, op.ToID, err)
			}
			summary.RelationshipsCreated++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("graph transaction: %w", err)
	}
	return nil
}

// indexEntities embeds and upserts one chunk per created or superseded
// entity. Skipped entirely when no vector backend is configured.
func (s *IngestionService) indexEntities(ctx context.Context, documentID string, plan reconcile.Result) error {
	if s.indexer == nil {
		return nil
	}

	var chunks []vector.Chunk
	for _, op := range plan.EntityOps {
		if op.Entity == nil {
			continue
		}
		if op.Kind == reconcile.OpSupersede && s.vstore != nil {
			// The prior head's chunk points at a historical version now.
			if err := s.vstore.DeleteByFilter(ctx, vector.Filter{"entity_id": op.HeadID}); err != nil {
				s.log.Warn("failed to drop superseded chunk",
					"entity_id", op.HeadID, "error", err)
			}
		}
		text := renderEntityText(op.Entity)
		if text == "" {
			continue
		}
		var ref domain.SourceReference
		if len(op.Entity.Provenance) > 0 {
			ref = op.Entity.Provenance[len(op.Entity.Provenance)-1].SourceRef
		}
		chunks = append(chunks, vector.Chunk{
			ID: op.Entity.ID,
			Payload: vector.Payload{
				DocumentID: documentID,
				EntityID:   op.Entity.ID,
				Text:       text,
				SourceRef:  ref,
			},
		})
	}
	if len(chunks) == 0 {
		return nil
	}
	n, err := s.indexer.IndexChunks(ctx, chunks)
	if err != nil {
		return err
	}
	s.log.Info("indexed entity chunks", "document_id", documentID, "count", n)
	return nil
}

// renderEntityText flattens an entity into embedding text:
// "Type. key: value; ..." with stable key order.
func renderEntityText(e *domain.Entity) string {
	if e == nil {
		return ""
	}
	keys := make([]string, 0, len(e.Properties))
	for k := range e.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(e.Type))
	for _, k := range keys {
		v := fmt.Sprintf("%v", e.Properties[k])
		if strings.TrimSpace(v) == "" {
			continue
		}
		b.WriteString("; ")
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
	}
	return b.String()
}
