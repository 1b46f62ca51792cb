package services

import (
	"context"
	"fmt"
	"time"

	"github.com/auditgraph/auditgraph-backend/internal/data/graph"
	"github.com/auditgraph/auditgraph-backend/internal/platform/envutil"
	"github.com/auditgraph/auditgraph-backend/internal/platform/logger"
	"github.com/auditgraph/auditgraph-backend/internal/vector"
)

// DocumentSweepStore is the slice of the graph store the sweeper uses.
type DocumentSweepStore interface {
	ListFailedDocumentsBefore(ctx context.Context, cutoff time.Time) ([]graph.DocumentRecord, error)
	DeleteDocumentCascade(ctx context.Context, documentID string) (*graph.CascadeResult, error)
}

// CleanupService removes documents stuck FAILED past a threshold, along
// with everything they exclusively produced, in both stores. Safe to run
// alongside ingestion of unrelated documents: every delete is scoped to
// one document id.
type CleanupService struct {
	log    *logger.Logger
	graph  DocumentSweepStore
	vstore vector.Store
}

func NewCleanupService(log *logger.Logger, gs DocumentSweepStore, vstore vector.Store) (*CleanupService, error) {
	if log == nil || gs == nil {
		return nil, fmt.Errorf("logger and graph store required")
	}
	return &CleanupService{
		log:    log.With("service", "CleanupService"),
		graph:  gs,
		vstore: vstore,
	}, nil
}

// CleanupResult summarizes one sweep.
type CleanupResult struct {
	DocumentsDeleted int `json:"documents_deleted"`
	EntitiesDeleted  int `json:"entities_deleted"`
}

// CleanupFailedDocuments sweeps FAILED documents older than the cutoff.
// olderThanHours <= 0 uses the default of 24. Per-document failures are
// logged and skipped so one bad document never blocks the sweep.
func (s *CleanupService) CleanupFailedDocuments(ctx context.Context, olderThanHours int) (*CleanupResult, error) {
	if olderThanHours <= 0 {
		olderThanHours = 24
	}
	cutoff := time.Now().UTC().Add(-time.Duration(olderThanHours) * time.Hour)

	docs, err := s.graph.ListFailedDocumentsBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list failed documents: %w", err)
	}

	res := &CleanupResult{}
	for _, doc := range docs {
		cascade, err := s.graph.DeleteDocumentCascade(ctx, doc.ID)
		if err != nil {
			s.log.Error("failed to sweep document", "document_id", doc.ID, "error", err)
			continue
		}
		if s.vstore != nil {
			if err := s.vstore.DeleteByFilter(ctx, vector.Filter{"document_id": doc.ID}); err != nil {
				s.log.Warn("failed to drop vector chunks for swept document",
					"document_id", doc.ID, "error", err)
			}
		}
		res.DocumentsDeleted++
		res.EntitiesDeleted += cascade.EntitiesDeleted
		s.log.Info("swept failed document",
			"document_id", doc.ID,
			"entities_deleted", cascade.EntitiesDeleted,
			"shared_retained", cascade.SharedRetained)
	}
	return res, nil
}

// RunAtStartup performs one sweep when CLEANUP_ON_STARTUP is enabled.
func (s *CleanupService) RunAtStartup(ctx context.Context) {
	if !envutil.Bool("CLEANUP_ON_STARTUP", false) {
		return
	}
	hours := envutil.Int("CLEANUP_OLDER_THAN_HOURS", 24)
	res, err := s.CleanupFailedDocuments(ctx, hours)
	if err != nil {
		s.log.Error("startup cleanup failed", "error", err)
		return
	}
	s.log.Info("startup cleanup complete",
		"documents_deleted", res.DocumentsDeleted,
		"entities_deleted", res.EntitiesDeleted)
}
