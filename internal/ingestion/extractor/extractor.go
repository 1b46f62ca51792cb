package extractor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/auditgraph/auditgraph-backend/internal/domain"
	agerrors "github.com/auditgraph/auditgraph-backend/internal/pkg/errors"
	"github.com/auditgraph/auditgraph-backend/internal/platform/logger"
)

// Provider is the slice of the LLM client the adapter needs.
type Provider interface {
	GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error)
	Model() string
}

// Request carries one segment to the extraction provider.
type Request struct {
	DocumentID   string
	DocumentType domain.DocumentType
	Content      string
	Context      string
	SourceRef    domain.SourceReference
	Metadata     map[string]string
	SegmentIndex int
}

// Result is the typed candidate set extracted from one segment, plus
// provider metadata for provenance.
type Result struct {
	Entities      []domain.ExtractionCandidate
	Relationships []domain.RelationshipCandidate
	ModelUsed     string
	Timestamp     time.Time
}

// Adapter turns segments into extraction candidates through the provider
// boundary. It never fabricates candidates: an unparseable payload drops
// the whole segment's contribution with an ExtractionError.
type Adapter struct {
	log      *logger.Logger
	provider Provider
}

func NewAdapter(log *logger.Logger, provider Provider) (*Adapter, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if provider == nil {
		return nil, fmt.Errorf("provider required")
	}
	return &Adapter{
		log:      log.With("service", "ExtractionAdapter"),
		provider: provider,
	}, nil
}

// ProviderModel names the model behind the adapter, recorded as the
// extractor id on persisted relationships.
func (a *Adapter) ProviderModel() string { return a.provider.Model() }

// Extract issues one provider call for the segment and parses the
// structured payload strictly. Transport retries happen inside the
// provider client; this layer only classifies outcomes.
func (a *Adapter) Extract(ctx context.Context, req Request) (Result, error) {
	if req.Content == "" {
		return Result{}, &agerrors.ExtractionError{
			Segment: req.SegmentIndex,
			Message: "empty segment content",
		}
	}

	system := instructionsFor(req.DocumentType)
	user := buildUserPrompt(req)

	raw, err := a.provider.GenerateJSON(ctx, system, user, extractionSchemaName, extractionSchema())
	if err != nil {
		return Result{}, &agerrors.ExtractionError{
			Segment: req.SegmentIndex,
			Message: "provider call failed",
			Cause:   err,
		}
	}

	entities, relationships, err := parsePayload(raw, req.SourceRef)
	if err != nil {
		a.log.Warn("dropping segment: unparseable extraction payload",
			"document_id", req.DocumentID,
			"segment", req.SegmentIndex,
			"error", err,
		)
		return Result{}, &agerrors.ExtractionError{
			Segment: req.SegmentIndex,
			Message: "malformed provider payload",
			Cause:   err,
		}
	}

	return Result{
		Entities:      entities,
		Relationships: relationships,
		ModelUsed:     a.provider.Model(),
		Timestamp:     time.Now().UTC(),
	}, nil
}

func buildUserPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Document type: ")
	b.WriteString(string(req.DocumentType))
	b.WriteString("\n")
	if req.Context != "" {
		b.WriteString("Segment context: ")
		b.WriteString(req.Context)
		b.WriteString("\n")
	}
	keys := make([]string, 0, len(req.Metadata))
	for k := range req.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "Metadata %s: %s\n", k, req.Metadata[k])
	}
	b.WriteString("\nContent:\n")
	b.WriteString(req.Content)
	return b.String()
}
