package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/auditgraph/auditgraph-backend/internal/domain"
	"github.com/auditgraph/auditgraph-backend/internal/ingestion/extractor"
	"github.com/auditgraph/auditgraph-backend/internal/ingestion/segmenter"
)

type scriptedProvider struct {
	failOn string
}

func (p *scriptedProvider) Model() string { return "scripted-model" }

func (p *scriptedProvider) GenerateJSON(_ context.Context, _ string, user string, _ string, _ map[string]any) (map[string]any, error) {
	if p.failOn != "" && strings.Contains(user, p.failOn) {
		return nil, fmt.Errorf("provider unavailable")
	}
	name := "entity"
	for _, line := range strings.Split(user, "\n") {
		if rest, ok := strings.CutPrefix(line, "name="); ok {
			name = strings.TrimSpace(rest)
		}
	}
	return map[string]any{
		"entities": []any{
			map[string]any{
				"type": "Risk",
				"properties": []any{
					map[string]any{"key": "name", "value": name},
					map[string]any{"key": "level", "value": "HIGH"},
				},
				"confidence": 0.9,
			},
		},
		"relationships": []any{},
	}, nil
}

func newExtractionService(t *testing.T, provider extractor.Provider) *IngestionService {
	t.Helper()
	log := testLog(t)
	adapter, err := extractor.NewAdapter(log, provider)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	return &IngestionService{log: log, adapter: adapter, concurrency: 2}
}

func TestExtractSegmentsCollectsPartialFailures(t *testing.T) {
	svc := newExtractionService(t, &scriptedProvider{failOn: "broken"})
	segments := []segmenter.Segment{
		{Text: "name=Weld cracks"},
		{Text: "this segment is broken"},
		{Text: "name=Line stoppage"},
	}
	summary := &domain.IngestionSummary{EntitiesCreated: map[string]int{}}

	entities, relationships, err := svc.extractSegments(
		context.Background(),
		IngestRequest{DocumentID: "doc-1", Type: domain.DocumentTypeFMEA},
		segments,
		summary,
	)
	if err != nil {
		t.Fatalf("extractSegments: %v", err)
	}
	if summary.SegmentsFailed != 1 {
		t.Fatalf("SegmentsFailed = %d", summary.SegmentsFailed)
	}
	if len(relationships) != 0 {
		t.Fatalf("relationships = %d", len(relationships))
	}
	if len(entities) != 2 {
		t.Fatalf("entities = %d", len(entities))
	}
	// Surviving segments keep their order.
	if entities[0].Properties["name"] != "Weld cracks" || entities[1].Properties["name"] != "Line stoppage" {
		t.Fatalf("entities = %+v", entities)
	}
}

func TestExtractSegmentsFailsWhenEverySegmentFails(t *testing.T) {
	svc := newExtractionService(t, &scriptedProvider{failOn: "name="})
	segments := []segmenter.Segment{
		{Text: "name=a"},
		{Text: "name=b"},
	}
	summary := &domain.IngestionSummary{EntitiesCreated: map[string]int{}}

	_, _, err := svc.extractSegments(
		context.Background(),
		IngestRequest{DocumentID: "doc-1", Type: domain.DocumentTypeFMEA},
		segments,
		summary,
	)
	if err == nil {
		t.Fatalf("expected error when every segment fails")
	}
	if summary.SegmentsFailed != 2 {
		t.Fatalf("SegmentsFailed = %d", summary.SegmentsFailed)
	}
}

func TestRenderEntityText(t *testing.T) {
	e := &domain.Entity{
		Type: domain.EntityRisk,
		Properties: map[string]any{
			"name":  "Weld cracks",
			"level": "HIGH",
			"notes": "  ",
			"rpn":   120.0,
		},
	}
	got := renderEntityText(e)
	want := "Risk; level: HIGH; name: Weld cracks; rpn: 120"
	if got != want {
		t.Fatalf("renderEntityText = %q, want %q", got, want)
	}

	if renderEntityText(nil) != "" {
		t.Fatalf("nil entity should render empty")
	}
	if got := renderEntityText(&domain.Entity{Type: domain.EntityControl}); got != "Control" {
		t.Fatalf("property-less entity = %q", got)
	}
}
