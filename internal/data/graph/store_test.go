package graph

import (
	"errors"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/auditgraph/auditgraph-backend/internal/domain"
	agerrors "github.com/auditgraph/auditgraph-backend/internal/pkg/errors"
)

func TestSafeLabelRejectsCypherInjection(t *testing.T) {
	for _, label := range []string{"Risk", "FailureMode", "A_1"} {
		if got, err := safeLabel(label); err != nil || got != label {
			t.Fatalf("safeLabel(%q) = %q, %v", label, got, err)
		}
	}
	for _, label := range []string{"", "9Risk", "Risk) DETACH DELETE (n", "Risk`", "a b"} {
		_, err := safeLabel(label)
		var verr *agerrors.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("safeLabel(%q): expected validation error, got %v", label, err)
		}
	}
}

func TestEntityNodePropsSkipsReservedKeys(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := &domain.Entity{
		ID:        "ent-1",
		Type:      domain.EntityRisk,
		CreatedAt: now,
		UpdatedAt: now,
		Properties: map[string]any{
			"name":            "Weld cracks",
			"id":              "spoofed",
			"provenance_json": "spoofed",
		},
		Provenance: []domain.Provenance{
			{DocumentID: "doc-1", Confidence: 0.9},
		},
	}

	props, err := entityNodeProps(e, "risk|weld cracks")
	if err != nil {
		t.Fatalf("entityNodeProps: %v", err)
	}
	if props["id"] != "ent-1" {
		t.Fatalf("id = %v", props["id"])
	}
	if props["business_key"] != "risk|weld cracks" {
		t.Fatalf("business_key = %v", props["business_key"])
	}
	if props["name"] != "Weld cracks" {
		t.Fatalf("name = %v", props["name"])
	}
	if props["created_at"] != now.Format(time.RFC3339Nano) {
		t.Fatalf("created_at = %v", props["created_at"])
	}
	raw, _ := props["provenance_json"].(string)
	if raw == "" || raw == "spoofed" {
		t.Fatalf("provenance_json = %q", raw)
	}
}

func TestEntityFromNodeRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := &domain.Entity{
		ID:        "ent-1",
		Type:      domain.EntityFailureMode,
		CreatedAt: now,
		UpdatedAt: now,
		Properties: map[string]any{
			"name": "Cold joint",
			"rpn":  120.0,
		},
		Provenance: []domain.Provenance{
			{DocumentID: "doc-1", Confidence: 0.8},
		},
	}
	props, err := entityNodeProps(e, "cold joint")
	if err != nil {
		t.Fatalf("entityNodeProps: %v", err)
	}

	got := entityFromNode(neo4j.Node{Labels: []string{"FailureMode"}, Props: props})
	if got.ID != "ent-1" || got.Type != domain.EntityFailureMode {
		t.Fatalf("got = %+v", got)
	}
	if got.Properties["name"] != "Cold joint" || got.Properties["rpn"] != 120.0 {
		t.Fatalf("properties = %+v", got.Properties)
	}
	if _, leaked := got.Properties["business_key"]; leaked {
		t.Fatalf("business_key leaked into properties")
	}
	if len(got.Provenance) != 1 || got.Provenance[0].DocumentID != "doc-1" {
		t.Fatalf("provenance = %+v", got.Provenance)
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatalf("created_at = %v", got.CreatedAt)
	}
}
