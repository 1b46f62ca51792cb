package domain

import (
	"fmt"
	"strings"
	"time"
)

// EntityType is the closed set of node variants in the compliance ontology.
type EntityType string

const (
	EntityProcess       EntityType = "Process"
	EntityAudit         EntityType = "Audit"
	EntityDocument      EntityType = "Document"
	EntityFailureMode   EntityType = "FailureMode"
	EntityRisk          EntityType = "Risk"
	EntityControl       EntityType = "Control"
	EntityFinding       EntityType = "Finding"
	EntityRequirement   EntityType = "Requirement"
	EntityProcedureStep EntityType = "ProcedureStep"
	EntityIncident      EntityType = "Incident"
)

// AllEntityTypes lists every variant, in a stable order.
var AllEntityTypes = []EntityType{
	EntityProcess,
	EntityAudit,
	EntityDocument,
	EntityFailureMode,
	EntityRisk,
	EntityControl,
	EntityFinding,
	EntityRequirement,
	EntityProcedureStep,
	EntityIncident,
}

// ParseEntityType resolves a raw type tag, case-insensitively.
func ParseEntityType(raw string) (EntityType, bool) {
	trimmed := strings.TrimSpace(raw)
	for _, et := range AllEntityTypes {
		if strings.EqualFold(trimmed, string(et)) {
			return et, true
		}
	}
	return "", false
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

func ValidRiskLevel(raw string) bool {
	switch RiskLevel(strings.ToUpper(strings.TrimSpace(raw))) {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	default:
		return false
	}
}

// SourceReference points back into the raw document a fact came from.
type SourceReference struct {
	Section   string `json:"section"`
	Page      int    `json:"page,omitempty"`
	LineStart int    `json:"line_start,omitempty"`
	LineEnd   int    `json:"line_end,omitempty"`
}

// Provenance records one fact-producing extraction event. Entities
// accumulate these append-only across re-ingestions and supersessions.
type Provenance struct {
	DocumentID string          `json:"document_id"`
	Method     string          `json:"method"`
	Timestamp  time.Time       `json:"timestamp"`
	Confidence float64         `json:"confidence"`
	SourceRef  SourceReference `json:"source_ref"`
}

// Entity is the persisted node shape shared by all variants. Variant-specific
// fields live in Properties; dispatch on Type for validation and keying.
type Entity struct {
	ID         string         `json:"id"`
	Type       EntityType     `json:"type"`
	Properties map[string]any `json:"properties"`
	Provenance []Provenance   `json:"provenance"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func propString(props map[string]any, key string) string {
	if props == nil {
		return ""
	}
	v, ok := props[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// ValidateProperties applies variant-specific validation to a raw property
// map. It reports the first violation; an empty map is always invalid.
func ValidateProperties(et EntityType, props map[string]any) error {
	if len(props) == 0 {
		return fmt.Errorf("%s: empty property map", et)
	}
	missing := func(key string) error {
		return fmt.Errorf("%s: missing required property %q", et, key)
	}
	switch et {
	case EntityProcess:
		if propString(props, "name") == "" {
			return missing("name")
		}
	case EntityAudit:
		if propString(props, "auditDate") == "" {
			return missing("auditDate")
		}
	case EntityDocument:
		if propString(props, "name") == "" {
			return missing("name")
		}
	case EntityFailureMode:
		if propString(props, "code") == "" {
			return missing("code")
		}
	case EntityRisk:
		if propString(props, "name") == "" {
			return missing("name")
		}
		if lvl := propString(props, "level"); lvl != "" && !ValidRiskLevel(lvl) {
			return fmt.Errorf("%s: invalid level %q", et, lvl)
		}
	case EntityControl:
		if propString(props, "name") == "" {
			return missing("name")
		}
	case EntityFinding:
		if propString(props, "title") == "" && propString(props, "name") == "" {
			return missing("title")
		}
	case EntityRequirement:
		if propString(props, "code") == "" && propString(props, "name") == "" {
			return missing("code")
		}
	case EntityProcedureStep:
		if propString(props, "name") == "" {
			return missing("name")
		}
	case EntityIncident:
		if propString(props, "incidentId") == "" && propString(props, "name") == "" {
			return missing("incidentId")
		}
	default:
		return fmt.Errorf("unknown entity type %q", et)
	}
	return nil
}
