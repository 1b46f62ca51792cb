package domain

import (
	"fmt"
	"strings"
)

// NormalizeKey canonicalizes a business-key fragment: trimmed, lowercased,
// internal whitespace collapsed. Two extractions of the same real-world
// thing must normalize to the same key.
func NormalizeKey(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(raw))), " ")
}

// BusinessKey derives the deterministic type-specific identity used to
// detect the same real-world thing across extractions.
//
// Per type:
//
//	Process        name + version
//	Audit          auditDate
//	Document       documentId (falls back to name)
//	FailureMode    code
//	Risk           name
//	Control        name
//	Finding        findingId (falls back to title, then name)
//	Requirement    code (falls back to name)
//	ProcedureStep  process + stepNumber (falls back to name)
//	Incident       incidentId (falls back to date + name)
func BusinessKey(et EntityType, props map[string]any) (string, error) {
	first := func(keys ...string) string {
		for _, k := range keys {
			if v := propString(props, k); v != "" {
				return v
			}
		}
		return ""
	}

	var key string
	switch et {
	case EntityProcess:
		name := propString(props, "name")
		if name == "" {
			return "", fmt.Errorf("%s: business key requires name", et)
		}
		key = name
		if v := propString(props, "version"); v != "" {
			key = name + "|" + v
		}
	case EntityAudit:
		key = propString(props, "auditDate")
		if key == "" {
			return "", fmt.Errorf("%s: business key requires auditDate", et)
		}
	case EntityDocument:
		key = first("documentId", "name")
	case EntityFailureMode:
		key = propString(props, "code")
		if key == "" {
			return "", fmt.Errorf("%s: business key requires code", et)
		}
	case EntityRisk:
		key = propString(props, "name")
	case EntityControl:
		key = propString(props, "name")
	case EntityFinding:
		key = first("findingId", "title", "name")
	case EntityRequirement:
		key = first("code", "name")
	case EntityProcedureStep:
		proc := propString(props, "process")
		step := propString(props, "stepNumber")
		if proc != "" && step != "" {
			key = proc + "|" + step
		} else {
			key = propString(props, "name")
		}
	case EntityIncident:
		key = propString(props, "incidentId")
		if key == "" {
			date := propString(props, "date")
			name := propString(props, "name")
			if date != "" && name != "" {
				key = date + "|" + name
			} else {
				key = name
			}
		}
	default:
		return "", fmt.Errorf("unknown entity type %q", et)
	}

	key = NormalizeKey(key)
	if key == "" {
		return "", fmt.Errorf("%s: empty business key", et)
	}
	return key, nil
}
