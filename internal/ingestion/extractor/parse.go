package extractor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/auditgraph/auditgraph-backend/internal/domain"
)

const extractionSchemaName = "compliance_extraction"

// extractionSchema is the strict json_schema the provider must satisfy.
// Properties are key/value pairs (strict structured outputs disallow
// free-form objects); values arrive as strings and are coerced on parse.
func extractionSchema() map[string]any {
	propertyPairs := map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"key":   map[string]any{"type": "string"},
				"value": map[string]any{"type": "string"},
			},
			"required":             []string{"key", "value"},
			"additionalProperties": false,
		},
	}

	entityTypes := make([]string, 0, len(domain.AllEntityTypes))
	for _, et := range domain.AllEntityTypes {
		entityTypes = append(entityTypes, string(et))
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"entities": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type":       map[string]any{"type": "string", "enum": entityTypes},
						"properties": propertyPairs,
						"confidence": map[string]any{"type": "number"},
					},
					"required":             []string{"type", "properties", "confidence"},
					"additionalProperties": false,
				},
			},
			"relationships": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"from":       map[string]any{"type": "string"},
						"to":         map[string]any{"type": "string"},
						"type":       map[string]any{"type": "string"},
						"confidence": map[string]any{"type": "number"},
						"properties": propertyPairs,
					},
					"required":             []string{"from", "to", "type", "confidence", "properties"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"entities", "relationships"},
		"additionalProperties": false,
	}
}

// parsePayload converts the untyped provider payload into typed candidates.
// The payload never crosses this boundary untyped: any structural surprise
// fails the whole segment.
func parsePayload(raw map[string]any, ref domain.SourceReference) ([]domain.ExtractionCandidate, []domain.RelationshipCandidate, error) {
	rawEntities, err := asSlice(raw, "entities")
	if err != nil {
		return nil, nil, err
	}
	rawRels, err := asSlice(raw, "relationships")
	if err != nil {
		return nil, nil, err
	}

	entities := make([]domain.ExtractionCandidate, 0, len(rawEntities))
	for i, item := range rawEntities {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, nil, fmt.Errorf("entities[%d]: expected object, got %T", i, item)
		}
		typeRaw, _ := obj["type"].(string)
		et, ok := domain.ParseEntityType(typeRaw)
		if !ok {
			return nil, nil, fmt.Errorf("entities[%d]: unknown entity type %q", i, typeRaw)
		}
		props, err := parsePropertyPairs(obj["properties"])
		if err != nil {
			return nil, nil, fmt.Errorf("entities[%d]: %w", i, err)
		}
		conf, err := parseConfidence(obj["confidence"])
		if err != nil {
			return nil, nil, fmt.Errorf("entities[%d]: %w", i, err)
		}
		entities = append(entities, domain.ExtractionCandidate{
			Type:       et,
			Properties: props,
			Confidence: conf,
			SourceRef:  ref,
		})
	}

	relationships := make([]domain.RelationshipCandidate, 0, len(rawRels))
	for i, item := range rawRels {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, nil, fmt.Errorf("relationships[%d]: expected object, got %T", i, item)
		}
		from, _ := obj["from"].(string)
		to, _ := obj["to"].(string)
		relType, _ := obj["type"].(string)
		if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" || strings.TrimSpace(relType) == "" {
			return nil, nil, fmt.Errorf("relationships[%d]: from/to/type are required", i)
		}
		props, err := parsePropertyPairs(obj["properties"])
		if err != nil {
			return nil, nil, fmt.Errorf("relationships[%d]: %w", i, err)
		}
		conf, err := parseConfidence(obj["confidence"])
		if err != nil {
			return nil, nil, fmt.Errorf("relationships[%d]: %w", i, err)
		}
		relationships = append(relationships, domain.RelationshipCandidate{
			From:       strings.TrimSpace(from),
			To:         strings.TrimSpace(to),
			Type:       strings.TrimSpace(relType),
			Confidence: conf,
			Properties: props,
			SourceRef:  ref,
		})
	}

	return entities, relationships, nil
}

func asSlice(raw map[string]any, key string) ([]any, error) {
	v, ok := raw[key]
	if !ok {
		return nil, fmt.Errorf("payload missing %q", key)
	}
	s, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("payload %q: expected array, got %T", key, v)
	}
	return s, nil
}

// parsePropertyPairs converts [{key, value}] into a property map, coercing
// numeric-looking values so rpn/severity comparisons work downstream.
func parsePropertyPairs(raw any) (map[string]any, error) {
	if raw == nil {
		return map[string]any{}, nil
	}
	pairs, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("properties: expected array of pairs, got %T", raw)
	}
	out := make(map[string]any, len(pairs))
	for i, p := range pairs {
		obj, ok := p.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("properties[%d]: expected object, got %T", i, p)
		}
		key, _ := obj["key"].(string)
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("properties[%d]: empty key", i)
		}
		value, _ := obj["value"].(string)
		out[key] = coerceValue(value)
	}
	return out, nil
}

func coerceValue(v string) any {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return ""
	}
	if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return n
	}
	return trimmed
}

func parseConfidence(raw any) (float64, error) {
	f, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("confidence: expected number, got %T", raw)
	}
	if f < 0 || f > 1 {
		return 0, fmt.Errorf("confidence %g out of range [0,1]", f)
	}
	return f, nil
}
