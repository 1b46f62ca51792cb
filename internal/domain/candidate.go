package domain

import (
	"fmt"
	"strings"
)

// ExtractionCandidate is the transient typed form of one extracted entity.
// It lives only between the extraction adapter and reconciliation; it is
// never persisted.
type ExtractionCandidate struct {
	Type       EntityType
	Properties map[string]any
	Confidence float64
	SourceRef  SourceReference
}

// RelationshipCandidate references endpoints symbolically as
// "EntityType:businessKey" strings, resolved to ids during reconciliation.
// Type stays a raw string here: the allow-list check happens during
// reconciliation, where a bad type becomes a recorded conflict rather than
// an extraction failure.
type RelationshipCandidate struct {
	From       string
	To         string
	Type       string
	Confidence float64
	Properties map[string]any
	SourceRef  SourceReference
}

// SymbolicRef is a parsed "EntityType:businessKey" endpoint reference.
type SymbolicRef struct {
	Type EntityType
	Key  string
}

func (r SymbolicRef) String() string {
	return string(r.Type) + ":" + r.Key
}

// ParseSymbolicRef splits and normalizes a symbolic endpoint reference.
func ParseSymbolicRef(raw string) (SymbolicRef, error) {
	typePart, keyPart, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return SymbolicRef{}, fmt.Errorf("symbolic reference %q: missing type separator", raw)
	}
	et, ok := ParseEntityType(typePart)
	if !ok {
		return SymbolicRef{}, fmt.Errorf("symbolic reference %q: unknown entity type %q", raw, typePart)
	}
	key := NormalizeKey(keyPart)
	if key == "" {
		return SymbolicRef{}, fmt.Errorf("symbolic reference %q: empty business key", raw)
	}
	return SymbolicRef{Type: et, Key: key}, nil
}
