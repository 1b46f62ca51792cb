package domain

import "strings"

// RelationshipType is the fixed edge vocabulary.
type RelationshipType string

const (
	RelImplies    RelationshipType = "IMPLIES"
	RelMitigates  RelationshipType = "MITIGATES"
	RelAddresses  RelationshipType = "ADDRESSES"
	RelEvaluates  RelationshipType = "EVALUATES"
	RelImplements RelationshipType = "IMPLEMENTS"
	RelAppliedIn  RelationshipType = "APPLIED_IN"
	RelOccurredIn RelationshipType = "OCCURRED_IN"
	RelReportedIn RelationshipType = "REPORTED_IN"

	// RelSupersedes links a new entity version to the head it replaced.
	// Created only by reconciliation, never accepted from extraction.
	RelSupersedes RelationshipType = "SUPERSEDES"

	// RelProduced is the ownership edge from a Document to every node its
	// ingestion created. Created only by the persistence layer; drives
	// cascade deletion in the consistency sweeper.
	RelProduced RelationshipType = "PRODUCED"
)

type RelationshipStatus string

const (
	RelStatusProposed  RelationshipStatus = "PROPOSED"
	RelStatusConfirmed RelationshipStatus = "CONFIRMED"
)

// Relationship is a persisted directed typed edge.
type Relationship struct {
	ID               string             `json:"id"`
	FromID           string             `json:"from_id"`
	ToID             string             `json:"to_id"`
	Type             RelationshipType   `json:"type"`
	Confidence       float64            `json:"confidence"`
	SourceDocumentID string             `json:"source_document_id"`
	ExtractorID      string             `json:"extractor_id"`
	Status           RelationshipStatus `json:"status,omitempty"`
	Properties       map[string]any     `json:"properties,omitempty"`
}

type typePair struct {
	from EntityType
	to   EntityType
}

// relationshipAllowList maps each extractable relationship type to the
// (source-variant, target-variant) pairs it may connect. SUPERSEDES and
// PRODUCED are deliberately absent: they are system edges.
var relationshipAllowList = map[RelationshipType][]typePair{
	RelImplies: {
		{EntityFailureMode, EntityRisk},
	},
	RelMitigates: {
		{EntityControl, EntityFailureMode},
	},
	RelAddresses: {
		{EntityControl, EntityFinding},
		{EntityRequirement, EntityRisk},
		{EntityControl, EntityRequirement},
	},
	RelEvaluates: {
		{EntityAudit, EntityProcess},
		{EntityAudit, EntityControl},
	},
	RelImplements: {
		{EntityProcedureStep, EntityControl},
		{EntityProcess, EntityRequirement},
	},
	RelAppliedIn: {
		{EntityControl, EntityProcess},
		{EntityRequirement, EntityProcess},
	},
	RelOccurredIn: {
		{EntityIncident, EntityProcess},
	},
	RelReportedIn: {
		{EntityFinding, EntityAudit},
		{EntityIncident, EntityAudit},
	},
}

// ParseRelationshipType resolves a raw extracted edge label. Only
// extractable types resolve; system edges do not.
func ParseRelationshipType(raw string) (RelationshipType, bool) {
	rt := RelationshipType(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := relationshipAllowList[rt]; ok {
		return rt, true
	}
	return "", false
}

// ValidRelationship reports whether rt may connect a from-variant to a
// to-variant. Violating pairs are rejected before persistence.
func ValidRelationship(rt RelationshipType, from, to EntityType) bool {
	if rt == RelSupersedes {
		return from == to && from != ""
	}
	for _, p := range relationshipAllowList[rt] {
		if p.from == from && p.to == to {
			return true
		}
	}
	return false
}
