package extractor

import "github.com/auditgraph/auditgraph-backend/internal/domain"

const systemPreamble = `You extract compliance knowledge from audit and quality documents into a fixed ontology.

Entity types: Process, Audit, Document, FailureMode, Risk, Control, Finding, Requirement, ProcedureStep, Incident.
Relationship types: IMPLIES, MITIGATES, ADDRESSES, EVALUATES, IMPLEMENTS, APPLIED_IN, OCCURRED_IN, REPORTED_IN.

Rules that always apply:
- Only report facts stated in the content. Never invent entities.
- Refer to relationship endpoints as "EntityType:businessKey", where the business key is the entity's identifying field (FailureMode code, Process name, Control name, Audit date, Requirement code).
- Confidence reflects how explicitly the content states the fact, between 0 and 1.
- Property keys use camelCase: name, code, version, level, rpn, severity, occurrence, detection, description, auditDate, findingId, incidentId, stepNumber, process, date.`

const tableInstructions = systemPreamble + `

This content is one group of table rows sharing a grouping value, rendered as "column: value" pairs.
- Each row typically yields one FailureMode (by code), its Risk (IMPLIES), and any Control that MITIGATES the failure mode.
- Carry numeric columns (severity, occurrence, detection, rpn) as properties on the FailureMode.
- Risk level is one of LOW, MEDIUM, HIGH, CRITICAL when the content states or clearly implies it.`

const narrativeInstructions = systemPreamble + `

This content is narrative prose.
- Procedure manuals yield ProcedureStep entities (with stepNumber and the owning process name) that IMPLEMENT Controls.
- Audit narratives yield an Audit (by auditDate), the Processes it EVALUATES, and Findings REPORTED_IN the audit.
- Incidents OCCURRED_IN the process where they happened.`

// instructionsFor selects the document-type-specific rule set: distinct
// instructions for table-shaped vs narrative content.
func instructionsFor(dt domain.DocumentType) string {
	if dt.Tabular() {
		return tableInstructions
	}
	return narrativeInstructions
}
