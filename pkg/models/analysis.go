package models

// Finding is one weakness extracted by the defensive analysis stage.
type Finding struct {
	Type        string `json:"type"`
	Quote       string `json:"quote"`
	Explanation string `json:"explanation"`
}

// Coherence relationship classifications. The check is a heuristic: false
// negatives are expected, the goal is flagging likely contradictions for
// human review.
const (
	RelationshipContradicts = "CONTRADICTS"
	RelationshipUnknown     = "UNKNOWN"
)

// CoherenceReport is the internal coherence stage's comparison of new
// findings against previously stored content.
type CoherenceReport struct {
	Relationship  string          `json:"relationship"`
	CitedDocument string          `json:"cited_document,omitempty"`
	SimilarChunks []*SimilarChunk `json:"similar_chunks,omitempty"`
}

// OpinionDocument is the synthesis stage's structured output, merged from the
// defensive analysis and coherence reports. The disclaimer is mandatory; the
// stage injects DefaultDisclaimer when the model omits it.
type OpinionDocument struct {
	ExecutiveSummary  string         `json:"executiveSummary"`
	KeyInsights       string         `json:"keyInsights"`
	ImmediateActions  string         `json:"immediateActions"`
	CriticalWarnings  string         `json:"criticalWarnings"`
	KeyMetrics        map[string]any `json:"keyMetrics"`
	ToolsResources    map[string]any `json:"toolsResources"`
	PeopleCompanies   []string       `json:"peopleCompanies"`
	PrimaryKeywords   []string       `json:"primaryKeywords"`
	SemanticTags      []string       `json:"semanticTags"`
	QuestionBasedTags []string       `json:"questionBasedTags"`
	Disclaimer        string         `json:"disclaimer"`
}

// DefaultDisclaimer is injected into synthesized opinions that arrive without
// a disclaimer field.
const DefaultDisclaimer = "This report is generated by an AI and should not be considered as professional advice. Always consult with a human expert for critical decisions."
