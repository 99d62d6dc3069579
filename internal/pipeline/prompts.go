package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/kmathur/briefly/pkg/models"
)

func defensiveAnalysisPrompt(content string) string {
	return fmt.Sprintf(`Analyze the following text for logical fallacies, biases, and weaknesses. Provide the output as a JSON array of findings. Each finding should include 'type' (e.g., 'Logical Fallacy', 'Bias', 'Weak Argument'), 'quote' (the exact text from the document), and 'explanation' (why it's a weakness).

Text:
%q`, content)
}

func synthesisPrompt(findings []models.Finding, coherence models.CoherenceReport) string {
	findingsJSON, _ := json.MarshalIndent(findings, "", "  ")
	coherenceJSON, _ := json.MarshalIndent(coherence, "", "  ")

	return fmt.Sprintf(`Synthesize the following analysis findings into a comprehensive "opinion" document. The output must be a single, valid JSON object conforming to the schema below. The generated text adheres to the "disclaimer-ready" persona.

Defensive Analysis: %s

Internal Coherence: %s

Schema Example:
{
  "executiveSummary": "...",
  "keyInsights": "...",
  "immediateActions": "...",
  "criticalWarnings": "...",
  "keyMetrics": {},
  "toolsResources": {},
  "peopleCompanies": [],
  "primaryKeywords": [],
  "semanticTags": [],
  "questionBasedTags": [],
  "disclaimer": %q
}`, findingsJSON, coherenceJSON, models.DefaultDisclaimer)
}
