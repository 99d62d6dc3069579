package pipeline

import (
	"fmt"
	"strings"

	"github.com/kmathur/briefly/pkg/models"
)

// ContradictionPolicy decides when retrieved chunks count as contradicting
// new findings. The rule is a heuristic with expected false negatives: the
// goal is flagging likely contradictions for human review, not detection
// guarantees. Both the cutoff and the marker list are tunable.
type ContradictionPolicy struct {
	Cutoff  float64
	Markers []string
}

// DefaultMarkers are the lexical disagreement signals checked against
// retrieved chunk content.
var DefaultMarkers = []string{"contradiction", "disagree"}

func NewContradictionPolicy(cutoff float64) ContradictionPolicy {
	return ContradictionPolicy{Cutoff: cutoff, Markers: DefaultMarkers}
}

// Classify inspects search hits and reports CONTRADICTS when a chunk above
// the cutoff lexically signals disagreement, UNKNOWN otherwise. Similar
// chunks are attached to the report only when a contradiction is found.
func (p ContradictionPolicy) Classify(chunks []*models.SimilarChunk) models.CoherenceReport {
	for _, chunk := range chunks {
		if chunk.Similarity <= p.Cutoff {
			continue
		}
		lower := strings.ToLower(chunk.Content)
		for _, marker := range p.Markers {
			if strings.Contains(lower, marker) {
				return models.CoherenceReport{
					Relationship:  models.RelationshipContradicts,
					CitedDocument: fmt.Sprintf("Resource: %s (Similarity: %g)", chunk.Title, chunk.Similarity),
					SimilarChunks: chunks,
				}
			}
		}
	}
	return models.CoherenceReport{Relationship: models.RelationshipUnknown}
}
