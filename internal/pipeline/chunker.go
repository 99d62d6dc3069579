package pipeline

import (
	"strings"

	"github.com/kmathur/briefly/pkg/models"
)

const fallbackChunk = "No summary available."

// synthesisText joins the opinion's prose sections into the text that gets
// chunked and embedded.
func synthesisText(op models.OpinionDocument) string {
	sections := []string{op.ExecutiveSummary, op.KeyInsights, op.ImmediateActions, op.CriticalWarnings}
	var nonEmpty []string
	for _, s := range sections {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	return strings.Join(nonEmpty, " ")
}

// chunkText splits text into chunks of at most size words. Always returns at
// least one chunk; empty input yields the fallback placeholder so the
// resource stays searchable.
func chunkText(text string, size int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{fallbackChunk}
	}

	var chunks []string
	for start := 0; start < len(words); start += size {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}
