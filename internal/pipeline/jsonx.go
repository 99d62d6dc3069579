package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// ErrUnparsableModelOutput is terminal: retrying the same prompt is unlikely
// to produce parseable JSON, but the queue still retries per its policy.
// Operators must watch for repeated failures on the same resource.
var ErrUnparsableModelOutput = errors.New("model output could not be parsed as JSON")

var fencedJSONRe = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// parseModelJSON decodes model output into out: a direct parse first, then
// one fenced ```json block extraction as a repair heuristic. No further
// guessing beyond that single repair.
func parseModelJSON(text string, out any) error {
	if err := json.Unmarshal([]byte(text), out); err == nil {
		return nil
	}

	m := fencedJSONRe.FindStringSubmatch(text)
	if m == nil {
		return fmt.Errorf("%w: no fenced json block found", ErrUnparsableModelOutput)
	}
	if err := json.Unmarshal([]byte(m[1]), out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnparsableModelOutput, err)
	}
	return nil
}
