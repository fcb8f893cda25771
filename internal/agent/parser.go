// internal/agent/parser.go
package agent

import (
	"fmt"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/navigator/internal/llmutil"
)

// rawExcerptLen bounds how much of a rejected response is kept on a ParseFailure.
const rawExcerptLen = 300

// numberPreserving decodes numbers as json.Number so integer checks see the
// literal the model wrote rather than a rounded float.
var numberPreserving = json.Config{UseNumber: true}.Froze()

// ParsedOutcome is the result of parsing one model response: exactly one of
// Action or Failure is set.
type ParsedOutcome struct {
	Action    *Action
	Failure   *ParseFailure
	Reasoning string
}

// OK reports whether a valid action was extracted.
func (o ParsedOutcome) OK() bool { return o.Action != nil }

// Parse extracts the single action object from a raw model response and validates it.
//
// The response may wrap the object in prose or markdown fences. Every balanced
// top-level object that decodes and carries an "action" key is a candidate; there
// must be exactly one. Zero or several candidates, or a candidate that fails
// Validate, produce a ParseFailure. Parse is deterministic and never guesses.
func Parse(raw string, bounds Bounds) ParsedOutcome {
	fragments := llmutil.ExtractJSONObjects(raw)

	var (
		candidates []map[string]interface{}
		used       []llmutil.Fragment
	)
	for _, f := range fragments {
		var fields map[string]interface{}
		if err := numberPreserving.UnmarshalFromString(f.Text, &fields); err != nil {
			continue
		}
		if _, ok := fields["action"]; !ok {
			continue
		}
		candidates = append(candidates, fields)
		used = append(used, f)
	}

	switch len(candidates) {
	case 0:
		reason := "no action object found"
		if strings.TrimSpace(raw) == "" {
			reason = "empty response"
		} else if len(fragments) > 0 {
			reason = "no well-formed action object found"
		}
		return failure(raw, reason, nil)
	case 1:
	default:
		return failure(raw, fmt.Sprintf("ambiguous response: %d action objects", len(candidates)), nil)
	}

	fields := candidates[0]
	reasoning := reasoningFrom(fields)
	if reasoning == "" {
		reasoning = llmutil.Prose(raw, used[0])
	}

	action, err := Validate(fields, bounds)
	if err != nil {
		verr, _ := err.(*ValidationError)
		out := failure(raw, "invalid action: "+err.Error(), verr)
		out.Reasoning = reasoning
		return out
	}
	return ParsedOutcome{Action: &action, Reasoning: reasoning}
}

func failure(raw, reason string, verr *ValidationError) ParsedOutcome {
	return ParsedOutcome{Failure: &ParseFailure{
		Reason:     reason,
		RawExcerpt: llmutil.Truncate(strings.TrimSpace(raw), rawExcerptLen),
		Validation: verr,
	}}
}

// reasoningFrom reads an explicit rationale field if the model supplied one.
func reasoningFrom(fields map[string]interface{}) string {
	for _, key := range []string{"reasoning", "thought"} {
		if s, ok := fields[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
