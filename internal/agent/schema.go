// internal/agent/schema.go
package agent

import (
	"fmt"
	"math"
	"net/url"
	"strings"
)

// Defaults applied when the model omits an optional field.
const (
	DefaultScrollAmount   = 300
	DefaultWaitDurationMS = 1000
	DefaultDoneSummary    = "Goal completed"
)

// fieldAliases maps canonical field names to alternates the model is known to use.
var fieldAliases = map[string]string{
	"duration_ms": "ms",
	"summary":     "result",
}

// Validate turns decoded model fields into an Action or a *ValidationError. When
// bounds are known, click coordinates must fall inside them. It has no side effects.
func Validate(fields map[string]interface{}, bounds Bounds) (Action, error) {
	raw, ok := fields["action"]
	if !ok {
		return Action{}, &ValidationError{Field: "action", Reason: ReasonMissing}
	}
	name, ok := raw.(string)
	if !ok {
		return Action{}, &ValidationError{Field: "action", Reason: ReasonWrongType, Detail: "expected string"}
	}

	a := Action{Type: ActionType(strings.ToLower(strings.TrimSpace(name)))}
	var err error

	switch a.Type {
	case ActionClick:
		if a.X, err = requiredInt(fields, "x"); err != nil {
			return Action{}, err
		}
		if a.Y, err = requiredInt(fields, "y"); err != nil {
			return Action{}, err
		}
		if a.X < 0 || (bounds.Known() && a.X >= bounds.Width) {
			return Action{}, &ValidationError{Field: "x", Reason: ReasonOutOfRange, Detail: fmt.Sprintf("%d outside [0, %d)", a.X, bounds.Width)}
		}
		if a.Y < 0 || (bounds.Known() && a.Y >= bounds.Height) {
			return Action{}, &ValidationError{Field: "y", Reason: ReasonOutOfRange, Detail: fmt.Sprintf("%d outside [0, %d)", a.Y, bounds.Height)}
		}

	case ActionTypeText:
		if a.Text, err = requiredString(fields, "text"); err != nil {
			return Action{}, err
		}

	case ActionScroll:
		dir, present, err := optionalString(fields, "direction")
		if err != nil {
			return Action{}, err
		}
		if !present {
			dir = string(ScrollDown)
		}
		switch ScrollDirection(strings.ToLower(dir)) {
		case ScrollUp, ScrollDown:
			a.Direction = ScrollDirection(strings.ToLower(dir))
		default:
			return Action{}, &ValidationError{Field: "direction", Reason: ReasonOutOfRange, Detail: "expected up or down"}
		}
		if a.Amount, err = optionalNonNegativeInt(fields, "amount", DefaultScrollAmount); err != nil {
			return Action{}, err
		}

	case ActionNavigate:
		if a.URL, err = requiredString(fields, "url"); err != nil {
			return Action{}, err
		}
		if err := ValidateURL(a.URL); err != nil {
			return Action{}, &ValidationError{Field: "url", Reason: ReasonMalformedURL, Detail: err.Error()}
		}

	case ActionWait:
		if a.DurationMS, err = optionalNonNegativeInt(fields, "duration_ms", DefaultWaitDurationMS); err != nil {
			return Action{}, err
		}

	case ActionDone:
		summary, present, err := optionalString(fields, "summary")
		if err != nil {
			return Action{}, err
		}
		if !present || strings.TrimSpace(summary) == "" {
			summary = DefaultDoneSummary
		}
		a.Summary = summary

	default:
		return Action{}, &ValidationError{Field: "action", Reason: ReasonUnknownAction, Detail: fmt.Sprintf("%q", name)}
	}

	return a, nil
}

// ValidateURL accepts only absolute http(s) URLs with a host.
func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// lookup finds a field by its canonical name or its alias.
func lookup(fields map[string]interface{}, key string) (interface{}, bool) {
	if v, ok := fields[key]; ok {
		return v, true
	}
	if alias, ok := fieldAliases[key]; ok {
		v, ok := fields[alias]
		return v, ok
	}
	return nil, false
}

func requiredString(fields map[string]interface{}, key string) (string, error) {
	s, present, err := optionalString(fields, key)
	if err != nil {
		return "", err
	}
	if !present {
		return "", &ValidationError{Field: key, Reason: ReasonMissing}
	}
	return s, nil
}

func optionalString(fields map[string]interface{}, key string) (string, bool, error) {
	v, ok := lookup(fields, key)
	if !ok || v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", true, &ValidationError{Field: key, Reason: ReasonWrongType, Detail: "expected string"}
	}
	return s, true, nil
}

func requiredInt(fields map[string]interface{}, key string) (int, error) {
	v, ok := lookup(fields, key)
	if !ok || v == nil {
		return 0, &ValidationError{Field: key, Reason: ReasonMissing}
	}
	return toInt(key, v)
}

func optionalNonNegativeInt(fields map[string]interface{}, key string, def int) (int, error) {
	v, ok := lookup(fields, key)
	if !ok || v == nil {
		return def, nil
	}
	n, err := toInt(key, v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, &ValidationError{Field: key, Reason: ReasonOutOfRange, Detail: "must not be negative"}
	}
	return n, nil
}

// jsonNumber is satisfied by both encoding/json.Number and jsoniter.Number.
type jsonNumber interface {
	Int64() (int64, error)
	Float64() (float64, error)
}

// toInt accepts integral JSON numbers in any of the forms a decoder may produce.
// 12.0 is accepted; 12.5 and "12" are not.
func toInt(key string, v interface{}) (int, error) {
	var f float64
	switch n := v.(type) {
	case jsonNumber:
		if i, err := n.Int64(); err == nil {
			if i > math.MaxInt32 || i < math.MinInt32 {
				return 0, &ValidationError{Field: key, Reason: ReasonOutOfRange, Detail: "integer too large"}
			}
			return int(i), nil
		}
		parsed, err := n.Float64()
		if err != nil {
			return 0, &ValidationError{Field: key, Reason: ReasonWrongType, Detail: "expected integer"}
		}
		f = parsed
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		return n, nil
	case int64:
		if n > math.MaxInt32 || n < math.MinInt32 {
			return 0, &ValidationError{Field: key, Reason: ReasonOutOfRange, Detail: "integer too large"}
		}
		return int(n), nil
	default:
		return 0, &ValidationError{Field: key, Reason: ReasonWrongType, Detail: "expected integer"}
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, &ValidationError{Field: key, Reason: ReasonWrongType, Detail: "expected integer"}
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, &ValidationError{Field: key, Reason: ReasonOutOfRange, Detail: "integer too large"}
	}
	return int(f), nil
}
