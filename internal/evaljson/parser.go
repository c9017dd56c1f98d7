// Package evaljson extracts structured verdicts from free-form model output.
// Models tend to think aloud around their final JSON answer, so extraction
// favors the last well-formed object in the text.
package evaljson

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"portraitserver/internal/domain"
)

// LastJSONObject returns the last balanced-brace JSON object found in text,
// or nil when none parses. Prose before and after the object is ignored.
func LastJSONObject(text string) map[string]any {
	var last map[string]any
	depth := 0
	start := -1
	for i, r := range text {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				candidate := text[start : i+1]
				var obj map[string]any
				if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
					last = obj
				}
				start = -1
			}
		}
	}
	return last
}

// YesNo coerces v to YES or NO. Anything unrecognized, including non-string
// input, maps to NO.
func YesNo(v any) domain.Verdict {
	switch normalize(v) {
	case "YES":
		return domain.VerdictYes
	default:
		return domain.VerdictNo
	}
}

// TriState coerces v to YES, NO or UNCERTAIN, defaulting to UNCERTAIN.
func TriState(v any) domain.Verdict {
	switch normalize(v) {
	case "YES":
		return domain.VerdictYes
	case "NO":
		return domain.VerdictNo
	default:
		return domain.VerdictUncertain
	}
}

// QuadState coerces v to YES, NO, UNCERTAIN or N/A, defaulting to N/A.
func QuadState(v any) domain.Verdict {
	switch normalize(v) {
	case "YES":
		return domain.VerdictYes
	case "NO":
		return domain.VerdictNo
	case "UNCERTAIN":
		return domain.VerdictUncertain
	default:
		return domain.VerdictNA
	}
}

func normalize(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

// Evaluator produces a parsed verdict object for the given 1-based attempt,
// returning nil (with no error) when the model output could not be parsed.
type Evaluator func(ctx context.Context, attempt int) (map[string]any, error)

// EvaluateWithRetry calls eval up to maxAttempts times, retrying only on nil
// parse results. The first non-nil result wins. Exhausting all attempts
// returns nil, nil: a missing verdict is a handleable outcome, not a fault.
// Errors from eval itself propagate immediately.
func EvaluateWithRetry(ctx context.Context, logger zerolog.Logger, maxAttempts int, eval Evaluator) (map[string]any, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		obj, err := eval(ctx, attempt)
		if err != nil {
			return nil, err
		}
		if obj != nil {
			return obj, nil
		}
		logger.Warn().Int("attempt", attempt).Int("max_attempts", maxAttempts).Msg("evaljson: unparseable evaluation output")
	}
	return nil, nil
}
