package llm

import (
	"regexp"
	"strings"

	"github.com/goccy/go-json"

	"responder_server/pkg/apperr"
)

// bareKeyRe quotes unquoted object keys, a frequent model output slip.
var bareKeyRe = regexp.MustCompile(`([{,]\s*)([a-zA-Z0-9_]+)\s*:`)

// DecodeLenient parses model output that is supposed to be a JSON
// object but often arrives wrapped in markdown fences, prefixed with
// prose, or with bare keys. It extracts the outermost braces, repairs
// the keys, and unmarshals into v.
func DecodeLenient(text string, v interface{}) error {
	cleaned := StripFences(text)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return apperr.InvalidResponse("no JSON object in model output")
	}
	cleaned = cleaned[start : end+1]

	if err := json.Unmarshal([]byte(cleaned), v); err == nil {
		return nil
	}

	repaired := bareKeyRe.ReplaceAllString(cleaned, `$1"$2":`)
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return apperr.InvalidResponse("malformed JSON in model output").WithError(err)
	}
	return nil
}

// StripFences removes markdown code fences around a payload.
func StripFences(text string) string {
	t := strings.TrimSpace(text)
	if strings.HasPrefix(t, "```") {
		if idx := strings.Index(t, "\n"); idx >= 0 {
			t = t[idx+1:]
		} else {
			t = strings.TrimPrefix(t, "```json")
			t = strings.TrimPrefix(t, "```")
		}
	}
	if idx := strings.LastIndex(t, "```"); idx >= 0 {
		t = t[:idx]
	}
	return strings.TrimSpace(t)
}
