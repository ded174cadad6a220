// Package extract recovers a single JSON object from unreliable free-text
// model output. Every consumer of raw model text goes through this package so
// tolerance guarantees are uniform: the functions are pure, total, and never
// panic. When nothing can be recovered they return an empty object, never nil.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fencePattern = regexp.MustCompile("```(?:json|JSON)?\\s*")

	// A quoted value followed by a quoted key with no comma. The separator
	// whitespace is optional: keys can butt directly against the value.
	missingCommaQuoted = regexp.MustCompile(`("\s*:\s*"[^"]*")\s*("[A-Za-z0-9_]+"\s*:)`)
	// Same, but the following key lost its opening quote.
	missingCommaBare = regexp.MustCompile(`("\s*:\s*"[^"]*")\s*([A-Za-z0-9_]+"\s*:)`)

	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// Object returns the best-effort parsed object for raw. It never returns nil:
// unrecoverable input yields an empty map.
func Object(raw string) map[string]any {
	result := make(map[string]any)
	_ = json.Unmarshal([]byte(Raw(raw)), &result)
	if result == nil {
		result = make(map[string]any)
	}
	return result
}

// Raw returns repaired JSON text guaranteed to parse as an object. Callers
// that need a typed result unmarshal the returned string themselves.
// Unrecoverable input yields "{}".
func Raw(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return "{}"
	}

	cleaned = fencePattern.ReplaceAllString(cleaned, "")
	cleaned = strings.Trim(cleaned, "`")
	cleaned = strings.TrimSpace(cleaned)

	// Models frequently prepend prose before the object.
	start := strings.Index(cleaned, "{")
	if start < 0 {
		return "{}"
	}
	cleaned = cleaned[start:]

	// Adjacent repairs share the key's closing quote, so one pass cannot fix
	// consecutive missing commas. Iterate until stable.
	for {
		repaired := missingCommaQuoted.ReplaceAllString(cleaned, `$1, $2`)
		repaired = missingCommaBare.ReplaceAllString(repaired, `$1, "$2`)
		if repaired == cleaned {
			break
		}
		cleaned = repaired
	}

	cleaned = truncateAtBalance(cleaned)

	if parsesAsObject(cleaned) {
		return cleaned
	}

	fixed := trailingComma.ReplaceAllString(cleaned, `$1`)
	fixed = collapseNewlinesInStrings(fixed)
	fixed = strings.ReplaceAll(fixed, `\"`, `"`)
	fixed = strings.ReplaceAll(fixed, `\n`, " ")
	if !strings.HasSuffix(fixed, "}") && strings.Contains(fixed, "{") {
		fixed += "}"
	}

	if parsesAsObject(fixed) {
		return fixed
	}
	return "{}"
}

// truncateAtBalance cuts the string at the first point where brace depth
// returns to zero. An unbalanced tail is left as-is for the aggressive pass.
func truncateAtBalance(s string) string {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return s
}

func collapseNewlinesInStrings(s string) string {
	var builder strings.Builder
	builder.Grow(len(s))

	inString := false
	escaped := false
	for _, char := range s {
		if escaped {
			escaped = false
			builder.WriteRune(char)
			continue
		}
		switch char {
		case '\\':
			escaped = true
			builder.WriteRune(char)
		case '"':
			inString = !inString
			builder.WriteRune(char)
		case '\n', '\r':
			if inString {
				builder.WriteRune(' ')
			} else {
				builder.WriteRune(char)
			}
		default:
			builder.WriteRune(char)
		}
	}
	return builder.String()
}

func parsesAsObject(s string) bool {
	var decoded map[string]any
	return json.Unmarshal([]byte(s), &decoded) == nil
}
