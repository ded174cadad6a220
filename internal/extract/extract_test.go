package extract

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestObjectNeverNil(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"no json here at all",
		"\x00\x01\xff binary garbage",
		"}}}}{{{{",
		"{\"broken\": ",
		"`````",
		"[1,2,3]",
	}

	for _, input := range inputs {
		result := Object(input)
		if result == nil {
			t.Fatalf("expected non-nil result for input %q", input)
		}
	}
}

func TestObjectMatchesDirectParseOnValidInput(t *testing.T) {
	input := `{"transcript":"hello","overall_score":8.5,"nested":{"a":[1,2]}}`

	var direct map[string]any
	if err := json.Unmarshal([]byte(input), &direct); err != nil {
		t.Fatalf("fixture must be valid JSON: %v", err)
	}

	repaired := Object(input)
	if !reflect.DeepEqual(direct, repaired) {
		t.Fatalf("repair changed a valid object: direct=%v repaired=%v", direct, repaired)
	}
}

func TestRawStripsMarkdownFences(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{name: "plain fences", input: "```\n{\"a\":1}\n```"},
		{name: "json tag", input: "```json\n{\"a\":1}\n```"},
		{name: "uppercase tag", input: "```JSON\n{\"a\":1}\n```"},
		{name: "stray backticks", input: "``{\"a\":1}``"},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			result := Object(testCase.input)
			if result["a"] != float64(1) {
				t.Fatalf("expected a=1, got %v", result)
			}
		})
	}
}

func TestRawDiscardsLeadingProse(t *testing.T) {
	input := "Sure! Here is the analysis you asked for:\n{\"transcript\":\"ok\"}"
	result := Object(input)
	if result["transcript"] != "ok" {
		t.Fatalf("expected transcript=ok, got %v", result)
	}
}

func TestRawTruncatesTrailingProse(t *testing.T) {
	input := `{"transcript":"ok","overall_score":7} I hope this helps! Let me know.`
	raw := Raw(input)
	if raw != `{"transcript":"ok","overall_score":7}` {
		t.Fatalf("expected exact balanced object, got %q", raw)
	}
}

func TestRawInsertsMissingCommaBeforeQuotedKey(t *testing.T) {
	input := `{"a":"x" "b":"y"}`
	result := Object(input)
	if result["a"] != "x" || result["b"] != "y" {
		t.Fatalf("expected both keys recovered, got %v", result)
	}
}

func TestRawInsertsMissingCommaWithoutWhitespace(t *testing.T) {
	input := `{"a":"x""b":"y"}`
	result := Object(input)
	if result["a"] != "x" || result["b"] != "y" {
		t.Fatalf("expected both keys recovered, got %v", result)
	}
}

func TestRawInsertsMissingCommaBeforeBareKey(t *testing.T) {
	input := `{"a":"x" b":"y"}`
	result := Object(input)
	if result["a"] != "x" || result["b"] != "y" {
		t.Fatalf("expected bare key requoted, got %v", result)
	}
}

func TestRawInsertsConsecutiveMissingCommas(t *testing.T) {
	input := "{\"a\":\"x\"\n\"b\":\"y\"\n\"c\":\"z\"}"
	result := Object(input)
	if result["a"] != "x" || result["b"] != "y" || result["c"] != "z" {
		t.Fatalf("expected all three keys recovered, got %v", result)
	}
}

func TestRawRecoversPrefixWhenTailIsAmbiguous(t *testing.T) {
	// Balance returns to zero after the first value; the tail is dropped.
	input := `{"a":"x"} b":"y"}`
	result := Object(input)
	if result["a"] != "x" {
		t.Fatalf("expected prefix object with a=x, got %v", result)
	}
}

func TestRawAggressivePass(t *testing.T) {
	cases := []struct {
		name  string
		input string
		check func(t *testing.T, result map[string]any)
	}{
		{
			name:  "trailing comma",
			input: `{"items":["a","b",],}`,
			check: func(t *testing.T, result map[string]any) {
				items, ok := result["items"].([]any)
				if !ok || len(items) != 2 {
					t.Fatalf("expected two items, got %v", result)
				}
			},
		},
		{
			name:  "raw newline inside string",
			input: "{\"summary\":\"line one\nline two\", \"n\":1",
			check: func(t *testing.T, result map[string]any) {
				if result["summary"] != "line one line two" {
					t.Fatalf("expected collapsed newline, got %v", result)
				}
			},
		},
		{
			name:  "missing closing brace",
			input: `{"a":1,"b":"two"`,
			check: func(t *testing.T, result map[string]any) {
				if result["b"] != "two" {
					t.Fatalf("expected recovered object, got %v", result)
				}
			},
		},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			testCase.check(t, Object(testCase.input))
		})
	}
}

func TestRawUnrecoverableReturnsEmptyObject(t *testing.T) {
	inputs := []string{
		"",
		"no braces anywhere",
		`{"open": [1, 2`,
	}

	for _, input := range inputs {
		raw := Raw(input)
		var decoded map[string]any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			t.Fatalf("Raw must always return parseable JSON, got %q for %q", raw, input)
		}
	}
}

func TestRawIdempotent(t *testing.T) {
	input := "```json\n{\"a\":\"x\" \"b\":\"y\"}\n``` trailing note"
	once := Raw(input)
	twice := Raw(once)
	if once != twice {
		t.Fatalf("repair is not idempotent: %q vs %q", once, twice)
	}
}
