package extractor

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Result is the extracted readable content of a page.
type Result struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (r *Result) valid() bool {
	return r != nil && strings.TrimSpace(r.Title) != "" && strings.TrimSpace(r.Body) != ""
}

var (
	codeFencePattern  = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	jsonObjectPattern = regexp.MustCompile(`(?s)\{(?:[^{}]|\{[^{}]*\})*\}`)
)

// parseStrategy attempts to pull a Result out of a raw model response.
// Strategies are pure; nil means "no usable result, try the next one".
type parseStrategy func(raw string) *Result

var parseStrategies = []parseStrategy{
	parseDirect,
	parseFenced,
	parseKeyedObject,
	parseAnyObject,
}

// ParseResponse tries each strategy in order and returns the first valid
// Result, or nil when the response is unusable.
func ParseResponse(raw string) *Result {
	for _, strategy := range parseStrategies {
		if r := strategy(raw); r.valid() {
			r.Title = strings.TrimSpace(r.Title)
			r.Body = strings.TrimSpace(r.Body)
			return r
		}
	}
	return nil
}

func parseDirect(raw string) *Result {
	return unmarshalResult(strings.TrimSpace(raw))
}

// parseFenced strips Markdown code fences before parsing.
func parseFenced(raw string) *Result {
	m := codeFencePattern.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	return unmarshalResult(m[1])
}

// parseKeyedObject extracts the first {...} object containing both the
// "title" and "body" keys.
func parseKeyedObject(raw string) *Result {
	for _, candidate := range jsonObjectPattern.FindAllString(raw, -1) {
		if strings.Contains(candidate, `"title"`) && strings.Contains(candidate, `"body"`) {
			if r := unmarshalResult(candidate); r.valid() {
				return r
			}
		}
	}
	return nil
}

// parseAnyObject is the last resort: the first balanced-looking object.
func parseAnyObject(raw string) *Result {
	m := jsonObjectPattern.FindString(raw)
	if m == "" {
		return nil
	}
	return unmarshalResult(m)
}

func unmarshalResult(s string) *Result {
	var r Result
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil
	}
	return &r
}
