package assessment

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/hpungsan/medcase/internal/clinical"
)

// UnparseableMessage is shown when the model reply is not the expected JSON.
const UnparseableMessage = "Nie udało się zinterpretować odpowiedzi modelu."

// Score bounds of an interpreted assessment.
const (
	minScore = 0
	maxScore = 100
)

// fenceOpenRegex matches an opening code fence with an optional language tag.
var fenceOpenRegex = regexp.MustCompile("^```[a-zA-Z]*\n")

// Assessment is the structured verdict on a finished case run. Any field may
// be empty when the model declines to assess.
type Assessment struct {
	Score     *int     `json:"score"`
	Verdict   string   `json:"verdict"`
	Summary   string   `json:"summary"`
	Positives []string `json:"positives"`
	Negatives []string `json:"negatives"`
}

// Result is the outcome of interpreting a summary reply. Exactly one of
// Assessment and Error is set; Raw always carries the model text (empty when
// the model was never reached).
type Result struct {
	Assessment *Assessment `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
	Raw        string      `json:"raw"`
}

// OK reports whether the reply was interpreted.
func (r *Result) OK() bool {
	return r.Assessment != nil
}

// Note projects the result onto the annotation stored with an attempt.
func (r *Result) Note() clinical.SummaryNote {
	if r.Assessment == nil {
		return clinical.SummaryNote{Summary: r.Error}
	}
	return clinical.SummaryNote{
		Score:   r.Assessment.Score,
		Verdict: r.Assessment.Verdict,
		Summary: r.Assessment.Summary,
	}
}

// Failure builds a result for a fault that happened before any reply existed.
func Failure(message string) *Result {
	return &Result{Error: message}
}

// Parse interprets a summary reply. It never panics: anything that is not a
// non-empty JSON object becomes a Result with Error set and the raw text kept.
func Parse(raw string) *Result {
	text := StripFence(raw)
	if text == "" {
		return &Result{Error: UnparseableMessage, Raw: raw}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil || len(fields) == 0 {
		return &Result{Error: UnparseableMessage, Raw: raw}
	}

	a := &Assessment{
		Score:     decodeScore(fields["score"]),
		Verdict:   decodeString(fields["verdict"]),
		Summary:   decodeString(fields["summary"]),
		Positives: decodeStrings(fields["positives"]),
		Negatives: decodeStrings(fields["negatives"]),
	}
	return &Result{Assessment: a, Raw: raw}
}

// StripFence trims text and removes a surrounding ``` code fence, if any.
func StripFence(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = fenceOpenRegex.ReplaceAllString(text, "")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}

// decodeScore accepts an integer or a whole float ("score": 85.0) within
// 0..100; anything else is treated as missing.
func decodeScore(raw json.RawMessage) *int {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	if f < minScore || f > maxScore {
		return nil
	}
	n := int(f)
	if float64(n) != f {
		return nil
	}
	return &n
}

func decodeString(raw json.RawMessage) string {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return s
}

// decodeStrings accepts a list of strings or a single string.
func decodeStrings(raw json.RawMessage) []string {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err == nil {
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	if s := decodeString(raw); s != "" {
		return []string{s}
	}
	return nil
}
