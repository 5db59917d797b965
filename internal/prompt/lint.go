package prompt

import (
	"errors"
	"slices"

	"github.com/hpungsan/medcase/internal/clinical"
)

// LintInput contains parameters for linting an instruction body.
type LintInput struct {
	Body     string
	MaxChars int
}

// LintResult contains the results of linting an instruction body.
type LintResult struct {
	Valid         bool
	UnknownFields []string // placeholders outside Fields, in order of first use
	UsedFields    []string // known placeholders, in order of first use
	SyntaxError   string   // malformed braces; scanning stops here
	TooLarge      bool
	ActualChars   int
	MaxChars      int
}

// Lint checks an instruction body before it is stored. Unlike Render it
// reports every unknown placeholder instead of stopping at the first.
func Lint(input LintInput) *LintResult {
	result := &LintResult{
		Valid:       true,
		ActualChars: clinical.CountChars(input.Body),
		MaxChars:    input.MaxChars,
	}

	if input.MaxChars > 0 && result.ActualChars > input.MaxChars {
		result.TooLarge = true
		result.Valid = false
	}

	_, err := scanTemplate(input.Body, func(field string) (string, bool) {
		if slices.Contains(Fields, field) {
			if !slices.Contains(result.UsedFields, field) {
				result.UsedFields = append(result.UsedFields, field)
			}
		} else if !slices.Contains(result.UnknownFields, field) {
			result.UnknownFields = append(result.UnknownFields, field)
		}
		return "", true
	})
	if err != nil {
		var tErr *TemplateError
		if errors.As(err, &tErr) {
			result.SyntaxError = tErr.Error()
		} else {
			result.SyntaxError = err.Error()
		}
		result.Valid = false
	}
	if len(result.UnknownFields) > 0 {
		result.Valid = false
	}

	return result
}
