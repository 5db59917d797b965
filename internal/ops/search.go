package ops

import (
	"context"
	"database/sql"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/medcase/internal/clinical"
	"github.com/hpungsan/medcase/internal/db"
	"github.com/hpungsan/medcase/internal/errors"
)

// Search limits
const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
	MaxQueryLength     = 200
	MaxSnippetChars    = 300

	// snippetLead is how many bytes of context precede the match.
	snippetLead = 80
)

// Highlight markers placed around the match before escaping.
const (
	openMarker  = "[[[B]]]"
	closeMarker = "[[[/B]]]"
)

// SearchCasesInput contains parameters for the SearchCases operation.
type SearchCasesInput struct {
	Query string // required
	Limit int    // default: 20, max: 100
}

// SearchResultItem wraps a case summary with a match snippet.
type SearchResultItem struct {
	clinical.CaseSummary
	// Snippet is HTML-safe: case content is escaped; only <b>...</b>
	// highlight tags are present. Empty when only the name or slug matched.
	Snippet string `json:"snippet"`
}

// SearchCasesOutput contains the result of the SearchCases operation.
type SearchCasesOutput struct {
	Items []SearchResultItem `json:"items"`
	Sort  string             `json:"sort"`
}

// SearchCases finds cases whose name, slug, description or preliminary
// diagnosis contains the query.
func SearchCases(ctx context.Context, database *sql.DB, input SearchCasesInput) (*SearchCasesOutput, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, errors.NewInvalidRequest("query is required")
	}
	if utf8.RuneCountInString(query) > MaxQueryLength {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("query exceeds maximum length of %d characters", MaxQueryLength))
	}

	limit := clampLimit(input.Limit, DefaultSearchLimit, MaxSearchLimit)

	cases, err := db.SearchCases(ctx, database, query, limit)
	if err != nil {
		return nil, err
	}

	items := make([]SearchResultItem, 0, len(cases))
	for _, c := range cases {
		snippet := buildSnippet(c.Content, query)
		if snippet == "" {
			snippet = buildSnippet(c.PrelimDxRaw, query)
		}
		if snippet != "" {
			snippet = truncateSnippet(escapeSnippetHTML(snippet), MaxSnippetChars)
		}
		items = append(items, SearchResultItem{CaseSummary: c.ToSummary(), Snippet: snippet})
	}

	return &SearchCasesOutput{Items: items, Sort: "name_asc"}, nil
}

// buildSnippet returns the text around the first case-insensitive match of
// query, with the match wrapped in highlight markers, or "" without a match.
func buildSnippet(text, query string) string {
	lower := strings.ToLower(text)
	if len(lower) != len(text) {
		// lowercasing changed byte offsets; fall back to an exact match
		lower = text
	}
	idx := strings.Index(lower, strings.ToLower(query))
	if idx < 0 {
		idx = strings.Index(text, query)
	}
	if idx < 0 {
		return ""
	}
	end := idx + len(query)

	start := max(idx-snippetLead, 0)
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}

	prefix := ""
	if start > 0 {
		prefix = "..."
	}
	return prefix + text[start:idx] + openMarker + text[idx:end] + closeMarker + text[end:]
}

// truncateSnippet truncates a snippet to approximately maxChars while:
// 1. Preserving valid UTF-8 (never splits multi-byte runes)
// 2. Preserving markup integrity (closes any open <b> tags)
// 3. Preferring word boundaries when possible
func truncateSnippet(s string, maxChars int) string {
	if maxChars <= 0 {
		return "..."
	}

	if len(s) <= maxChars {
		return s
	}

	// Find a safe truncation point that doesn't split UTF-8 runes
	truncateAt := maxChars
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}

	if truncateAt == 0 {
		return "..."
	}

	truncated := s[:truncateAt]

	// Trim any partial tag or entity suffix. The only tags present are <b>
	// and </b>; escaped content may contain entities such as &lt;.
	if lastLT := strings.LastIndex(truncated, "<"); lastLT != -1 && !strings.Contains(truncated[lastLT:], ">") {
		truncated = truncated[:lastLT]
	}
	if lastAmp := strings.LastIndex(truncated, "&"); lastAmp != -1 && !strings.Contains(truncated[lastAmp:], ";") {
		truncated = truncated[:lastAmp]
	}

	// Try to cut at word boundary if we're not losing too much content
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > truncateAt/2 {
		truncated = truncated[:lastSpace]
	}

	unclosed := strings.Count(truncated, "<b>") - strings.Count(truncated, "</b>")
	for range unclosed {
		truncated += "</b>"
	}

	return truncated + "..."
}

// escapeSnippetHTML escapes case content in a snippet while preserving the
// highlight markers as <b> tags.
func escapeSnippetHTML(s string) string {
	const (
		openPlaceholder  = "\x00MEDCASE_B_OPEN\x00"
		closePlaceholder = "\x00MEDCASE_B_CLOSE\x00"
	)

	s = strings.ReplaceAll(s, openMarker, openPlaceholder)
	s = strings.ReplaceAll(s, closeMarker, closePlaceholder)

	s = html.EscapeString(s)

	s = strings.ReplaceAll(s, openPlaceholder, "<b>")
	s = strings.ReplaceAll(s, closePlaceholder, "</b>")

	return s
}
