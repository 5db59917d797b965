package clinical

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

var (
	slugStripRegex    = regexp.MustCompile(`[^a-z0-9_\s-]`)
	slugCollapseRegex = regexp.MustCompile(`[-\s]+`)
)

// SlugMaxLen is the maximum slug length in characters.
const SlugMaxLen = 120

// Normalize trims, lowercases and collapses internal whitespace.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// CountChars returns the character count as runes (not bytes).
func CountChars(text string) int {
	return utf8.RuneCountInString(text)
}

// letters without a canonical decomposition that still have an obvious ASCII base
var strokeReplacer = strings.NewReplacer(
	"ł", "l", "Ł", "L",
	"đ", "d", "Đ", "D",
	"ø", "o", "Ø", "O",
)

// FoldAccents strips combining marks after canonical decomposition ("ą" -> "a").
func FoldAccents(s string) string {
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// MatchesAny reports whether text contains any of targets, ignoring case and
// accents. Empty text never matches.
func MatchesAny(text string, targets []string) bool {
	if text == "" {
		return false
	}
	folded := strings.ToLower(FoldAccents(text))
	for _, target := range targets {
		if strings.Contains(folded, strings.ToLower(FoldAccents(target))) {
			return true
		}
	}
	return false
}

// Slugify derives a URL slug from a case name:
// "Pacjent z bólem w klatce piersiowej" -> "pacjent-z-bolem-w-klatce-piersiowej".
func Slugify(name string) string {
	s := strings.ToLower(FoldAccents(strokeReplacer.Replace(name)))
	s = slugStripRegex.ReplaceAllString(s, "")
	s = slugCollapseRegex.ReplaceAllString(strings.TrimSpace(s), "-")
	s = strings.Trim(s, "-_")
	if utf8.RuneCountInString(s) > SlugMaxLen {
		s = strings.TrimRight(string([]rune(s)[:SlugMaxLen]), "-_")
	}
	return s
}
