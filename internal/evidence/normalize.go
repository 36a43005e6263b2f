package evidence

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var foldCaser = cases.Fold()

// NormalizeText produces the normalized_text stored beside each chunk:
// NFKC-normalized, case-folded, whitespace-collapsed. Search matches
// against this form so "1 000 Hz" and "1000hz" land on the same chunk.
func NormalizeText(text string) string {
	folded := foldCaser.String(norm.NFKC.String(text))
	return strings.Join(strings.Fields(folded), " ")
}

var titleCaser = cases.Title(language.English, cases.NoLower)

// TitleToken renders a slug token for display ("logitech" -> "Logitech").
func TitleToken(token string) string {
	return titleCaser.String(token)
}

// sanitizeTerms splits free-text query input into FTS-safe terms. Terms
// shorter than two characters are not searchable and are dropped; all
// FTS syntax characters are stripped. An empty result means the query
// should degrade to an empty result set rather than error.
func sanitizeTerms(parts ...string) []string {
	var out []string
	for _, part := range parts {
		for _, field := range strings.FieldsFunc(NormalizeText(part), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			if len([]rune(field)) < 2 {
				continue
			}
			out = append(out, field)
		}
	}
	return out
}

// ftsQuery renders sanitized terms as an OR match expression with each
// term quoted, so user input can never inject FTS syntax.
func ftsQuery(terms []string) string {
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}
