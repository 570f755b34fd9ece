package segmentation

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"diario/internal/core"
)

// nameFixups maps historical misspellings in the gazette text onto the name
// registered in the territory table.
var nameFixups = map[string]string{
	"major izidoro": "major isidoro",
}

var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// cleanName lowercases a municipality name, strips accents, quotes and outer
// whitespace, and applies the known misspelling fixups.
func cleanName(name string) string {
	clean := strings.ReplaceAll(name, "'", "")
	if folded, _, err := transform.String(stripAccents, clean); err == nil {
		clean = folded
	}
	clean = strings.TrimSpace(strings.ToLower(clean))
	if fixed, ok := nameFixups[clean]; ok {
		clean = fixed
	}
	return clean
}

// TerritorySlug derives the canonical slug of a municipality: the lowercase
// state code followed by the cleaned name without separators. ("AL",
// "Viçosa") becomes "alvicosa".
func TerritorySlug(stateCode, name string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(stateCode)))
	for _, r := range cleanName(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// territoryLookup resolves territory slugs to their table rows.
type territoryLookup struct {
	bySlug map[string]core.Territory
}

func newTerritoryLookup(territories []core.Territory) *territoryLookup {
	bySlug := make(map[string]core.Territory, len(territories))
	for _, t := range territories {
		bySlug[TerritorySlug(t.StateCode, t.Name)] = t
	}
	return &territoryLookup{bySlug: bySlug}
}

func (l *territoryLookup) resolve(slug string) (core.Territory, bool) {
	t, ok := l.bySlug[slug]
	return t, ok
}
