// Package language detects the language of an inbound message among
// the three the parish office answers in.
package language

import (
	"strings"

	"responder_server/core/domain"
)

// Keyword sets. English uniques are weighted double because English
// shares almost no stopwords with Italian or Spanish, so a hit is a
// much stronger signal.
var (
	italianWords = []string{
		"il", "la", "di", "che", "per", "con", "sono", "della", "delle",
		"gli", "nel", "nella", "anche", "come", "grazie", "buongiorno",
		"buonasera", "vorrei", "salve", "gentile", "cordiali", "saluti",
		"parrocchia", "messa", "orari", "battesimo",
	}
	englishWords = []string{
		"the", "and", "for", "with", "would", "could", "hello", "dear",
		"thanks", "thank", "please", "regards", "kind", "best", "about",
		"information", "when", "what", "where",
	}
	spanishWords = []string{
		"el", "los", "las", "para", "con", "que", "por", "gracias",
		"hola", "buenos", "buenas", "quisiera", "usted", "iglesia",
		"misa", "horarios", "bautismo", "donde", "cuando",
	}
)

// Detect scores the text against per-language keyword sets plus
// Spanish-only characters and returns the winner. Italian is the
// default when nothing scores clearly.
func Detect(text string) domain.Language {
	lower := strings.ToLower(text)

	charScore := 0
	charScore += strings.Count(lower, "¿") * 3
	charScore += strings.Count(lower, "¡") * 3
	charScore += strings.Count(lower, "ñ") * 2

	words := tokenize(lower)
	itScore := countHits(words, italianWords)
	enScore := countHits(words, englishWords) * 2
	esScore := countHits(words, spanishWords) + charScore

	if charScore > 0 && esScore >= itScore && esScore >= enScore {
		return domain.LangSpanish
	}
	if enScore >= 2 && enScore > itScore && enScore > esScore {
		return domain.LangEnglish
	}
	max := itScore
	if enScore > max {
		max = enScore
	}
	if esScore > max {
		max = esScore
	}
	if max < 2 {
		return domain.LangItalian
	}
	// Ties fall back to Italian, the parish's own language.
	if itScore >= enScore && itScore >= esScore {
		return domain.LangItalian
	}
	if esScore > enScore {
		return domain.LangSpanish
	}
	return domain.LangEnglish
}

func tokenize(lower string) map[string]int {
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || r == 'à' || r == 'è' || r == 'é' ||
			r == 'ì' || r == 'ò' || r == 'ù' || r == 'á' || r == 'í' ||
			r == 'ó' || r == 'ú' || r == 'ñ')
	})
	words := make(map[string]int, len(fields))
	for _, f := range fields {
		words[f]++
	}
	return words
}

func countHits(words map[string]int, keywords []string) int {
	n := 0
	for _, k := range keywords {
		n += words[k]
	}
	return n
}
