// Package territory extracts street addresses from Italian free text
// and validates them against the parish boundary rules.
package territory

import (
	"regexp"
	"strconv"
	"strings"

	"responder_server/core/domain"
)

// maxAddresses bounds extraction per message, and maxScanChars bounds
// the text the patterns run over. Regex scans over unbounded input are
// the one place crafted mail could burn CPU.
const (
	maxAddresses = 20
	maxScanChars = 1000
)

// streetTypes the extractor recognizes, longest first so "viale" is
// never read as "via" plus a name.
var streetTypes = []string{
	"lungotevere", "piazzale", "piazza", "salita", "strada",
	"vicolo", "viale", "corso", "largo", "via",
}

// tolerantTypeAlt renders the street-type alternation accepting stray
// spaces or periods between letters, the way OCR output and some mail
// clients mangle text ("V i a Roma 10").
func tolerantTypeAlt() string {
	alts := make([]string, len(streetTypes))
	for i, w := range streetTypes {
		letters := strings.Split(w, "")
		alts[i] = strings.Join(letters, `[ .]{0,2}`)
	}
	return `(` + strings.Join(alts, "|") + `)`
}

// addressWithCivicRe matches "via Roma 10", "Via Roma, n. 10A" and the
// detached suffix form "via Napoli 5 B". The detached suffix accepts
// consonants only so the conjunctions "e", "a", "o" after a civic are
// never swallowed.
var addressWithCivicRe = regexp.MustCompile(
	`(?i)\b` + tolerantTypeAlt() + `\s+` +
		`([a-zA-Zàèéìòù'.]{2,}(?:\s+[a-zA-Zàèéìòù'.]{2,}){0,5}?)[\s,]+` +
		`(?:n\.?\s*|nr\.?\s*|numero\s+)?(\d{1,4})` +
		`(?:([a-zA-Z])|\s+([b-df-hj-np-tv-zB-DF-HJ-NP-TV-Z]))?\b`)

// addressBareRe matches a street mention with no civic number. Name
// words need two letters so "via è..." does not bind the verb.
var addressBareRe = regexp.MustCompile(
	`(?i)\b` + tolerantTypeAlt() + `\s+` +
		`([a-zA-Zàèéìòù'.]{2,}(?:\s+[a-zA-Zàèéìòù'.]{2,}){0,5})`)

// nameStopwords are trailing words that belong to the sentence, not
// the street name.
var nameStopwords = map[string]bool{
	"e": true, "ed": true, "o": true, "a": true, "in": true, "al": true,
	"il": true, "la": true, "per": true, "che": true, "con": true,
	"ma": true, "anche": true, "vicino": true, "angolo": true,
}

// ExtractAddresses finds street addresses in the text, deduplicated by
// street plus full civic, so "Via Roma 10A" and "Via Roma 10B" stay
// distinct entries.
func ExtractAddresses(text string) []domain.Address {
	if r := []rune(text); len(r) > maxScanChars {
		text = string(r[:maxScanChars])
	}

	var out []domain.Address
	seen := make(map[string]bool)
	covered := make([][2]int, 0, maxAddresses)

	for _, m := range addressWithCivicRe.FindAllStringSubmatchIndex(text, maxAddresses) {
		a, ok := buildAddress(text, m, true)
		if !ok {
			continue
		}
		if key := a.Key(); !seen[key] {
			seen[key] = true
			out = append(out, a)
		}
		covered = append(covered, [2]int{m[0], m[1]})
	}

	for _, m := range addressBareRe.FindAllStringSubmatchIndex(text, maxAddresses) {
		if overlaps(covered, m[0]) {
			continue
		}
		a, ok := buildAddress(text, m, false)
		if !ok {
			continue
		}
		if key := a.Key(); !seen[key] {
			seen[key] = true
			out = append(out, a)
		}
		if len(out) >= maxAddresses {
			break
		}
	}
	return out
}

func buildAddress(text string, m []int, withCivic bool) (domain.Address, bool) {
	group := func(i int) string {
		if 2*i+1 >= len(m) || m[2*i] < 0 {
			return ""
		}
		return text[m[2*i]:m[2*i+1]]
	}

	name := trimStopwords(group(2))
	if name == "" {
		return domain.Address{}, false
	}

	a := domain.Address{
		StreetType: compactType(group(1)),
		StreetName: domain.NormalizeStreetName(name),
		Raw:        strings.TrimSpace(text[m[0]:m[1]]),
	}
	if withCivic {
		a.CivicNumber, _ = strconv.Atoi(group(3))
		suffix := group(4)
		if suffix == "" {
			suffix = group(5)
		}
		a.CivicSuffix = strings.ToUpper(suffix)
	}
	return a, true
}

// trimStopwords cuts the captured name at the first sentence word, so
// "Garibaldi e vorrei sapere" becomes "Garibaldi".
func trimStopwords(name string) string {
	words := strings.Fields(name)
	for i, w := range words {
		if nameStopwords[strings.ToLower(w)] {
			words = words[:i]
			break
		}
	}
	return strings.Join(words, " ")
}

// compactType squeezes a possibly space- or period-riddled street type
// back to its canonical spelling.
func compactType(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "")
	return strings.ReplaceAll(s, ".", "")
}

func overlaps(covered [][2]int, pos int) bool {
	for _, c := range covered {
		if pos >= c[0] && pos < c[1] {
			return true
		}
	}
	return false
}
