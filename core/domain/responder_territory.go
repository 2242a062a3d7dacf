package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Address is a street address extracted from an inbound message.
type Address struct {
	StreetType  string `json:"street_type"`  // via, viale, piazza, corso, ...
	StreetName  string `json:"street_name"`  // normalized name, lowercase
	CivicNumber int    `json:"civic_number"` // 0 when no civic was given
	CivicSuffix string `json:"civic_suffix"` // "A", "B", "bis", ... uppercase
	Raw         string `json:"raw"`          // text as matched
}

// FullCivic renders the civic number with its suffix, e.g. "10A".
// Empty when no civic number was extracted.
func (a Address) FullCivic() string {
	if a.CivicNumber == 0 {
		return a.CivicSuffix
	}
	return fmt.Sprintf("%d%s", a.CivicNumber, a.CivicSuffix)
}

// Key identifies an address for dedup purposes. Two addresses on the
// same street with different suffixes are distinct.
func (a Address) Key() string {
	return a.StreetType + "|" + a.StreetName + "|" + a.FullCivic()
}

// CivicParity constrains which side of a street belongs to the parish.
type CivicParity string

const (
	ParityAll  CivicParity = "all"
	ParityOdd  CivicParity = "dispari"
	ParityEven CivicParity = "pari"
)

// CivicRange is an inclusive numeric range of civic numbers. A zero
// bound is open: {From: 50} covers every civic from 50 up.
type CivicRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func (rg CivicRange) covers(civic int) bool {
	return (rg.From == 0 || civic >= rg.From) && (rg.To == 0 || civic <= rg.To)
}

// unbounded reports a placeholder range with both bounds open, which
// constrains nothing.
func (rg CivicRange) unbounded() bool {
	return rg.From == 0 && rg.To == 0
}

// StreetRule is one street of the parish boundary definition.
type StreetRule struct {
	Name   string       `json:"name"`   // normalized street name
	Parity CivicParity  `json:"parity"` // all, dispari, pari
	Ranges []CivicRange `json:"ranges,omitempty"`
}

// Contains reports whether the given civic number falls inside the
// parish boundary for this street. A zero civic (no number extracted)
// matches only when the whole street belongs to the parish.
func (r StreetRule) Contains(civic int) bool {
	if civic == 0 {
		in, _ := r.WholeStreet()
		return in
	}
	switch r.Parity {
	case ParityOdd:
		if civic%2 == 0 {
			return false
		}
	case ParityEven:
		if civic%2 != 0 {
			return false
		}
	}
	if len(r.Ranges) == 0 {
		return true
	}
	for _, rg := range r.Ranges {
		if rg.covers(civic) {
			return true
		}
	}
	return false
}

// WholeStreet classifies a street mentioned without a civic number.
// inParish is definitive only when the rule covers the entire street;
// a parity or range constraint means the answer depends on the number,
// reported through needsCivic.
func (r StreetRule) WholeStreet() (inParish, needsCivic bool) {
	if r.Parity != ParityAll {
		return false, true
	}
	if len(r.Ranges) == 0 {
		return true, false
	}
	for _, rg := range r.Ranges {
		if rg.unbounded() {
			return true, false
		}
	}
	return false, true
}

// TerritoryMatch is the verdict for one extracted address.
type TerritoryMatch struct {
	Address     Address `json:"address"`
	InTerritory bool    `json:"in_territory"`
	Known       bool    `json:"known"`       // street present in the boundary table
	NeedsCivic  bool    `json:"needs_civic"` // partially covered street, no civic given
}

// TerritoryVerdict is the aggregated result of validating all addresses
// found in a message. An address on a partially covered street with no
// civic number leaves the verdict open: neither inside nor all-outside.
type TerritoryVerdict struct {
	Checked    bool             `json:"checked"` // false when no address was found
	AnyInside  bool             `json:"any_inside"`
	AllOutside bool             `json:"all_outside"`
	NeedsCivic bool             `json:"needs_civic"`
	Matches    []TerritoryMatch `json:"matches,omitempty"`
}

// streetAbbreviations expand the shorthand people use for street
// names, applied in order so longer abbreviations win.
var streetAbbreviations = []struct {
	re   *regexp.Regexp
	full string
}{
	{regexp.MustCompile(`\bss\.\s*`), "santi "},
	{regexp.MustCompile(`\bs\.\s*`), "san "},
	{regexp.MustCompile(`\bg\.\s*`), "giovanni "},
	{regexp.MustCompile(`\bf\.lli\s*`), "fratelli "},
	{regexp.MustCompile(`\bmons\.\s*`), "monsignor "},
	{regexp.MustCompile(`\bc\.so\s*`), "corso "},
	{regexp.MustCompile(`\bp\.za\s*`), "piazza "},
	{regexp.MustCompile(`\bp\.le\s*`), "piazzale "},
}

var streetPunctRe = regexp.MustCompile(`[^\p{L}\d\s]`)

// NormalizeStreetName lowercases, expands abbreviations, strips
// punctuation and collapses whitespace so that "V I A  G. Rossi" and
// "via giovanni rossi" compare equal.
func NormalizeStreetName(s string) string {
	s = strings.ToLower(s)
	for _, a := range streetAbbreviations {
		s = a.re.ReplaceAllString(s, a.full)
	}
	s = streetPunctRe.ReplaceAllString(s, " ")
	joined := strings.Join(strings.Fields(s), " ")
	// rejoin single-letter runs that spell a street type, e.g. "v i a"
	for {
		collapsed := collapseSpelled(joined)
		if collapsed == joined {
			break
		}
		joined = collapsed
	}
	return joined
}

var spelledTypes = []string{
	"l u n g o t e v e r e", "p i a z z a l e", "p i a z z a",
	"s a l i t a", "s t r a d a", "v i c o l o", "v i a l e",
	"c o r s o", "l a r g o", "v i a",
}

func collapseSpelled(s string) string {
	for _, sp := range spelledTypes {
		if strings.HasPrefix(s, sp+" ") || s == sp {
			return strings.ReplaceAll(sp, " ", "") + s[len(sp):]
		}
	}
	return s
}

// StreetTokensMatch is the fuzzy comparison between an extracted
// street name and a boundary-table entry, both already normalized.
// Senders abbreviate ("garibaldi" for "giuseppe garibaldi") and OCR
// mangles spacing, so an exact-equality lookup alone loses matches.
func StreetTokensMatch(input, candidate string) bool {
	if input == candidate {
		return true
	}
	in, cand := strings.Fields(input), strings.Fields(candidate)
	if len(in) == 0 || len(cand) == 0 {
		return false
	}

	if tokenSubset(in, cand) {
		return true
	}

	ratio := float64(len(in)) / float64(len(cand))
	if ratio > 1 {
		ratio = 1 / ratio
	}
	if ratio < 0.7 {
		return false
	}
	if in[0] == cand[0] {
		return true
	}
	return adjacentPairShared(in, cand)
}

// tokenSubset reports whether every input token appears among the
// candidate tokens.
func tokenSubset(in, cand []string) bool {
	for _, t := range in {
		found := false
		for _, c := range cand {
			if t == c {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// adjacentPairShared reports whether any two consecutive input tokens
// appear consecutively in the candidate as well.
func adjacentPairShared(in, cand []string) bool {
	for i := 0; i+1 < len(in); i++ {
		for j := 0; j+1 < len(cand); j++ {
			if in[i] == cand[j] && in[i+1] == cand[j+1] {
				return true
			}
		}
	}
	return false
}
