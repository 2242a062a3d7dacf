// Package classification decides whether and how an inbound email
// should be answered: a zero-cost structural pre-filter, a weighted
// pattern scan over four content dimensions, and a blend of the local
// verdict with the model's quick-check hint.
package classification

import "strings"

const maxContentLength = 50000

// quoteMarkers open a quoted previous message in plain-text bodies.
var quoteMarkers = []string{
	"\n>",
	"\n-----messaggio originale-----",
	"\n-----original message-----",
	"\nil giorno ",
	"\non ",
	"\nel ",
	"\nda: ",
	"\nfrom: ",
	"\nde: ",
}

// signatureMarkers open a signature block.
var signatureMarkers = []string{
	"\n--\n",
	"\n-- \n",
	"\n__\n",
	"\ninviato da iphone",
	"\ninviato dal mio",
	"\nsent from my",
	"\nenviado desde mi",
}

// ExtractMainContent strips quoted history and signatures so the
// classifier only sees what the sender wrote this time. Bounded at
// every step so a pathological body cannot stall a run.
func ExtractMainContent(body string) string {
	if len(body) > maxContentLength {
		body = body[:maxContentLength]
	}
	body = strings.ReplaceAll(body, "\r\n", "\n")

	// Strip HTML blockquote sections, bounded to ten nesting levels.
	for i := 0; i < 10; i++ {
		start := strings.Index(strings.ToLower(body), "<blockquote")
		if start < 0 {
			break
		}
		end := strings.Index(strings.ToLower(body[start:]), "</blockquote>")
		if end < 0 {
			body = body[:start]
			break
		}
		body = body[:start] + body[start+end+len("</blockquote>"):]
	}

	lower := strings.ToLower(body)
	cut := len(body)
	for _, m := range quoteMarkers {
		if idx := strings.Index(lower, m); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	for _, m := range signatureMarkers {
		if idx := strings.Index(lower, m); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	return strings.TrimSpace(body[:cut])
}
