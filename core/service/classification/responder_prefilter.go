package classification

import (
	"strings"

	"responder_server/core/domain"
)

// thanksWords close a conversation when they are the whole message.
var thanksWords = []string{
	"grazie", "grazie!", "grazie.", "ok", "ok!", "perfetto", "ricevuto",
	"thanks", "thank", "thx", "gracias",
}

// greetingWords are openings that carry no request by themselves.
var greetingWords = []string{
	"buongiorno", "buonasera", "salve", "ciao", "hello", "hi",
	"hola", "buenos", "buenas", "gentile", "dear",
}

// categoryKeywords hint the coarse intent without a model call.
var categoryKeywords = map[domain.Category][]string{
	domain.CategoryAppointment: {
		"appuntamento", "incontro", "ricevimento", "colloquio", "fissare",
		"appointment", "meeting", "cita",
	},
	domain.CategorySacrament: {
		"battesimo", "comunione", "cresima", "matrimonio", "funerale",
		"sacramento", "baptism", "wedding", "bautismo", "boda",
	},
	domain.CategoryInformation: {
		"orari", "orario", "informazioni", "quando", "dove",
		"information", "schedule", "horarios", "donde",
	},
	domain.CategoryCollaboration: {
		"volontariato", "collaborare", "collaborazione", "aiutare",
		"volunteer", "voluntariado",
	},
	domain.CategoryComplaint: {
		"lamentela", "reclamo", "protesto", "inaccettabile", "vergogna",
		"complaint", "queja",
	},
	domain.CategoryQuotation: {
		"preventivo", "costo", "prezzo", "tariffa", "quanto costa",
		"quote", "price", "presupuesto",
	},
	domain.CategorySbattezzo: {
		"sbattezzo", "sbattezzarmi", "cancellazione dal registro",
		"atto di battesimo annull",
	},
}

// Prefilter is the structural classifier that runs before any model
// call. It resolves trivially closed conversations on its own and
// hands everything else to the quick check with a category hint.
type Prefilter struct{}

func NewPrefilter() *Prefilter {
	return &Prefilter{}
}

// Classify inspects the message structure only. text must already be
// the extracted main content.
func (p *Prefilter) Classify(subject, text string, isReply bool) domain.SimpleVerdict {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	words := strings.Fields(lower)

	// Bare acknowledgment: short, thankful, no question.
	if len(words) > 0 && len(words) <= 3 && !strings.Contains(lower, "?") {
		for _, w := range words {
			if containsWord(thanksWords, strings.Trim(w, ".,!")) {
				return domain.SimpleVerdict{
					NeedsAI:    false,
					Reply:      false,
					Confidence: 1.0,
					Reason:     "acknowledgment",
				}
			}
		}
	}

	// Greeting with nothing behind it.
	if len(words) > 0 && len(words) <= 4 && !strings.Contains(lower, "?") && allGreetings(words) {
		return domain.SimpleVerdict{
			NeedsAI:    false,
			Reply:      false,
			Confidence: 0.95,
			Reason:     "greeting_only",
		}
	}

	// Empty body: a reply with a meaningful subject still deserves the
	// quick check on the subject alone, anything else is noise.
	if trimmed == "" {
		if isReply && len(subject) > 3 && len(subject) < 50 {
			return domain.SimpleVerdict{
				NeedsAI:    true,
				Confidence: 0.8,
				Reason:     "empty_body_with_subject",
			}
		}
		return domain.SimpleVerdict{
			NeedsAI:    false,
			Reply:      false,
			Confidence: 0.9,
			Reason:     "empty_body",
		}
	}

	// Substantive message: route to the quick check, with a category
	// hint when a keyword matches.
	if cat, ok := matchCategory(lower + " " + strings.ToLower(subject)); ok {
		return domain.SimpleVerdict{
			NeedsAI:    true,
			Category:   cat,
			Confidence: 0.85,
			Reason:     "category_keyword",
		}
	}
	return domain.SimpleVerdict{
		NeedsAI:    true,
		Category:   domain.CategoryOther,
		Confidence: 0.75,
		Reason:     "needs_ai_analysis",
	}
}

func matchCategory(lower string) (domain.Category, bool) {
	// sbattezzo first: its keywords overlap with sacrament.
	order := []domain.Category{
		domain.CategorySbattezzo, domain.CategorySacrament,
		domain.CategoryAppointment, domain.CategoryQuotation,
		domain.CategoryComplaint, domain.CategoryCollaboration,
		domain.CategoryInformation,
	}
	for _, cat := range order {
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(lower, kw) {
				return cat, true
			}
		}
	}
	return domain.CategoryOther, false
}

func allGreetings(words []string) bool {
	for _, w := range words {
		if !containsWord(greetingWords, strings.Trim(w, ".,!")) {
			return false
		}
	}
	return true
}

func containsWord(list []string, w string) bool {
	for _, v := range list {
		if v == w {
			return true
		}
	}
	return false
}
