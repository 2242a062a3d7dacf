package memory

import (
	"strings"

	"responder_server/core/domain"
)

// Reaction phrase tables per language. Question marks and expansion
// requests outrank plain thanks: a message that both thanks and asks
// is a follow-up question, not a closure.
var questionedPhrases = map[domain.Language][]string{
	domain.LangItalian: {"non ho capito", "non mi è chiaro", "cosa intende", "in che senso", "potrebbe spiegare"},
	domain.LangEnglish: {"i don't understand", "what do you mean", "could you explain", "not clear"},
	domain.LangSpanish: {"no entiendo", "no me queda claro", "qué quiere decir", "podría explicar"},
}

var expansionPhrases = map[domain.Language][]string{
	domain.LangItalian: {"mi può dire di più", "altre informazioni", "approfondire", "maggiori dettagli", "e per quanto riguarda"},
	domain.LangEnglish: {"more information", "more details", "could you tell me more", "what about"},
	domain.LangSpanish: {"más información", "más detalles", "puede decirme más", "y sobre"},
}

var acknowledgedPhrases = map[domain.Language][]string{
	domain.LangItalian: {"grazie", "perfetto", "ricevuto", "va bene", "d'accordo", "gentilissimi"},
	domain.LangEnglish: {"thank", "thanks", "perfect", "got it", "alright"},
	domain.LangSpanish: {"gracias", "perfecto", "recibido", "de acuerdo", "vale"},
}

// InferReaction reads the sender's follow-up and classifies how they
// took the previous answer.
func InferReaction(text string, lang domain.Language) domain.Reaction {
	lower := strings.ToLower(text)
	if lower == "" {
		return domain.ReactionNone
	}
	if lang == "" {
		lang = domain.LangItalian
	}

	if matchAny(lower, questionedPhrases[lang]) {
		return domain.ReactionQuestioned
	}
	if strings.Contains(lower, "?") && matchAny(lower, acknowledgedPhrases[lang]) {
		// thanks plus a new question
		return domain.ReactionQuestioned
	}
	if matchAny(lower, expansionPhrases[lang]) {
		return domain.ReactionNeedsExpansion
	}
	if matchAny(lower, acknowledgedPhrases[lang]) {
		return domain.ReactionAcknowledged
	}
	return domain.ReactionNone
}

func matchAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
