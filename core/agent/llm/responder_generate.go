package llm

import (
	"context"
	"fmt"
	"strings"

	"responder_server/config"
	"responder_server/core/domain"
	"responder_server/core/port/out"
	"responder_server/core/service/quota"
)

// GenerationInput carries everything the reply prompt needs.
type GenerationInput struct {
	SenderName     string
	Subject        string
	Content        string
	History        []domain.ThreadMessage
	Language       domain.Language
	Category       domain.Category
	SubIntents     []domain.SubIntent
	Salutation     domain.SalutationMode
	Tone           string
	DelayApology   bool
	Season         string
	MemorySummary  string
	ProvidedTopics []string
	Territory      *domain.TerritoryVerdict
	Knowledge      *domain.KnowledgeBaseSnapshot
}

const generateSystem = `Sei l'assistente della segreteria di una parrocchia italiana.
Scrivi la risposta all'email di un parrocchiano. Regole:
- Rispondi nella lingua indicata, con tono cordiale e pastorale.
- Usa SOLO le informazioni della base di conoscenza fornita, non inventare orari, nomi o contatti.
- Non ripetere informazioni già fornite in precedenza, al massimo richiamale in una riga.
- Firma come "la segreteria parrocchiale". Non usare segnaposto come [NOME].
- Scrivi solo il corpo dell'email, senza oggetto.`

// GenerateReply produces the reply body, picking the strongest model
// the quota allows.
func (a *Agent) GenerateReply(ctx context.Context, in GenerationInput) (string, string, error) {
	prompt := a.buildGenerationPrompt(in)
	est := quota.EstimateTokens(generateSystem+prompt) + a.cfg.MaxOutputTokens

	modelKey, err := a.limiter.SelectModel(ctx, config.TaskGeneration, est)
	if err != nil {
		return "", "", err
	}

	res, err := a.llm.Complete(ctx, &out.CompletionRequest{
		ModelName:    a.cfg.Models[modelKey].Name,
		SystemPrompt: generateSystem,
		UserPrompt:   prompt,
		Temperature:  a.cfg.Temperature,
		MaxTokens:    a.cfg.MaxOutputTokens,
	})
	if err != nil {
		return "", modelKey, err
	}
	if rerr := a.limiter.Record(ctx, modelKey, res.TotalTokens); rerr != nil {
		a.log.WithError(rerr).Warn("quota record failed")
	}

	return strings.TrimSpace(StripFences(res.Text)), modelKey, nil
}

func (a *Agent) buildGenerationPrompt(in GenerationInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Lingua di risposta: %s\n", languageName(in.Language))
	fmt.Fprintf(&b, "Categoria richiesta: %s\n", in.Category)
	fmt.Fprintf(&b, "Periodo orari: %s\n", in.Season)
	fmt.Fprintf(&b, "Saluto: %s\n", salutationInstruction(in.Salutation, in.SenderName))
	if in.Tone != "" {
		fmt.Fprintf(&b, "Tono: %s\n", in.Tone)
	}
	if in.DelayApology {
		b.WriteString("Apri scusandoti brevemente per il ritardo nella risposta.\n")
	}
	for _, si := range in.SubIntents {
		switch si {
		case domain.SubIntentBereavement:
			b.WriteString("Il mittente è in lutto: esprimi vicinanza e condoglianze prima di ogni informazione pratica.\n")
		case domain.SubIntentEmotionalDistress:
			b.WriteString("Il mittente è in difficoltà emotiva: tono particolarmente accogliente, invita a un colloquio di persona.\n")
		case domain.SubIntentConfusion:
			b.WriteString("Il mittente non ha capito la risposta precedente: rispiegare con parole più semplici.\n")
		}
	}

	if in.Territory != nil && in.Territory.Checked {
		switch {
		case in.Territory.AnyInside:
			b.WriteString("Territorio: l'indirizzo indicato appartiene a questa parrocchia.\n")
		case in.Territory.NeedsCivic:
			b.WriteString("Territorio: la via indicata è solo in parte in questa parrocchia, chiedi gentilmente il numero civico per poter verificare.\n")
		case in.Territory.AllOutside:
			b.WriteString("Territorio: l'indirizzo indicato NON appartiene a questa parrocchia, indirizza gentilmente alla parrocchia competente.\n")
		default:
			b.WriteString("Territorio: indirizzo non verificabile, invita a contattare la segreteria.\n")
		}
	}

	if in.MemorySummary != "" {
		fmt.Fprintf(&b, "\nConversazione finora:\n%s\n", in.MemorySummary)
	}
	if len(in.ProvidedTopics) > 0 {
		fmt.Fprintf(&b, "Informazioni già fornite (non ripeterle): %s\n", strings.Join(in.ProvidedTopics, ", "))
	}

	if in.Knowledge != nil && len(in.Knowledge.Facts) > 0 {
		b.WriteString("\nBase di conoscenza:\n")
		for k, v := range in.Knowledge.Facts {
			fmt.Fprintf(&b, "- %s: %s\n", k, v)
		}
	}

	if n := len(in.History); n > 0 {
		b.WriteString("\nUltimi messaggi del thread:\n")
		start := 0
		if n > a.cfg.MaxHistory {
			start = n - a.cfg.MaxHistory
		}
		for _, m := range in.History[start:] {
			who := "parrocchiano"
			if m.IsOwn {
				who = "segreteria"
			}
			fmt.Fprintf(&b, "[%s] %s\n", who, truncate(m.Body, 500))
		}
	}

	fmt.Fprintf(&b, "\nEmail da cui rispondere:\nOggetto: %s\n\n%s\n", in.Subject, truncate(in.Content, 6000))
	return b.String()
}

func salutationInstruction(mode domain.SalutationMode, name string) string {
	if name == "" {
		name = "il mittente"
	}
	switch mode {
	case domain.SalutationSession:
		return "conversazione in corso, nessun saluto, vai dritto al punto"
	case domain.SalutationNone:
		return "continuità, senza saluto formale"
	case domain.SalutationSoft:
		return fmt.Sprintf("saluto breve e informale a %s", name)
	default:
		return fmt.Sprintf("saluto completo e cordiale a %s", name)
	}
}

func languageName(l domain.Language) string {
	switch l {
	case domain.LangEnglish:
		return "inglese"
	case domain.LangSpanish:
		return "spagnolo"
	default:
		return "italiano"
	}
}

// SummarizeExchange asks for a one-line summary of the exchange for
// the thread memory. Falls back to a local truncation when no model is
// available: memory must never block a sent reply.
func (a *Agent) SummarizeExchange(ctx context.Context, inbound, reply string) string {
	prompt := fmt.Sprintf(
		"Riassumi in UNA riga (max 80 caratteri, senza punto finale) questa richiesta e la risposta data.\n\nRichiesta:\n%s\n\nRisposta:\n%s",
		truncate(inbound, 1500), truncate(reply, 1500))
	est := quota.EstimateTokens(prompt)

	modelKey, err := a.limiter.SelectModel(ctx, config.TaskQuickCheck, est)
	if err != nil {
		return localSummary(inbound)
	}
	res, err := a.llm.Complete(ctx, &out.CompletionRequest{
		ModelName:   a.cfg.Models[modelKey].Name,
		UserPrompt:  prompt,
		Temperature: 0.2,
		MaxTokens:   60,
	})
	if err != nil {
		return localSummary(inbound)
	}
	if rerr := a.limiter.Record(ctx, modelKey, res.TotalTokens); rerr != nil {
		a.log.WithError(rerr).Warn("quota record failed")
	}
	line := strings.TrimSpace(strings.SplitN(res.Text, "\n", 2)[0])
	if line == "" {
		return localSummary(inbound)
	}
	return truncate(line, 120)
}

func localSummary(inbound string) string {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(inbound), "\n", 2)[0])
	return truncate(line, 80)
}
