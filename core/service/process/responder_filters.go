package process

import (
	"regexp"
	"strings"

	"responder_server/config"
	"responder_server/core/domain"
)

// ShouldIgnore decides whether an inbound email is machine-generated
// noise or an excluded sender, before any model call is spent on it.
// The returned reason is empty when the email should be processed.
func ShouldIgnore(email *domain.InboundEmail, cfg *config.Config) string {
	if email.AutoSubmitted {
		return "auto_generated"
	}

	from := strings.ToLower(email.FromEmail)
	for _, alias := range cfg.OwnAliases {
		if from == strings.ToLower(alias) {
			return "own_address"
		}
	}
	for _, d := range cfg.IgnoreDomains {
		if strings.Contains(from, strings.ToLower(d)) {
			return "excluded_sender"
		}
	}

	haystack := strings.ToLower(email.Subject + "\n" + email.Body)
	for _, kw := range cfg.IgnoreKeywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return "bulk_keyword"
		}
	}

	// Third autoresponder signal, after the header and the alias check:
	// many mail clients announce an absence in free text only.
	for _, phrase := range cfg.OutOfOfficePhrases {
		if strings.Contains(haystack, strings.ToLower(phrase)) {
			return "out_of_office"
		}
	}

	return ""
}

// topicPatterns map a provided-topic tag to the phrasing that signals
// the reply actually covered it. Matched against the generated reply.
var topicPatterns = []struct {
	topic string
	re    *regexp.Regexp
}{
	{"orari_messe", regexp.MustCompile(`(?i)(orari\s+delle\s+(sante\s+)?messe|la\s+messa\s+(è|e')\s+alle|messe\s+(feriali|festive))`)},
	{"contatti", regexp.MustCompile(`(?i)(telefono|numero\s+di\s+telefono|può\s+chiamarci|contattarci\s+al|\+39\s?\d)`)},
	{"battesimo_info", regexp.MustCompile(`(?i)battesim\w+`)},
	{"comunione_info", regexp.MustCompile(`(?i)(prima\s+comunione|comunion\w+)`)},
	{"cresima_info", regexp.MustCompile(`(?i)cresim\w+`)},
	{"matrimonio_info", regexp.MustCompile(`(?i)matrimoni\w+`)},
	{"territorio", regexp.MustCompile(`(?i)(territorio\s+parrocchiale|parrocchia\s+di\s+competenza|non\s+rientra\s+nel\s+territorio)`)},
	{"indirizzo", regexp.MustCompile(`(?i)(ci\s+troviamo\s+in|il\s+nostro\s+indirizzo|la\s+segreteria\s+si\s+trova)`)},
}

// ExtractProvidedTopics tags which reusable pieces of information a
// generated reply contained, so later replies can avoid repeating them.
func ExtractProvidedTopics(reply string) []string {
	var topics []string
	for _, p := range topicPatterns {
		if p.re.MatchString(reply) {
			topics = append(topics, p.topic)
		}
	}
	return topics
}

// ocrTriggerWords gate attachment OCR: images are only downloaded and
// read when the message talks about an attached document.
var ocrTriggerWords = []string{
	"allegato", "allegata", "allegati", "in allegato",
	"documento", "certificato", "modulo", "ricevuta", "foto",
}

// WantsAttachmentText reports whether the message references attached
// documents worth running through OCR.
func WantsAttachmentText(content string, attachments []domain.Attachment) bool {
	hasImage := false
	for _, a := range attachments {
		if a.IsImage() {
			hasImage = true
			break
		}
	}
	if !hasImage {
		return false
	}

	lower := strings.ToLower(content)
	for _, w := range ocrTriggerWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	// An image with nearly no text around it usually is the message.
	return len(strings.Fields(lower)) < 10
}

// trailingExternalRun counts messages at the end of the thread that the
// mailbox owner did not send.
func trailingExternalRun(t *domain.Thread) int {
	n := 0
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].IsOwn {
			break
		}
		n++
	}
	return n
}
