// Package validation scores a generated reply before it is sent. A
// reply that fails validation is never sent as-is: a limited self-heal
// pass may repair cosmetic defects, otherwise the thread gets flagged
// for human review.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"responder_server/core/domain"
)

// placeholderRe catches template slots the model left unfilled, like
// "[NOME]" or "[DATA_MESSA]".
var placeholderRe = regexp.MustCompile(`\[[A-Z_ÀÈÌÒÙ]{2,}\]`)

// bareSlots are placeholder spellings that escape the bracket pattern.
var bareSlots = []string{"xxx", "todo", "<insert>", "[inserire]"}

// leakMarkers are fragments of the prompt scaffolding that must never
// reach a parishioner.
var leakMarkers = []string{
	"```json", "\"reply_needed\"", "system prompt", "as an ai",
	"come modello linguistico", "in qualità di assistente virtuale",
}

// reasoningMarkers open sentences where the model narrates its own
// instructions instead of answering. Any of these is a hard failure,
// though the self-heal pass may strip the offending sentence.
var reasoningMarkers = []string{
	"rivedendo la knowledge base", "la kb dice", "devo usare solo",
	"pensandoci bene", "come da istruzioni", "secondo le linee guida",
	"le date del 202", "non sono ancora presenti", "n.b.:",
}

// uncertaintyPhrases make the office sound like it is guessing.
var uncertaintyPhrases = []string{
	"non ho abbastanza informazioni", "non sono sicuro", "probabilmente",
	"forse", "credo che", "mi sembra che", "dovrebbe essere",
}

// languageMarkers are common stop words used to verify the reply is
// actually written in the language the sender used.
var languageMarkers = map[domain.Language][]string{
	domain.LangItalian: {"grazie", "cordiali", "saluti", "gentile", "parrocchia", "messa", "vorrei", "quando"},
	domain.LangEnglish: {"thank", "regards", "dear", "parish", "mass", "church", "would", "could"},
	domain.LangSpanish: {"gracias", "saludos", "estimado", "parroquia", "misa", "iglesia", "querría"},
}

// bereavementMarkers in the source email mean the sender is grieving.
var bereavementMarkers = []string{
	"lutto", "defunto", "defunta", "funerale", "esequie",
	"venuto a mancare", "venuta a mancare", "deceduto", "deceduta",
	"scomparso", "scomparsa",
	"passed away", "funeral", "bereavement", "deceased",
	"fallecido", "fallecida", "pésame", "luto",
}

// condolenceMarkers must appear in the reply when the source email
// carries bereavement markers.
var condolenceMarkers = []string{
	"condoglianze", "cordoglio", "vicinanza", "vicini nel dolore",
	"preghiera", "preghiamo", "conforto", "affidiamo al signore",
	"condolences", "sympathy", "sorry for your loss", "prayers",
	"condolencias", "oraciones", "cercanía",
}

// forbiddenCaps lists words that must not be capitalized right after a
// comma. Proper names are not listed, so they pass.
var forbiddenCaps = map[domain.Language][]string{
	domain.LangItalian: {"Siamo", "Restiamo", "Il", "La", "Per", "Ma", "Vi", "Le", "Ecco", "Gentile", "Grazie"},
	domain.LangEnglish: {"The", "An", "For", "But", "We", "Our", "Thank"},
	domain.LangSpanish: {"Estamos", "El", "La", "Por", "Pero", "Gracias"},
}

var (
	emailRe    = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	timeRe     = regexp.MustCompile(`\b\d{1,2}[:.]\d{2}\b`)
	phoneRe    = regexp.MustCompile(`\+?\d[\d\s./-]{6,}\d`)
	capCommaRe = regexp.MustCompile(`,\s+([A-ZÀÈÉÌÒÙ][a-zàèéìòù]*)`)
)

const (
	minReplyChars  = 40
	maxReplyChars  = 6000
	minPhoneDigits = 8
)

// Input carries everything the validator needs: the reply under test,
// the email it answers, and the knowledge snapshot its facts must come
// from.
type Input struct {
	Reply      string
	Language   domain.Language
	Strict     bool
	SourceText string
	Knowledge  *domain.KnowledgeBaseSnapshot
}

type Validator struct {
	minScore    float64
	strictScore float64
}

func NewValidator(minScore, strictScore float64) *Validator {
	return &Validator{minScore: minScore, strictScore: strictScore}
}

// Validate scores the reply. Strict raises the passing bar, used for
// sensitive categories. A single hard issue zeroes the score.
//
// Contact data is the sharp edge: an email address or phone number
// that does not appear in the knowledge snapshot is invented, and an
// invented contact sent to a parishioner is worse than no reply at
// all. Times of day get a warning only, since the model may be
// legitimately rephrasing a schedule.
func (v *Validator) Validate(in Input) domain.ValidationResult {
	res := domain.ValidationResult{Score: 1.0}
	trimmed := strings.TrimSpace(in.Reply)
	lower := strings.ToLower(trimmed)

	hard := func(check, detail string) {
		res.Issues = append(res.Issues, domain.ValidationIssue{
			Check: check, Severity: "hard", Detail: detail, Penalty: 1.0,
		})
	}
	soft := func(check, detail string, penalty float64) {
		res.Issues = append(res.Issues, domain.ValidationIssue{
			Check: check, Severity: "soft", Detail: detail, Penalty: penalty,
		})
		res.Score -= penalty
	}

	if trimmed == "" {
		hard("empty", "reply has no content")
	}
	if m := placeholderRe.FindString(in.Reply); m != "" {
		hard("placeholder", "unfilled template slot "+m)
	}
	for _, slot := range bareSlots {
		if containsWordish(lower, slot) {
			hard("placeholder", "unfilled template slot "+slot)
			break
		}
	}
	for _, marker := range leakMarkers {
		if strings.Contains(lower, marker) {
			hard("prompt_leak", "contains "+marker)
			break
		}
	}
	for _, marker := range reasoningMarkers {
		if strings.Contains(lower, marker) {
			hard("exposed_reasoning", "contains "+marker)
			break
		}
	}

	v.checkLanguage(lower, in.Language, hard, soft)
	v.checkKnowledge(trimmed, lower, in.Knowledge, hard, soft)
	v.checkEmpathy(lower, in.SourceText, hard)

	for _, p := range uncertaintyPhrases {
		if strings.Contains(lower, p) {
			soft("uncertain_tone", "contains "+p, 0.2)
			break
		}
	}

	if trimmed != "" && len([]rune(trimmed)) < minReplyChars {
		soft("too_short", "", 0.3)
	}
	if len([]rune(trimmed)) > maxReplyChars {
		soft("too_long", "", 0.2)
	}
	if trimmed != "" && !hasGreeting(lower, in.Language) {
		soft("missing_greeting", "", 0.15)
	}
	if trimmed != "" && !hasClosing(lower, in.Language) {
		soft("missing_closing", "", 0.1)
	}
	if countUpperRuns(trimmed) > 2 {
		soft("shouting", "multiple all-caps words", 0.15)
	}
	if n := countBadCaps(trimmed, in.Language); n > 0 {
		p := float64(n) * 0.05
		if p > 0.1 {
			p = 0.1
		}
		soft("capital_after_comma", fmt.Sprintf("%d occurrences", n), p)
	}

	if res.HardFailed() {
		res.Score = 0.0
	}
	if res.Score < 0 {
		res.Score = 0
	}

	bar := v.minScore
	if in.Strict {
		bar = v.strictScore
	}
	res.Passed = !res.HardFailed() && res.Score >= bar
	return res
}

// checkLanguage verifies the reply carries the stop words of the
// sender's language. A reply dominated by another language's markers
// while nearly empty of the expected ones went out in the wrong
// language and cannot be sent.
func (v *Validator) checkLanguage(lower string, lang domain.Language, hard func(string, string), soft func(string, string, float64)) {
	expected := langOrDefault(lang)
	own := countMarkers(lower, languageMarkers[expected])
	other, otherLang := 0, domain.Language("")
	for l, markers := range languageMarkers {
		if l == expected {
			continue
		}
		if n := countMarkers(lower, markers); n > other {
			other, otherLang = n, l
		}
	}
	switch {
	case other >= 3 && own < 2:
		hard("language_mismatch", fmt.Sprintf("reads as %s, expected %s", otherLang, expected))
	case other >= 2 && other > own:
		soft("language_mixed", string(otherLang), 0.15)
	}
}

// checkKnowledge extracts contact data and times of day from the reply
// and requires each to appear in the knowledge snapshot.
func (v *Validator) checkKnowledge(reply, lower string, kb *domain.KnowledgeBaseSnapshot, hard func(string, string), soft func(string, string, float64)) {
	if kb == nil {
		return
	}
	corpus := strings.ToLower(knowledgeCorpus(kb))

	for _, addr := range emailRe.FindAllString(lower, -1) {
		if !strings.Contains(corpus, addr) {
			hard("invented_email", addr)
			return
		}
	}

	corpusDigits := digitRuns(corpus)
	for _, raw := range phoneRe.FindAllString(reply, -1) {
		digits := onlyDigits(raw)
		if len(digits) < minPhoneDigits {
			continue
		}
		if !containsDigits(corpusDigits, digits) {
			hard("invented_phone", strings.TrimSpace(raw))
			return
		}
	}

	corpusTimes := normalizedTimes(corpus)
	for _, t := range timeRe.FindAllString(reply, -1) {
		if !corpusTimes[normalizeTime(t)] {
			soft("unverified_time", t, 0.15)
			return
		}
	}
}

// checkEmpathy enforces the bereavement rule: when the sender writes
// about a death, a reply with no word of condolence is unacceptable no
// matter how correct its content is. The rule looks at the source
// email only, so a reply mentioning a funeral service schedule on its
// own does not trigger it.
func (v *Validator) checkEmpathy(replyLower, sourceText string, hard func(string, string)) {
	if sourceText == "" {
		return
	}
	source := strings.ToLower(sourceText)
	grieving := false
	for _, m := range bereavementMarkers {
		if strings.Contains(source, m) {
			grieving = true
			break
		}
	}
	if !grieving {
		return
	}
	for _, m := range condolenceMarkers {
		if strings.Contains(replyLower, m) {
			return
		}
	}
	hard("missing_condolence", "bereavement email answered without condolences")
}

// SelfHeal repairs the two defects that are safe to fix mechanically:
// a capitalized word right after a comma is lowercased, and a sentence
// opening with a reasoning marker is dropped. Everything else, in
// particular invented contact data and unfilled placeholders, is never
// healed. Returns the repaired text and whether a repair was applied.
func (v *Validator) SelfHeal(reply string, res domain.ValidationResult, lang domain.Language) (string, bool) {
	healable := false
	for _, issue := range res.Issues {
		switch issue.Check {
		case "exposed_reasoning", "capital_after_comma":
			healable = true
		default:
			if issue.Severity == "hard" {
				return reply, false
			}
		}
	}
	if !healable {
		return reply, false
	}

	healed := stripReasoningSentences(reply)
	healed = fixCapsAfterComma(healed, lang)
	if healed == reply {
		return reply, false
	}
	return healed, true
}

func stripReasoningSentences(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	for _, line := range lines {
		var kept []string
		for _, sentence := range splitSentences(line) {
			lower := strings.ToLower(strings.TrimSpace(sentence))
			drop := false
			for _, m := range reasoningMarkers {
				if strings.HasPrefix(lower, m) || strings.Contains(lower, m) {
					drop = true
					break
				}
			}
			if !drop {
				kept = append(kept, sentence)
			}
		}
		out = append(out, strings.Join(kept, " "))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func splitSentences(line string) []string {
	var out []string
	start := 0
	runes := []rune(line)
	for i, r := range runes {
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func fixCapsAfterComma(text string, lang domain.Language) string {
	banned := forbiddenCaps[langOrDefault(lang)]
	return capCommaRe.ReplaceAllStringFunc(text, func(m string) string {
		word := capCommaRe.FindStringSubmatch(m)[1]
		for _, b := range banned {
			if word == b {
				return strings.Replace(m, word, strings.ToLower(word), 1)
			}
		}
		return m
	})
}

// countBadCaps counts capitalized words after a comma that belong to
// the banned list for the language.
func countBadCaps(text string, lang domain.Language) int {
	banned := forbiddenCaps[langOrDefault(lang)]
	n := 0
	for _, m := range capCommaRe.FindAllStringSubmatch(text, -1) {
		for _, b := range banned {
			if m[1] == b {
				n++
				break
			}
		}
	}
	return n
}

// knowledgeCorpus flattens the snapshot into one searchable text.
func knowledgeCorpus(kb *domain.KnowledgeBaseSnapshot) string {
	var b strings.Builder
	for k, v := range kb.Facts {
		b.WriteString(k)
		b.WriteString(" ")
		b.WriteString(v)
		b.WriteString("\n")
	}
	for _, s := range kb.Streets {
		b.WriteString(s.Name)
		b.WriteString("\n")
	}
	return b.String()
}

// normalizeTime maps "9.30" and "09:30" to the same key.
func normalizeTime(t string) string {
	t = strings.ReplaceAll(t, ".", ":")
	if len(t) == 4 {
		t = "0" + t
	}
	return t
}

func normalizedTimes(corpus string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range timeRe.FindAllString(corpus, -1) {
		out[normalizeTime(t)] = true
	}
	return out
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// digitRuns extracts every digit sequence of phone length from the
// corpus, ignoring separators.
func digitRuns(corpus string) []string {
	var out []string
	for _, raw := range phoneRe.FindAllString(corpus, -1) {
		if d := onlyDigits(raw); len(d) >= minPhoneDigits {
			out = append(out, d)
		}
	}
	return out
}

func containsDigits(runs []string, digits string) bool {
	for _, r := range runs {
		if strings.Contains(r, digits) || strings.Contains(digits, r) {
			return true
		}
	}
	return false
}

func containsWordish(lower, slot string) bool {
	idx := strings.Index(lower, slot)
	if idx < 0 {
		return false
	}
	before := idx == 0 || !isLetter(rune(lower[idx-1]))
	end := idx + len(slot)
	after := end >= len(lower) || !isLetter(rune(lower[end]))
	return before && after
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func countMarkers(lower string, markers []string) int {
	n := 0
	for _, m := range markers {
		if strings.Contains(lower, m) {
			n++
		}
	}
	return n
}

var greetings = map[domain.Language][]string{
	domain.LangItalian: {"gentile", "caro", "cara", "buongiorno", "buonasera", "salve", "carissim"},
	domain.LangEnglish: {"dear", "hello", "good morning", "good evening", "hi "},
	domain.LangSpanish: {"estimad", "querid", "buenos días", "buenas tardes", "hola"},
}

var closings = map[domain.Language][]string{
	domain.LangItalian: {"cordiali saluti", "un caro saluto", "in cristo", "la segreteria", "don ", "fraternamente"},
	domain.LangEnglish: {"kind regards", "best regards", "god bless", "sincerely", "the parish office"},
	domain.LangSpanish: {"cordiales saludos", "un saludo", "atentamente", "la secretaría"},
}

func hasGreeting(lower string, lang domain.Language) bool {
	head := lower
	if len(head) > 120 {
		head = head[:120]
	}
	return matchAny(head, greetings[langOrDefault(lang)])
}

func hasClosing(lower string, lang domain.Language) bool {
	tail := lower
	if len(tail) > 200 {
		tail = tail[len(tail)-200:]
	}
	return matchAny(tail, closings[langOrDefault(lang)])
}

func langOrDefault(lang domain.Language) domain.Language {
	if lang == "" {
		return domain.LangItalian
	}
	return lang
}

func matchAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// countUpperRuns counts words of four or more letters written fully in
// uppercase.
func countUpperRuns(s string) int {
	n := 0
	for _, w := range strings.Fields(s) {
		letters := 0
		upper := true
		for _, r := range w {
			if r >= 'a' && r <= 'z' {
				upper = false
			}
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				letters++
			}
		}
		if upper && letters >= 4 {
			n++
		}
	}
	return n
}
