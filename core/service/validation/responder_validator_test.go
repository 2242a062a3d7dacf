package validation

import (
	"strings"
	"testing"

	"responder_server/core/domain"
)

const goodReply = `Gentile Sig. Rossi,

la ringrazio per il suo messaggio. Le confermo che le messe domenicali
si tengono alle ore 9:00 e alle ore 11:00. La segreteria è aperta dal
lunedì al venerdì dalle 9:30 alle 12:00.

Cordiali saluti,
la segreteria parrocchiale`

func testSnapshot() *domain.KnowledgeBaseSnapshot {
	return &domain.KnowledgeBaseSnapshot{
		Facts: map[string]string{
			"orari":    "messe domenicali alle 9:00 e alle 11:00, segreteria dalle 9:30 alle 12:00",
			"contatti": "segreteria@parrocchia-sanmarco.it, telefono 06 1234 5678",
		},
	}
}

func TestValidatePasses(t *testing.T) {
	v := NewValidator(0.6, 0.8)
	res := v.Validate(Input{Reply: goodReply, Language: domain.LangItalian})
	if !res.Passed {
		t.Fatalf("good reply failed: %+v", res.Issues)
	}
	if res.Score < 0.9 {
		t.Errorf("score = %v, want near 1.0", res.Score)
	}
}

func TestValidatePlaceholderHardFails(t *testing.T) {
	v := NewValidator(0.6, 0.8)
	reply := strings.Replace(goodReply, "Sig. Rossi", "[NOME]", 1)
	res := v.Validate(Input{Reply: reply, Language: domain.LangItalian})
	if res.Passed {
		t.Fatal("unfilled placeholder must not pass")
	}
	if res.Score != 0.0 {
		t.Errorf("score = %v, want 0.0 on hard failure", res.Score)
	}
	if !res.HardFailed() {
		t.Error("expected a hard issue")
	}
}

func TestValidateEmptyHardFails(t *testing.T) {
	v := NewValidator(0.6, 0.8)
	res := v.Validate(Input{Reply: "   \n ", Language: domain.LangItalian})
	if res.Passed || res.Score != 0.0 {
		t.Errorf("empty reply: passed=%v score=%v", res.Passed, res.Score)
	}
}

func TestValidatePromptLeakHardFails(t *testing.T) {
	v := NewValidator(0.6, 0.8)
	reply := goodReply + "\n```json\n{\"reply_needed\": true}"
	res := v.Validate(Input{Reply: reply, Language: domain.LangItalian})
	if res.Passed {
		t.Fatal("prompt scaffolding must not pass")
	}
}

func TestValidateStrictRaisesBar(t *testing.T) {
	v := NewValidator(0.6, 0.8)
	// Missing greeting and closing: -0.15 -0.1 leaves 0.75.
	reply := "Le messe domenicali si tengono alle ore 9:00 e alle ore 11:00 in chiesa parrocchiale."
	normal := v.Validate(Input{Reply: reply, Language: domain.LangItalian})
	strict := v.Validate(Input{Reply: reply, Language: domain.LangItalian, Strict: true})
	if !normal.Passed {
		t.Fatalf("expected pass at 0.6: %+v", normal)
	}
	if strict.Passed {
		t.Fatalf("expected fail at 0.8: score %v", strict.Score)
	}
}

func TestValidateShortReplyPenalized(t *testing.T) {
	v := NewValidator(0.6, 0.8)
	res := v.Validate(Input{Reply: "Va bene.", Language: domain.LangItalian})
	if res.Score >= 1.0 {
		t.Errorf("score = %v, want penalty applied", res.Score)
	}
	found := false
	for _, i := range res.Issues {
		if i.Check == "too_short" {
			found = true
		}
	}
	if !found {
		t.Error("too_short issue missing")
	}
}

func TestValidateEnglishGreeting(t *testing.T) {
	v := NewValidator(0.6, 0.8)
	reply := "Dear Mr. Smith,\n\nSunday masses are at 9:00 and 11:00. You are most welcome to join us.\n\nKind regards,\nthe parish office"
	res := v.Validate(Input{Reply: reply, Language: domain.LangEnglish})
	if !res.Passed {
		t.Errorf("english reply failed: %+v", res.Issues)
	}
}

func TestValidateLanguageMismatchHardFails(t *testing.T) {
	v := NewValidator(0.6, 0.8)
	reply := "Dear Mr. Smith,\n\nSunday masses are at 9:00 and 11:00 in our parish church.\n\nKind regards,\nthe parish office"
	res := v.Validate(Input{Reply: reply, Language: domain.LangItalian})
	if res.Passed {
		t.Fatal("english reply to an italian sender must not pass")
	}
	if !hasIssue(res, "language_mismatch") {
		t.Errorf("language_mismatch issue missing: %+v", res.Issues)
	}
}

func TestValidateBereavementNeedsCondolence(t *testing.T) {
	v := NewValidator(0.6, 0.8)
	source := "Vi scrivo perché la mia cara mamma è venuta a mancare ieri. Vorrei informazioni per organizzare il funerale."

	res := v.Validate(Input{Reply: goodReply, Language: domain.LangItalian, Strict: true, SourceText: source})
	if res.Passed {
		t.Fatal("condolence-free reply to a bereavement email must not pass")
	}
	if !hasIssue(res, "missing_condolence") {
		t.Errorf("missing_condolence issue missing: %+v", res.Issues)
	}
	if res.Score != 0.0 {
		t.Errorf("score = %v, want 0.0 on hard failure", res.Score)
	}

	warm := strings.Replace(goodReply, "la ringrazio per il suo messaggio.",
		"le porgiamo le nostre più sentite condoglianze e le siamo vicini nella preghiera.", 1)
	res = v.Validate(Input{Reply: warm, Language: domain.LangItalian, Strict: true, SourceText: source})
	if !res.Passed {
		t.Errorf("condolence reply failed: %+v", res.Issues)
	}
}

func TestValidateBereavementLooksAtSourceOnly(t *testing.T) {
	v := NewValidator(0.6, 0.8)
	// The reply mentions funerals on its own initiative: no escalation.
	reply := goodReply + "\nPer le esequie la chiesa è disponibile su appuntamento."
	res := v.Validate(Input{Reply: reply, Language: domain.LangItalian, SourceText: "Vorrei sapere gli orari delle messe."})
	if !res.Passed {
		t.Errorf("schedule reply mentioning funerals failed: %+v", res.Issues)
	}
}

func TestValidateInventedEmailHardFails(t *testing.T) {
	v := NewValidator(0.6, 0.8)
	kb := testSnapshot()

	reply := goodReply + "\nPuò scrivere a info@altraparrocchia.org per i dettagli."
	res := v.Validate(Input{Reply: reply, Language: domain.LangItalian, Knowledge: kb})
	if res.Passed {
		t.Fatal("email address absent from the knowledge base must not pass")
	}
	if !hasIssue(res, "invented_email") {
		t.Errorf("invented_email issue missing: %+v", res.Issues)
	}

	reply = goodReply + "\nPuò scrivere a segreteria@parrocchia-sanmarco.it per i dettagli."
	res = v.Validate(Input{Reply: reply, Language: domain.LangItalian, Knowledge: kb})
	if !res.Passed {
		t.Errorf("known address failed: %+v", res.Issues)
	}
}

func TestValidateInventedPhoneHardFails(t *testing.T) {
	v := NewValidator(0.6, 0.8)
	kb := testSnapshot()

	reply := "Gentile Sig. Rossi,\n\nper prenotare può chiamare la segreteria al numero 06 9999 8888 in orario di ufficio.\n\nCordiali saluti,\nla segreteria parrocchiale"
	res := v.Validate(Input{Reply: reply, Language: domain.LangItalian, Knowledge: kb})
	if res.Passed {
		t.Fatal("phone number absent from the knowledge base must not pass")
	}
	if !hasIssue(res, "invented_phone") {
		t.Errorf("invented_phone issue missing: %+v", res.Issues)
	}

	reply = strings.Replace(reply, "06 9999 8888", "06 1234 5678", 1)
	res = v.Validate(Input{Reply: reply, Language: domain.LangItalian, Knowledge: kb})
	if !res.Passed {
		t.Errorf("known number failed: %+v", res.Issues)
	}
}

func TestValidateUnverifiedTimeIsSoft(t *testing.T) {
	v := NewValidator(0.6, 0.8)
	reply := strings.Replace(goodReply, "11:00", "18:30", 1)
	res := v.Validate(Input{Reply: reply, Language: domain.LangItalian, Knowledge: testSnapshot()})
	if !hasIssue(res, "unverified_time") {
		t.Fatalf("unverified_time issue missing: %+v", res.Issues)
	}
	if res.HardFailed() {
		t.Error("a time of day alone must not hard fail")
	}
	if !res.Passed {
		t.Errorf("soft time warning should still pass: score %v", res.Score)
	}
}

func TestSelfHealStripsExposedReasoning(t *testing.T) {
	v := NewValidator(0.6, 0.8)
	reply := goodReply + "\nPensandoci bene, gli orari estivi potrebbero variare."

	res := v.Validate(Input{Reply: reply, Language: domain.LangItalian})
	if res.Passed {
		t.Fatal("exposed reasoning must not pass")
	}
	healed, changed := v.SelfHeal(reply, res, domain.LangItalian)
	if !changed {
		t.Fatal("expected a repair")
	}
	if strings.Contains(strings.ToLower(healed), "pensandoci bene") {
		t.Errorf("reasoning still present:\n%s", healed)
	}
	retry := v.Validate(Input{Reply: healed, Language: domain.LangItalian})
	if !retry.Passed {
		t.Errorf("healed reply failed: %+v", retry.Issues)
	}
}

func TestSelfHealLowersCapsAfterComma(t *testing.T) {
	v := NewValidator(0.6, 0.8)
	reply := strings.Replace(goodReply, "messaggio. Le confermo", "messaggio, Le confermo", 1)

	res := v.Validate(Input{Reply: reply, Language: domain.LangItalian})
	if !hasIssue(res, "capital_after_comma") {
		t.Fatalf("capital_after_comma issue missing: %+v", res.Issues)
	}
	healed, changed := v.SelfHeal(reply, res, domain.LangItalian)
	if !changed {
		t.Fatal("expected a repair")
	}
	if !strings.Contains(healed, "messaggio, le confermo") {
		t.Errorf("capital not lowered:\n%s", healed)
	}
}

func TestSelfHealRefusesInventedContact(t *testing.T) {
	v := NewValidator(0.6, 0.8)
	reply := goodReply + "\nPuò scrivere a info@altraparrocchia.org, Grazie."

	res := v.Validate(Input{Reply: reply, Language: domain.LangItalian, Knowledge: testSnapshot()})
	if !hasIssue(res, "invented_email") {
		t.Fatalf("invented_email issue missing: %+v", res.Issues)
	}
	healed, changed := v.SelfHeal(reply, res, domain.LangItalian)
	if changed || healed != reply {
		t.Error("invented contact data must never be healed over")
	}
}

func hasIssue(res domain.ValidationResult, check string) bool {
	for _, i := range res.Issues {
		if i.Check == check {
			return true
		}
	}
	return false
}
