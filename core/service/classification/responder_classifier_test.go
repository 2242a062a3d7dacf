package classification

import (
	"strings"
	"testing"

	"responder_server/core/domain"
)

func TestPrefilterAcknowledgment(t *testing.T) {
	p := NewPrefilter()
	tests := []struct {
		name    string
		subject string
		body    string
		isReply bool
		needsAI bool
		reply   bool
		conf    float64
	}{
		{"bare thanks", "Re: orari", "Grazie!", true, false, false, 1.0},
		{"ok perfect", "Re: orari", "ok perfetto", true, false, false, 1.0},
		{"thanks with question still goes on", "Re: orari", "grazie ma quando?", true, true, false, 0},
		{"greeting only", "saluti", "Buongiorno", false, false, false, 0.95},
		{"empty body reply with subject", "orari messe domenica", "", true, true, false, 0.8},
		{"empty body fresh mail", "", "", false, false, false, 0.9},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := p.Classify(tc.subject, tc.body, tc.isReply)
			if v.NeedsAI != tc.needsAI {
				t.Errorf("NeedsAI = %v, want %v", v.NeedsAI, tc.needsAI)
			}
			if !v.NeedsAI && v.Reply != tc.reply {
				t.Errorf("Reply = %v, want %v", v.Reply, tc.reply)
			}
			if tc.conf > 0 && v.Confidence != tc.conf {
				t.Errorf("Confidence = %v, want %v", v.Confidence, tc.conf)
			}
		})
	}
}

func TestPrefilterCategoryHints(t *testing.T) {
	p := NewPrefilter()
	tests := []struct {
		body string
		want domain.Category
	}{
		{"Vorrei fissare un appuntamento con il parroco", domain.CategoryAppointment},
		{"Vorrei informazioni sul battesimo di mio figlio", domain.CategorySacrament},
		{"Quali sono gli orari delle messe?", domain.CategoryInformation},
		{"Chiedo lo sbattezzo e la cancellazione dal registro", domain.CategorySbattezzo},
		{"Quanto costa il preventivo per il restauro?", domain.CategoryQuotation},
	}
	for _, tc := range tests {
		v := p.Classify("", tc.body, false)
		if !v.NeedsAI {
			t.Errorf("%q: should need the quick check", tc.body)
			continue
		}
		if v.Category != tc.want {
			t.Errorf("%q: category = %q, want %q", tc.body, v.Category, tc.want)
		}
	}
}

func TestExtractMainContent(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			"strips quoted reply",
			"Va bene per domenica.\n> Il parroco ha scritto\n> gli orari sono",
			"Va bene per domenica.",
		},
		{
			"strips signature",
			"Ci vediamo domani.\n--\nMario Rossi\nVia Roma 1",
			"Ci vediamo domani.",
		},
		{
			"strips sent-from-phone",
			"Confermo.\nInviato da iPhone",
			"Confermo.",
		},
		{
			"strips original message block",
			"Grazie mille per la risposta.\n-----Messaggio originale-----\nDa: ufficio",
			"Grazie mille per la risposta.",
		},
		{
			"strips html blockquote",
			"Nuovo testo <blockquote>vecchio testo</blockquote> coda",
			"Nuovo testo  coda",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractMainContent(tc.body); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractMainContentBounded(t *testing.T) {
	huge := strings.Repeat("a", 100000)
	got := ExtractMainContent(huge)
	if len(got) > maxContentLength {
		t.Errorf("content not capped: %d bytes", len(got))
	}

	// Unclosed nested blockquotes must not loop forever.
	nested := strings.Repeat("<blockquote>x", 50) + "fine"
	_ = ExtractMainContent(nested)
}

func TestNormalizeSaturation(t *testing.T) {
	tests := []struct {
		raw, want float64
	}{
		{0, 0},
		{-1, 0},
		{2.5, 0.5},
		{5.0, 1.0},
		{7, 1.0},
	}
	for _, tc := range tests {
		if got := Normalize(tc.raw); got != tc.want {
			t.Errorf("Normalize(%v) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestScanDimensionsMonotonic(t *testing.T) {
	weakDims, weakHits := ScanDimensions("vorrei un certificato")
	strongDims, strongHits := ScanDimensions("vorrei un certificato di battesimo, un documento per l'ufficio, con prenotazione e orari della segreteria")

	if strongDims.Technical <= weakDims.Technical {
		t.Errorf("raw technical %v should exceed %v", strongDims.Technical, weakDims.Technical)
	}
	if strongHits <= weakHits {
		t.Errorf("hit count must grow with matches: %d <= %d", strongHits, weakHits)
	}
	if Normalize(strongDims.Technical) <= Normalize(weakDims.Technical) {
		t.Errorf("normalized score must grow with matches")
	}
}

func TestFormalRawOverride(t *testing.T) {
	c := NewClassifier()
	// Formal raw score beyond the threshold dominates even with
	// technical matches present.
	v := c.Analyze("", "Con la presente si richiede ai sensi dell'art. 7 GDPR il certificato e i documenti con gli orari dell'ufficio")
	if v.Raw.Formal < formalOverrideThreshold {
		t.Fatalf("formal raw = %v, expected >= %v", v.Raw.Formal, formalOverrideThreshold)
	}
	if got := c.Resolve(v, nil); got.Type != domain.TypeFormal {
		t.Errorf("type = %q, want formal", got.Type)
	}
}

func TestPrimaryTypeTable(t *testing.T) {
	tests := []struct {
		name string
		dims domain.Dimensions
		raw  float64
		want domain.RequestType
	}{
		{"formal first", domain.Dimensions{Formal: 0.7, Technical: 0.9}, 0, domain.TypeFormal},
		{"doctrinal before pastoral", domain.Dimensions{Doctrinal: 0.7, Pastoral: 0.9}, 0, domain.TypeDoctrinal},
		{"pastoral over weaker technical", domain.Dimensions{Pastoral: 0.7, Technical: 0.5}, 0, domain.TypePastoral},
		{"pastoral loses tie to technical", domain.Dimensions{Pastoral: 0.6, Technical: 0.6}, 0, domain.TypeTechnical},
		{"technical alone", domain.Dimensions{Technical: 0.65}, 0, domain.TypeTechnical},
		{"two moderate dimensions mix", domain.Dimensions{Technical: 0.5, Pastoral: 0.45}, 0, domain.TypeMixed},
		{"single weak signal stays technical", domain.Dimensions{Pastoral: 0.45}, 0, domain.TypeTechnical},
		{"raw formal override beats everything", domain.Dimensions{Technical: 0.9}, 4.5, domain.TypeFormal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := primaryType(tc.dims, tc.raw); got != tc.want {
				t.Errorf("primaryType = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestGradeVerdictFormula(t *testing.T) {
	const eps = 1e-9
	near := func(a, b float64) bool { return a-b < eps && b-a < eps }

	t.Run("strong clear signal", func(t *testing.T) {
		local := LocalVerdict{MatchCount: 12, TextLength: 200}
		dims := domain.Dimensions{Technical: 0.9}
		// 0.2 baseline + 0.4 match cap + 0.2 gap cap + 0.1 saturated top.
		conf, flags := gradeVerdict(dims, local, false)
		if !near(conf, 0.9) {
			t.Errorf("confidence = %v, want 0.9", conf)
		}
		if len(flags) != 0 {
			t.Errorf("unexpected flags: %v", flags)
		}
	})

	t.Run("ambiguous moderate signal", func(t *testing.T) {
		local := LocalVerdict{MatchCount: 3, TextLength: 200}
		dims := domain.Dimensions{Technical: 0.5, Pastoral: 0.45}
		// 0.2 + min(3/6, 0.4) + min(0.05/0.5, 0.2), no top bonus.
		conf, flags := gradeVerdict(dims, local, false)
		if !near(conf, 0.7) {
			t.Errorf("confidence = %v, want 0.7", conf)
		}
		if !hasFlag(flags, domain.FlagAmbiguous) {
			t.Errorf("flags = %v, want ambiguous", flags)
		}
	})

	t.Run("empty short text bottoms out", func(t *testing.T) {
		local := LocalVerdict{MatchCount: 0, TextLength: 40}
		conf, flags := gradeVerdict(domain.Dimensions{}, local, false)
		if !near(conf, 0.1) {
			t.Errorf("confidence = %v, want floor 0.1", conf)
		}
		for _, want := range []string{domain.FlagLowSignal, domain.FlagShortText, domain.FlagLowConfidence} {
			if !hasFlag(flags, want) {
				t.Errorf("flags = %v, missing %q", flags, want)
			}
		}
	})

	t.Run("external hint floors at 0.7", func(t *testing.T) {
		local := LocalVerdict{MatchCount: 0, TextLength: 200}
		conf, flags := gradeVerdict(domain.Dimensions{Technical: 0.8}, local, true)
		if conf < 0.7 {
			t.Errorf("confidence = %v, want >= 0.7 with a hint", conf)
		}
		if !hasFlag(flags, domain.FlagExternalHint) {
			t.Errorf("flags = %v, want external hint", flags)
		}
	})
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

func TestResolveHintBlending(t *testing.T) {
	c := NewClassifier()
	local := LocalVerdict{
		Normalized: domain.Dimensions{Technical: 0.3},
		MatchCount: 2,
		TextLength: 200,
		Language:   domain.LangItalian,
		Category:   domain.CategoryInformation,
	}

	t.Run("silent remote falls back to local with failsafe reply", func(t *testing.T) {
		got := c.Resolve(local, nil)
		if !got.ReplyNeeded {
			t.Error("failsafe must answer when the remote is silent")
		}
		if got.Category != domain.CategoryInformation {
			t.Errorf("category = %q, want local verdict", got.Category)
		}
		if got.Source != domain.SourceRegex {
			t.Errorf("source = %q, want regex", got.Source)
		}
	})

	t.Run("exotic remote wins outright", func(t *testing.T) {
		remote := &domain.QuickCheck{ReplyNeeded: false, Exotic: true, Category: domain.CategoryOther, Confidence: 0.7}
		got := c.Resolve(local, remote)
		if got.ReplyNeeded {
			t.Error("exotic remote verdict must not be overridden")
		}
	})

	t.Run("confident remote dimensions replace the scan", func(t *testing.T) {
		remote := &domain.QuickCheck{
			ReplyNeeded: true,
			Category:    domain.CategorySacrament,
			Dimensions:  domain.Dimensions{Doctrinal: 0.9},
			Confidence:  0.65,
		}
		got := c.Resolve(local, remote)
		if got.Source != domain.SourceLLM {
			t.Errorf("source = %q, want llm", got.Source)
		}
		if got.Dimensions.Doctrinal != 0.9 || got.Dimensions.Technical != 0 {
			t.Errorf("dimensions not replaced: %+v", got.Dimensions)
		}
		if got.Confidence < 0.7 {
			t.Errorf("confidence = %v, want hint floor 0.7", got.Confidence)
		}
	})

	t.Run("hesitant remote dimensions are ignored", func(t *testing.T) {
		remote := &domain.QuickCheck{
			ReplyNeeded: true,
			Dimensions:  domain.Dimensions{Doctrinal: 0.9},
			Confidence:  0.5,
		}
		got := c.Resolve(local, remote)
		if got.Source != domain.SourceRegex {
			t.Errorf("source = %q, want regex", got.Source)
		}
		if got.Dimensions.Technical != 0.3 {
			t.Errorf("local dimensions lost: %+v", got.Dimensions)
		}
	})

	t.Run("very confident category hint boosts its dimension", func(t *testing.T) {
		remote := &domain.QuickCheck{ReplyNeeded: true, Category: domain.CategorySacrament, Confidence: 0.8}
		got := c.Resolve(local, remote)
		if got.Source != domain.SourceHybrid {
			t.Errorf("source = %q, want hybrid", got.Source)
		}
		if got.Dimensions.Doctrinal != 0.8 {
			t.Errorf("doctrinal = %v, want boosted to 0.8", got.Dimensions.Doctrinal)
		}
		if got.Type != domain.TypeDoctrinal {
			t.Errorf("type = %q, want doctrinal", got.Type)
		}
	})
}

func TestResolveLowConfidenceDowngrade(t *testing.T) {
	c := NewClassifier()
	// A lone pastoral reading on a very short text scores below the
	// cutoff and must be routed as technical rather than trusted.
	local := LocalVerdict{
		Normalized: domain.Dimensions{Pastoral: 0.65},
		MatchCount: 0,
		TextLength: 40,
		Language:   domain.LangItalian,
		Category:   domain.CategoryOther,
	}
	got := c.Resolve(local, nil)
	if got.Type != domain.TypeTechnical {
		t.Errorf("type = %q, want technical after downgrade", got.Type)
	}
	if !got.HasFlag(domain.FlagDowngraded) {
		t.Errorf("flags = %v, want downgrade flag", got.Flags)
	}
}

func TestResolveGuidanceFields(t *testing.T) {
	c := NewClassifier()
	local := LocalVerdict{
		Normalized: domain.Dimensions{Pastoral: 0.8, Technical: 0.3},
		MatchCount: 6,
		TextLength: 300,
		Language:   domain.LangItalian,
		Category:   domain.CategoryOther,
	}
	got := c.Resolve(local, nil)
	if got.EmotionalLoad != "alta" {
		t.Errorf("emotional load = %q, want alta", got.EmotionalLoad)
	}
	if got.SuggestedTone != "empatico e accogliente" {
		t.Errorf("tone = %q", got.SuggestedTone)
	}
	if !got.NeedsDiscernment {
		t.Error("pastoral weight above 0.3 must require discernment")
	}
}

func TestTruncateSmartKeepsHeadAndTail(t *testing.T) {
	head := strings.Repeat("a", 2000)
	tail := strings.Repeat("z", 2000)
	got := truncateSmart(head + tail)
	if len([]rune(got)) != scanKeepHead+scanKeepTail+5 {
		t.Fatalf("truncated length = %d", len([]rune(got)))
	}
	if !strings.HasPrefix(got, "aaa") || !strings.HasSuffix(got, "zzz") {
		t.Error("truncation must keep the opening and the closing of the text")
	}
	if !strings.Contains(got, " ... ") {
		t.Error("truncation marker missing")
	}

	short := "testo breve"
	if truncateSmart(short) != short {
		t.Error("short text must pass through untouched")
	}
}

func TestScanSubIntents(t *testing.T) {
	got := ScanSubIntents("Mia madre è venuta a mancare la settimana scorsa e sono disperata")
	wantBereavement, wantDistress := false, false
	for _, s := range got {
		if s == domain.SubIntentBereavement {
			wantBereavement = true
		}
		if s == domain.SubIntentEmotionalDistress {
			wantDistress = true
		}
	}
	if !wantBereavement || !wantDistress {
		t.Errorf("sub intents = %v, want bereavement and emotional distress", got)
	}
}
