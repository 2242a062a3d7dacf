package territory

import (
	"testing"

	"responder_server/core/domain"
)

func TestExtractAddresses(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []domain.Address
	}{
		{
			"plain civic",
			"Abito in Via Roma 10 e vorrei sapere se sono nel territorio",
			[]domain.Address{{StreetType: "via", StreetName: "roma", CivicNumber: 10}},
		},
		{
			"attached suffix",
			"il mio indirizzo è via Napoli 5B",
			[]domain.Address{{StreetType: "via", StreetName: "napoli", CivicNumber: 5, CivicSuffix: "B"}},
		},
		{
			"detached suffix with stray whitespace",
			"abito in Via Napoli 5   B vicino alla chiesa",
			[]domain.Address{{StreetType: "via", StreetName: "napoli", CivicNumber: 5, CivicSuffix: "B"}},
		},
		{
			"numero prefix",
			"residente in Piazza Cavour, n. 3",
			[]domain.Address{{StreetType: "piazza", StreetName: "cavour", CivicNumber: 3}},
		},
		{
			"multi word street",
			"corso Giuseppe Garibaldi 120",
			[]domain.Address{{StreetType: "corso", StreetName: "giuseppe garibaldi", CivicNumber: 120}},
		},
		{
			"no civic",
			"la mia via è via Milano, ci abito da anni",
			[]domain.Address{{StreetType: "via", StreetName: "milano"}},
		},
		{
			"no address at all",
			"Buongiorno, vorrei informazioni sugli orari delle messe",
			nil,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractAddresses(tc.text)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d addresses %v, want %d", len(got), got, len(tc.want))
			}
			for i := range got {
				if got[i].StreetType != tc.want[i].StreetType ||
					got[i].StreetName != tc.want[i].StreetName ||
					got[i].CivicNumber != tc.want[i].CivicNumber ||
					got[i].CivicSuffix != tc.want[i].CivicSuffix {
					t.Errorf("address %d = %+v, want %+v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestExtractAddressesSuffixDedup(t *testing.T) {
	got := ExtractAddresses("Via Roma 10A e anche Via Roma 10B sono di mia proprietà")
	if len(got) != 2 {
		t.Fatalf("got %d addresses %v, want 2", len(got), got)
	}
	civics := map[string]bool{}
	for _, a := range got {
		civics[a.FullCivic()] = true
	}
	if !civics["10A"] || !civics["10B"] {
		t.Errorf("full civics = %v, want 10A and 10B", civics)
	}
}

func TestExtractAddressesDedupExact(t *testing.T) {
	got := ExtractAddresses("via Roma 10, ripeto via Roma 10")
	if len(got) != 1 {
		t.Errorf("got %d addresses, want 1 after dedup", len(got))
	}
}

func TestExtractAddressesBounded(t *testing.T) {
	text := ""
	for i := 1; i <= 60; i++ {
		text += "via Roma " + itoa(i) + ", "
	}
	got := ExtractAddresses(text)
	if len(got) > maxAddresses {
		t.Errorf("got %d addresses, want at most %d", len(got), maxAddresses)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}

func TestExtractAddressesMangledSpacing(t *testing.T) {
	got := ExtractAddresses("abito in V i a Roma 10")
	if len(got) != 1 {
		t.Fatalf("got %d addresses %v, want 1", len(got), got)
	}
	a := got[0]
	if a.StreetType != "via" || a.StreetName != "roma" || a.CivicNumber != 10 {
		t.Errorf("address = %+v, want via roma 10", a)
	}
}

func TestExtractAddressesRarerStreetTypes(t *testing.T) {
	got := ExtractAddresses("Lungotevere Flaminio 5")
	if len(got) != 1 || got[0].StreetType != "lungotevere" || got[0].StreetName != "flaminio" || got[0].CivicNumber != 5 {
		t.Errorf("got %+v, want lungotevere flaminio 5", got)
	}

	got = ExtractAddresses("abito in Salita dei Parioli")
	if len(got) != 1 || got[0].StreetType != "salita" || got[0].StreetName != "dei parioli" {
		t.Errorf("got %+v, want salita dei parioli", got)
	}
}

func TestStreetRuleOddWithRange(t *testing.T) {
	rule := domain.StreetRule{
		Name:   "napoli",
		Parity: domain.ParityOdd,
		Ranges: []domain.CivicRange{{From: 1, To: 99}},
	}
	tests := []struct {
		civic int
		want  bool
	}{
		{51, true},   // odd, in range
		{100, false}, // even
		{150, false}, // even and out of range
		{101, false}, // odd but beyond the range
		{1, true},
		{99, true},
	}
	for _, tc := range tests {
		if got := rule.Contains(tc.civic); got != tc.want {
			t.Errorf("Contains(%d) = %v, want %v", tc.civic, got, tc.want)
		}
	}
}

func TestValidatorVerdicts(t *testing.T) {
	snap := &domain.KnowledgeBaseSnapshot{Streets: []domain.StreetRule{
		{Name: "roma", Parity: domain.ParityAll},
		{Name: "napoli", Parity: domain.ParityOdd, Ranges: []domain.CivicRange{{From: 1, To: 99}}},
	}}
	v := NewValidator(snap)

	t.Run("inside", func(t *testing.T) {
		verdict := v.Validate("abito in via Roma 12")
		if !verdict.Checked || !verdict.AnyInside || verdict.AllOutside {
			t.Errorf("verdict = %+v, want inside", verdict)
		}
	})

	t.Run("outside by parity", func(t *testing.T) {
		verdict := v.Validate("abito in via Napoli 4")
		if !verdict.Checked || verdict.AnyInside || !verdict.AllOutside {
			t.Errorf("verdict = %+v, want outside", verdict)
		}
	})

	t.Run("unknown street flagged", func(t *testing.T) {
		verdict := v.Validate("abito in via Sconosciuta 7")
		if !verdict.Checked {
			t.Fatal("address should have been extracted")
		}
		if len(verdict.Matches) != 1 || verdict.Matches[0].Known {
			t.Errorf("matches = %+v, want one unknown", verdict.Matches)
		}
	})

	t.Run("no address", func(t *testing.T) {
		verdict := v.Validate("vorrei solo gli orari delle messe")
		if verdict.Checked {
			t.Errorf("verdict = %+v, want unchecked", verdict)
		}
	})

	t.Run("mixed inside and outside", func(t *testing.T) {
		verdict := v.Validate("ho due case, via Roma 12 e via Napoli 4")
		if !verdict.AnyInside || verdict.AllOutside {
			t.Errorf("verdict = %+v, want any inside", verdict)
		}
		if len(verdict.Matches) != 2 {
			t.Errorf("got %d matches, want 2", len(verdict.Matches))
		}
	})
}

func TestValidatorStreetWithoutCivic(t *testing.T) {
	snap := &domain.KnowledgeBaseSnapshot{Streets: []domain.StreetRule{
		{Name: "roma", Parity: domain.ParityAll},
		{Name: "napoli", Parity: domain.ParityOdd, Ranges: []domain.CivicRange{{From: 1, To: 99}}},
		{Name: "milano", Parity: domain.ParityEven},
	}}
	v := NewValidator(snap)

	t.Run("fully covered street is inside", func(t *testing.T) {
		verdict := v.Validate("abito in via Roma")
		if !verdict.AnyInside || verdict.NeedsCivic {
			t.Errorf("verdict = %+v, want inside without asking", verdict)
		}
	})

	t.Run("parity street asks for the civic", func(t *testing.T) {
		verdict := v.Validate("abito in via Milano")
		if !verdict.Checked {
			t.Fatal("address should have been extracted")
		}
		if !verdict.NeedsCivic {
			t.Error("partially covered street without a number must ask for it")
		}
		if verdict.AnyInside || verdict.AllOutside {
			t.Errorf("verdict = %+v, want neither inside nor outside", verdict)
		}
		if len(verdict.Matches) != 1 || !verdict.Matches[0].Known || !verdict.Matches[0].NeedsCivic {
			t.Errorf("matches = %+v, want one known needing a civic", verdict.Matches)
		}
	})

	t.Run("ranged street asks for the civic", func(t *testing.T) {
		verdict := v.Validate("abito in via Napoli")
		if !verdict.NeedsCivic || verdict.AllOutside {
			t.Errorf("verdict = %+v, want needs-civic", verdict)
		}
	})

	t.Run("civic number stays definitive", func(t *testing.T) {
		verdict := v.Validate("abito in via Napoli 4")
		if verdict.NeedsCivic || !verdict.AllOutside {
			t.Errorf("verdict = %+v, want definitive outside", verdict)
		}
	})
}

func TestMatchStreetFuzzy(t *testing.T) {
	snap := DefaultSnapshot()

	rule, ok := snap.MatchStreet("garibaldi")
	if !ok || rule.Name != "giuseppe garibaldi" {
		t.Errorf("garibaldi matched %+v, want giuseppe garibaldi", rule)
	}

	rule, ok = snap.MatchStreet("papa g. xxiii")
	if !ok || rule.Name != "papa giovanni xxiii" {
		t.Errorf("abbreviated lookup matched %+v, want papa giovanni xxiii", rule)
	}

	if _, ok := snap.MatchStreet("circonvallazione appia"); ok {
		t.Error("unrelated street should not fuzzy-match")
	}
}

func TestNormalizeStreetName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"V I A  Rossi", "via rossi"},
		{"via rossi", "via rossi"},
		{"  ROSSI  ", "rossi"},
		{"Giuseppe   Garibaldi", "giuseppe garibaldi"},
	}
	for _, tc := range tests {
		if got := domain.NormalizeStreetName(tc.in); got != tc.want {
			t.Errorf("NormalizeStreetName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDefaultStreetsLookup(t *testing.T) {
	snap := DefaultSnapshot()
	if len(snap.Streets) < 40 {
		t.Fatalf("boundary table has %d streets, expected the full table", len(snap.Streets))
	}
	if _, ok := snap.Street("roma"); !ok {
		t.Error("roma should be in the default table")
	}
	if _, ok := snap.Street("inesistente"); ok {
		t.Error("unknown street should not resolve")
	}
}
