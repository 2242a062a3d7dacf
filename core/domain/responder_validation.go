package domain

// ValidationIssue is one problem found in a generated reply.
type ValidationIssue struct {
	Check    string  `json:"check"`
	Severity string  `json:"severity"` // "hard" fails outright, "soft" lowers the score
	Detail   string  `json:"detail,omitempty"`
	Penalty  float64 `json:"penalty"`
}

// ValidationResult scores a generated reply before sending. A hard
// issue forces the score to zero regardless of the other checks.
type ValidationResult struct {
	Score  float64           `json:"score"`
	Passed bool              `json:"passed"`
	Issues []ValidationIssue `json:"issues,omitempty"`
}

// HardFailed reports whether any hard issue was found.
func (v ValidationResult) HardFailed() bool {
	for _, i := range v.Issues {
		if i.Severity == "hard" {
			return true
		}
	}
	return false
}

// KnowledgeBaseSnapshot is an immutable view of the parish knowledge
// used for one processing run: boundary rules plus reference facts the
// generator may cite. Taken once per run so every email in a batch sees
// the same data.
type KnowledgeBaseSnapshot struct {
	Streets     []StreetRule      `json:"streets"`
	Facts       map[string]string `json:"facts,omitempty"` // schedule, contacts, office hours
	TakenAtUnix int64             `json:"taken_at_unix"`
}

// Street looks up a boundary rule by normalized name.
func (k *KnowledgeBaseSnapshot) Street(name string) (StreetRule, bool) {
	name = NormalizeStreetName(name)
	for _, s := range k.Streets {
		if s.Name == name {
			return s, true
		}
	}
	return StreetRule{}, false
}

// MatchStreet looks up a boundary rule, falling back to token-level
// fuzzy matching when no exact entry exists. Exact entries always win.
func (k *KnowledgeBaseSnapshot) MatchStreet(name string) (StreetRule, bool) {
	if rule, ok := k.Street(name); ok {
		return rule, true
	}
	name = NormalizeStreetName(name)
	for _, s := range k.Streets {
		if StreetTokensMatch(name, s.Name) {
			return s, true
		}
	}
	return StreetRule{}, false
}
