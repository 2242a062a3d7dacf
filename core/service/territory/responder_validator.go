package territory

import (
	"responder_server/core/domain"
)

// Validator checks extracted addresses against a parish boundary
// snapshot. The snapshot is taken once per run, so every email in a
// batch is judged against the same table.
type Validator struct {
	snapshot *domain.KnowledgeBaseSnapshot
}

func NewValidator(snapshot *domain.KnowledgeBaseSnapshot) *Validator {
	return &Validator{snapshot: snapshot}
}

// Validate extracts addresses from the text and renders a verdict for
// each. An unknown street counts as outside but is flagged so the
// reply can suggest checking with the office. A known street that is
// only partially in the parish, mentioned without a civic number,
// cannot be judged either way: the verdict asks for the number instead
// of declaring the sender outside.
func (v *Validator) Validate(text string) domain.TerritoryVerdict {
	addresses := ExtractAddresses(text)
	verdict := domain.TerritoryVerdict{
		Checked:    len(addresses) > 0,
		AllOutside: len(addresses) > 0,
	}

	for _, a := range addresses {
		m := v.ValidateAddress(a)
		if m.InTerritory {
			verdict.AnyInside = true
			verdict.AllOutside = false
		}
		if m.NeedsCivic {
			verdict.NeedsCivic = true
			verdict.AllOutside = false
		}
		verdict.Matches = append(verdict.Matches, m)
	}
	return verdict
}

// ValidateAddress checks one already-extracted address.
func (v *Validator) ValidateAddress(a domain.Address) domain.TerritoryMatch {
	m := domain.TerritoryMatch{Address: a}
	rule, ok := v.snapshot.MatchStreet(a.StreetName)
	if !ok {
		return m
	}
	m.Known = true
	if a.CivicNumber == 0 {
		m.InTerritory, m.NeedsCivic = rule.WholeStreet()
		return m
	}
	m.InTerritory = rule.Contains(a.CivicNumber)
	return m
}
