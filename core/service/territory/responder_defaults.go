package territory

import "responder_server/core/domain"

// DefaultStreets is the built-in parish boundary table, used when the
// knowledge source has no override. Street names are stored
// normalized. Parity and ranges follow the diocesan boundary decree:
// a street shared with a neighbouring parish lists only the side or
// the civic span that belongs here.
func DefaultStreets() []domain.StreetRule {
	all := func(name string) domain.StreetRule {
		return domain.StreetRule{Name: name, Parity: domain.ParityAll}
	}
	odd := func(name string, ranges ...domain.CivicRange) domain.StreetRule {
		return domain.StreetRule{Name: name, Parity: domain.ParityOdd, Ranges: ranges}
	}
	even := func(name string, ranges ...domain.CivicRange) domain.StreetRule {
		return domain.StreetRule{Name: name, Parity: domain.ParityEven, Ranges: ranges}
	}
	ranged := func(name string, ranges ...domain.CivicRange) domain.StreetRule {
		return domain.StreetRule{Name: name, Parity: domain.ParityAll, Ranges: ranges}
	}

	return []domain.StreetRule{
		all("roma"),
		all("giuseppe garibaldi"),
		all("cavour"),
		all("giuseppe mazzini"),
		all("dante alighieri"),
		all("alessandro manzoni"),
		all("giacomo leopardi"),
		all("san giovanni bosco"),
		all("santa maria delle grazie"),
		all("don luigi sturzo"),
		all("papa giovanni xxiii"),
		all("della chiesa"),
		all("del santuario"),
		all("monte grappa"),
		all("dei mille"),
		all("xxv aprile"),
		all("iv novembre"),
		all("primo maggio"),
		all("fratelli bandiera"),
		all("della pace"),
		all("san francesco"),
		all("sant antonio"),
		all("flaminio"),
		all("dei parioli"),
		all("madonna del carmine"),
		all("degli ulivi"),
		all("dei pini"),
		all("delle rose"),
		all("dei gelsomini"),
		all("enrico fermi"),
		all("guglielmo marconi"),
		all("alcide de gasperi"),
		all("aldo moro"),
		all("antonio gramsci"),
		all("giuseppe verdi"),
		all("giacomo puccini"),
		all("vittorio veneto"),
		odd("napoli", domain.CivicRange{From: 1, To: 99}),
		odd("torino"),
		even("milano"),
		even("firenze", domain.CivicRange{From: 2, To: 60}),
		ranged("genova", domain.CivicRange{From: 1, To: 45}),
		ranged("bologna", domain.CivicRange{From: 1, To: 30}, domain.CivicRange{From: 51, To: 79}),
		odd("venezia", domain.CivicRange{From: 1, To: 121}),
		even("palermo", domain.CivicRange{From: 2, To: 88}),
		all("trieste"),
		all("trento"),
		ranged("verona", domain.CivicRange{From: 1, To: 60}),
		odd("brescia"),
		even("bergamo"),
	}
}

// DefaultSnapshot builds a knowledge base view from the built-in table.
func DefaultSnapshot() *domain.KnowledgeBaseSnapshot {
	return &domain.KnowledgeBaseSnapshot{Streets: DefaultStreets()}
}
