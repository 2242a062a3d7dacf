package persistence

import (
	"context"
	"time"

	"responder_server/core/domain"
	"responder_server/core/service/territory"
	"responder_server/pkg/apperr"
	"responder_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
)

// KnowledgeAdapter implements out.KnowledgeSourcePort on PostgreSQL.
//
// Boundary rules live in parish_streets, reference facts in
// parish_facts. When the streets table is empty the adapter falls back
// to the built-in boundary table, so a fresh database still validates
// addresses.
type KnowledgeAdapter struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewKnowledgeAdapter creates a new KnowledgeAdapter.
func NewKnowledgeAdapter(db *sqlx.DB, log *logger.Logger) *KnowledgeAdapter {
	return &KnowledgeAdapter{db: db, log: log}
}

type streetRow struct {
	Name   string `db:"name"`
	Parity string `db:"parity"`
	Ranges []byte `db:"ranges"`
}

type factRow struct {
	Key   string `db:"key"`
	Value string `db:"value"`
}

// Snapshot loads the current knowledge base in one shot.
func (a *KnowledgeAdapter) Snapshot(ctx context.Context) (*domain.KnowledgeBaseSnapshot, error) {
	streets, err := a.loadStreets(ctx)
	if err != nil {
		return nil, err
	}
	if len(streets) == 0 {
		a.log.Warn("parish_streets empty, using built-in boundary table")
		streets = territory.DefaultStreets()
	}

	facts, err := a.loadFacts(ctx)
	if err != nil {
		return nil, err
	}

	return &domain.KnowledgeBaseSnapshot{
		Streets:     streets,
		Facts:       facts,
		TakenAtUnix: time.Now().Unix(),
	}, nil
}

func (a *KnowledgeAdapter) loadStreets(ctx context.Context) ([]domain.StreetRule, error) {
	var rows []streetRow
	query := `SELECT name, parity, ranges FROM parish_streets ORDER BY name`
	if err := a.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, apperr.DatabaseError("load parish streets", err)
	}

	streets := make([]domain.StreetRule, 0, len(rows))
	for _, r := range rows {
		rule := domain.StreetRule{
			Name:   domain.NormalizeStreetName(r.Name),
			Parity: domain.CivicParity(r.Parity),
		}
		if rule.Parity == "" {
			rule.Parity = domain.ParityAll
		}
		if len(r.Ranges) > 0 {
			if err := json.Unmarshal(r.Ranges, &rule.Ranges); err != nil {
				return nil, apperr.DatabaseError("decode street ranges", err)
			}
		}
		streets = append(streets, rule)
	}
	return streets, nil
}

func (a *KnowledgeAdapter) loadFacts(ctx context.Context) (map[string]string, error) {
	var rows []factRow
	query := `SELECT key, value FROM parish_facts ORDER BY key`
	if err := a.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, apperr.DatabaseError("load parish facts", err)
	}

	facts := make(map[string]string, len(rows))
	for _, r := range rows {
		facts[r.Key] = r.Value
	}
	return facts, nil
}
