package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"responder_server/core/domain"
	"responder_server/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
)

// MemoryAdapter implements out.MemoryRepositoryPort on PostgreSQL.
//
// Writes are guarded by a version column: UPDATE matches the version
// the caller read and increments it in the same statement, so a stale
// save touches zero rows and surfaces as a concurrency conflict.
type MemoryAdapter struct {
	db *sqlx.DB
}

// NewMemoryAdapter creates a new MemoryAdapter.
func NewMemoryAdapter(db *sqlx.DB) *MemoryAdapter {
	return &MemoryAdapter{db: db}
}

const memorySelectColumns = `
	thread_id, sender_email, summary, provided_topics,
	last_category, last_language, last_reply_at,
	message_count, version, updated_at`

// memoryRow represents the database row for thread_memories.
type memoryRow struct {
	ThreadID       string         `db:"thread_id"`
	SenderEmail    string         `db:"sender_email"`
	Summary        string         `db:"summary"`
	ProvidedTopics []byte         `db:"provided_topics"`
	LastCategory   sql.NullString `db:"last_category"`
	LastLanguage   sql.NullString `db:"last_language"`
	LastReplyAt    sql.NullTime   `db:"last_reply_at"`
	MessageCount   int            `db:"message_count"`
	Version        int64          `db:"version"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r *memoryRow) toDomain() (*domain.ThreadMemory, error) {
	mem := &domain.ThreadMemory{
		ThreadID:     r.ThreadID,
		SenderEmail:  r.SenderEmail,
		Summary:      r.Summary,
		MessageCount: r.MessageCount,
		Version:      r.Version,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.LastCategory.Valid {
		mem.LastCategory = domain.Category(r.LastCategory.String)
	}
	if r.LastLanguage.Valid {
		mem.LastLanguage = domain.Language(r.LastLanguage.String)
	}
	if r.LastReplyAt.Valid {
		mem.LastReplyAt = r.LastReplyAt.Time
	}
	if len(r.ProvidedTopics) > 0 {
		if err := json.Unmarshal(r.ProvidedTopics, &mem.ProvidedTopics); err != nil {
			return nil, apperr.DatabaseError("decode provided_topics", err)
		}
	}
	return mem, nil
}

// Get loads the memory record for a thread.
func (a *MemoryAdapter) Get(ctx context.Context, threadID string) (*domain.ThreadMemory, error) {
	query := `SELECT ` + memorySelectColumns + ` FROM thread_memories WHERE thread_id = $1`

	var row memoryRow
	if err := a.db.GetContext(ctx, &row, query, threadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("thread memory")
		}
		return nil, apperr.DatabaseError("get thread memory", err)
	}
	return row.toDomain()
}

// Save upserts the record. A record with Version 0 is inserted; any
// other version must match the stored row, which is then bumped. The
// caller's Version field is updated to the stored value on success.
func (a *MemoryAdapter) Save(ctx context.Context, mem *domain.ThreadMemory) error {
	topics, err := json.Marshal(mem.ProvidedTopics)
	if err != nil {
		return apperr.DatabaseError("encode provided_topics", err)
	}

	if mem.Version == 0 {
		return a.insert(ctx, mem, topics)
	}

	query := `
		UPDATE thread_memories SET
			sender_email = $2, summary = $3, provided_topics = $4,
			last_category = $5, last_language = $6, last_reply_at = $7,
			message_count = $8, version = version + 1, updated_at = NOW()
		WHERE thread_id = $1 AND version = $9`

	res, err := a.db.ExecContext(ctx, query,
		mem.ThreadID, mem.SenderEmail, mem.Summary, topics,
		nullString(string(mem.LastCategory)), nullString(string(mem.LastLanguage)),
		nullTime(mem.LastReplyAt), mem.MessageCount, mem.Version)
	if err != nil {
		return apperr.DatabaseError("update thread memory", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return apperr.DatabaseError("update thread memory", err)
	}
	if affected == 0 {
		var stored int64
		err := a.db.GetContext(ctx, &stored,
			`SELECT version FROM thread_memories WHERE thread_id = $1`, mem.ThreadID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("thread memory")
		}
		if err != nil {
			return apperr.DatabaseError("check thread memory version", err)
		}
		return apperr.ConcurrencyConflict("memory:"+mem.ThreadID, mem.Version, stored)
	}

	mem.Version++
	mem.UpdatedAt = time.Now()
	return nil
}

func (a *MemoryAdapter) insert(ctx context.Context, mem *domain.ThreadMemory, topics []byte) error {
	query := `
		INSERT INTO thread_memories (
			thread_id, sender_email, summary, provided_topics,
			last_category, last_language, last_reply_at,
			message_count, version, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, NOW())
		ON CONFLICT (thread_id) DO NOTHING`

	res, err := a.db.ExecContext(ctx, query,
		mem.ThreadID, mem.SenderEmail, mem.Summary, topics,
		nullString(string(mem.LastCategory)), nullString(string(mem.LastLanguage)),
		nullTime(mem.LastReplyAt), mem.MessageCount)
	if err != nil {
		return apperr.DatabaseError("insert thread memory", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return apperr.DatabaseError("insert thread memory", err)
	}
	if affected == 0 {
		// Concurrent insert won. Report the stored version so the
		// caller can reload and retry.
		var stored int64
		if err := a.db.GetContext(ctx, &stored,
			`SELECT version FROM thread_memories WHERE thread_id = $1`, mem.ThreadID); err != nil {
			return apperr.DatabaseError("check thread memory version", err)
		}
		return apperr.ConcurrencyConflict("memory:"+mem.ThreadID, 0, stored)
	}

	mem.Version = 1
	mem.UpdatedAt = time.Now()
	return nil
}

// Delete removes the record for a thread.
func (a *MemoryAdapter) Delete(ctx context.Context, threadID string) error {
	if _, err := a.db.ExecContext(ctx,
		`DELETE FROM thread_memories WHERE thread_id = $1`, threadID); err != nil {
		return apperr.DatabaseError("delete thread memory", err)
	}
	return nil
}

// PurgeOlderThan deletes records not touched since cutoff.
func (a *MemoryAdapter) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx,
		`DELETE FROM thread_memories WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, apperr.DatabaseError("purge thread memories", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.DatabaseError("purge thread memories", err)
	}
	return affected, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
