package lab

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type journalRepoPG struct{ pool *pgxpool.Pool }

func NewJournalRepoPG(pool *pgxpool.Pool) JournalRepository {
	return &journalRepoPG{pool: pool}
}

const journalCols = `id, order_key, variant, from_status, to_status, outcome, error, changed_by, changed_at`

func (r *journalRepoPG) scanEntry(row pgx.Row) (*JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.OrderKey, &e.Variant, &e.FromStatus, &e.ToStatus,
		&e.Outcome, &e.Error, &e.ChangedBy, &e.ChangedAt)
	return &e, err
}

func (r *journalRepoPG) Create(ctx context.Context, e *JournalEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO lab_transition_journal (`+journalCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9::timestamptz, NOW()))`,
		e.ID, e.OrderKey, e.Variant, e.FromStatus, e.ToStatus,
		e.Outcome, e.Error, e.ChangedBy, nullTime(e))
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

func (r *journalRepoPG) ListByOrder(ctx context.Context, orderKey string, limit, offset int) ([]*JournalEntry, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM lab_transition_journal WHERE order_key = $1`, orderKey).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count journal entries: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+journalCols+` FROM lab_transition_journal
		WHERE order_key = $1 ORDER BY changed_at DESC LIMIT $2 OFFSET $3`, orderKey, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query journal entries: %w", err)
	}
	defer rows.Close()

	var items []*JournalEntry
	for rows.Next() {
		e, err := r.scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func nullTime(e *JournalEntry) interface{} {
	if e.ChangedAt.IsZero() {
		return nil
	}
	return e.ChangedAt
}
