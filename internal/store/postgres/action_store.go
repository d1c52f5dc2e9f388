package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maxx-ecosystem/maxxbot/internal/domain"
)

// ActionStore implements domain.ActionStore using PostgreSQL.
type ActionStore struct {
	pool *pgxpool.Pool
}

var _ domain.ActionStore = (*ActionStore)(nil)

// NewActionStore creates an ActionStore backed by the given pool.
func NewActionStore(pool *pgxpool.Pool) *ActionStore {
	return &ActionStore{pool: pool}
}

const actionSelectCols = `id, kind, mode, price_usd, anchor_usd, entry_usd,
	amount_token, amount_native, gas_cost_usd, tx_hash, reason, created_at`

func scanActionRows(rows pgx.Rows) ([]domain.ActionRecord, error) {
	var records []domain.ActionRecord
	for rows.Next() {
		var rec domain.ActionRecord
		var kind string
		if err := rows.Scan(
			&rec.ID, &kind, &rec.Mode,
			&rec.PriceUSD, &rec.AnchorUSD, &rec.EntryUSD,
			&rec.AmountToken, &rec.AmountNative, &rec.GasCostUSD,
			&rec.TxHash, &rec.Reason, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.Kind = domain.ActionKind(kind)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Insert writes one action record. Replayed IDs are skipped so a retried
// insert never duplicates a row.
func (s *ActionStore) Insert(ctx context.Context, rec domain.ActionRecord) error {
	const query = `
		INSERT INTO actions (
			id, kind, mode, price_usd, anchor_usd, entry_usd,
			amount_token, amount_native, gas_cost_usd, tx_hash, reason, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, string(rec.Kind), rec.Mode,
		rec.PriceUSD, rec.AnchorUSD, rec.EntryUSD,
		rec.AmountToken, rec.AmountNative, rec.GasCostUSD,
		rec.TxHash, rec.Reason, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert action: %w", err)
	}
	return nil
}

// ListRecent returns the newest records first.
func (s *ActionStore) ListRecent(ctx context.Context, limit int) ([]domain.ActionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + actionSelectCols + ` FROM actions ORDER BY created_at DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent actions: %w", err)
	}
	defer rows.Close()

	records, err := scanActionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent actions: %w", err)
	}
	return records, nil
}

// ListBefore returns records created strictly before the given time, oldest
// first, for archiving.
func (s *ActionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ActionRecord, error) {
	query := `SELECT ` + actionSelectCols + ` FROM actions WHERE created_at < $1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list actions before: %w", err)
	}
	defer rows.Close()

	records, err := scanActionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan actions before: %w", err)
	}
	return records, nil
}

// DeleteBefore removes records created before the given time and reports the
// number deleted.
func (s *ActionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM actions WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete actions before: %w", err)
	}
	return tag.RowsAffected(), nil
}
