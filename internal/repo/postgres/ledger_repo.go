package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	LedgerKindGrant    = "grant"
	LedgerKindSpend    = "spend"
	LedgerKindRecharge = "recharge"
	LedgerKindBonus    = "bonus"
)

type LedgerRepo struct {
	pool *pgxpool.Pool
}

// LedgerEntryRecord is append-only: rows are never updated or deleted.
type LedgerEntryRecord struct {
	ID          string
	UserID      int64
	Delta       int
	Kind        string
	Description string
	CreatedAt   time.Time
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

func ValidLedgerKind(kind string) bool {
	switch kind {
	case LedgerKindGrant, LedgerKindSpend, LedgerKindRecharge, LedgerKindBonus:
		return true
	default:
		return false
	}
}

func (r *LedgerRepo) Append(ctx context.Context, tx pgx.Tx, userID int64, delta int, kind, description string) (LedgerEntryRecord, error) {
	if tx == nil {
		return LedgerEntryRecord{}, fmt.Errorf("transaction is required")
	}
	if userID <= 0 || delta == 0 {
		return LedgerEntryRecord{}, fmt.Errorf("invalid ledger entry payload")
	}
	if !ValidLedgerKind(kind) {
		return LedgerEntryRecord{}, fmt.Errorf("invalid ledger kind: %s", kind)
	}

	entryID := uuid.NewString()
	description = strings.TrimSpace(description)

	rec, err := scanLedgerEntryRow(tx.QueryRow(ctx, `
INSERT INTO ledger_entries (
	id,
	user_id,
	delta,
	kind,
	description,
	created_at
) VALUES ($1, $2, $3, $4, $5, NOW())
RETURNING
	id,
	user_id,
	delta,
	kind,
	description,
	created_at
`, entryID, userID, delta, kind, description))
	if err != nil {
		return LedgerEntryRecord{}, fmt.Errorf("append ledger entry: %w", err)
	}

	return rec, nil
}

// ListByUser returns entries most recent first.
func (r *LedgerRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]LedgerEntryRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return nil, fmt.Errorf("invalid user id")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
SELECT
	id,
	user_id,
	delta,
	kind,
	description,
	created_at
FROM ledger_entries
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntryRecord
	for rows.Next() {
		rec, err := scanLedgerEntryRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}

	return entries, nil
}

func scanLedgerEntryRow(row pgx.Row) (LedgerEntryRecord, error) {
	var rec LedgerEntryRecord
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Delta,
		&rec.Kind,
		&rec.Description,
		&rec.CreatedAt,
	); err != nil {
		return LedgerEntryRecord{}, err
	}
	return rec, nil
}
