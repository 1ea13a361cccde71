package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrAccountNotFound = errors.New("account not found")

type AccountRepo struct {
	pool *pgxpool.Pool
}

// AccountRecord carries the three balance pools. The schema enforces
// trial_balance >= 0, free_balance >= 0, purchased_balance >= 0.
type AccountRecord struct {
	UserID           int64
	TrialBalance     int
	FreeBalance      int
	PurchasedBalance int
	LastFreeResetAt  *time.Time
	TrialStartedAt   *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (a AccountRecord) Total() int {
	return a.TrialBalance + a.FreeBalance + a.PurchasedBalance
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

// Create inserts the account row with the trial seed, or returns the existing
// row when onboarding is retried. The bool reports whether a row was created.
func (r *AccountRepo) Create(ctx context.Context, tx pgx.Tx, userID int64, trialSeed int, now time.Time) (AccountRecord, bool, error) {
	if tx == nil {
		return AccountRecord{}, false, fmt.Errorf("transaction is required")
	}
	if userID <= 0 || trialSeed < 0 {
		return AccountRecord{}, false, fmt.Errorf("invalid account create payload")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	rec, err := scanAccountRow(tx.QueryRow(ctx, `
INSERT INTO accounts (
	user_id,
	trial_balance,
	free_balance,
	purchased_balance,
	trial_started_at,
	created_at,
	updated_at
) VALUES ($1, $2, 0, 0, $3, NOW(), NOW())
ON CONFLICT (user_id) DO NOTHING
RETURNING
	user_id,
	trial_balance,
	free_balance,
	purchased_balance,
	last_free_reset_at,
	trial_started_at,
	created_at,
	updated_at
`, userID, trialSeed, now.UTC()))
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AccountRecord{}, false, fmt.Errorf("create account: %w", err)
	}

	existing, err := r.LockForUpdate(ctx, tx, userID)
	if err != nil {
		return AccountRecord{}, false, err
	}
	return existing, false, nil
}

// LockForUpdate reads the account row under a row-level lock so concurrent
// mutations on the same user serialize.
func (r *AccountRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, userID int64) (AccountRecord, error) {
	if tx == nil {
		return AccountRecord{}, fmt.Errorf("transaction is required")
	}
	if userID <= 0 {
		return AccountRecord{}, fmt.Errorf("invalid user id")
	}

	rec, err := scanAccountRow(tx.QueryRow(ctx, `
SELECT
	user_id,
	trial_balance,
	free_balance,
	purchased_balance,
	last_free_reset_at,
	trial_started_at,
	created_at,
	updated_at
FROM accounts
WHERE user_id = $1
FOR UPDATE
`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountRecord{}, ErrAccountNotFound
		}
		return AccountRecord{}, fmt.Errorf("lock account row: %w", err)
	}

	return rec, nil
}

func (r *AccountRepo) ResetFreeBalance(ctx context.Context, tx pgx.Tx, userID int64, allowance int, resetAt time.Time) error {
	if tx == nil {
		return fmt.Errorf("transaction is required")
	}
	if userID <= 0 || allowance < 0 {
		return fmt.Errorf("invalid free reset payload")
	}

	tag, err := tx.Exec(ctx, `
UPDATE accounts
SET
	free_balance = $2,
	last_free_reset_at = $3,
	updated_at = NOW()
WHERE user_id = $1
`, userID, allowance, resetAt.UTC())
	if err != nil {
		return fmt.Errorf("reset free balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// SaveBalances writes all three pools at once; debit computes the new values
// under the row lock and persists them here.
func (r *AccountRepo) SaveBalances(ctx context.Context, tx pgx.Tx, userID int64, trial, free, purchased int) error {
	if tx == nil {
		return fmt.Errorf("transaction is required")
	}
	if userID <= 0 || trial < 0 || free < 0 || purchased < 0 {
		return fmt.Errorf("invalid balance payload")
	}

	tag, err := tx.Exec(ctx, `
UPDATE accounts
SET
	trial_balance = $2,
	free_balance = $3,
	purchased_balance = $4,
	updated_at = NOW()
WHERE user_id = $1
`, userID, trial, free, purchased)
	if err != nil {
		return fmt.Errorf("save balances: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}

	return nil
}

func (r *AccountRepo) CreditPurchased(ctx context.Context, tx pgx.Tx, userID int64, amount int) (AccountRecord, error) {
	if tx == nil {
		return AccountRecord{}, fmt.Errorf("transaction is required")
	}
	if userID <= 0 || amount <= 0 {
		return AccountRecord{}, fmt.Errorf("invalid credit payload")
	}

	rec, err := scanAccountRow(tx.QueryRow(ctx, `
UPDATE accounts
SET
	purchased_balance = purchased_balance + $2,
	updated_at = NOW()
WHERE user_id = $1
RETURNING
	user_id,
	trial_balance,
	free_balance,
	purchased_balance,
	last_free_reset_at,
	trial_started_at,
	created_at,
	updated_at
`, userID, amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountRecord{}, ErrAccountNotFound
		}
		return AccountRecord{}, fmt.Errorf("credit purchased balance: %w", err)
	}

	return rec, nil
}

func scanAccountRow(row pgx.Row) (AccountRecord, error) {
	var rec AccountRecord
	if err := row.Scan(
		&rec.UserID,
		&rec.TrialBalance,
		&rec.FreeBalance,
		&rec.PurchasedBalance,
		&rec.LastFreeResetAt,
		&rec.TrialStartedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return AccountRecord{}, err
	}
	return rec, nil
}
