package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrPurchaseNotFound = errors.New("purchase not found")

	// ErrTransactionConflict reports that another settlement won the race on
	// the transaction_id unique constraint.
	ErrTransactionConflict = errors.New("purchase transaction conflict")
)

type PurchaseRepo struct {
	pool *pgxpool.Pool
}

// PurchaseRecord is one settled external purchase. transaction_id is globally
// unique at the storage layer; that constraint is the idempotency guard.
type PurchaseRecord struct {
	TransactionID   string
	UserID          int64
	Platform        string
	ProductID       string
	PointsAwarded   int
	ReceiptSnapshot string
	Environment     string
	CreatedAt       time.Time
}

func NewPurchaseRepo(pool *pgxpool.Pool) *PurchaseRepo {
	return &PurchaseRepo{pool: pool}
}

func (r *PurchaseRepo) FindByTransactionID(ctx context.Context, transactionID string) (PurchaseRecord, error) {
	if r.pool == nil {
		return PurchaseRecord{}, fmt.Errorf("postgres pool is nil")
	}
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return PurchaseRecord{}, fmt.Errorf("transaction id is required")
	}

	rec, err := scanPurchaseRow(r.pool.QueryRow(ctx, `
SELECT
	transaction_id,
	user_id,
	platform,
	product_id,
	points_awarded,
	receipt_snapshot,
	environment,
	created_at
FROM purchases
WHERE transaction_id = $1
LIMIT 1
`, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRecord{}, ErrPurchaseNotFound
		}
		return PurchaseRecord{}, fmt.Errorf("find purchase by transaction id: %w", err)
	}

	return rec, nil
}

// Insert writes the settlement row. A unique violation on transaction_id is
// returned as ErrTransactionConflict so the service can report the duplicate
// outcome instead of a storage error.
func (r *PurchaseRepo) Insert(ctx context.Context, tx pgx.Tx, rec PurchaseRecord) (PurchaseRecord, error) {
	if tx == nil {
		return PurchaseRecord{}, fmt.Errorf("transaction is required")
	}
	if strings.TrimSpace(rec.TransactionID) == "" || rec.UserID <= 0 || rec.PointsAwarded <= 0 {
		return PurchaseRecord{}, fmt.Errorf("invalid purchase payload")
	}

	out, err := scanPurchaseRow(tx.QueryRow(ctx, `
INSERT INTO purchases (
	transaction_id,
	user_id,
	platform,
	product_id,
	points_awarded,
	receipt_snapshot,
	environment,
	created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
RETURNING
	transaction_id,
	user_id,
	platform,
	product_id,
	points_awarded,
	receipt_snapshot,
	environment,
	created_at
`,
		strings.TrimSpace(rec.TransactionID),
		rec.UserID,
		rec.Platform,
		rec.ProductID,
		rec.PointsAwarded,
		rec.ReceiptSnapshot,
		rec.Environment,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return PurchaseRecord{}, ErrTransactionConflict
		}
		return PurchaseRecord{}, fmt.Errorf("insert purchase: %w", err)
	}

	return out, nil
}

func scanPurchaseRow(row pgx.Row) (PurchaseRecord, error) {
	var rec PurchaseRecord
	if err := row.Scan(
		&rec.TransactionID,
		&rec.UserID,
		&rec.Platform,
		&rec.ProductID,
		&rec.PointsAwarded,
		&rec.ReceiptSnapshot,
		&rec.Environment,
		&rec.CreatedAt,
	); err != nil {
		return PurchaseRecord{}, err
	}
	return rec, nil
}
