package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dannykan/bbbeep/backend/internal/domain/rules"
	pgrepo "github.com/dannykan/bbbeep/backend/internal/repo/postgres"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrDependenciesNil   = errors.New("wallet dependencies are not configured")
)

type AccountStore interface {
	Create(ctx context.Context, tx pgx.Tx, userID int64, trialSeed int, now time.Time) (pgrepo.AccountRecord, bool, error)
	LockForUpdate(ctx context.Context, tx pgx.Tx, userID int64) (pgrepo.AccountRecord, error)
	ResetFreeBalance(ctx context.Context, tx pgx.Tx, userID int64, allowance int, resetAt time.Time) error
	SaveBalances(ctx context.Context, tx pgx.Tx, userID int64, trial, free, purchased int) error
	CreditPurchased(ctx context.Context, tx pgx.Tx, userID int64, amount int) (pgrepo.AccountRecord, error)
}

type LedgerStore interface {
	Append(ctx context.Context, tx pgx.Tx, userID int64, delta int, kind, description string) (pgrepo.LedgerEntryRecord, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]pgrepo.LedgerEntryRecord, error)
}

type Config struct {
	// Timezone is the fixed zone the daily reset's reference day is computed
	// in; it is deliberately not the device timezone.
	Timezone           string
	DailyFreeAllowance int
	TrialSeed          int
}

type Dependencies struct {
	Pool     *pgxpool.Pool
	Accounts AccountStore
	Ledger   LedgerStore
}

type Balances struct {
	Trial     int
	Free      int
	Purchased int
	Total     int

	// NextFreeResetAt is when the free pool refills next; only populated on
	// reads, so clients can show a countdown.
	NextFreeResetAt time.Time
}

type DebitResult struct {
	Balances      Balances
	SpentTrial    int
	SpentFree     int
	SpentPurchase int
	EntryID       string
}

type CreditResult struct {
	Balances Balances
	EntryID  string
}

type Service struct {
	accounts AccountStore
	ledger   LedgerStore
	cfg      Config
	loc      *time.Location
	runTx    func(ctx context.Context, fn func(context.Context, pgx.Tx) error) error
	now      func() time.Time
}

func NewService(deps Dependencies, cfg Config) (*Service, error) {
	if deps.Accounts == nil || deps.Ledger == nil {
		return nil, ErrDependenciesNil
	}
	if cfg.DailyFreeAllowance < 0 || cfg.TrialSeed < 0 {
		return nil, fmt.Errorf("wallet allowances must not be negative")
	}

	loc := time.UTC
	if strings.TrimSpace(cfg.Timezone) != "" {
		parsed, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load wallet timezone: %w", err)
		}
		loc = parsed
	}

	pool := deps.Pool
	return &Service{
		accounts: deps.Accounts,
		ledger:   deps.Ledger,
		cfg:      cfg,
		loc:      loc,
		runTx: func(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
			return pgrepo.WithTx(ctx, pool, fn)
		},
		now: time.Now,
	}, nil
}

// Onboard creates the account with the configured trial seed. Safe to retry:
// a second call finds the existing row and grants nothing.
func (s *Service) Onboard(ctx context.Context, userID int64) (Balances, bool, error) {
	if userID <= 0 {
		return Balances{}, false, ErrValidation
	}

	var out Balances
	created := false
	err := s.runTx(ctx, func(txCtx context.Context, tx pgx.Tx) error {
		rec, didCreate, err := s.accounts.Create(txCtx, tx, userID, s.cfg.TrialSeed, s.now().UTC())
		if err != nil {
			return err
		}
		if didCreate && s.cfg.TrialSeed > 0 {
			if _, err := s.ledger.Append(txCtx, tx, userID, s.cfg.TrialSeed, pgrepo.LedgerKindGrant, "trial credits"); err != nil {
				return err
			}
		}
		created = didCreate
		out = toBalances(rec)
		return nil
	})
	if err != nil {
		return Balances{}, false, err
	}

	return out, created, nil
}

// GetBalances returns the effective pools, applying the lazy daily reset of
// the free pool first. The reset happens under the account row lock, so two
// devices reading at once cannot reset twice or observe a stale value.
func (s *Service) GetBalances(ctx context.Context, userID int64) (Balances, error) {
	if userID <= 0 {
		return Balances{}, ErrValidation
	}

	var out Balances
	err := s.runTx(ctx, func(txCtx context.Context, tx pgx.Tx) error {
		rec, err := s.lockAndReset(txCtx, tx, userID)
		if err != nil {
			return err
		}
		out = toBalances(rec)
		out.NextFreeResetAt = rules.NextResetAt(s.now().UTC(), s.loc)
		return nil
	})
	if err != nil {
		return Balances{}, s.mapStoreErr(err)
	}

	return out, nil
}

// Debit deducts amount across the pools in fixed order: trial first, then
// free, then purchased. All-or-nothing; on insufficient total nothing is
// written and ErrInsufficientFunds is returned.
func (s *Service) Debit(ctx context.Context, userID int64, amount int, reason string) (DebitResult, error) {
	if userID <= 0 || amount <= 0 {
		return DebitResult{}, ErrValidation
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return DebitResult{}, ErrValidation
	}

	var out DebitResult
	err := s.runTx(ctx, func(txCtx context.Context, tx pgx.Tx) error {
		rec, err := s.lockAndReset(txCtx, tx, userID)
		if err != nil {
			return err
		}

		if rec.Total() < amount {
			return ErrInsufficientFunds
		}

		remaining := amount
		spendTrial := min(rec.TrialBalance, remaining)
		remaining -= spendTrial
		spendFree := min(rec.FreeBalance, remaining)
		remaining -= spendFree
		spendPurchased := min(rec.PurchasedBalance, remaining)
		remaining -= spendPurchased
		if remaining != 0 {
			return fmt.Errorf("debit accounting mismatch: %d left of %d", remaining, amount)
		}

		trial := rec.TrialBalance - spendTrial
		free := rec.FreeBalance - spendFree
		purchased := rec.PurchasedBalance - spendPurchased
		if err := s.accounts.SaveBalances(txCtx, tx, userID, trial, free, purchased); err != nil {
			return err
		}

		entry, err := s.ledger.Append(txCtx, tx, userID, -amount, pgrepo.LedgerKindSpend, reason)
		if err != nil {
			return err
		}

		out = DebitResult{
			Balances: Balances{
				Trial:     trial,
				Free:      free,
				Purchased: purchased,
				Total:     trial + free + purchased,
			},
			SpentTrial:    spendTrial,
			SpentFree:     spendFree,
			SpentPurchase: spendPurchased,
			EntryID:       entry.ID,
		}
		return nil
	})
	if err != nil {
		return DebitResult{}, s.mapStoreErr(err)
	}

	return out, nil
}

// Credit adds amount to the purchased pool with one positive ledger entry.
// kind distinguishes manual recharges from reward/bonus grants.
func (s *Service) Credit(ctx context.Context, userID int64, amount int, kind, description string) (CreditResult, error) {
	if userID <= 0 || amount <= 0 {
		return CreditResult{}, ErrValidation
	}
	if kind == pgrepo.LedgerKindSpend || !pgrepo.ValidLedgerKind(kind) {
		return CreditResult{}, ErrValidation
	}

	var out CreditResult
	err := s.runTx(ctx, func(txCtx context.Context, tx pgx.Tx) error {
		rec, entry, err := s.creditLocked(txCtx, tx, userID, amount, kind, description)
		if err != nil {
			return err
		}
		out = CreditResult{Balances: toBalances(rec), EntryID: entry.ID}
		return nil
	})
	if err != nil {
		return CreditResult{}, s.mapStoreErr(err)
	}

	return out, nil
}

// CreditInTx exposes the credit engine to callers that already hold a
// transaction, so purchase settlement can insert its purchase row and credit
// the points atomically.
func (s *Service) CreditInTx(ctx context.Context, tx pgx.Tx, userID int64, amount int, kind, description string) (Balances, error) {
	if userID <= 0 || amount <= 0 {
		return Balances{}, ErrValidation
	}
	if kind == pgrepo.LedgerKindSpend || !pgrepo.ValidLedgerKind(kind) {
		return Balances{}, ErrValidation
	}

	rec, _, err := s.creditLocked(ctx, tx, userID, amount, kind, description)
	if err != nil {
		return Balances{}, s.mapStoreErr(err)
	}
	return toBalances(rec), nil
}

// History returns the audit trail, most recent first.
func (s *Service) History(ctx context.Context, userID int64, limit int) ([]pgrepo.LedgerEntryRecord, error) {
	if userID <= 0 {
		return nil, ErrValidation
	}
	entries, err := s.ledger.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// RunInTx runs fn in one wallet transaction. Used by purchase settlement.
func (s *Service) RunInTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	return s.runTx(ctx, fn)
}

func (s *Service) creditLocked(ctx context.Context, tx pgx.Tx, userID int64, amount int, kind, description string) (pgrepo.AccountRecord, pgrepo.LedgerEntryRecord, error) {
	rec, err := s.accounts.CreditPurchased(ctx, tx, userID, amount)
	if err != nil {
		return pgrepo.AccountRecord{}, pgrepo.LedgerEntryRecord{}, err
	}

	entry, err := s.ledger.Append(ctx, tx, userID, amount, kind, strings.TrimSpace(description))
	if err != nil {
		return pgrepo.AccountRecord{}, pgrepo.LedgerEntryRecord{}, err
	}

	return rec, entry, nil
}

// lockAndReset loads the account under FOR UPDATE and applies the lazy daily
// free reset when the reference day has rolled over. A zero allowance still
// stamps last_free_reset_at so the check is not retried all day.
func (s *Service) lockAndReset(ctx context.Context, tx pgx.Tx, userID int64) (pgrepo.AccountRecord, error) {
	rec, err := s.accounts.LockForUpdate(ctx, tx, userID)
	if err != nil {
		return pgrepo.AccountRecord{}, err
	}

	now := s.now().UTC()
	if rec.LastFreeResetAt != nil && rules.SameDay(now, *rec.LastFreeResetAt, s.loc) {
		return rec, nil
	}

	oldFree := rec.FreeBalance
	allowance := s.cfg.DailyFreeAllowance
	if err := s.accounts.ResetFreeBalance(ctx, tx, userID, allowance, now); err != nil {
		return pgrepo.AccountRecord{}, err
	}

	// The compensating grant keeps sum(ledger deltas) equal to the account
	// total even when the allowance shrinks an unspent free pool.
	if delta := allowance - oldFree; delta != 0 {
		if _, err := s.ledger.Append(ctx, tx, userID, delta, pgrepo.LedgerKindGrant, "daily free reset"); err != nil {
			return pgrepo.AccountRecord{}, err
		}
	}

	rec.FreeBalance = allowance
	rec.LastFreeResetAt = &now
	return rec, nil
}

func (s *Service) mapStoreErr(err error) error {
	if errors.Is(err, pgrepo.ErrAccountNotFound) {
		return ErrAccountNotFound
	}
	return err
}

func toBalances(rec pgrepo.AccountRecord) Balances {
	return Balances{
		Trial:     rec.TrialBalance,
		Free:      rec.FreeBalance,
		Purchased: rec.PurchasedBalance,
		Total:     rec.Total(),
	}
}
