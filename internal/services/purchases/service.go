package purchases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/dannykan/bbbeep/backend/internal/infra/appstore"
	pgrepo "github.com/dannykan/bbbeep/backend/internal/repo/postgres"
	"github.com/dannykan/bbbeep/backend/internal/services/wallet"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrInvalidPurchase     = errors.New("purchase rejected")
	ErrProviderUnavailable = errors.New("verification provider unavailable")
	ErrPlatformUnsupported = errors.New("platform verification unsupported")
	ErrDependenciesNil     = errors.New("purchase dependencies are not configured")
)

const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"

	StatusSettled   = "settled"
	StatusDuplicate = "duplicate"

	environmentUnverified = "Unverified"
)

type Verifier interface {
	Verify(ctx context.Context, receiptData string) (appstore.VerifiedReceipt, error)
}

type PurchaseStore interface {
	FindByTransactionID(ctx context.Context, transactionID string) (pgrepo.PurchaseRecord, error)
	Insert(ctx context.Context, tx pgx.Tx, rec pgrepo.PurchaseRecord) (pgrepo.PurchaseRecord, error)
}

type Wallet interface {
	RunInTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error
	CreditInTx(ctx context.Context, tx pgx.Tx, userID int64, amount int, kind, description string) (wallet.Balances, error)
	GetBalances(ctx context.Context, userID int64) (wallet.Balances, error)
}

type ProductCatalog interface {
	Points(productID string) (int, error)
}

type Config struct {
	// FailOpenOnProviderError credits the purchase even when Apple cannot be
	// reached. Default is fail-closed: the client retries and reconciliation
	// stays exact.
	FailOpenOnProviderError bool
	// AllowUnverifiedAndroid settles android purchases on the client's word
	// alone. Only for environments where Play verification is not wired up.
	AllowUnverifiedAndroid bool
}

type VerifyInput struct {
	Platform      string
	ProductID     string
	TransactionID string
	ReceiptData   string
}

type Result struct {
	Status        string
	TransactionID string
	PointsAwarded int
	Environment   string
	Balances      wallet.Balances
}

type Service struct {
	verifier  Verifier
	purchases PurchaseStore
	wallet    Wallet
	catalog   ProductCatalog
	cfg       Config
	log       *zap.Logger
}

func NewService(verifier Verifier, purchases PurchaseStore, w Wallet, catalog ProductCatalog, cfg Config, log *zap.Logger) (*Service, error) {
	if purchases == nil || w == nil || catalog == nil {
		return nil, ErrDependenciesNil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		verifier:  verifier,
		purchases: purchases,
		wallet:    w,
		catalog:   catalog,
		cfg:       cfg,
		log:       log,
	}, nil
}

// VerifyAndSettle reconciles one app-store purchase: verify the receipt with
// the store, then atomically record the transaction and credit the purchased
// pool. A transaction id that was settled before yields the duplicate outcome
// with zero points, never a second credit.
func (s *Service) VerifyAndSettle(ctx context.Context, userID int64, in VerifyInput) (Result, error) {
	in.Platform = strings.ToLower(strings.TrimSpace(in.Platform))
	in.ProductID = strings.TrimSpace(in.ProductID)
	in.TransactionID = strings.TrimSpace(in.TransactionID)

	if userID <= 0 || in.ProductID == "" || in.TransactionID == "" {
		return Result{}, ErrValidation
	}
	if in.Platform != PlatformIOS && in.Platform != PlatformAndroid {
		return Result{}, ErrValidation
	}

	points, err := s.catalog.Points(in.ProductID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: unknown product %q", ErrInvalidPurchase, in.ProductID)
	}

	// Cheap pre-check. The unique constraint on transaction_id is the real
	// guard; this only avoids a pointless verification round trip.
	if existing, err := s.purchases.FindByTransactionID(ctx, in.TransactionID); err == nil {
		return s.duplicateResult(ctx, userID, existing)
	} else if !errors.Is(err, pgrepo.ErrPurchaseNotFound) {
		return Result{}, fmt.Errorf("check transaction id: %w", err)
	}

	environment, err := s.verifyWithStore(ctx, userID, in)
	if err != nil {
		return Result{}, err
	}

	var (
		settled  pgrepo.PurchaseRecord
		balances wallet.Balances
	)
	err = s.wallet.RunInTx(ctx, func(txCtx context.Context, tx pgx.Tx) error {
		rec, err := s.purchases.Insert(txCtx, tx, pgrepo.PurchaseRecord{
			TransactionID:   in.TransactionID,
			UserID:          userID,
			Platform:        in.Platform,
			ProductID:       in.ProductID,
			PointsAwarded:   points,
			ReceiptSnapshot: in.ReceiptData,
			Environment:     environment,
		})
		if err != nil {
			return err
		}

		b, err := s.wallet.CreditInTx(txCtx, tx, userID, points, pgrepo.LedgerKindRecharge, in.ProductID)
		if err != nil {
			return err
		}

		settled = rec
		balances = b
		return nil
	})
	if err != nil {
		if errors.Is(err, pgrepo.ErrTransactionConflict) {
			// Lost the settlement race; the other writer's credit stands.
			existing, findErr := s.purchases.FindByTransactionID(ctx, in.TransactionID)
			if findErr != nil {
				return Result{}, fmt.Errorf("load conflicting purchase: %w", findErr)
			}
			return s.duplicateResult(ctx, userID, existing)
		}
		return Result{}, err
	}

	s.log.Info("purchase settled",
		zap.Int64("user_id", userID),
		zap.String("transaction_id", settled.TransactionID),
		zap.String("product_id", settled.ProductID),
		zap.Int("points", settled.PointsAwarded),
		zap.String("environment", settled.Environment),
	)

	return Result{
		Status:        StatusSettled,
		TransactionID: settled.TransactionID,
		PointsAwarded: settled.PointsAwarded,
		Environment:   settled.Environment,
		Balances:      balances,
	}, nil
}

func (s *Service) verifyWithStore(ctx context.Context, userID int64, in VerifyInput) (string, error) {
	switch in.Platform {
	case PlatformIOS:
		return s.verifyApple(ctx, userID, in)
	case PlatformAndroid:
		if !s.cfg.AllowUnverifiedAndroid {
			return "", fmt.Errorf("%w: android", ErrPlatformUnsupported)
		}
		s.log.Warn("settling android purchase without receipt verification",
			zap.Int64("user_id", userID),
			zap.String("transaction_id", in.TransactionID),
		)
		return environmentUnverified, nil
	default:
		return "", ErrValidation
	}
}

func (s *Service) verifyApple(ctx context.Context, userID int64, in VerifyInput) (string, error) {
	if in.ReceiptData == "" {
		return "", ErrValidation
	}
	if s.verifier == nil {
		return "", fmt.Errorf("%w: no apple verifier configured", ErrPlatformUnsupported)
	}

	receipt, err := s.verifier.Verify(ctx, in.ReceiptData)
	if err != nil {
		if errors.Is(err, appstore.ErrProviderUnavailable) {
			if s.cfg.FailOpenOnProviderError {
				s.log.Warn("apple unreachable, settling purchase unverified",
					zap.Int64("user_id", userID),
					zap.String("transaction_id", in.TransactionID),
					zap.Error(err),
				)
				return environmentUnverified, nil
			}
			return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		if errors.Is(err, appstore.ErrInvalidReceipt) {
			return "", fmt.Errorf("%w: %v", ErrInvalidPurchase, err)
		}
		return "", err
	}

	purchase, ok := receipt.Contains(in.TransactionID)
	if !ok {
		return "", fmt.Errorf("%w: transaction %s not in receipt", ErrInvalidPurchase, in.TransactionID)
	}
	if !strings.EqualFold(purchase.ProductID, in.ProductID) {
		return "", fmt.Errorf("%w: receipt product %s does not match %s", ErrInvalidPurchase, purchase.ProductID, in.ProductID)
	}

	return receipt.Environment, nil
}

func (s *Service) duplicateResult(ctx context.Context, userID int64, existing pgrepo.PurchaseRecord) (Result, error) {
	balances, err := s.wallet.GetBalances(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	s.log.Info("duplicate purchase ignored",
		zap.Int64("user_id", userID),
		zap.String("transaction_id", existing.TransactionID),
		zap.Int64("settled_for_user", existing.UserID),
	)

	return Result{
		Status:        StatusDuplicate,
		TransactionID: existing.TransactionID,
		PointsAwarded: 0,
		Environment:   existing.Environment,
		Balances:      balances,
	}, nil
}
