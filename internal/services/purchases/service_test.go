package purchases

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/dannykan/bbbeep/backend/internal/config"
	"github.com/dannykan/bbbeep/backend/internal/infra/appstore"
	pgrepo "github.com/dannykan/bbbeep/backend/internal/repo/postgres"
	"github.com/dannykan/bbbeep/backend/internal/services/catalog"
	"github.com/dannykan/bbbeep/backend/internal/services/wallet"
)

type verifierStub struct {
	receipt appstore.VerifiedReceipt
	err     error
	calls   int
}

func (v *verifierStub) Verify(_ context.Context, _ string) (appstore.VerifiedReceipt, error) {
	v.calls++
	if v.err != nil {
		return appstore.VerifiedReceipt{}, v.err
	}
	return v.receipt, nil
}

type purchaseStoreStub struct {
	records       map[string]pgrepo.PurchaseRecord
	conflictOnce  bool
	insertedCount int
}

func newPurchaseStoreStub() *purchaseStoreStub {
	return &purchaseStoreStub{records: make(map[string]pgrepo.PurchaseRecord)}
}

func (s *purchaseStoreStub) FindByTransactionID(_ context.Context, transactionID string) (pgrepo.PurchaseRecord, error) {
	rec, ok := s.records[transactionID]
	if !ok {
		return pgrepo.PurchaseRecord{}, pgrepo.ErrPurchaseNotFound
	}
	return rec, nil
}

func (s *purchaseStoreStub) Insert(_ context.Context, _ pgx.Tx, rec pgrepo.PurchaseRecord) (pgrepo.PurchaseRecord, error) {
	if s.conflictOnce {
		s.conflictOnce = false
		s.records[rec.TransactionID] = pgrepo.PurchaseRecord{
			TransactionID: rec.TransactionID,
			UserID:        999,
			ProductID:     rec.ProductID,
			PointsAwarded: rec.PointsAwarded,
			Environment:   rec.Environment,
		}
		return pgrepo.PurchaseRecord{}, pgrepo.ErrTransactionConflict
	}
	if _, ok := s.records[rec.TransactionID]; ok {
		return pgrepo.PurchaseRecord{}, pgrepo.ErrTransactionConflict
	}
	s.records[rec.TransactionID] = rec
	s.insertedCount++
	return rec, nil
}

type walletStub struct {
	purchased int
	credits   []int
}

func (w *walletStub) RunInTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	return fn(ctx, nil)
}

func (w *walletStub) CreditInTx(_ context.Context, _ pgx.Tx, _ int64, amount int, _, _ string) (wallet.Balances, error) {
	w.purchased += amount
	w.credits = append(w.credits, amount)
	return wallet.Balances{Purchased: w.purchased, Total: w.purchased}, nil
}

func (w *walletStub) GetBalances(_ context.Context, _ int64) (wallet.Balances, error) {
	return wallet.Balances{Purchased: w.purchased, Total: w.purchased}, nil
}

func testCatalog() *catalog.Catalog {
	return catalog.New([]config.ProductConfig{
		{ID: "points_40", Points: 40},
		{ID: "points_100", Points: 100},
	})
}

func newTestService(t *testing.T, verifier Verifier, store *purchaseStoreStub, w *walletStub, cfg Config) *Service {
	t.Helper()
	svc, err := NewService(verifier, store, w, testCatalog(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new purchases service: %v", err)
	}
	return svc
}

func iosInput(transactionID string) VerifyInput {
	return VerifyInput{
		Platform:      PlatformIOS,
		ProductID:     "points_40",
		TransactionID: transactionID,
		ReceiptData:   "base64-receipt",
	}
}

func TestSettlesVerifiedPurchase(t *testing.T) {
	verifier := &verifierStub{receipt: appstore.VerifiedReceipt{
		Environment: appstore.EnvironmentProduction,
		InApp:       []appstore.InAppPurchase{{TransactionID: "tx-1", ProductID: "points_40"}},
	}}
	store := newPurchaseStoreStub()
	w := &walletStub{}

	svc := newTestService(t, verifier, store, w, Config{})

	result, err := svc.VerifyAndSettle(context.Background(), 1, iosInput("tx-1"))
	if err != nil {
		t.Fatalf("verify and settle: %v", err)
	}

	if result.Status != StatusSettled {
		t.Fatalf("unexpected status: %s", result.Status)
	}
	if result.PointsAwarded != 40 {
		t.Fatalf("unexpected points: %d", result.PointsAwarded)
	}
	if result.Environment != appstore.EnvironmentProduction {
		t.Fatalf("unexpected environment: %s", result.Environment)
	}
	if w.purchased != 40 {
		t.Fatalf("wallet must be credited 40, got %d", w.purchased)
	}
	if store.insertedCount != 1 {
		t.Fatalf("expected one purchase row, got %d", store.insertedCount)
	}
}

func TestDuplicateTransactionShortCircuits(t *testing.T) {
	verifier := &verifierStub{}
	store := newPurchaseStoreStub()
	store.records["tx-1"] = pgrepo.PurchaseRecord{
		TransactionID: "tx-1",
		UserID:        1,
		ProductID:     "points_40",
		PointsAwarded: 40,
		Environment:   appstore.EnvironmentProduction,
	}
	w := &walletStub{purchased: 40}

	svc := newTestService(t, verifier, store, w, Config{})

	result, err := svc.VerifyAndSettle(context.Background(), 1, iosInput("tx-1"))
	if err != nil {
		t.Fatalf("verify and settle: %v", err)
	}

	if result.Status != StatusDuplicate {
		t.Fatalf("unexpected status: %s", result.Status)
	}
	if result.PointsAwarded != 0 {
		t.Fatalf("duplicate must award zero points, got %d", result.PointsAwarded)
	}
	if verifier.calls != 0 {
		t.Fatalf("duplicate must not hit the store API, got %d calls", verifier.calls)
	}
	if len(w.credits) != 0 {
		t.Fatalf("duplicate must not credit, got %v", w.credits)
	}
}

func TestInsertRaceBecomesDuplicate(t *testing.T) {
	verifier := &verifierStub{receipt: appstore.VerifiedReceipt{
		Environment: appstore.EnvironmentProduction,
		InApp:       []appstore.InAppPurchase{{TransactionID: "tx-race", ProductID: "points_40"}},
	}}
	store := newPurchaseStoreStub()
	store.conflictOnce = true
	w := &walletStub{}

	svc := newTestService(t, verifier, store, w, Config{})

	result, err := svc.VerifyAndSettle(context.Background(), 1, iosInput("tx-race"))
	if err != nil {
		t.Fatalf("verify and settle: %v", err)
	}

	if result.Status != StatusDuplicate {
		t.Fatalf("losing the insert race must yield duplicate, got %s", result.Status)
	}
	if result.PointsAwarded != 0 {
		t.Fatalf("duplicate must award zero points, got %d", result.PointsAwarded)
	}
}

func TestUnknownProductRejected(t *testing.T) {
	svc := newTestService(t, &verifierStub{}, newPurchaseStoreStub(), &walletStub{}, Config{})

	in := iosInput("tx-1")
	in.ProductID = "points_9000"

	if _, err := svc.VerifyAndSettle(context.Background(), 1, in); !errors.Is(err, ErrInvalidPurchase) {
		t.Fatalf("expected ErrInvalidPurchase, got %v", err)
	}
}

func TestReceiptMissingTransactionRejected(t *testing.T) {
	verifier := &verifierStub{receipt: appstore.VerifiedReceipt{
		Environment: appstore.EnvironmentProduction,
		InApp:       []appstore.InAppPurchase{{TransactionID: "tx-other", ProductID: "points_40"}},
	}}
	w := &walletStub{}

	svc := newTestService(t, verifier, newPurchaseStoreStub(), w, Config{})

	if _, err := svc.VerifyAndSettle(context.Background(), 1, iosInput("tx-1")); !errors.Is(err, ErrInvalidPurchase) {
		t.Fatalf("expected ErrInvalidPurchase, got %v", err)
	}
	if len(w.credits) != 0 {
		t.Fatalf("rejected purchase must not credit, got %v", w.credits)
	}
}

func TestReceiptProductMismatchRejected(t *testing.T) {
	verifier := &verifierStub{receipt: appstore.VerifiedReceipt{
		Environment: appstore.EnvironmentProduction,
		InApp:       []appstore.InAppPurchase{{TransactionID: "tx-1", ProductID: "points_100"}},
	}}

	svc := newTestService(t, verifier, newPurchaseStoreStub(), &walletStub{}, Config{})

	if _, err := svc.VerifyAndSettle(context.Background(), 1, iosInput("tx-1")); !errors.Is(err, ErrInvalidPurchase) {
		t.Fatalf("expected ErrInvalidPurchase, got %v", err)
	}
}

func TestProviderUnavailableFailsClosedByDefault(t *testing.T) {
	verifier := &verifierStub{err: appstore.ErrProviderUnavailable}
	w := &walletStub{}

	svc := newTestService(t, verifier, newPurchaseStoreStub(), w, Config{})

	if _, err := svc.VerifyAndSettle(context.Background(), 1, iosInput("tx-1")); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if len(w.credits) != 0 {
		t.Fatalf("fail-closed must not credit, got %v", w.credits)
	}
}

func TestProviderUnavailableFailsOpenWhenConfigured(t *testing.T) {
	verifier := &verifierStub{err: appstore.ErrProviderUnavailable}
	w := &walletStub{}

	svc := newTestService(t, verifier, newPurchaseStoreStub(), w, Config{FailOpenOnProviderError: true})

	result, err := svc.VerifyAndSettle(context.Background(), 1, iosInput("tx-1"))
	if err != nil {
		t.Fatalf("verify and settle: %v", err)
	}
	if result.Status != StatusSettled {
		t.Fatalf("unexpected status: %s", result.Status)
	}
	if result.Environment != "Unverified" {
		t.Fatalf("fail-open settlement must be marked unverified, got %s", result.Environment)
	}
	if w.purchased != 40 {
		t.Fatalf("fail-open must still credit, got %d", w.purchased)
	}
}

func TestAndroidRejectedByDefault(t *testing.T) {
	svc := newTestService(t, &verifierStub{}, newPurchaseStoreStub(), &walletStub{}, Config{})

	in := VerifyInput{Platform: PlatformAndroid, ProductID: "points_40", TransactionID: "gpa-1"}

	if _, err := svc.VerifyAndSettle(context.Background(), 1, in); !errors.Is(err, ErrPlatformUnsupported) {
		t.Fatalf("expected ErrPlatformUnsupported, got %v", err)
	}
}

func TestAndroidAllowedBehindFlag(t *testing.T) {
	w := &walletStub{}
	svc := newTestService(t, &verifierStub{}, newPurchaseStoreStub(), w, Config{AllowUnverifiedAndroid: true})

	in := VerifyInput{Platform: PlatformAndroid, ProductID: "points_100", TransactionID: "gpa-1"}

	result, err := svc.VerifyAndSettle(context.Background(), 1, in)
	if err != nil {
		t.Fatalf("verify and settle: %v", err)
	}
	if result.Status != StatusSettled || result.PointsAwarded != 100 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Environment != "Unverified" {
		t.Fatalf("android settlement must be marked unverified, got %s", result.Environment)
	}
}

func TestValidation(t *testing.T) {
	svc := newTestService(t, &verifierStub{}, newPurchaseStoreStub(), &walletStub{}, Config{})

	cases := []VerifyInput{
		{},
		{Platform: "windows", ProductID: "points_40", TransactionID: "tx-1"},
		{Platform: PlatformIOS, TransactionID: "tx-1"},
		{Platform: PlatformIOS, ProductID: "points_40"},
		{Platform: PlatformIOS, ProductID: "points_40", TransactionID: "tx-1"}, // no receipt data
	}
	for i, in := range cases {
		if _, err := svc.VerifyAndSettle(context.Background(), 1, in); !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
}
