package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dannykan/bbbeep/backend/internal/config"
	"github.com/dannykan/bbbeep/backend/internal/infra/appstore"
	"github.com/dannykan/bbbeep/backend/internal/infra/httpclient"
	pgrepo "github.com/dannykan/bbbeep/backend/internal/repo/postgres"
	redrepo "github.com/dannykan/bbbeep/backend/internal/repo/redis"
	authsvc "github.com/dannykan/bbbeep/backend/internal/services/auth"
	catalogsvc "github.com/dannykan/bbbeep/backend/internal/services/catalog"
	purchasesvc "github.com/dannykan/bbbeep/backend/internal/services/purchases"
	ratesvc "github.com/dannykan/bbbeep/backend/internal/services/rate"
	walletsvc "github.com/dannykan/bbbeep/backend/internal/services/wallet"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	var pool *pgxpool.Pool
	if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		pool = p
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	sessionRepo := redrepo.NewSessionRepo(redisClient)
	rateRepo := redrepo.NewRateRepo(redisClient)
	accountRepo := pgrepo.NewAccountRepo(pool)
	ledgerRepo := pgrepo.NewLedgerRepo(pool)
	purchaseRepo := pgrepo.NewPurchaseRepo(pool)

	jwtManager := authsvc.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTAccessTTL)
	authService := authsvc.NewService(jwtManager, sessionRepo, cfg.Auth.SessionTTL)

	walletService, err := walletsvc.NewService(walletsvc.Dependencies{
		Pool:     pool,
		Accounts: accountRepo,
		Ledger:   ledgerRepo,
	}, walletsvc.Config{
		Timezone:           cfg.Wallet.Timezone,
		DailyFreeAllowance: cfg.Wallet.DailyFreeAllowance,
		TrialSeed:          cfg.Wallet.TrialSeed,
	})
	if err != nil {
		return nil, fmt.Errorf("init wallet service: %w", err)
	}

	productCatalog := catalogsvc.New(cfg.Billing.Products)
	appleClient := appstore.NewClient(
		httpclient.New(cfg.Billing.Apple.VerifyTimeout),
		cfg.Billing.Apple.ProductionURL,
		cfg.Billing.Apple.SandboxURL,
		cfg.Billing.Apple.SharedSecret,
	)

	purchaseService, err := purchasesvc.NewService(
		appleClient,
		purchaseRepo,
		walletService,
		productCatalog,
		purchasesvc.Config{
			FailOpenOnProviderError: cfg.Billing.FailOpenOnProviderError,
			AllowUnverifiedAndroid:  cfg.Billing.AllowUnverifiedAndroid,
		},
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("init purchase service: %w", err)
	}

	verifyLimiter := ratesvc.NewLimiter(
		rateRepo,
		cfg.Billing.VerifyRate.PerMinute,
		cfg.Billing.VerifyRate.PerHour,
	)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	RegisterRoutes(r, Dependencies{
		AuthService:     authService,
		WalletService:   walletService,
		PurchaseService: purchaseService,
		VerifyLimiter:   verifyLimiter,
		Logger:          log,
		Config:          cfg,
	})

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		redis:      redisClient,
		httpRouter: r,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}
