package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dannykan/bbbeep/backend/internal/config"
	authsvc "github.com/dannykan/bbbeep/backend/internal/services/auth"
	purchasesvc "github.com/dannykan/bbbeep/backend/internal/services/purchases"
	ratesvc "github.com/dannykan/bbbeep/backend/internal/services/rate"
	walletsvc "github.com/dannykan/bbbeep/backend/internal/services/wallet"
	"github.com/dannykan/bbbeep/backend/internal/transport/http/handlers"
)

type Dependencies struct {
	AuthService     *authsvc.Service
	WalletService   *walletsvc.Service
	PurchaseService *purchasesvc.Service
	VerifyLimiter   *ratesvc.Limiter
	Logger          *zap.Logger
	Config          config.Config
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler()
	authHandler := handlers.NewAuthHandler(deps.AuthService)
	walletHandler := handlers.NewWalletHandler(deps.WalletService)
	purchaseHandler := handlers.NewPurchaseHandler(deps.PurchaseService, deps.VerifyLimiter)

	authMW := AuthMiddleware(deps.AuthService, deps.Logger)
	creditRoleMW := RequireRole(authsvc.RoleAdmin)

	r.Get("/healthz", healthHandler.Get)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.With(authMW).Post("/logout", authHandler.Logout)
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Use(authMW)
			r.Get("/", walletHandler.Get)
			r.Post("/onboard", walletHandler.Onboard)
			r.Get("/history", walletHandler.History)
			r.Post("/debit", walletHandler.Debit)
			r.With(creditRoleMW).Post("/credit", walletHandler.Credit)
		})

		r.With(authMW).Post("/purchase/verify", purchaseHandler.Verify)
	})
}
