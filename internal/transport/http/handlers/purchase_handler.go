package handlers

import (
	"context"
	"errors"
	"net/http"

	authsvc "github.com/dannykan/bbbeep/backend/internal/services/auth"
	purchasesvc "github.com/dannykan/bbbeep/backend/internal/services/purchases"
	"github.com/dannykan/bbbeep/backend/internal/transport/http/dto"
	httperrors "github.com/dannykan/bbbeep/backend/internal/transport/http/errors"
)

type VerifyLimiter interface {
	AllowVerify(ctx context.Context, userID int64) (int64, bool, error)
}

type PurchaseHandler struct {
	purchases *purchasesvc.Service
	limiter   VerifyLimiter
}

func NewPurchaseHandler(purchases *purchasesvc.Service, limiter VerifyLimiter) *PurchaseHandler {
	return &PurchaseHandler{
		purchases: purchases,
		limiter:   limiter,
	}
}

// Verify settles one app-store purchase for the caller. Safe to retry: a
// transaction id that was settled before answers 200 with zero points.
func (h *PurchaseHandler) Verify(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.purchases == nil {
		writeInternal(w, "PURCHASE_SERVICE_UNAVAILABLE", "purchase service is unavailable")
		return
	}

	if h.limiter != nil {
		retryAfter, allowed, err := h.limiter.AllowVerify(r.Context(), identity.UserID)
		if err != nil {
			writeInternal(w, "INTERNAL_ERROR", "rate limit check failed")
			return
		}
		if !allowed {
			httperrors.Write(w, http.StatusTooManyRequests, httperrors.RateLimitError{
				Code:          "RATE_LIMITED",
				Message:       "too many verification attempts",
				RetryAfterSec: retryAfter,
			})
			return
		}
	}

	var req dto.PurchaseVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	result, err := h.purchases.VerifyAndSettle(r.Context(), identity.UserID, purchasesvc.VerifyInput{
		Platform:      req.Platform,
		ProductID:     req.ProductID,
		TransactionID: req.TransactionID,
		ReceiptData:   req.ReceiptData,
	})
	if err != nil {
		handlePurchaseError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, dto.PurchaseVerifyResponse{
		Status:        result.Status,
		TransactionID: result.TransactionID,
		PointsAwarded: result.PointsAwarded,
		Environment:   result.Environment,
		Balances: dto.BalancesResponse{
			Trial:     result.Balances.Trial,
			Free:      result.Balances.Free,
			Purchased: result.Balances.Purchased,
			Total:     result.Balances.Total,
		},
	})
}

func handlePurchaseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, purchasesvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "invalid purchase payload")
	case errors.Is(err, purchasesvc.ErrPlatformUnsupported):
		writeBadRequest(w, "PLATFORM_UNSUPPORTED", "platform verification is not supported")
	case errors.Is(err, purchasesvc.ErrInvalidPurchase):
		httperrors.Write(w, http.StatusUnprocessableEntity, httperrors.APIError{
			Code:    "PURCHASE_REJECTED",
			Message: "receipt verification rejected the purchase",
		})
	case errors.Is(err, purchasesvc.ErrProviderUnavailable):
		httperrors.Write(w, http.StatusServiceUnavailable, httperrors.APIError{
			Code:    "VERIFICATION_UNAVAILABLE",
			Message: "receipt verification is temporarily unavailable, retry later",
		})
	default:
		writeInternal(w, "INTERNAL_ERROR", "failed to settle purchase")
	}
}
