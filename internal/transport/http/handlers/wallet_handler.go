package handlers

import (
	"errors"
	"net/http"
	"strconv"

	authsvc "github.com/dannykan/bbbeep/backend/internal/services/auth"
	walletsvc "github.com/dannykan/bbbeep/backend/internal/services/wallet"
	"github.com/dannykan/bbbeep/backend/internal/transport/http/dto"
	httperrors "github.com/dannykan/bbbeep/backend/internal/transport/http/errors"
)

type WalletHandler struct {
	wallet *walletsvc.Service
}

func NewWalletHandler(wallet *walletsvc.Service) *WalletHandler {
	return &WalletHandler{wallet: wallet}
}

func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.wallet == nil {
		writeInternal(w, "WALLET_SERVICE_UNAVAILABLE", "wallet service is unavailable")
		return
	}

	balances, err := h.wallet.GetBalances(r.Context(), identity.UserID)
	if err != nil {
		handleWalletError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, dto.WalletResponse{
		Trial:           balances.Trial,
		Free:            balances.Free,
		Purchased:       balances.Purchased,
		Total:           balances.Total,
		NextFreeResetAt: balances.NextFreeResetAt,
	})
}

// Onboard creates the caller's wallet with the trial seed. Retry-safe.
func (h *WalletHandler) Onboard(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.wallet == nil {
		writeInternal(w, "WALLET_SERVICE_UNAVAILABLE", "wallet service is unavailable")
		return
	}

	balances, created, err := h.wallet.Onboard(r.Context(), identity.UserID)
	if err != nil {
		handleWalletError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, dto.OnboardResponse{
		Created:  created,
		Balances: toBalancesResponse(balances),
	})
}

func (h *WalletHandler) Debit(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.wallet == nil {
		writeInternal(w, "WALLET_SERVICE_UNAVAILABLE", "wallet service is unavailable")
		return
	}

	var req dto.DebitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	result, err := h.wallet.Debit(r.Context(), identity.UserID, req.Amount, req.Reason)
	if err != nil {
		handleWalletError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, dto.DebitResponse{
		Balances:       toBalancesResponse(result.Balances),
		SpentTrial:     result.SpentTrial,
		SpentFree:      result.SpentFree,
		SpentPurchased: result.SpentPurchase,
		EntryID:        result.EntryID,
	})
}

// Credit grants points to an arbitrary user's purchased pool. Admin only;
// route-level role middleware enforces that.
func (h *WalletHandler) Credit(w http.ResponseWriter, r *http.Request) {
	if _, ok := authsvc.IdentityFromContext(r.Context()); !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.wallet == nil {
		writeInternal(w, "WALLET_SERVICE_UNAVAILABLE", "wallet service is unavailable")
		return
	}

	var req dto.CreditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	result, err := h.wallet.Credit(r.Context(), req.UserID, req.Amount, req.Kind, req.Description)
	if err != nil {
		handleWalletError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, dto.CreditResponse{
		Balances: toBalancesResponse(result.Balances),
		EntryID:  result.EntryID,
	})
}

func (h *WalletHandler) History(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.wallet == nil {
		writeInternal(w, "WALLET_SERVICE_UNAVAILABLE", "wallet service is unavailable")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeBadRequest(w, "VALIDATION_ERROR", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	entries, err := h.wallet.History(r.Context(), identity.UserID, limit)
	if err != nil {
		handleWalletError(w, err)
		return
	}

	out := dto.HistoryResponse{Entries: make([]dto.LedgerEntryResponse, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, dto.LedgerEntryResponse{
			ID:          e.ID,
			Delta:       e.Delta,
			Kind:        e.Kind,
			Description: e.Description,
			CreatedAt:   e.CreatedAt,
		})
	}

	httperrors.Write(w, http.StatusOK, out)
}

func handleWalletError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, walletsvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "invalid wallet request")
	case errors.Is(err, walletsvc.ErrAccountNotFound):
		httperrors.Write(w, http.StatusNotFound, httperrors.APIError{
			Code:    "ACCOUNT_NOT_FOUND",
			Message: "wallet account not found",
		})
	case errors.Is(err, walletsvc.ErrInsufficientFunds):
		httperrors.Write(w, http.StatusPaymentRequired, httperrors.APIError{
			Code:    "INSUFFICIENT_FUNDS",
			Message: "not enough points",
		})
	default:
		writeInternal(w, "INTERNAL_ERROR", "wallet operation failed")
	}
}

func toBalancesResponse(b walletsvc.Balances) dto.BalancesResponse {
	return dto.BalancesResponse{
		Trial:     b.Trial,
		Free:      b.Free,
		Purchased: b.Purchased,
		Total:     b.Total,
	}
}
