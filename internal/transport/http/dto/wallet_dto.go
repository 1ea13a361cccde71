package dto

import "time"

type BalancesResponse struct {
	Trial     int `json:"trial"`
	Free      int `json:"free"`
	Purchased int `json:"purchased"`
	Total     int `json:"total"`
}

type WalletResponse struct {
	Trial           int       `json:"trial"`
	Free            int       `json:"free"`
	Purchased       int       `json:"purchased"`
	Total           int       `json:"total"`
	NextFreeResetAt time.Time `json:"next_free_reset_at"`
}

type OnboardResponse struct {
	Created  bool             `json:"created"`
	Balances BalancesResponse `json:"balances"`
}

type DebitRequest struct {
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

type DebitResponse struct {
	Balances       BalancesResponse `json:"balances"`
	SpentTrial     int              `json:"spent_trial"`
	SpentFree      int              `json:"spent_free"`
	SpentPurchased int              `json:"spent_purchased"`
	EntryID        string           `json:"entry_id"`
}

type CreditRequest struct {
	UserID      int64  `json:"user_id"`
	Amount      int    `json:"amount"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

type CreditResponse struct {
	Balances BalancesResponse `json:"balances"`
	EntryID  string           `json:"entry_id"`
}

type LedgerEntryResponse struct {
	ID          string    `json:"id"`
	Delta       int       `json:"delta"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type HistoryResponse struct {
	Entries []LedgerEntryResponse `json:"entries"`
}
