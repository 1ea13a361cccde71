package dto

type PurchaseVerifyRequest struct {
	Platform      string `json:"platform"`
	ProductID     string `json:"product_id"`
	TransactionID string `json:"transaction_id"`
	ReceiptData   string `json:"receipt_data,omitempty"`
}

type PurchaseVerifyResponse struct {
	Status        string           `json:"status"`
	TransactionID string           `json:"transaction_id"`
	PointsAwarded int              `json:"points_awarded"`
	Environment   string           `json:"environment"`
	Balances      BalancesResponse `json:"balances"`
}
