package appstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidReceipt means Apple answered and rejected the receipt.
	ErrInvalidReceipt = errors.New("invalid receipt")
	// ErrProviderUnavailable means Apple could not be reached or answered
	// with a retryable server-side status.
	ErrProviderUnavailable = errors.New("receipt verification unavailable")
)

const (
	statusOK                = 0
	statusSandboxReceipt    = 21007
	statusServerUnavailable = 21005
	statusInternalErrorLow  = 21100
	statusInternalErrorHigh = 21199

	EnvironmentProduction = "Production"
	EnvironmentSandbox    = "Sandbox"
)

type InAppPurchase struct {
	TransactionID string `json:"transaction_id"`
	ProductID     string `json:"product_id"`
}

type VerifiedReceipt struct {
	Environment string
	InApp       []InAppPurchase
}

// Contains reports whether the receipt carries the given transaction.
func (r VerifiedReceipt) Contains(transactionID string) (InAppPurchase, bool) {
	for _, p := range r.InApp {
		if p.TransactionID == transactionID {
			return p, true
		}
	}
	return InAppPurchase{}, false
}

type verifyRequest struct {
	ReceiptData string `json:"receipt-data"`
	Password    string `json:"password,omitempty"`
}

type verifyResponse struct {
	Status      int    `json:"status"`
	Environment string `json:"environment"`
	Receipt     struct {
		InApp []InAppPurchase `json:"in_app"`
	} `json:"receipt"`
	LatestReceiptInfo []InAppPurchase `json:"latest_receipt_info"`
}

// Client talks to Apple's verifyReceipt endpoint. Receipts are sent to the
// production host first; a 21007 answer means the receipt was minted in the
// sandbox, so it is retried once against the sandbox host.
type Client struct {
	httpClient    *http.Client
	productionURL string
	sandboxURL    string
	sharedSecret  string
}

func NewClient(httpClient *http.Client, productionURL, sandboxURL, sharedSecret string) *Client {
	return &Client{
		httpClient:    httpClient,
		productionURL: productionURL,
		sandboxURL:    sandboxURL,
		sharedSecret:  sharedSecret,
	}
}

func (c *Client) Verify(ctx context.Context, receiptData string) (VerifiedReceipt, error) {
	resp, err := c.post(ctx, c.productionURL, receiptData)
	if err != nil {
		return VerifiedReceipt{}, err
	}

	if resp.Status == statusSandboxReceipt && c.sandboxURL != "" {
		resp, err = c.post(ctx, c.sandboxURL, receiptData)
		if err != nil {
			return VerifiedReceipt{}, err
		}
	}

	switch {
	case resp.Status == statusOK:
	case resp.Status == statusServerUnavailable,
		resp.Status >= statusInternalErrorLow && resp.Status <= statusInternalErrorHigh:
		return VerifiedReceipt{}, fmt.Errorf("%w: apple status %d", ErrProviderUnavailable, resp.Status)
	default:
		return VerifiedReceipt{}, fmt.Errorf("%w: apple status %d", ErrInvalidReceipt, resp.Status)
	}

	env := resp.Environment
	if env == "" {
		env = EnvironmentProduction
	}

	inApp := resp.Receipt.InApp
	if len(inApp) == 0 {
		inApp = resp.LatestReceiptInfo
	}

	return VerifiedReceipt{Environment: env, InApp: inApp}, nil
}

func (c *Client) post(ctx context.Context, url, receiptData string) (verifyResponse, error) {
	body, err := json.Marshal(verifyRequest{ReceiptData: receiptData, Password: c.sharedSecret})
	if err != nil {
		return verifyResponse{}, fmt.Errorf("marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return verifyResponse{}, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return verifyResponse{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		return verifyResponse{}, fmt.Errorf("%w: http status %d", ErrProviderUnavailable, httpResp.StatusCode)
	}

	var resp verifyResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return verifyResponse{}, fmt.Errorf("%w: decode response: %v", ErrProviderUnavailable, err)
	}

	return resp, nil
}
