package appstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestVerifyAgainstProduction(t *testing.T) {
	production := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ReceiptData != "receipt-blob" || req.Password != "shared-secret" {
			t.Fatalf("unexpected request payload: %+v", req)
		}

		writeJSON(t, w, map[string]any{
			"status":      0,
			"environment": "Production",
			"receipt": map[string]any{
				"in_app": []map[string]string{
					{"transaction_id": "tx-1", "product_id": "points_40"},
				},
			},
		})
	}))
	defer production.Close()

	client := NewClient(&http.Client{Timeout: time.Second}, production.URL, "", "shared-secret")

	receipt, err := client.Verify(context.Background(), "receipt-blob")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if receipt.Environment != EnvironmentProduction {
		t.Fatalf("unexpected environment: %s", receipt.Environment)
	}

	purchase, ok := receipt.Contains("tx-1")
	if !ok {
		t.Fatalf("receipt must contain tx-1")
	}
	if purchase.ProductID != "points_40" {
		t.Fatalf("unexpected product id: %s", purchase.ProductID)
	}
}

func TestVerifyRetriesSandboxOn21007(t *testing.T) {
	sandbox := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"status":      0,
			"environment": "Sandbox",
			"receipt": map[string]any{
				"in_app": []map[string]string{
					{"transaction_id": "tx-sandbox", "product_id": "points_100"},
				},
			},
		})
	}))
	defer sandbox.Close()

	productionCalls := 0
	production := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		productionCalls++
		writeJSON(t, w, map[string]any{"status": 21007})
	}))
	defer production.Close()

	client := NewClient(&http.Client{Timeout: time.Second}, production.URL, sandbox.URL, "")

	receipt, err := client.Verify(context.Background(), "sandbox-receipt")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if productionCalls != 1 {
		t.Fatalf("production must be tried exactly once, got %d", productionCalls)
	}
	if receipt.Environment != EnvironmentSandbox {
		t.Fatalf("unexpected environment: %s", receipt.Environment)
	}
	if _, ok := receipt.Contains("tx-sandbox"); !ok {
		t.Fatalf("receipt must contain tx-sandbox")
	}
}

func TestVerifyRejectsBadReceipt(t *testing.T) {
	production := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"status": 21003})
	}))
	defer production.Close()

	client := NewClient(&http.Client{Timeout: time.Second}, production.URL, "", "")

	if _, err := client.Verify(context.Background(), "garbage"); !errors.Is(err, ErrInvalidReceipt) {
		t.Fatalf("expected ErrInvalidReceipt, got %v", err)
	}
}

func TestVerifyMapsServerErrorsToUnavailable(t *testing.T) {
	production := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer production.Close()

	client := NewClient(&http.Client{Timeout: time.Second}, production.URL, "", "")

	if _, err := client.Verify(context.Background(), "receipt"); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestVerifyMapsAppleUnavailableStatus(t *testing.T) {
	production := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"status": 21005})
	}))
	defer production.Close()

	client := NewClient(&http.Client{Timeout: time.Second}, production.URL, "", "")

	if _, err := client.Verify(context.Background(), "receipt"); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, payload any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}
