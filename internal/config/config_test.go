package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadUsesDefaultsAndYAMLOverrides(t *testing.T) {
	clearConfigEnv(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	yaml := `
wallet:
  timezone: UTC
  daily_free_allowance: 5
billing:
  fail_open_on_provider_error: true
  apple:
    verify_timeout: 3s
  products:
    - id: points_10
      points: 10
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Wallet.Timezone != "UTC" {
		t.Fatalf("unexpected wallet timezone: %s", cfg.Wallet.Timezone)
	}
	if cfg.Wallet.DailyFreeAllowance != 5 {
		t.Fatalf("unexpected daily free allowance: %d", cfg.Wallet.DailyFreeAllowance)
	}
	if !cfg.Billing.FailOpenOnProviderError {
		t.Fatalf("fail_open_on_provider_error override not applied")
	}
	if cfg.Billing.Apple.VerifyTimeout.String() != "3s" {
		t.Fatalf("unexpected apple verify timeout: %s", cfg.Billing.Apple.VerifyTimeout)
	}
	if len(cfg.Billing.Products) != 1 || cfg.Billing.Products[0].ID != "points_10" {
		t.Fatalf("unexpected products: %+v", cfg.Billing.Products)
	}

	if cfg.Wallet.TrialSeed != 50 {
		t.Fatalf("trial seed default should stay 50, got %d", cfg.Wallet.TrialSeed)
	}
	if cfg.Billing.Apple.ProductionURL == "" {
		t.Fatalf("apple production url default should stay set")
	}
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load config with missing file: %v", err)
	}

	if cfg.Wallet.Timezone != "Asia/Taipei" {
		t.Fatalf("unexpected default wallet timezone: %s", cfg.Wallet.Timezone)
	}
	if cfg.Wallet.DailyFreeAllowance != 3 {
		t.Fatalf("unexpected default daily free allowance: %d", cfg.Wallet.DailyFreeAllowance)
	}
	if cfg.Billing.FailOpenOnProviderError {
		t.Fatalf("provider outage policy must default to fail-closed")
	}
	if cfg.Billing.AllowUnverifiedAndroid {
		t.Fatalf("unverified android purchases must be disabled by default")
	}
	if len(cfg.Billing.Products) == 0 {
		t.Fatalf("default product catalog should not be empty")
	}
	if cfg.Billing.VerifyRate.PerMinute != 6 {
		t.Fatalf("unexpected verify rate per minute: %d", cfg.Billing.VerifyRate.PerMinute)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("WALLET_DAILY_FREE_ALLOWANCE", "0")
	t.Setenv("BILLING_FAIL_OPEN", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Wallet.DailyFreeAllowance != 0 {
		t.Fatalf("allowance env override not applied: %d", cfg.Wallet.DailyFreeAllowance)
	}
	if !cfg.Billing.FailOpenOnProviderError {
		t.Fatalf("fail-open env override not applied")
	}
}

func TestLoadRejectsInvalidTimezone(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("WALLET_TIMEZONE", "Not/AZone")

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for invalid wallet timezone")
	}
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV",
		"HTTP_ADDR",
		"LOG_LEVEL",
		"POSTGRES_DSN",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"REDIS_DB",
		"JWT_SECRET",
		"JWT_ACCESS_TTL",
		"SESSION_TTL",
		"WALLET_TIMEZONE",
		"WALLET_DAILY_FREE_ALLOWANCE",
		"WALLET_TRIAL_SEED",
		"APPLE_SHARED_SECRET",
		"APPLE_VERIFY_TIMEOUT",
		"BILLING_FAIL_OPEN",
		"BILLING_ALLOW_UNVERIFIED_ANDROID",
	} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}
