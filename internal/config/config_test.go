package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "PAYMENT_NETWORK")
	unsetEnvWithCleanup(t, "PAYMENT_ASSET_DECIMALS")
	unsetEnvWithCleanup(t, "CHAIN_ID")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PaymentNetwork != "base-sepolia" {
		t.Errorf("expected default network base-sepolia, got %q", cfg.PaymentNetwork)
	}
	if cfg.PaymentAssetDecimals != 6 {
		t.Errorf("expected default 6 decimals, got %d", cfg.PaymentAssetDecimals)
	}
	if cfg.ChainID != 84532 {
		t.Errorf("expected default chain id 84532, got %d", cfg.ChainID)
	}
	if cfg.PaymentTimeoutSeconds != 60 {
		t.Errorf("expected default payment timeout 60s, got %d", cfg.PaymentTimeoutSeconds)
	}
}

func TestLoadConfig_UsesCDPKeyAliases(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "FACILITATOR_API_KEY_ID")
	unsetEnvWithCleanup(t, "FACILITATOR_API_KEY_SECRET")
	setEnvWithCleanup(t, "CDP_API_KEY_ID", "alias-key-id")
	setEnvWithCleanup(t, "CDP_API_KEY_SECRET", "alias-key-secret")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.FacilitatorAPIKeyID != "alias-key-id" {
		t.Fatalf("expected key id from alias env var, got %q", cfg.FacilitatorAPIKeyID)
	}
	if cfg.FacilitatorAPIKeySecret != "alias-key-secret" {
		t.Fatalf("expected key secret from alias env var, got %q", cfg.FacilitatorAPIKeySecret)
	}
}

func TestLoadConfig_TrimsTrailingSlashes(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "PUBLIC_BASE_URL", "https://tips.example.com/")
	setEnvWithCleanup(t, "FACILITATOR_BASE_URL", "https://x402.org/facilitator/")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PublicBaseURL != "https://tips.example.com" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.PublicBaseURL)
	}
	if cfg.FacilitatorBaseURL != "https://x402.org/facilitator" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.FacilitatorBaseURL)
	}
}

func TestLoadConfig_CoercesOutOfRangeDecimals(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "PAYMENT_ASSET_DECIMALS", "42")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PaymentAssetDecimals != 6 {
		t.Fatalf("expected out-of-range decimals coerced to 6, got %d", cfg.PaymentAssetDecimals)
	}
}

func TestOrigins(t *testing.T) {
	cfg := Config{AllowedOrigins: " https://a.example , https://b.example ,"}
	origins := cfg.Origins()
	if len(origins) != 2 || origins[0] != "https://a.example" || origins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", origins)
	}

	if (Config{}).Origins() != nil {
		t.Error("expected nil origins for empty value")
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
