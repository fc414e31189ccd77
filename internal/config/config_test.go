package config

import (
	"strings"
	"testing"
	"time"
)

const testKey = "abcdefabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcd"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PRIVATE_KEY", testKey)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != DefaultPort {
		t.Errorf("Port = %s, want %s", cfg.Port, DefaultPort)
	}
	if cfg.ChainID != DefaultChainID {
		t.Errorf("ChainID = %d, want %d", cfg.ChainID, DefaultChainID)
	}
	if cfg.PendingTTL != DefaultPendingTTL {
		t.Errorf("PendingTTL = %v, want %v", cfg.PendingTTL, DefaultPendingTTL)
	}
	if cfg.ConfirmTimeout != DefaultConfirmTimeout {
		t.Errorf("ConfirmTimeout = %v, want %v", cfg.ConfirmTimeout, DefaultConfirmTimeout)
	}
	if !cfg.IsDevelopment() {
		t.Error("expected development mode by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PRIVATE_KEY", "0x"+testKey)
	t.Setenv("PENDING_TTL", "5m")
	t.Setenv("CONFIRM_TIMEOUT", "30s")
	t.Setenv("ENV", "production")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.PendingTTL != 5*time.Minute {
		t.Errorf("PendingTTL = %v, want 5m", cfg.PendingTTL)
	}
	if cfg.ConfirmTimeout != 30*time.Second {
		t.Errorf("ConfirmTimeout = %v, want 30s", cfg.ConfirmTimeout)
	}
	if !cfg.IsProduction() {
		t.Error("expected production mode")
	}
}

func TestValidatePaymentBounds(t *testing.T) {
	cfg := &Config{
		PrivateKey:     testKey,
		RPCURL:         DefaultRPCURL,
		MinPayment:     "5.000000",
		MaxPayment:     "1.000000",
		PendingTTL:     time.Minute,
		ConfirmTimeout: time.Minute,
	}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "MAX_PAYMENT") {
		t.Fatalf("expected MAX_PAYMENT error, got %v", err)
	}

	cfg.MinPayment = "bogus"
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "MIN_PAYMENT") {
		t.Fatalf("expected MIN_PAYMENT error, got %v", err)
	}
}

func TestValidateMissingKey(t *testing.T) {
	cfg := &Config{RPCURL: DefaultRPCURL, PendingTTL: time.Minute, ConfirmTimeout: time.Minute}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "PRIVATE_KEY") {
		t.Fatalf("expected PRIVATE_KEY error, got %v", err)
	}
}

func TestValidateBadKeyLength(t *testing.T) {
	cfg := &Config{PrivateKey: "abc", RPCURL: DefaultRPCURL, PendingTTL: time.Minute, ConfirmTimeout: time.Minute}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for short key")
	}
}
