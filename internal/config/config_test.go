package config

import (
	"errors"
	"testing"
	"time"
)

func TestValidateDevelopmentFallbacks(t *testing.T) {
	t.Parallel()
	cfg := Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Environment != EnvironmentDevelopment || cfg.ListenAddr != defaultListenAddr || cfg.DatabaseURL != defaultDatabaseURL {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.AuthSecret != developmentAuthSecret || cfg.MerchantWallet != developmentMerchantRaw {
		t.Fatalf("expected development fallbacks, got %+v", cfg)
	}
	if len(cfg.Warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %v", cfg.Warnings)
	}
	if cfg.TokenTTL != 24*time.Hour || cfg.ChallengeTTL != 15*time.Minute || cfg.TonAPIRate != defaultTonAPIRate {
		t.Fatalf("unexpected durations %+v", cfg)
	}
}

func TestValidateProductionRules(t *testing.T) {
	t.Parallel()
	valid := func() Config {
		return Config{
			Environment:    "Production",
			AuthSecret:     "0123456789abcdef",
			MerchantWallet: developmentMerchantRaw,
			WebhookSecret:  "hook",
		}
	}
	testCases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "valid", mutate: func(*Config) {}, ok: true},
		{name: "short secret", mutate: func(cfg *Config) { cfg.AuthSecret = "short" }},
		{name: "missing merchant", mutate: func(cfg *Config) { cfg.MerchantWallet = " " }},
		{name: "trusted confirmations", mutate: func(cfg *Config) { cfg.TrustedConfirmations = true }},
		{name: "unknown environment", mutate: func(cfg *Config) { cfg.Environment = "staging" }},
		{name: "negative rate", mutate: func(cfg *Config) { cfg.TonAPIRate = -1 }},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			testCase.mutate(&cfg)
			err := cfg.Validate()
			if testCase.ok && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !testCase.ok && !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestParseList(t *testing.T) {
	t.Parallel()
	parsed := ParseList(" https://a.example , ,https://b.example")
	if len(parsed) != 2 || parsed[0] != "https://a.example" || parsed[1] != "https://b.example" {
		t.Fatalf("unexpected list %v", parsed)
	}
	if len(ParseList("  ")) != 0 {
		t.Fatalf("expected empty list")
	}
}
