// Package config holds the runtime settings of boostd.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"

	MinSecretBytes = 16

	defaultListenAddr      = ":8080"
	defaultDatabaseURL     = "sqlite:///tmp/tonboost.db"
	defaultAllowedOrigin   = "http://localhost:5173"
	defaultChallengeTTL    = 15 * time.Minute
	defaultTokenTTL        = 24 * time.Hour
	defaultProofTTL        = 15 * time.Minute
	defaultTonAPITimeout   = 10 * time.Second
	defaultTonAPIRate      = 4.0
	defaultVerifyTimeout   = 15 * time.Second
	defaultRequestTimeout  = 20 * time.Second
	defaultPurgeInterval   = 10 * time.Minute
	developmentAuthSecret  = "insecure-development-secret"
	developmentMerchantRaw = "0:0000000000000000000000000000000000000000000000000000000000000000"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config aggregates runtime settings for the boost API.
type Config struct {
	Environment          string
	ListenAddr           string
	DatabaseURL          string
	AllowedOrigins       []string
	AuthSecret           string
	ChallengeTTL         time.Duration
	TokenTTL             time.Duration
	ProofTTL             time.Duration
	ProofDomains         []string
	ManifestURL          string
	AppURL               string
	MerchantWallet       string
	TonAPIBaseURL        string
	TonAPIKey            string
	TonAPITimeout        time.Duration
	TonAPIRate           float64
	WebhookSecret        string
	TrustedConfirmations bool
	VerifyTimeout        time.Duration
	RequestTimeout       time.Duration
	PurgeInterval        time.Duration
	TelegramToken        string
	TelegramChatID       int64

	// Warnings collects the development fallbacks applied by Validate.
	Warnings []string
}

// Validate fills defaults and rejects unusable settings. Production refuses a
// missing or short auth secret and a missing merchant wallet.
func (cfg *Config) Validate() error {
	cfg.Environment = strings.ToLower(defaultIfEmpty(cfg.Environment, EnvironmentDevelopment))
	if cfg.Environment != EnvironmentDevelopment && cfg.Environment != EnvironmentProduction {
		return fmt.Errorf("%w: unknown environment %q", ErrInvalidConfig, cfg.Environment)
	}
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.ChallengeTTL = defaultDuration(cfg.ChallengeTTL, defaultChallengeTTL)
	cfg.TokenTTL = defaultDuration(cfg.TokenTTL, defaultTokenTTL)
	cfg.ProofTTL = defaultDuration(cfg.ProofTTL, defaultProofTTL)
	cfg.TonAPITimeout = defaultDuration(cfg.TonAPITimeout, defaultTonAPITimeout)
	cfg.VerifyTimeout = defaultDuration(cfg.VerifyTimeout, defaultVerifyTimeout)
	cfg.RequestTimeout = defaultDuration(cfg.RequestTimeout, defaultRequestTimeout)
	cfg.PurgeInterval = defaultDuration(cfg.PurgeInterval, defaultPurgeInterval)
	if cfg.TonAPIRate < 0 {
		return fmt.Errorf("%w: tonapi rate must not be negative", ErrInvalidConfig)
	}
	if cfg.TonAPIRate == 0 {
		cfg.TonAPIRate = defaultTonAPIRate
	}

	if len(cfg.AuthSecret) < MinSecretBytes {
		if cfg.Production() {
			return fmt.Errorf("%w: auth secret must be at least %d bytes", ErrInvalidConfig, MinSecretBytes)
		}
		cfg.AuthSecret = developmentAuthSecret
		cfg.Warnings = append(cfg.Warnings, "auth secret missing or short, using an insecure development secret")
	}
	if strings.TrimSpace(cfg.MerchantWallet) == "" {
		if cfg.Production() {
			return fmt.Errorf("%w: merchant wallet is required", ErrInvalidConfig)
		}
		cfg.MerchantWallet = developmentMerchantRaw
		cfg.Warnings = append(cfg.Warnings, "merchant wallet missing, using the zero address")
	}
	if cfg.Production() && cfg.TrustedConfirmations {
		return fmt.Errorf("%w: trusted confirmations are not allowed in production", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		cfg.Warnings = append(cfg.Warnings, "webhook secret missing, payment webhook disabled")
	}
	return nil
}

// Production reports whether the production rules apply.
func (cfg Config) Production() bool {
	return cfg.Environment == EnvironmentProduction
}

// TelegramEnabled reports whether settlement notifications are configured.
func (cfg Config) TelegramEnabled() bool {
	return strings.TrimSpace(cfg.TelegramToken) != "" && cfg.TelegramChatID != 0
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

func defaultDuration(value time.Duration, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

// ParseList splits a comma-delimited value into trimmed, non-empty items.
func ParseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
