package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/tonboost/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagEnvironment          = "environment"
	flagListenAddr           = "listen-addr"
	flagDatabaseURL          = "database-url"
	flagAllowedOrigins       = "allowed-origins"
	flagAuthSecret           = "auth-secret"
	flagChallengeTTL         = "challenge-ttl"
	flagTokenTTL             = "token-ttl"
	flagProofTTL             = "proof-ttl"
	flagProofDomains         = "proof-domains"
	flagManifestURL          = "manifest-url"
	flagAppURL               = "app-url"
	flagMerchantWallet       = "merchant-wallet"
	flagTonAPIBaseURL        = "tonapi-base-url"
	flagTonAPIKey            = "tonapi-key"
	flagTonAPITimeout        = "tonapi-timeout"
	flagTonAPIRate           = "tonapi-rate"
	flagWebhookSecret        = "webhook-secret"
	flagTrustedConfirmations = "trusted-confirmations"
	flagVerifyTimeout        = "verify-timeout"
	flagRequestTimeout       = "request-timeout"
	flagPurgeInterval        = "purge-interval"
	flagTelegramToken        = "telegram-token"
	flagTelegramChatID       = "telegram-chat-id"
	envPrefix                = "BOOSTD"
	dotenvFile               = ".env"
)

var allFlags = []string{
	flagEnvironment, flagListenAddr, flagDatabaseURL, flagAllowedOrigins, flagAuthSecret,
	flagChallengeTTL, flagTokenTTL, flagProofTTL, flagProofDomains, flagManifestURL, flagAppURL,
	flagMerchantWallet, flagTonAPIBaseURL, flagTonAPIKey, flagTonAPITimeout, flagTonAPIRate,
	flagWebhookSecret, flagTrustedConfirmations, flagVerifyTimeout, flagRequestTimeout,
	flagPurgeInterval, flagTelegramToken, flagTelegramChatID,
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "boostd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := config.Config{}
	cmd := &cobra.Command{
		Use:           "boostd",
		Short:         "TON wallet login, ad rewards and boost settlement API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadDotenv(dotenvFile); err != nil {
				return err
			}
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.String(flagEnvironment, config.EnvironmentDevelopment, "development or production")
	flags.String(flagListenAddr, "", "HTTP listen address")
	flags.String(flagDatabaseURL, "", "postgres:// or sqlite:// connection string")
	flags.String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	flags.String(flagAuthSecret, "", "secret for nonce digests and access tokens")
	flags.Duration(flagChallengeTTL, 0, "nonce challenge lifetime")
	flags.Duration(flagTokenTTL, 0, "access token lifetime")
	flags.Duration(flagProofTTL, 0, "maximum ton_proof age")
	flags.String(flagProofDomains, "", "comma-separated extra domains accepted in proofs")
	flags.String(flagManifestURL, "", "TON Connect manifest URL")
	flags.String(flagAppURL, "", "public app URL")
	flags.String(flagMerchantWallet, "", "wallet receiving boost payments")
	flags.String(flagTonAPIBaseURL, "", "tonapi base URL")
	flags.String(flagTonAPIKey, "", "tonapi bearer key")
	flags.Duration(flagTonAPITimeout, 0, "tonapi request timeout")
	flags.Float64(flagTonAPIRate, 0, "tonapi requests per second")
	flags.String(flagWebhookSecret, "", "shared secret for the payment webhook")
	flags.Bool(flagTrustedConfirmations, false, "accept client-reported confirmations without chain lookup (development only)")
	flags.Duration(flagVerifyTimeout, 0, "transfer verification timeout")
	flags.Duration(flagRequestTimeout, 0, "HTTP request timeout")
	flags.Duration(flagPurgeInterval, 0, "interval for purging expired challenges and tokens")
	flags.String(flagTelegramToken, "", "Telegram bot token for settlement notices")
	flags.Int64(flagTelegramChatID, 0, "Telegram chat receiving settlement notices")

	return cmd
}

func loadDotenv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range allFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.Environment = strings.TrimSpace(v.GetString(flagEnvironment))
	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.AllowedOrigins = config.ParseList(v.GetString(flagAllowedOrigins))
	cfg.AuthSecret = v.GetString(flagAuthSecret)
	cfg.ChallengeTTL = v.GetDuration(flagChallengeTTL)
	cfg.TokenTTL = v.GetDuration(flagTokenTTL)
	cfg.ProofTTL = v.GetDuration(flagProofTTL)
	cfg.ProofDomains = config.ParseList(v.GetString(flagProofDomains))
	cfg.ManifestURL = strings.TrimSpace(v.GetString(flagManifestURL))
	cfg.AppURL = strings.TrimSpace(v.GetString(flagAppURL))
	cfg.MerchantWallet = strings.TrimSpace(v.GetString(flagMerchantWallet))
	cfg.TonAPIBaseURL = strings.TrimSpace(v.GetString(flagTonAPIBaseURL))
	cfg.TonAPIKey = strings.TrimSpace(v.GetString(flagTonAPIKey))
	cfg.TonAPITimeout = v.GetDuration(flagTonAPITimeout)
	cfg.TonAPIRate = v.GetFloat64(flagTonAPIRate)
	cfg.WebhookSecret = v.GetString(flagWebhookSecret)
	cfg.TrustedConfirmations = v.GetBool(flagTrustedConfirmations)
	cfg.VerifyTimeout = v.GetDuration(flagVerifyTimeout)
	cfg.RequestTimeout = v.GetDuration(flagRequestTimeout)
	cfg.PurgeInterval = v.GetDuration(flagPurgeInterval)
	cfg.TelegramToken = strings.TrimSpace(v.GetString(flagTelegramToken))
	cfg.TelegramChatID = v.GetInt64(flagTelegramChatID)

	return cfg.Validate()
}
