package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/tonboost/internal/config"
	"github.com/MarkoPoloResearchLab/tonboost/internal/httpapi"
	"github.com/MarkoPoloResearchLab/tonboost/internal/notifier"
	"github.com/MarkoPoloResearchLab/tonboost/internal/oplog"
	"github.com/MarkoPoloResearchLab/tonboost/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/tonboost/internal/tonapi"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/economy"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/rewards"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/settlement"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/tonproof"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/walletauth"
	"go.uber.org/zap"
)

func run(ctx context.Context, cfg config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	for _, warning := range cfg.Warnings {
		logger.Warn("config fallback", zap.String("detail", warning))
	}

	gormDB, cleanup, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()
	if err := gormstore.AutoMigrate(gormDB); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	chain := tonapi.NewClient(cfg.TonAPIBaseURL, cfg.TonAPIKey,
		tonapi.WithTimeout(cfg.TonAPITimeout),
		tonapi.WithRateLimit(cfg.TonAPIRate))
	operations := oplog.New(logger)
	rules := economy.Default()

	authStore := gormstore.NewAuthStore(gormDB)
	coordinator, tokens, err := buildAuth(cfg, authStore, chain, logger)
	if err != nil {
		return err
	}

	engineOptions := []settlement.EngineOption{
		settlement.WithOperationLogger(operations),
		settlement.WithTrustedConfirmations(cfg.TrustedConfirmations),
		settlement.WithVerifyTimeout(cfg.VerifyTimeout),
	}
	var telegram *notifier.Telegram
	if cfg.TelegramEnabled() {
		telegram, err = notifier.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, logger)
		if err != nil {
			return fmt.Errorf("telegram init: %w", err)
		}
		defer telegram.Wait()
		engineOptions = append(engineOptions, settlement.WithNotifier(telegram))
	}
	engine, err := settlement.NewEngine(gormstore.NewSettlementStore(gormDB), chain, rules, cfg.MerchantWallet, engineOptions...)
	if err != nil {
		return fmt.Errorf("settlement init: %w", err)
	}
	rewardService, err := rewards.NewService(gormstore.NewRewardStore(gormDB), rules, time.Now, rewards.WithOperationLogger(operations))
	if err != nil {
		return fmt.Errorf("rewards init: %w", err)
	}

	go purgeLoop(ctx, authStore, cfg.PurgeInterval, logger)

	router := httpapi.NewRouter(httpapi.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		WebhookSecret:  cfg.WebhookSecret,
		RequestTimeout: cfg.RequestTimeout,
	}, httpapi.Services{
		Auth:    coordinator,
		Tokens:  tokens,
		Orders:  engine,
		Rewards: rewardService,
	}, logger)
	return httpapi.Serve(ctx, cfg.ListenAddr, router, logger)
}

func buildAuth(cfg config.Config, store *gormstore.AuthStore, chain *tonapi.Client, logger *zap.Logger) (*walletauth.Coordinator, *walletauth.TokenService, error) {
	allowlist := tonproof.NewDomainAllowlist(tonproof.DomainSources{
		Explicit:    cfg.ProofDomains,
		CORSOrigins: cfg.AllowedOrigins,
		ManifestURL: cfg.ManifestURL,
		AppURL:      cfg.AppURL,
	})
	verifier := tonproof.NewVerifier(allowlist, tonproof.NewKeyResolver(chain), tonproof.WithProofTTL(cfg.ProofTTL))

	secret := []byte(cfg.AuthSecret)
	authOptions := []walletauth.Option{
		walletauth.WithLogger(logger),
		walletauth.WithChallengeTTL(cfg.ChallengeTTL),
		walletauth.WithTokenTTL(cfg.TokenTTL),
	}
	challenges, err := walletauth.NewChallengeStore(store, secret, authOptions...)
	if err != nil {
		return nil, nil, fmt.Errorf("challenge store init: %w", err)
	}
	tokens, err := walletauth.NewTokenService(store, secret, authOptions...)
	if err != nil {
		return nil, nil, fmt.Errorf("token service init: %w", err)
	}
	coordinator, err := walletauth.NewCoordinator(store, challenges, tokens, verifier, authOptions...)
	if err != nil {
		return nil, nil, fmt.Errorf("coordinator init: %w", err)
	}
	return coordinator, tokens, nil
}

// purgeLoop deletes expired challenges and tokens until ctx ends.
func purgeLoop(ctx context.Context, store *gormstore.AuthStore, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			removed, err := store.PurgeExpired(ctx, tick.UTC())
			if err != nil {
				logger.Warn("purge expired auth records failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("purged expired auth records", zap.Int64("removed", removed))
			}
		}
	}
}
