// Package httpapi exposes the auth, reward and order operations over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/ledger"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/rewards"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/settlement"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/walletauth"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	claimsContextKey       = "auth_claims"
	webhookSecretHeader    = "X-Webhook-Secret"
	defaultRequestTimeout  = 20 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// AuthService runs the wallet proof flow.
type AuthService interface {
	StartProof(ctx context.Context, hints walletauth.Hints) (walletauth.Nonce, error)
	FinishProof(ctx context.Context, input walletauth.FinishInput) (walletauth.Session, error)
	Logout(ctx context.Context, token string) error
}

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, token string, expected walletauth.Expected) (walletauth.Claims, error)
}

// OrderService runs the order state machine.
type OrderService interface {
	CreateOrder(ctx context.Context, userID string, boostLevel int) (settlement.CreatedOrder, error)
	ConfirmOrder(ctx context.Context, userID string, orderID string, txHash string) (settlement.SettlementResult, error)
	RegisterPayment(ctx context.Context, submission settlement.PaymentSubmission) (settlement.PaymentRegistration, error)
	RegisterWebhookPayment(ctx context.Context, orderID string, txHash string, reportedAmountTON *decimal.Decimal) (settlement.SettlementResult, error)
	RetryPayment(ctx context.Context, userID string, orderID string) (settlement.RetryResult, error)
	GetStatus(ctx context.Context, userID string, orderID string) (settlement.StatusSnapshot, error)
}

// RewardService runs user bootstrap, balances, ad rewards and partner rewards.
type RewardService interface {
	InitUser(ctx context.Context, userID string, wallet string, countryCode string) (rewards.User, error)
	Balance(ctx context.Context, userID string) (rewards.Balance, error)
	CompleteAdWatch(ctx context.Context, userID string, adID string) (rewards.WatchResult, error)
	History(ctx context.Context, userID string, page int, limit int) (ledger.Page, error)
	Stats(ctx context.Context, userID string) (rewards.Stats, error)
	RewardStatus(ctx context.Context, userID string) (rewards.RewardStatus, error)
	ClaimReward(ctx context.Context, userID string, partnerID string) (rewards.ClaimResult, error)
}

// Services groups the operations the router serves.
type Services struct {
	Auth    AuthService
	Tokens  TokenVerifier
	Orders  OrderService
	Rewards RewardService
}

// Config holds router settings.
type Config struct {
	AllowedOrigins []string
	// WebhookSecret guards the payment webhook; empty disables the route.
	WebhookSecret  string
	RequestTimeout time.Duration
}

type httpHandler struct {
	logger   *zap.Logger
	services Services
	cfg      Config
}

// NewRouter builds the gin engine.
func NewRouter(cfg Config, services Services, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	handler := &httpHandler{logger: logger, services: services, cfg: cfg}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(handler.withTimeout)

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})

	api := router.Group("/api")
	api.POST("/auth/proof/start", handler.handleProofStart)
	api.POST("/auth/proof/finish", handler.handleProofFinish)
	api.POST("/webhooks/ton", handler.requireWebhookSecret, handler.handleWebhook)

	authed := api.Group("")
	authed.Use(handler.requireBearer)
	authed.POST("/auth/logout", handler.handleLogout)
	authed.POST("/user/init", handler.handleUserInit)
	authed.GET("/user/balance", handler.handleBalance)
	authed.GET("/user/stats", handler.handleStats)
	authed.GET("/rewards/status", handler.handleRewardStatus)
	authed.POST("/rewards/claim", handler.handleRewardClaim)
	authed.POST("/ads/complete", handler.handleAdComplete)
	authed.GET("/ledger", handler.handleHistory)
	authed.POST("/orders", handler.handleCreateOrder)
	authed.POST("/orders/:id/confirm", handler.handleConfirmOrder)
	authed.POST("/orders/:id/payment", handler.handleRegisterPayment)
	authed.POST("/orders/:id/retry", handler.handleRetryPayment)
	authed.GET("/orders/:id/status", handler.handleOrderStatus)

	return router
}

// Serve runs handler on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("boostd listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (handler *httpHandler) withTimeout(ctx *gin.Context) {
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	ctx.Request = ctx.Request.WithContext(requestCtx)
	ctx.Next()
}
