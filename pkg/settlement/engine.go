package settlement

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/economy"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/ledger"
	"github.com/google/uuid"
)

const (
	defaultVerifyTimeout = 15 * time.Second

	operationCreateOrder     = "create_order"
	operationConfirmOrder    = "confirm_order"
	operationRegisterPayment = "register_payment"
	operationWebhookPayment  = "webhook_payment"
	operationRetryPayment    = "retry_payment"
)

// Engine runs the order state machine.
type Engine struct {
	store           Store
	verifier        TransferVerifier
	economy         economy.Economy
	merchantWallet  string
	now             func() time.Time
	newID           func() string
	logger          ledger.OperationLogger
	notifier        SettlementNotifier
	trustedConfirms bool
	verifyTimeout   time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(engine *Engine) {
		if now != nil {
			engine.now = now
		}
	}
}

// WithIDGenerator overrides order id generation.
func WithIDGenerator(newID func() string) EngineOption {
	return func(engine *Engine) {
		if newID != nil {
			engine.newID = newID
		}
	}
}

// WithOperationLogger registers an operation logger.
func WithOperationLogger(logger ledger.OperationLogger) EngineOption {
	return func(engine *Engine) {
		engine.logger = logger
	}
}

// WithNotifier registers a listener for settled orders.
func WithNotifier(notifier SettlementNotifier) EngineOption {
	return func(engine *Engine) {
		engine.notifier = notifier
	}
}

// WithTrustedConfirmations lets ConfirmOrder settle without a transaction hash.
func WithTrustedConfirmations(trusted bool) EngineOption {
	return func(engine *Engine) {
		engine.trustedConfirms = trusted
	}
}

// WithVerifyTimeout bounds each transfer verification.
func WithVerifyTimeout(timeout time.Duration) EngineOption {
	return func(engine *Engine) {
		if timeout > 0 {
			engine.verifyTimeout = timeout
		}
	}
}

// NewEngine builds a settlement engine paying into merchantWallet.
func NewEngine(store Store, verifier TransferVerifier, boosts economy.Economy, merchantWallet string, options ...EngineOption) (*Engine, error) {
	if store == nil || verifier == nil || strings.TrimSpace(merchantWallet) == "" {
		return nil, ErrInvalidServiceConfig
	}
	engine := &Engine{
		store:          store,
		verifier:       verifier,
		economy:        boosts,
		merchantWallet: strings.TrimSpace(merchantWallet),
		now:            time.Now,
		newID:          uuid.NewString,
		verifyTimeout:  defaultVerifyTimeout,
	}
	for _, option := range options {
		if option != nil {
			option(engine)
		}
	}
	return engine, nil
}

// CreateOrder opens a pending order for a purchasable boost level.
func (engine *Engine) CreateOrder(ctx context.Context, userID string, boostLevel int) (created CreatedOrder, err error) {
	defer func() {
		engine.logOperation(ctx, ledger.OperationLog{
			Operation: operationCreateOrder,
			UserID:    userID,
			OrderID:   created.OrderID,
			Amount:    created.AmountTON,
			Error:     err,
		})
	}()
	boost, ok := engine.economy.Boost(boostLevel)
	if !ok {
		return CreatedOrder{}, ErrUnknownBoost
	}
	if !boost.Purchasable() {
		return CreatedOrder{}, ErrNotPurchasable
	}
	if _, err := engine.store.GetUser(ctx, userID); err != nil {
		return CreatedOrder{}, notFoundAs(err, ErrUserNotFound)
	}
	order := Order{
		ID:             engine.newID(),
		UserID:         userID,
		BoostLevel:     boost.Level,
		TonAmount:      boost.CostTON,
		Payload:        newPayloadTag(),
		MerchantWallet: engine.merchantWallet,
		Status:         StatusPending,
		CreatedAt:      engine.now().UTC(),
	}
	if err := engine.store.CreateOrder(ctx, order); err != nil {
		return CreatedOrder{}, faults.Infrastructure(err)
	}
	return CreatedOrder{
		OrderID:      order.ID,
		Address:      order.MerchantWallet,
		AmountTON:    order.TonAmount,
		Payload:      order.Payload,
		BoostName:    boost.Name,
		DurationDays: boost.DurationDays,
	}, nil
}

// GetStatus returns the status of an order owned by userID.
func (engine *Engine) GetStatus(ctx context.Context, userID string, orderID string) (StatusSnapshot, error) {
	order, err := engine.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return StatusSnapshot{}, err
	}
	return StatusSnapshot{
		OrderID:              order.ID,
		Status:               order.Status,
		PaidAt:               order.PaidAt,
		TxHash:               order.TxHash,
		VerificationAttempts: order.VerificationAttempts,
		VerificationError:    order.VerificationError,
		LastPaymentCheck:     order.LastPaymentCheck,
		LastEvent:            order.LastEvent,
	}, nil
}

// RetryPayment signals that the caller will re-poll verification. A failed
// order re-enters pending_verification; nothing is verified here.
func (engine *Engine) RetryPayment(ctx context.Context, userID string, orderID string) (result RetryResult, err error) {
	defer func() {
		engine.logOperation(ctx, ledger.OperationLog{Operation: operationRetryPayment, UserID: userID, OrderID: orderID, Error: err})
	}()
	err = engine.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		order, lockErr := txStore.LockOrder(ctx, orderID)
		if lockErr != nil {
			return notFoundAs(lockErr, ErrOrderNotFound)
		}
		if order.UserID != userID {
			return ErrOrderNotFound
		}
		if order.Status == StatusPaid {
			return ErrOrderPaid
		}
		if order.Status == StatusFailed {
			order.Status = StatusPendingVerification
		}
		checkedAt := engine.now().UTC()
		order.VerificationAttempts++
		order.LastPaymentCheck = &checkedAt
		if updateErr := txStore.UpdateOrder(ctx, order); updateErr != nil {
			return faults.Infrastructure(updateErr)
		}
		result = RetryResult{
			OrderID:              order.ID,
			Status:               order.Status,
			VerificationAttempts: order.VerificationAttempts,
			LastPaymentCheck:     order.LastPaymentCheck,
		}
		return nil
	})
	if err != nil {
		return RetryResult{}, err
	}
	return result, nil
}

func (engine *Engine) ownedOrder(ctx context.Context, userID string, orderID string) (Order, error) {
	order, err := engine.store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, notFoundAs(err, ErrOrderNotFound)
	}
	if order.UserID != userID {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (engine *Engine) logOperation(ctx context.Context, entry ledger.OperationLog) {
	ledger.Emit(ctx, engine.logger, entry)
}

func newPayloadTag() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// notFoundAs maps store not-found errors to target and everything else to infrastructure.
func notFoundAs(err error, target error) error {
	if errors.Is(err, faults.ErrNotFound) {
		return target
	}
	return faults.Infrastructure(err)
}
