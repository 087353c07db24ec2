// Package settlement implements the boost order state machine: order creation,
// payment evidence, transfer verification and the atomic settle step that
// applies a boost and records the ledger debit exactly once.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/ledger"
	"github.com/shopspring/decimal"
)

// OrderStatus is the settlement state of an order.
type OrderStatus string

const (
	StatusPending             OrderStatus = "pending"
	StatusPendingVerification OrderStatus = "pending_verification"
	StatusAwaitingWebhook     OrderStatus = "awaiting_webhook"
	StatusPaid                OrderStatus = "paid"
	StatusFailed              OrderStatus = "failed"
)

// ParseOrderStatus validates a stored or submitted status.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	switch status := OrderStatus(raw); status {
	case StatusPending, StatusPendingVerification, StatusAwaitingWebhook, StatusPaid, StatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

var (
	ErrInvalidServiceConfig = errors.New("invalid service config")

	ErrUserNotFound    = fmt.Errorf("%w: user not found", faults.ErrNotFound)
	ErrOrderNotFound   = fmt.Errorf("%w: order not found", faults.ErrNotFound)
	ErrUnknownBoost    = fmt.Errorf("%w: unknown boost level", faults.ErrInvalidInput)
	ErrNotPurchasable  = fmt.Errorf("%w: boost level is not purchasable", faults.ErrInvalidInput)
	ErrInvalidStatus   = fmt.Errorf("%w: invalid payment status", faults.ErrInvalidInput)
	ErrMissingTxHash   = fmt.Errorf("%w: transaction hash required", faults.ErrInvalidInput)
	ErrOrderPaid       = fmt.Errorf("%w: order already paid", faults.ErrConflict)
	ErrTxHashReused    = fmt.Errorf("%w: transaction already settled another order", faults.ErrConflict)
	ErrTransferUnknown = fmt.Errorf("%w: transfer not found or does not match", faults.ErrVerificationFailed)
	ErrUnderpaid       = fmt.Errorf("%w: reported amount below order amount", faults.ErrVerificationFailed)
)

// PaymentEvent is the last client-submitted payment evidence.
type PaymentEvent struct {
	ID         int64           `json:"id"`
	Status     string          `json:"status"`
	ReceivedAt time.Time       `json:"receivedAt"`
	Wallet     string          `json:"wallet"`
	Amount     decimal.Decimal `json:"amount"`
}

// Order is a boost purchase.
type Order struct {
	ID                   string
	UserID               string
	BoostLevel           int
	TonAmount            decimal.Decimal
	Payload              string
	MerchantWallet       string
	Status               OrderStatus
	TxHash               string
	VerificationAttempts int
	VerificationError    string
	LastPaymentCheck     *time.Time
	LastEvent            *PaymentEvent
	PaidAt               *time.Time
	AppliedBoostLevel    int
	BoostExpiresAt       *time.Time
	CreatedAt            time.Time
}

// User is the slice of a user record settlement reads and writes.
type User struct {
	ID             string
	Wallet         string
	BoostLevel     int
	BoostExpiresAt *time.Time
}

// Store persists orders, user boosts and ledger entries.
// Lookups return faults.ErrNotFound when nothing matches; Lock* variants take
// a row lock for the rest of the transaction.
type Store interface {
	ledger.EntryWriter
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetUser(ctx context.Context, userID string) (User, error)
	LockUser(ctx context.Context, userID string) (User, error)
	UpdateUserBoost(ctx context.Context, userID string, level int, expiresAt *time.Time) error
	CreateOrder(ctx context.Context, order Order) error
	GetOrder(ctx context.Context, orderID string) (Order, error)
	LockOrder(ctx context.Context, orderID string) (Order, error)
	UpdateOrder(ctx context.Context, order Order) error
	FindOrderByTxHash(ctx context.Context, txHash string) (Order, error)
}

// TransferQuery describes the transfer an order expects.
type TransferQuery struct {
	TxHash              string
	ExpectedAmountTON   decimal.Decimal
	ExpectedDestination string
}

// TransferVerifier checks a transfer on chain. A missing or mismatching
// transfer is (false, nil); errors are infrastructure failures.
type TransferVerifier interface {
	VerifyTransfer(ctx context.Context, query TransferQuery) (bool, error)
}

// HashCanonicalizer is optionally implemented by verifiers to normalize hashes.
type HashCanonicalizer interface {
	CanonicalHash(raw string) (string, error)
}

// SettlementNotifier is told about settled orders after commit.
type SettlementNotifier interface {
	OrderSettled(ctx context.Context, order Order, result SettlementResult)
}

// CreatedOrder is what the client needs to pay an order.
type CreatedOrder struct {
	OrderID      string
	Address      string
	AmountTON    decimal.Decimal
	Payload      string
	BoostName    string
	DurationDays int
}

// SettlementResult is the boost applied by a paid order.
type SettlementResult struct {
	OrderID        string
	BoostLevel     int
	BoostExpiresAt *time.Time
	Multiplier     decimal.Decimal
	AlreadyPaid    bool
}

// PaymentSubmission is client-submitted payment evidence.
type PaymentSubmission struct {
	OrderID string
	// UserID, when set, must own the order.
	UserID    string
	Wallet    string
	AmountTON decimal.Decimal
	BOC       string
	Status    string
}

// PaymentRegistration is the result of RegisterPayment.
type PaymentRegistration struct {
	OrderID              string
	Status               OrderStatus
	VerificationAttempts int
}

// RetryResult is the result of RetryPayment.
type RetryResult struct {
	OrderID              string
	Status               OrderStatus
	VerificationAttempts int
	LastPaymentCheck     *time.Time
}

// StatusSnapshot is the externally visible order status.
type StatusSnapshot struct {
	OrderID              string
	Status               OrderStatus
	PaidAt               *time.Time
	TxHash               string
	VerificationAttempts int
	VerificationError    string
	LastPaymentCheck     *time.Time
	LastEvent            *PaymentEvent
}
