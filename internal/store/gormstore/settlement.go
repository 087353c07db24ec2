package gormstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/settlement"
	"gorm.io/gorm"
)

// SettlementStore implements settlement.Store.
type SettlementStore struct {
	ledgerTables
	db *gorm.DB
}

var _ settlement.Store = (*SettlementStore)(nil)

// NewSettlementStore returns a SettlementStore backed by db.
func NewSettlementStore(db *gorm.DB) *SettlementStore {
	return &SettlementStore{ledgerTables: ledgerTables{db: db}, db: db}
}

// WithTx executes fn within a transaction.
func (store *SettlementStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore settlement.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, NewSettlementStore(transaction))
	})
}

func (store *SettlementStore) GetUser(ctx context.Context, userID string) (settlement.User, error) {
	return store.findUser(store.db.WithContext(ctx), userID, errorCodeGet)
}

func (store *SettlementStore) LockUser(ctx context.Context, userID string) (settlement.User, error) {
	return store.findUser(store.db.WithContext(ctx).Clauses(lockForUpdate()), userID, errorCodeLock)
}

func (store *SettlementStore) findUser(query *gorm.DB, userID string, code string) (settlement.User, error) {
	var row User
	if err := query.Where("id = ?", userID).Take(&row).Error; err != nil {
		return settlement.User{}, lookupError(errorSubjectUser, code, err)
	}
	return settlement.User{
		ID:             row.ID,
		Wallet:         stringValue(row.Wallet),
		BoostLevel:     row.BoostLevel,
		BoostExpiresAt: row.BoostExpiresAt,
	}, nil
}

func (store *SettlementStore) UpdateUserBoost(ctx context.Context, userID string, level int, expiresAt *time.Time) error {
	updates := map[string]any{
		"boost_level":      level,
		"boost_expires_at": expiresAt,
		"updated_at":       time.Now().UTC(),
	}
	if err := store.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Updates(updates).Error; err != nil {
		return wrapStoreError(errorSubjectUser, errorCodeUpdate, err)
	}
	return nil
}

func (store *SettlementStore) CreateOrder(ctx context.Context, order settlement.Order) error {
	row, err := orderRow(order)
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	row.UpdatedAt = row.CreatedAt
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeCreate, err)
	}
	return nil
}

func (store *SettlementStore) GetOrder(ctx context.Context, orderID string) (settlement.Order, error) {
	return store.findOrder(store.db.WithContext(ctx).Where("id = ?", orderID), errorCodeGet)
}

func (store *SettlementStore) LockOrder(ctx context.Context, orderID string) (settlement.Order, error) {
	return store.findOrder(store.db.WithContext(ctx).Clauses(lockForUpdate()).Where("id = ?", orderID), errorCodeLock)
}

func (store *SettlementStore) FindOrderByTxHash(ctx context.Context, txHash string) (settlement.Order, error) {
	return store.findOrder(store.db.WithContext(ctx).Where("tx_hash = ?", txHash), errorCodeLookup)
}

func (store *SettlementStore) findOrder(query *gorm.DB, code string) (settlement.Order, error) {
	var row Order
	if err := query.Take(&row).Error; err != nil {
		return settlement.Order{}, lookupError(errorSubjectOrder, code, err)
	}
	order, err := mapOrder(row)
	if err != nil {
		return settlement.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	return order, nil
}

// UpdateOrder saves every mutable order column. A transaction hash already
// held by another order is reported as settlement.ErrTxHashReused.
func (store *SettlementStore) UpdateOrder(ctx context.Context, order settlement.Order) error {
	row, err := orderRow(order)
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	updates := map[string]any{
		"status":                row.Status,
		"tx_hash":               row.TxHash,
		"verification_attempts": row.VerificationAttempts,
		"verification_error":    row.VerificationError,
		"last_payment_check":    row.LastPaymentCheck,
		"last_event":            row.LastEvent,
		"paid_at":               row.PaidAt,
		"applied_boost_level":   row.AppliedBoostLevel,
		"boost_expires_at":      row.BoostExpiresAt,
		"updated_at":            time.Now().UTC(),
	}
	err = store.db.WithContext(ctx).Model(&Order{}).Where("id = ?", order.ID).Updates(updates).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdate, settlement.ErrTxHashReused)
	}
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdate, err)
	}
	return nil
}

func orderRow(order settlement.Order) (Order, error) {
	row := Order{
		ID:                   order.ID,
		UserID:               order.UserID,
		BoostLevel:           order.BoostLevel,
		TonAmount:            order.TonAmount,
		Payload:              order.Payload,
		MerchantWallet:       order.MerchantWallet,
		Status:               string(order.Status),
		TxHash:               nullableString(order.TxHash),
		VerificationAttempts: order.VerificationAttempts,
		VerificationError:    order.VerificationError,
		LastPaymentCheck:     order.LastPaymentCheck,
		PaidAt:               order.PaidAt,
		AppliedBoostLevel:    order.AppliedBoostLevel,
		BoostExpiresAt:       order.BoostExpiresAt,
		CreatedAt:            order.CreatedAt.UTC(),
	}
	if order.LastEvent != nil {
		encoded, err := marshalJSON(order.LastEvent)
		if err != nil {
			return Order{}, err
		}
		row.LastEvent = encoded
	}
	return row, nil
}

func mapOrder(row Order) (settlement.Order, error) {
	status, err := settlement.ParseOrderStatus(row.Status)
	if err != nil {
		return settlement.Order{}, err
	}
	order := settlement.Order{
		ID:                   row.ID,
		UserID:               row.UserID,
		BoostLevel:           row.BoostLevel,
		TonAmount:            row.TonAmount,
		Payload:              row.Payload,
		MerchantWallet:       row.MerchantWallet,
		Status:               status,
		TxHash:               stringValue(row.TxHash),
		VerificationAttempts: row.VerificationAttempts,
		VerificationError:    row.VerificationError,
		LastPaymentCheck:     row.LastPaymentCheck,
		PaidAt:               row.PaidAt,
		AppliedBoostLevel:    row.AppliedBoostLevel,
		BoostExpiresAt:       row.BoostExpiresAt,
		CreatedAt:            row.CreatedAt,
	}
	if len(row.LastEvent) > 0 && string(row.LastEvent) != "null" {
		var event settlement.PaymentEvent
		if err := json.Unmarshal(row.LastEvent, &event); err != nil {
			return settlement.Order{}, err
		}
		order.LastEvent = &event
	}
	return order, nil
}
