package settlement

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/ledger"
)

// settle marks the order paid, applies the boost and records the debit in one
// transaction. The paid status is re-checked under the order lock, so a
// concurrent settlement of the same order returns the cached result.
func (engine *Engine) settle(ctx context.Context, orderID string, txHash string) (SettlementResult, error) {
	var (
		result  SettlementResult
		settled Order
	)
	err := engine.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		order, err := txStore.LockOrder(ctx, orderID)
		if err != nil {
			return notFoundAs(err, ErrOrderNotFound)
		}
		if order.Status == StatusPaid {
			result = engine.cachedResult(order)
			return nil
		}
		if txHash != "" {
			other, findErr := txStore.FindOrderByTxHash(ctx, txHash)
			switch {
			case findErr == nil && other.ID != order.ID:
				return ErrTxHashReused
			case findErr != nil && !errors.Is(findErr, faults.ErrNotFound):
				return faults.Infrastructure(findErr)
			}
		}
		user, err := txStore.LockUser(ctx, order.UserID)
		if err != nil {
			return notFoundAs(err, ErrUserNotFound)
		}
		boost, ok := engine.economy.Boost(order.BoostLevel)
		if !ok {
			return ErrUnknownBoost
		}

		now := engine.now().UTC()
		// An expired boost no longer counts toward the max.
		level := engine.economy.EffectiveLevel(user.BoostLevel, user.BoostExpiresAt, now)
		if order.BoostLevel > level {
			level = order.BoostLevel
		}
		expiresAt := user.BoostExpiresAt
		if boost.DurationDays > 0 {
			overwritten := now.Add(boost.Duration())
			expiresAt = &overwritten
		}

		order.Status = StatusPaid
		order.PaidAt = &now
		order.LastPaymentCheck = &now
		order.VerificationError = ""
		if txHash != "" {
			order.TxHash = txHash
		}
		order.AppliedBoostLevel = level
		order.BoostExpiresAt = expiresAt
		if err := txStore.UpdateOrder(ctx, order); err != nil {
			return faults.Infrastructure(err)
		}
		if err := txStore.UpdateUserBoost(ctx, user.ID, level, expiresAt); err != nil {
			return faults.Infrastructure(err)
		}

		key, err := ledger.OrderConfirmKey(order.ID)
		if err != nil {
			return err
		}
		entry, err := ledger.NewEntry(order.UserID, user.Wallet, ledger.EntryDebit, order.TonAmount, ledger.CurrencyTON, key,
			ledger.MarshalMetadata(map[string]any{"orderId": order.ID, "txHash": order.TxHash, "boostLevel": order.BoostLevel}), now)
		if err != nil {
			return err
		}
		if _, err := ledger.Append(ctx, txStore, entry); err != nil {
			return faults.Infrastructure(err)
		}
		settled = order
		result = engine.cachedResult(order)
		result.AlreadyPaid = false
		return nil
	})
	if err != nil {
		return SettlementResult{}, err
	}
	if engine.notifier != nil && settled.ID != "" {
		engine.notifier.OrderSettled(ctx, settled, result)
	}
	return result, nil
}

func (engine *Engine) cachedResult(order Order) SettlementResult {
	return SettlementResult{
		OrderID:        order.ID,
		BoostLevel:     order.AppliedBoostLevel,
		BoostExpiresAt: order.BoostExpiresAt,
		Multiplier:     engine.economy.Multiplier(order.AppliedBoostLevel, order.BoostExpiresAt, engine.now()),
		AlreadyPaid:    true,
	}
}
