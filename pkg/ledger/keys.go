package ledger

import "strconv"

const (
	idempotencyKeyDelimiter = ":"

	keyScopeOrder   = "order"
	keyScopeAd      = "ad"
	keyScopeReward  = "reward"
	keyActionPay    = "payment"
	keyActionSettle = "confirm"
)

// OrderConfirmKey keys the single settlement debit of an order.
func OrderConfirmKey(orderID string) (IdempotencyKey, error) {
	return deriveIdempotencyKey(keyScopeOrder, keyActionSettle, orderID)
}

// OrderPaymentKey keys the debit recorded for one payment submission attempt.
// Distinct attempts produce distinct lines; the same attempt never debits twice.
func OrderPaymentKey(orderID string, attempt int) (IdempotencyKey, error) {
	return deriveIdempotencyKey(keyScopeOrder, keyActionPay, orderID, strconv.Itoa(attempt))
}

// AdWatchKey keys the credit for one watch log.
func AdWatchKey(watchLogID string) (IdempotencyKey, error) {
	return deriveIdempotencyKey(keyScopeAd, watchLogID)
}

func deriveIdempotencyKey(segments ...string) (IdempotencyKey, error) {
	combined := ""
	for index, segment := range segments {
		if segment == "" {
			return IdempotencyKey{}, ErrInvalidIdempotencyKey
		}
		if index > 0 {
			combined += idempotencyKeyDelimiter
		}
		combined += segment
	}
	return NewIdempotencyKey(combined)
}

// RewardClaimKey keys the credit for one partner reward claim.
func RewardClaimKey(claimID string) (IdempotencyKey, error) {
	return deriveIdempotencyKey(keyScopeReward, claimID)
}
