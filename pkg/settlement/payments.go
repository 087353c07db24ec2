package settlement

import (
	"context"
	"errors"
	"strings"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/ledger"
	"github.com/shopspring/decimal"
)

const paymentEventSubmitted = "submitted"

// ConfirmOrder verifies the transfer for an order owned by userID and settles
// it. A paid order returns its cached result without a chain lookup.
func (engine *Engine) ConfirmOrder(ctx context.Context, userID string, orderID string, txHash string) (result SettlementResult, err error) {
	defer func() {
		engine.logOperation(ctx, ledger.OperationLog{
			Operation: operationConfirmOrder,
			UserID:    userID,
			OrderID:   orderID,
			Metadata:  ledger.MarshalMetadata(map[string]any{"txHash": txHash, "alreadyPaid": result.AlreadyPaid}),
			Error:     err,
		})
	}()
	order, err := engine.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return SettlementResult{}, err
	}
	if order.Status == StatusPaid {
		return engine.cachedResult(order), nil
	}
	canonicalHash := strings.TrimSpace(txHash)
	if canonicalHash == "" {
		if !engine.trustedConfirms {
			return SettlementResult{}, ErrMissingTxHash
		}
	} else {
		if canonicalHash, err = engine.verify(ctx, order, canonicalHash); err != nil {
			return SettlementResult{}, err
		}
	}
	return engine.settle(ctx, order.ID, canonicalHash)
}

// RegisterWebhookPayment settles an order reported by the indexer webhook.
// There is no ownership check; the transport authenticates the caller.
func (engine *Engine) RegisterWebhookPayment(ctx context.Context, orderID string, txHash string, reportedAmountTON *decimal.Decimal) (result SettlementResult, err error) {
	defer func() {
		engine.logOperation(ctx, ledger.OperationLog{
			Operation: operationWebhookPayment,
			OrderID:   orderID,
			Metadata:  ledger.MarshalMetadata(map[string]any{"txHash": txHash, "alreadyPaid": result.AlreadyPaid}),
			Error:     err,
		})
	}()
	if strings.TrimSpace(txHash) == "" {
		return SettlementResult{}, ErrMissingTxHash
	}
	order, err := engine.store.GetOrder(ctx, orderID)
	if err != nil {
		return SettlementResult{}, notFoundAs(err, ErrOrderNotFound)
	}
	if order.Status == StatusPaid {
		return engine.cachedResult(order), nil
	}
	if reportedAmountTON != nil && reportedAmountTON.LessThan(order.TonAmount) {
		return SettlementResult{}, ErrUnderpaid
	}
	canonicalHash, err := engine.verify(ctx, order, strings.TrimSpace(txHash))
	if err != nil {
		return SettlementResult{}, err
	}
	return engine.settle(ctx, order.ID, canonicalHash)
}

// RegisterPayment records client-submitted payment evidence and a debit keyed
// by the attempt number.
func (engine *Engine) RegisterPayment(ctx context.Context, submission PaymentSubmission) (registration PaymentRegistration, err error) {
	var debitKey string
	defer func() {
		engine.logOperation(ctx, ledger.OperationLog{
			Operation:      operationRegisterPayment,
			UserID:         submission.UserID,
			OrderID:        submission.OrderID,
			Amount:         submission.AmountTON,
			IdempotencyKey: debitKey,
			Error:          err,
		})
	}()
	status := StatusPendingVerification
	if strings.TrimSpace(submission.Status) != "" {
		parsed, parseErr := ParseOrderStatus(strings.TrimSpace(submission.Status))
		if parseErr != nil {
			return PaymentRegistration{}, parseErr
		}
		switch parsed {
		case StatusPendingVerification, StatusAwaitingWebhook, StatusFailed:
			status = parsed
		default:
			return PaymentRegistration{}, ErrInvalidStatus
		}
	}
	if submission.AmountTON.IsNegative() {
		return PaymentRegistration{}, faults.Newf(faults.ErrInvalidInput, "payment amount must not be negative")
	}

	err = engine.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		order, lockErr := txStore.LockOrder(ctx, submission.OrderID)
		if lockErr != nil {
			return notFoundAs(lockErr, ErrOrderNotFound)
		}
		if submission.UserID != "" && order.UserID != submission.UserID {
			return ErrOrderNotFound
		}
		if order.Status == StatusPaid {
			return ErrOrderPaid
		}
		now := engine.now().UTC()
		amount := submission.AmountTON
		if !amount.IsPositive() {
			amount = order.TonAmount
		}
		order.VerificationAttempts++
		order.Status = status
		order.LastPaymentCheck = &now
		order.VerificationError = ""
		order.LastEvent = &PaymentEvent{
			ID:         now.UnixMilli(),
			Status:     paymentEventSubmitted,
			ReceivedAt: now,
			Wallet:     submission.Wallet,
			Amount:     amount,
		}
		if updateErr := txStore.UpdateOrder(ctx, order); updateErr != nil {
			return faults.Infrastructure(updateErr)
		}

		wallet := submission.Wallet
		if user, userErr := txStore.GetUser(ctx, order.UserID); userErr == nil && user.Wallet != "" {
			wallet = user.Wallet
		} else if userErr != nil && !errors.Is(userErr, faults.ErrNotFound) {
			return faults.Infrastructure(userErr)
		}
		key, keyErr := ledger.OrderPaymentKey(order.ID, order.VerificationAttempts)
		if keyErr != nil {
			return keyErr
		}
		debitKey = key.String()
		entry, entryErr := ledger.NewEntry(order.UserID, wallet, ledger.EntryDebit, amount, ledger.CurrencyTON, key,
			ledger.MarshalMetadata(map[string]any{"orderId": order.ID, "boc": submission.BOC, "status": string(order.Status)}), now)
		if entryErr != nil {
			return entryErr
		}
		if _, appendErr := ledger.Append(ctx, txStore, entry); appendErr != nil {
			return faults.Infrastructure(appendErr)
		}
		registration = PaymentRegistration{
			OrderID:              order.ID,
			Status:               order.Status,
			VerificationAttempts: order.VerificationAttempts,
		}
		return nil
	})
	if err != nil {
		return PaymentRegistration{}, err
	}
	return registration, nil
}

// verify runs the transfer check outside any transaction and returns the
// canonical hash to store.
func (engine *Engine) verify(ctx context.Context, order Order, txHash string) (string, error) {
	if canonicalizer, ok := engine.verifier.(HashCanonicalizer); ok {
		canonical, err := canonicalizer.CanonicalHash(txHash)
		if err != nil {
			return "", ErrTransferUnknown
		}
		txHash = canonical
	}
	verifyCtx, cancel := context.WithTimeout(ctx, engine.verifyTimeout)
	defer cancel()
	verified, err := engine.verifier.VerifyTransfer(verifyCtx, TransferQuery{
		TxHash:              txHash,
		ExpectedAmountTON:   order.TonAmount,
		ExpectedDestination: order.MerchantWallet,
	})
	if err != nil {
		return "", faults.Infrastructure(err)
	}
	if !verified {
		return "", ErrTransferUnknown
	}
	return txHash, nil
}
