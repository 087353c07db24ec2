// Package notifier announces settled orders in a Telegram chat.
package notifier

import (
	"context"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/settlement"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

const defaultSendTimeout = 10 * time.Second

// MessageSender is the part of *bot.Bot the notifier uses.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Telegram implements settlement.SettlementNotifier. Messages are sent in the
// background so settlement never waits on Telegram.
type Telegram struct {
	sender      MessageSender
	chatID      int64
	logger      *zap.Logger
	sendTimeout time.Duration
	pending     sync.WaitGroup
}

var _ settlement.SettlementNotifier = (*Telegram)(nil)

// NewTelegram connects a bot with token and returns a notifier posting to chatID.
func NewTelegram(token string, chatID int64, logger *zap.Logger) (*Telegram, error) {
	client, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return NewWithSender(client, chatID, logger), nil
}

// NewWithSender builds a notifier around an existing sender.
func NewWithSender(sender MessageSender, chatID int64, logger *zap.Logger) *Telegram {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{sender: sender, chatID: chatID, logger: logger.Named("notifier"), sendTimeout: defaultSendTimeout}
}

// OrderSettled posts a settlement message. Failures are logged only.
func (notifier *Telegram) OrderSettled(ctx context.Context, order settlement.Order, result settlement.SettlementResult) {
	text := formatSettlement(order, result)
	sendCtx := context.WithoutCancel(ctx)
	notifier.pending.Add(1)
	go func() {
		defer notifier.pending.Done()
		sendCtx, cancel := context.WithTimeout(sendCtx, notifier.sendTimeout)
		defer cancel()
		_, err := notifier.sender.SendMessage(sendCtx, &bot.SendMessageParams{
			ChatID:    notifier.chatID,
			Text:      text,
			ParseMode: models.ParseModeHTML,
		})
		if err != nil {
			notifier.logger.Warn("settlement notification failed", zap.String("order_id", order.ID), zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (notifier *Telegram) Wait() {
	notifier.pending.Wait()
}

func formatSettlement(order settlement.Order, result settlement.SettlementResult) string {
	expires := "no expiry"
	if result.BoostExpiresAt != nil {
		expires = result.BoostExpiresAt.UTC().Format(time.RFC3339)
	}
	txHash := order.TxHash
	if txHash == "" {
		txHash = "n/a"
	}
	return fmt.Sprintf(
		"<b>Order paid</b>\nOrder: <code>%s</code>\nUser: <code>%s</code>\nAmount: %s TON\nBoost level: %d (x%s) until %s\nTx: <code>%s</code>",
		html.EscapeString(order.ID),
		html.EscapeString(order.UserID),
		order.TonAmount.String(),
		result.BoostLevel,
		result.Multiplier.String(),
		expires,
		html.EscapeString(txHash),
	)
}
