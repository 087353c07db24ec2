package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/settlement"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type createOrderRequest struct {
	BoostLevel int `json:"boost_level"`
}

type confirmOrderRequest struct {
	TxHash string `json:"tx_hash"`
}

type paymentRequest struct {
	Wallet string           `json:"wallet"`
	Amount *decimal.Decimal `json:"amount"`
	BOC    string           `json:"boc"`
	Status string           `json:"status"`
}

type webhookRequest struct {
	OrderID string           `json:"order_id"`
	TxHash  string           `json:"tx_hash"`
	Amount  *decimal.Decimal `json:"amount"`
}

func (handler *httpHandler) handleCreateOrder(ctx *gin.Context) {
	var request createOrderRequest
	if err := ctx.ShouldBindJSON(&request); err != nil || request.BoostLevel <= 0 {
		invalidPayload(ctx, "boost_level must be a positive integer")
		return
	}
	created, err := handler.services.Orders.CreateOrder(ctx.Request.Context(), getClaims(ctx).UserID, request.BoostLevel)
	if err != nil {
		handler.respondError(ctx, "create_order", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"order_id":      created.OrderID,
		"address":       created.Address,
		"amount":        number(created.AmountTON),
		"payload":       created.Payload,
		"boost_name":    created.BoostName,
		"duration_days": created.DurationDays,
	})
}

func (handler *httpHandler) handleConfirmOrder(ctx *gin.Context) {
	var request confirmOrderRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		invalidPayload(ctx, "expected JSON body")
		return
	}
	result, err := handler.services.Orders.ConfirmOrder(ctx.Request.Context(), getClaims(ctx).UserID, ctx.Param("id"), strings.TrimSpace(request.TxHash))
	if err != nil {
		handler.respondError(ctx, "confirm_order", err)
		return
	}
	ctx.JSON(http.StatusOK, settlementPayload(result))
}

func (handler *httpHandler) handleRegisterPayment(ctx *gin.Context) {
	var request paymentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		invalidPayload(ctx, "expected JSON body")
		return
	}
	claims := getClaims(ctx)
	submission := settlement.PaymentSubmission{
		OrderID: ctx.Param("id"),
		UserID:  claims.UserID,
		Wallet:  strings.TrimSpace(request.Wallet),
		BOC:     strings.TrimSpace(request.BOC),
		Status:  strings.TrimSpace(request.Status),
	}
	if submission.Wallet == "" {
		submission.Wallet = claims.Wallet
	}
	if request.Amount != nil {
		submission.AmountTON = *request.Amount
	}
	registration, err := handler.services.Orders.RegisterPayment(ctx.Request.Context(), submission)
	if err != nil {
		handler.respondError(ctx, "register_payment", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"order_id":              registration.OrderID,
		"status":                registration.Status,
		"verification_attempts": registration.VerificationAttempts,
	})
}

func (handler *httpHandler) handleRetryPayment(ctx *gin.Context) {
	result, err := handler.services.Orders.RetryPayment(ctx.Request.Context(), getClaims(ctx).UserID, ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, "retry_payment", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"order_id":              result.OrderID,
		"status":                result.Status,
		"verification_attempts": result.VerificationAttempts,
		"last_payment_check":    result.LastPaymentCheck,
	})
}

func (handler *httpHandler) handleOrderStatus(ctx *gin.Context) {
	snapshot, err := handler.services.Orders.GetStatus(ctx.Request.Context(), getClaims(ctx).UserID, ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, "order_status", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"order_id":              snapshot.OrderID,
		"status":                snapshot.Status,
		"paid_at":               snapshot.PaidAt,
		"tx_hash":               snapshot.TxHash,
		"verification_attempts": snapshot.VerificationAttempts,
		"verification_error":    snapshot.VerificationError,
		"last_payment_check":    snapshot.LastPaymentCheck,
		"last_event":            snapshot.LastEvent,
	})
}

func (handler *httpHandler) handleWebhook(ctx *gin.Context) {
	var request webhookRequest
	if err := ctx.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.OrderID) == "" {
		invalidPayload(ctx, "order_id is required")
		return
	}
	result, err := handler.services.Orders.RegisterWebhookPayment(ctx.Request.Context(), strings.TrimSpace(request.OrderID), strings.TrimSpace(request.TxHash), request.Amount)
	if err != nil {
		handler.respondError(ctx, "webhook_payment", err)
		return
	}
	ctx.JSON(http.StatusOK, settlementPayload(result))
}

func settlementPayload(result settlement.SettlementResult) gin.H {
	return gin.H{
		"success":          true,
		"order_id":         result.OrderID,
		"boost_level":      result.BoostLevel,
		"boost_expires_at": result.BoostExpiresAt,
		"multiplier":       number(result.Multiplier),
		"already_paid":     result.AlreadyPaid,
	}
}
