// Package oplog writes service operation logs through zap.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/ledger"
	"go.uber.org/zap"
)

// ZapLogger implements ledger.OperationLogger.
type ZapLogger struct {
	logger *zap.Logger
}

var _ ledger.OperationLogger = (*ZapLogger)(nil)

// New returns a ZapLogger. A nil logger discards everything.
func New(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger.Named("operations")}
}

// LogOperation logs successes at info and failures at warn.
func (zapLogger *ZapLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.UserID != "" {
		fields = append(fields, zap.String("user_id", entry.UserID))
	}
	if entry.OrderID != "" {
		fields = append(fields, zap.String("order_id", entry.OrderID))
	}
	if !entry.Amount.IsZero() {
		fields = append(fields, zap.String("amount", entry.Amount.String()))
	}
	if entry.IdempotencyKey != "" {
		fields = append(fields, zap.String("idempotency_key", entry.IdempotencyKey))
	}
	if metadata := entry.Metadata.String(); metadata != "" && metadata != "{}" {
		fields = append(fields, zap.String("metadata", metadata))
	}
	if entry.Error != nil {
		zapLogger.logger.Warn("operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	zapLogger.logger.Info("operation completed", fields...)
}
