package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Operation status values.
const (
	OperationStatusOK    = "ok"
	OperationStatusError = "error"
)

// OperationLogger records domain-level events emitted by state-changing operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing operation.
type OperationLog struct {
	Operation      string
	UserID         string
	OrderID        string
	Amount         decimal.Decimal
	IdempotencyKey string
	Metadata       MetadataJSON
	Status         string
	Error          error
}

// Emit fills the status from the error and forwards entry when logger is set.
func Emit(ctx context.Context, logger OperationLogger, entry OperationLog) {
	if logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = OperationStatusError
		} else {
			entry.Status = OperationStatusOK
		}
	}
	logger.LogOperation(ctx, entry)
}
