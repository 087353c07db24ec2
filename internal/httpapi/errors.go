package httpapi

import (
	"errors"
	"math"
	"net/http"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/rewards"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorMapping struct {
	status int
	code   string
}

var kindMappings = []struct {
	kind    error
	mapping errorMapping
}{
	{kind: faults.ErrUnauthorized, mapping: errorMapping{status: http.StatusUnauthorized, code: "unauthorized"}},
	{kind: faults.ErrNotFound, mapping: errorMapping{status: http.StatusNotFound, code: "not_found"}},
	{kind: faults.ErrConflict, mapping: errorMapping{status: http.StatusConflict, code: "conflict"}},
	{kind: faults.ErrVerificationFailed, mapping: errorMapping{status: http.StatusUnprocessableEntity, code: "verification_failed"}},
	{kind: faults.ErrInfrastructure, mapping: errorMapping{status: http.StatusBadGateway, code: "upstream_unavailable"}},
	{kind: faults.ErrInvalidInput, mapping: errorMapping{status: http.StatusBadRequest, code: "invalid_input"}},
}

// respondError writes the JSON error for err. Infrastructure and unknown
// failures are logged and answered with a generic message.
func (handler *httpHandler) respondError(ctx *gin.Context, operation string, err error) {
	var cooldown rewards.CooldownError
	if errors.As(err, &cooldown) {
		body := errorResponse("cooldown_active", "ad cooldown active")
		body["cooldown_remaining"] = int64(math.Ceil(cooldown.Remaining.Seconds()))
		ctx.JSON(http.StatusTooManyRequests, body)
		return
	}
	if errors.Is(err, rewards.ErrDailyLimitReached) {
		ctx.JSON(http.StatusTooManyRequests, errorResponse("daily_limit_reached", "daily ad limit reached"))
		return
	}

	kind := faults.Kind(err)
	for _, candidate := range kindMappings {
		if kind != candidate.kind {
			continue
		}
		if candidate.kind == faults.ErrInfrastructure {
			handler.logger.Error("upstream failure", logFields(operation, err)...)
			ctx.JSON(candidate.mapping.status, errorResponse(candidate.mapping.code, "upstream service unavailable"))
			return
		}
		ctx.JSON(candidate.mapping.status, errorResponse(candidate.mapping.code, err.Error()))
		return
	}
	handler.logger.Error("request failed", logFields(operation, err)...)
	ctx.JSON(http.StatusInternalServerError, errorResponse("internal", "internal error"))
}

// logFields adds the store operation, subject and code carried by a wrapped
// faults.OperationError.
func logFields(operation string, err error) []zap.Field {
	fields := []zap.Field{zap.String("operation", operation), zap.Error(err)}
	var operationError faults.OperationError
	if errors.As(err, &operationError) {
		fields = append(fields,
			zap.String("failed_operation", operationError.Operation()),
			zap.String("subject", operationError.Subject()),
			zap.String("error_code", operationError.Code()),
		)
	}
	return fields
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

func invalidPayload(ctx *gin.Context, message string) {
	ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", message))
}
