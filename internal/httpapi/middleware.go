package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/walletauth"
	"github.com/gin-gonic/gin"
)

const bearerPrefix = "bearer "

// requireBearer verifies the access token and stores its claims on the context.
func (handler *httpHandler) requireBearer(ctx *gin.Context) {
	token := bearerToken(ctx.GetHeader("Authorization"))
	claims, err := handler.services.Tokens.Verify(ctx.Request.Context(), token, walletauth.Expected{})
	if err != nil {
		handler.respondError(ctx, "verify_token", err)
		ctx.Abort()
		return
	}
	ctx.Set(claimsContextKey, claims)
	ctx.Next()
}

// requireWebhookSecret compares the shared secret in constant time.
func (handler *httpHandler) requireWebhookSecret(ctx *gin.Context) {
	expected := handler.cfg.WebhookSecret
	if expected == "" {
		ctx.AbortWithStatusJSON(http.StatusNotFound, errorResponse("not_found", "webhook disabled"))
		return
	}
	provided := ctx.GetHeader(webhookSecretHeader)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid webhook secret"))
		return
	}
	ctx.Next()
}

func bearerToken(header string) string {
	trimmed := strings.TrimSpace(header)
	if len(trimmed) < len(bearerPrefix) || !strings.EqualFold(trimmed[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(trimmed[len(bearerPrefix):])
}

func getClaims(ctx *gin.Context) walletauth.Claims {
	value, ok := ctx.Get(claimsContextKey)
	if !ok {
		return walletauth.Claims{}
	}
	claims, _ := value.(walletauth.Claims)
	return claims
}
