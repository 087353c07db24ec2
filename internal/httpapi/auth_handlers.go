package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/tonproof"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/walletauth"
	"github.com/gin-gonic/gin"
)

type proofStartRequest struct {
	Wallet string `json:"wallet"`
	Domain string `json:"domain"`
}

type proofFinishRequest struct {
	Address   string         `json:"address"`
	Network   string         `json:"network"`
	PublicKey string         `json:"public_key"`
	StateInit string         `json:"state_init"`
	Proof     tonproof.Proof `json:"proof"`
	Nonce     string         `json:"nonce"`
	UserID    string         `json:"user_id"`
}

func (handler *httpHandler) handleProofStart(ctx *gin.Context) {
	var request proofStartRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		invalidPayload(ctx, "expected JSON body")
		return
	}
	// Only a signed-in caller can pin the challenge to an existing user.
	var userID string
	if token := bearerToken(ctx.GetHeader("Authorization")); token != "" {
		claims, err := handler.services.Tokens.Verify(ctx.Request.Context(), token, walletauth.Expected{})
		if err != nil {
			handler.respondError(ctx, "proof_start", err)
			return
		}
		userID = claims.UserID
	}
	nonce, err := handler.services.Auth.StartProof(ctx.Request.Context(), walletauth.Hints{
		UserID: userID,
		Wallet: request.Wallet,
		Domain: tonproof.NormalizeDomain(request.Domain),
	})
	if err != nil {
		handler.respondError(ctx, "proof_start", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"nonce":      nonce.Value,
		"payload":    nonce.Value,
		"expires_at": nonce.ExpiresAt,
	})
}

func (handler *httpHandler) handleProofFinish(ctx *gin.Context) {
	var request proofFinishRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		invalidPayload(ctx, "expected JSON body")
		return
	}
	if strings.TrimSpace(request.Address) == "" {
		invalidPayload(ctx, "address is required")
		return
	}
	stateInit := request.StateInit
	if stateInit == "" {
		stateInit = request.Proof.StateInit
	}
	session, err := handler.services.Auth.FinishProof(ctx.Request.Context(), walletauth.FinishInput{
		Address:      request.Address,
		Network:      request.Network,
		PublicKey:    request.PublicKey,
		StateInit:    stateInit,
		Proof:        request.Proof,
		Nonce:        request.Nonce,
		UserID:       request.UserID,
		OriginDomain: tonproof.NormalizeDomain(ctx.GetHeader("Origin")),
	})
	if err != nil {
		handler.respondError(ctx, "proof_finish", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_id":      session.UserID,
		"wallet":       session.Wallet,
		"access_token": session.AccessToken,
		"token_type":   "Bearer",
		"expires_at":   session.ExpiresAt,
	})
}

func (handler *httpHandler) handleLogout(ctx *gin.Context) {
	token := bearerToken(ctx.GetHeader("Authorization"))
	if err := handler.services.Auth.Logout(ctx.Request.Context(), token); err != nil {
		handler.respondError(ctx, "logout", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}
