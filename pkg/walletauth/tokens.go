package walletauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
	"go.uber.org/zap"
)

const tokenSegmentSeparator = "."

type tokenPayload struct {
	UserID string `json:"userId"`
	Wallet string `json:"wallet"`
	Exp    int64  `json:"exp"`
}

// IssuedToken is a freshly minted access token.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

// Claims are the verified contents of an access token.
type Claims struct {
	UserID    string
	Wallet    string
	ExpiresAt time.Time
}

// Expected restricts verification to a user and/or wallet.
type Expected struct {
	UserID string
	Wallet string
}

// TokenService mints, verifies and revokes access tokens.
type TokenService struct {
	store    Store
	secret   []byte
	settings settings
}

// NewTokenService builds a token service keyed by secret.
func NewTokenService(store Store, secret []byte, options ...Option) (*TokenService, error) {
	if store == nil || len(secret) == 0 {
		return nil, ErrInvalidServiceConfig
	}
	return &TokenService{store: store, secret: secret, settings: newSettings(options)}, nil
}

// Mint issues a token for userID and wallet and stores its hash.
func (tokens *TokenService) Mint(ctx context.Context, userID string, wallet string) (IssuedToken, error) {
	return tokens.mintWith(ctx, tokens.store, userID, wallet)
}

func (tokens *TokenService) mintWith(ctx context.Context, store Store, userID string, wallet string) (IssuedToken, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(wallet) == "" {
		return IssuedToken{}, faults.Newf(faults.ErrInvalidInput, "token subject requires user and wallet")
	}
	now := tokens.settings.now().UTC()
	expiresAt := now.Add(tokens.settings.tokenTTL).Truncate(time.Second)
	encodedPayload, err := json.Marshal(tokenPayload{UserID: userID, Wallet: wallet, Exp: expiresAt.Unix()})
	if err != nil {
		return IssuedToken{}, err
	}
	segment := base64.RawURLEncoding.EncodeToString(encodedPayload)
	token := segment + tokenSegmentSeparator + base64.RawURLEncoding.EncodeToString(tokens.sign(segment))
	err = store.SaveToken(ctx, TokenRecord{
		TokenHash:  HashToken(token),
		UserID:     userID,
		Wallet:     wallet,
		ExpiresAt:  expiresAt,
		LastUsedAt: now,
		CreatedAt:  now,
	})
	if err != nil {
		return IssuedToken{}, faults.Infrastructure(err)
	}
	return IssuedToken{Token: token, ExpiresAt: expiresAt}, nil
}

// Verify checks the signature, the payload expiry and the live server record.
func (tokens *TokenService) Verify(ctx context.Context, token string, expected Expected) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrMissingToken
	}
	segments := strings.Split(token, tokenSegmentSeparator)
	if len(segments) != 2 || segments[0] == "" || segments[1] == "" {
		return Claims{}, ErrInvalidToken
	}
	providedSignature, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(segments[1], "="))
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal(providedSignature, tokens.sign(segments[0])) {
		return Claims{}, ErrInvalidToken
	}
	rawPayload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(segments[0], "="))
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var payload tokenPayload
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if payload.UserID == "" || payload.Wallet == "" || payload.Exp <= 0 {
		return Claims{}, ErrInvalidToken
	}

	tokenHash := HashToken(token)
	now := tokens.settings.now()
	if payload.Exp <= now.Unix() {
		tokens.discard(ctx, tokenHash)
		return Claims{}, ErrTokenExpired
	}
	record, err := tokens.store.GetToken(ctx, tokenHash)
	if errors.Is(err, faults.ErrNotFound) {
		return Claims{}, ErrTokenRevoked
	}
	if err != nil {
		return Claims{}, faults.Infrastructure(err)
	}
	if !now.Before(record.ExpiresAt) {
		tokens.discard(ctx, tokenHash)
		return Claims{}, ErrTokenExpired
	}
	if record.UserID != payload.UserID || record.Wallet != payload.Wallet {
		return Claims{}, ErrInvalidToken
	}
	if expected.UserID != "" && expected.UserID != payload.UserID {
		return Claims{}, ErrTokenMismatch
	}
	if expected.Wallet != "" && expected.Wallet != payload.Wallet {
		return Claims{}, ErrTokenMismatch
	}

	tokens.touch(ctx, tokenHash, now)
	return Claims{UserID: payload.UserID, Wallet: payload.Wallet, ExpiresAt: time.Unix(payload.Exp, 0).UTC()}, nil
}

// Revoke deletes the server record; the token stops verifying immediately.
func (tokens *TokenService) Revoke(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrMissingToken
	}
	if err := tokens.store.DeleteToken(ctx, HashToken(token)); err != nil {
		return faults.Infrastructure(err)
	}
	return nil
}

// HashToken returns the hex SHA-256 of the full token string.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (tokens *TokenService) sign(segment string) []byte {
	mac := hmac.New(sha256.New, tokens.secret)
	mac.Write([]byte(segment))
	return mac.Sum(nil)
}

func (tokens *TokenService) discard(ctx context.Context, tokenHash string) {
	if err := tokens.store.DeleteToken(ctx, tokenHash); err != nil {
		tokens.settings.logger.Warn("delete expired token", zap.Error(err))
	}
}

func (tokens *TokenService) touch(ctx context.Context, tokenHash string, usedAt time.Time) {
	touchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokens.settings.touchTimeout)
	go func() {
		defer cancel()
		if err := tokens.store.TouchToken(touchCtx, tokenHash, usedAt.UTC()); err != nil {
			tokens.settings.logger.Warn("touch access token", zap.Error(err))
		}
	}()
}
