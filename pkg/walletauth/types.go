// Package walletauth turns a verified TON wallet proof into a revocable bearer
// session: single-use nonce challenges, HMAC-signed access tokens stored as
// hashes, and the start/finish coordinator that ties them together.
package walletauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
	"go.uber.org/zap"
)

const (
	defaultChallengeTTL = 15 * time.Minute
	defaultTokenTTL     = 24 * time.Hour
	defaultTouchTimeout = 2 * time.Second
)

var (
	ErrInvalidServiceConfig = errors.New("invalid service config")

	ErrChallengeNotFound  = fmt.Errorf("%w: proof challenge unknown or consumed", faults.ErrNotFound)
	ErrChallengeExpired   = fmt.Errorf("%w: proof challenge expired", faults.ErrUnauthorized)
	ErrChallengeMismatch  = fmt.Errorf("%w: proof does not match challenge", faults.ErrUnauthorized)
	ErrMissingPayload     = fmt.Errorf("%w: missing proof payload", faults.ErrUnauthorized)
	ErrPayloadMismatch    = fmt.Errorf("%w: proof payload mismatch", faults.ErrUnauthorized)
	ErrUnsupportedNetwork = fmt.Errorf("%w: only TON mainnet is supported", faults.ErrUnauthorized)
	ErrProofRejected      = fmt.Errorf("%w: wallet proof rejected", faults.ErrUnauthorized)
	ErrWalletTaken        = fmt.Errorf("%w: wallet already associated with another user", faults.ErrConflict)

	ErrMissingToken  = fmt.Errorf("%w: missing access token", faults.ErrUnauthorized)
	ErrInvalidToken  = fmt.Errorf("%w: invalid access token", faults.ErrUnauthorized)
	ErrTokenExpired  = fmt.Errorf("%w: access token expired", faults.ErrUnauthorized)
	ErrTokenRevoked  = fmt.Errorf("%w: access token revoked", faults.ErrUnauthorized)
	ErrTokenMismatch = fmt.Errorf("%w: access token does not match", faults.ErrUnauthorized)
)

// Challenge is a stored nonce challenge. Only the nonce digest is persisted.
type Challenge struct {
	NonceDigest string
	UserID      string
	Wallet      string
	Domain      string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// TokenRecord is the server-side mirror of an issued access token.
type TokenRecord struct {
	TokenHash  string
	UserID     string
	Wallet     string
	ExpiresAt  time.Time
	LastUsedAt time.Time
	CreatedAt  time.Time
}

// WalletUser is the slice of a user record the auth flow touches.
type WalletUser struct {
	UserID string
	Wallet string
}

// Store persists challenges, tokens and wallet bindings.
// Lookups return faults.ErrNotFound when nothing matches.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	SaveChallenge(ctx context.Context, challenge Challenge) error
	// ConsumeChallenge deletes and returns the challenge; only one caller wins.
	ConsumeChallenge(ctx context.Context, nonceDigest string) (Challenge, error)
	SaveToken(ctx context.Context, record TokenRecord) error
	GetToken(ctx context.Context, tokenHash string) (TokenRecord, error)
	TouchToken(ctx context.Context, tokenHash string, usedAt time.Time) error
	DeleteToken(ctx context.Context, tokenHash string) error
	FindUserByWallet(ctx context.Context, wallet string) (WalletUser, error)
	// UpsertWalletUser binds wallet to userID. A user already bound to a
	// different wallet is rejected with ErrWalletTaken.
	UpsertWalletUser(ctx context.Context, userID string, wallet string, seenAt time.Time) (WalletUser, error)
}

type settings struct {
	now          func() time.Time
	logger       *zap.Logger
	challengeTTL time.Duration
	tokenTTL     time.Duration
	touchTimeout time.Duration
}

// Option configures walletauth components.
type Option func(*settings)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(current *settings) {
		if now != nil {
			current.now = now
		}
	}
}

// WithLogger sets the logger used for rejection reasons and background failures.
func WithLogger(logger *zap.Logger) Option {
	return func(current *settings) {
		if logger != nil {
			current.logger = logger
		}
	}
}

// WithChallengeTTL sets the nonce lifetime.
func WithChallengeTTL(ttl time.Duration) Option {
	return func(current *settings) {
		if ttl > 0 {
			current.challengeTTL = ttl
		}
	}
}

// WithTokenTTL sets the access token lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(current *settings) {
		if ttl > 0 {
			current.tokenTTL = ttl
		}
	}
}

func newSettings(options []Option) settings {
	current := settings{
		now:          time.Now,
		logger:       zap.NewNop(),
		challengeTTL: defaultChallengeTTL,
		tokenTTL:     defaultTokenTTL,
		touchTimeout: defaultTouchTimeout,
	}
	for _, option := range options {
		if option != nil {
			option(&current)
		}
	}
	return current
}
