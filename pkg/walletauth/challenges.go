package walletauth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
)

const nonceBytes = 32

// Hints are optional expectations recorded with a challenge.
type Hints struct {
	UserID string
	Wallet string
	Domain string
}

// Nonce is the raw challenge handed to the client.
type Nonce struct {
	Value     string
	ExpiresAt time.Time
}

// ChallengeStore issues and consumes single-use nonces.
type ChallengeStore struct {
	store    Store
	secret   []byte
	settings settings
}

// NewChallengeStore builds a challenge store keyed by secret.
func NewChallengeStore(store Store, secret []byte, options ...Option) (*ChallengeStore, error) {
	if store == nil || len(secret) == 0 {
		return nil, ErrInvalidServiceConfig
	}
	return &ChallengeStore{store: store, secret: secret, settings: newSettings(options)}, nil
}

// Start issues a fresh nonce; only its digest is stored.
func (challenges *ChallengeStore) Start(ctx context.Context, hints Hints) (Nonce, error) {
	raw := make([]byte, nonceBytes)
	if _, err := rand.Read(raw); err != nil {
		return Nonce{}, fmt.Errorf("generate nonce: %w", err)
	}
	nonce := base64.RawURLEncoding.EncodeToString(raw)
	now := challenges.settings.now().UTC()
	expiresAt := now.Add(challenges.settings.challengeTTL)
	err := challenges.store.SaveChallenge(ctx, Challenge{
		NonceDigest: challenges.digest(nonce),
		UserID:      strings.TrimSpace(hints.UserID),
		Wallet:      strings.TrimSpace(hints.Wallet),
		Domain:      strings.TrimSpace(hints.Domain),
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	})
	if err != nil {
		return Nonce{}, faults.Infrastructure(err)
	}
	return Nonce{Value: nonce, ExpiresAt: expiresAt}, nil
}

// Consume deletes the challenge for nonce and returns it. Unknown and already
// consumed nonces are both reported as ErrChallengeNotFound.
func (challenges *ChallengeStore) Consume(ctx context.Context, nonce string) (Challenge, error) {
	challenge, err := challenges.store.ConsumeChallenge(ctx, challenges.digest(nonce))
	if errors.Is(err, faults.ErrNotFound) {
		return Challenge{}, ErrChallengeNotFound
	}
	if err != nil {
		return Challenge{}, faults.Infrastructure(err)
	}
	if !challenges.settings.now().Before(challenge.ExpiresAt) {
		return Challenge{}, ErrChallengeExpired
	}
	return challenge, nil
}

func (challenges *ChallengeStore) digest(nonce string) string {
	mac := hmac.New(sha256.New, challenges.secret)
	mac.Write([]byte(nonce))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
