package walletauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/tonproof"
	"go.uber.org/zap"
)

var mainnetNetworks = map[string]struct{}{
	"":            {},
	"-239":        {},
	"ton-mainnet": {},
	"mainnet":     {},
}

// ProofVerifier checks a ton_proof against an account.
type ProofVerifier interface {
	Verify(ctx context.Context, account tonproof.Account, proof tonproof.Proof, expectedDomain string) (tonproof.Result, error)
}

// FinishInput is a wallet's answer to a challenge.
type FinishInput struct {
	Address      string
	Network      string
	PublicKey    string
	StateInit    string
	Proof        tonproof.Proof
	Nonce        string
	UserID       string
	OriginDomain string
}

// Session is the result of a successful proof.
type Session struct {
	UserID      string
	Wallet      string
	AccessToken string
	ExpiresAt   time.Time
}

// Coordinator runs the start/finish proof flow.
type Coordinator struct {
	store      Store
	challenges *ChallengeStore
	tokens     *TokenService
	verifier   ProofVerifier
	settings   settings
}

// NewCoordinator wires the proof flow.
func NewCoordinator(store Store, challenges *ChallengeStore, tokens *TokenService, verifier ProofVerifier, options ...Option) (*Coordinator, error) {
	if store == nil || challenges == nil || tokens == nil || verifier == nil {
		return nil, ErrInvalidServiceConfig
	}
	return &Coordinator{
		store:      store,
		challenges: challenges,
		tokens:     tokens,
		verifier:   verifier,
		settings:   newSettings(options),
	}, nil
}

// StartProof issues a nonce challenge.
func (coordinator *Coordinator) StartProof(ctx context.Context, hints Hints) (Nonce, error) {
	return coordinator.challenges.Start(ctx, hints)
}

// FinishProof consumes the challenge, verifies the proof and issues a session.
// The user upsert and token record are written in one transaction.
func (coordinator *Coordinator) FinishProof(ctx context.Context, input FinishInput) (Session, error) {
	nonce := strings.TrimSpace(input.Nonce)
	if nonce == "" {
		nonce = input.Proof.Payload
	}
	if nonce == "" {
		return Session{}, ErrMissingPayload
	}
	if input.Proof.Payload != nonce {
		return Session{}, ErrPayloadMismatch
	}
	if _, ok := mainnetNetworks[strings.TrimSpace(input.Network)]; !ok {
		return Session{}, ErrUnsupportedNetwork
	}

	challenge, err := coordinator.challenges.Consume(ctx, nonce)
	if err != nil {
		return Session{}, err
	}
	if challenge.Wallet != "" && !tonproof.SameAddress(challenge.Wallet, input.Address) {
		return Session{}, ErrChallengeMismatch
	}
	if challenge.UserID != "" && input.UserID != "" && challenge.UserID != input.UserID {
		return Session{}, ErrChallengeMismatch
	}

	expectedDomain := challenge.Domain
	if expectedDomain == "" {
		expectedDomain = input.OriginDomain
	}
	result, err := coordinator.verifier.Verify(ctx, tonproof.Account{
		Address:   input.Address,
		Network:   input.Network,
		PublicKey: input.PublicKey,
		StateInit: input.StateInit,
	}, input.Proof, expectedDomain)
	if err != nil {
		return Session{}, err
	}
	if !result.OK {
		coordinator.settings.logger.Debug("wallet proof rejected",
			zap.String("address", input.Address),
			zap.String("reason", result.Reason))
		return Session{}, ErrProofRejected
	}

	// A user id is only bound through a challenge started by that user's
	// session; otherwise the account is the wallet itself.
	wallet := result.WalletAddress
	userID := firstNonEmpty(challenge.UserID, wallet)
	if requested := strings.TrimSpace(input.UserID); requested != "" && requested != userID {
		return Session{}, ErrChallengeMismatch
	}

	var session Session
	err = coordinator.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		existing, findErr := txStore.FindUserByWallet(ctx, wallet)
		switch {
		case findErr == nil && existing.UserID != userID:
			return ErrWalletTaken
		case findErr != nil && !errors.Is(findErr, faults.ErrNotFound):
			return faults.Infrastructure(findErr)
		}
		user, upsertErr := txStore.UpsertWalletUser(ctx, userID, wallet, coordinator.settings.now().UTC())
		if upsertErr != nil {
			return faults.Infrastructure(upsertErr)
		}
		issued, mintErr := coordinator.tokens.mintWith(ctx, txStore, user.UserID, wallet)
		if mintErr != nil {
			return mintErr
		}
		session = Session{UserID: user.UserID, Wallet: wallet, AccessToken: issued.Token, ExpiresAt: issued.ExpiresAt}
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	return session, nil
}

// Logout revokes token.
func (coordinator *Coordinator) Logout(ctx context.Context, token string) error {
	return coordinator.tokens.Revoke(ctx, token)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
