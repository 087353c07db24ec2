package tonproof

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
	"github.com/tonkeeper/tongo/ton"
)

const defaultProofTTL = 15 * time.Minute

// Rejection reasons reported in Result.Reason.
const (
	ReasonDomainLength     = "domain length mismatch"
	ReasonDomainNotAllowed = "domain not allowed"
	ReasonExpired          = "proof timestamp expired"
	ReasonBadAddress       = "invalid wallet address"
	ReasonBadSignature     = "invalid signature"
	ReasonKeyMismatch      = "public key mismatch"
	ReasonKeyUnresolvable  = "public key unresolvable"
)

// Result is the outcome of proof verification. Reason is for server logs.
type Result struct {
	OK            bool
	WalletAddress string
	PublicKey     string
	Reason        string
}

// KeySource resolves wallet public keys.
type KeySource interface {
	Resolve(ctx context.Context, account ton.AccountID, stateInit string, claimedKey string) (ed25519.PublicKey, error)
}

// Verifier checks ton_proof objects.
type Verifier struct {
	allowlist DomainAllowlist
	keys      KeySource
	ttl       time.Duration
	now       func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithProofTTL sets the freshness window.
func WithProofTTL(ttl time.Duration) VerifierOption {
	return func(verifier *Verifier) {
		if ttl > 0 {
			verifier.ttl = ttl
		}
	}
}

// WithClock overrides the verifier clock.
func WithClock(now func() time.Time) VerifierOption {
	return func(verifier *Verifier) {
		if now != nil {
			verifier.now = now
		}
	}
}

// NewVerifier builds a proof verifier.
func NewVerifier(allowlist DomainAllowlist, keys KeySource, options ...VerifierOption) *Verifier {
	verifier := &Verifier{allowlist: allowlist, keys: keys, ttl: defaultProofTTL, now: time.Now}
	for _, option := range options {
		if option != nil {
			option(verifier)
		}
	}
	return verifier
}

// Verify validates proof for account. expectedDomain, when allowed, narrows the
// accepted domains to itself. Errors are returned only for infrastructure failures.
func (verifier *Verifier) Verify(ctx context.Context, account Account, proof Proof, expectedDomain string) (Result, error) {
	if int(proof.Domain.LengthBytes) != len(proof.Domain.Value) || !utf8.ValidString(proof.Domain.Value) {
		return Result{Reason: ReasonDomainLength}, nil
	}
	if !verifier.allowlist.Narrow(expectedDomain).Contains(proof.Domain.Value) {
		return Result{Reason: ReasonDomainNotAllowed}, nil
	}
	if !verifier.fresh(proof.Timestamp) {
		return Result{Reason: ReasonExpired}, nil
	}
	address, err := ParseAddress(account.Address)
	if err != nil {
		return Result{Reason: ReasonBadAddress}, nil
	}
	walletAddress := address.ToRaw()

	publicKey, err := verifier.keys.Resolve(ctx, address, firstNonEmpty(proof.StateInit, account.StateInit), account.PublicKey)
	switch {
	case errors.Is(err, ErrPublicKeyMismatch):
		return Result{WalletAddress: walletAddress, Reason: ReasonKeyMismatch}, nil
	case errors.Is(err, ErrKeyUnresolvable):
		return Result{WalletAddress: walletAddress, Reason: ReasonKeyUnresolvable}, nil
	case err != nil:
		return Result{}, faults.Infrastructure(err)
	}

	signature, err := DecodeSignature(proof.Signature)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return Result{WalletAddress: walletAddress, Reason: ReasonBadSignature}, nil
	}
	digest := SigningDigest(BuildMessage(address, proof.Domain, proof.Timestamp, proof.Payload))
	if !ed25519.Verify(publicKey, digest[:], signature) {
		return Result{WalletAddress: walletAddress, Reason: ReasonBadSignature}, nil
	}
	return Result{OK: true, WalletAddress: walletAddress, PublicKey: hex.EncodeToString(publicKey)}, nil
}

// Future timestamps pass; only age beyond the TTL is rejected.
func (verifier *Verifier) fresh(timestamp uint64) bool {
	age := verifier.now().Unix() - int64(timestamp)
	return age <= int64(verifier.ttl/time.Second)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
