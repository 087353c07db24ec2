package tonproof

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
	"github.com/tonkeeper/tongo/ton"
)

const accountStatusActive = "active"

var (
	// ErrPublicKeyMismatch means the claimed key differs from the key the wallet contract holds.
	ErrPublicKeyMismatch = fmt.Errorf("%w: public key mismatch", faults.ErrUnauthorized)
	// ErrKeyUnresolvable means no key could be derived and none was claimed.
	ErrKeyUnresolvable = fmt.Errorf("%w: wallet public key unresolvable", faults.ErrUnauthorized)
)

// AccountState is the on-chain state of a wallet account. Code and Data are
// BOCs in hex or base64.
type AccountState struct {
	Status string
	Code   string
	Data   string
}

// ChainStateReader fetches account state from the chain.
type ChainStateReader interface {
	AccountState(ctx context.Context, account ton.AccountID) (AccountState, error)
}

// KeyResolver derives a wallet's public key.
type KeyResolver struct {
	chain   ChainStateReader
	layouts []WalletLayout
}

// ResolverOption configures a KeyResolver.
type ResolverOption func(*KeyResolver)

// WithWalletLayouts replaces the default wallet layout table.
func WithWalletLayouts(layouts []WalletLayout) ResolverOption {
	return func(resolver *KeyResolver) {
		resolver.layouts = layouts
	}
}

// NewKeyResolver builds a resolver. chain may be nil, in which case only
// state-init and claimed keys are used.
func NewKeyResolver(chain ChainStateReader, options ...ResolverOption) *KeyResolver {
	resolver := &KeyResolver{chain: chain, layouts: DefaultWalletLayouts()}
	for _, option := range options {
		if option != nil {
			option(resolver)
		}
	}
	return resolver
}

// Resolve returns the public key for account. A state-init is used only when
// it hashes to the address; otherwise chain state is consulted. A claimed key
// must equal an independently resolved key and is trusted only when nothing
// else resolves.
func (resolver *KeyResolver) Resolve(ctx context.Context, account ton.AccountID, stateInit string, claimedKey string) (ed25519.PublicKey, error) {
	resolved := resolver.fromStateInit(account, stateInit)
	if resolved == nil && resolver.chain != nil {
		fromChain, err := resolver.fromChain(ctx, account)
		if err != nil {
			return nil, err
		}
		resolved = fromChain
	}

	claimed := decodePublicKey(claimedKey)
	switch {
	case resolved != nil && claimed != nil && !bytes.Equal(resolved, claimed):
		return nil, ErrPublicKeyMismatch
	case resolved != nil:
		return resolved, nil
	case claimed != nil:
		return claimed, nil
	default:
		return nil, ErrKeyUnresolvable
	}
}

func (resolver *KeyResolver) fromStateInit(account ton.AccountID, raw string) ed25519.PublicKey {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	root, err := DecodeBOC(raw)
	if err != nil {
		return nil
	}
	rootHash, err := root.Hash256()
	if err != nil || rootHash != account.Address {
		return nil
	}
	parsed, err := ParseStateInit(root)
	if err != nil {
		return nil
	}
	key, _, err := extractPublicKey(resolver.layouts, parsed.Code, parsed.Data)
	if err != nil {
		return nil
	}
	return key
}

func (resolver *KeyResolver) fromChain(ctx context.Context, account ton.AccountID) (ed25519.PublicKey, error) {
	state, err := resolver.chain.AccountState(ctx, account)
	if errors.Is(err, faults.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, faults.Infrastructure(err)
	}
	if state.Status != accountStatusActive || state.Code == "" || state.Data == "" {
		return nil, nil
	}
	code, err := DecodeBOC(state.Code)
	if err != nil {
		return nil, nil
	}
	data, err := DecodeBOC(state.Data)
	if err != nil {
		return nil, nil
	}
	key, _, err := extractPublicKey(resolver.layouts, code, data)
	if err != nil {
		return nil, nil
	}
	return key, nil
}

func decodePublicKey(raw string) ed25519.PublicKey {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		return nil
	}
	if decoded, err := hex.DecodeString(trimmed); err == nil && len(decoded) == ed25519.PublicKeySize {
		return decoded
	}
	if decoded, err := decodeBase64(trimmed); err == nil && len(decoded) == ed25519.PublicKeySize {
		return decoded
	}
	return nil
}
