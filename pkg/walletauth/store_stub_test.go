package walletauth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
)

type stubStore struct {
	mu         sync.Mutex
	challenges map[string]Challenge
	tokens     map[string]TokenRecord
	users      map[string]WalletUser
	touched    map[string]time.Time
	saveErr    error
}

func newStubStore() *stubStore {
	return &stubStore{
		challenges: map[string]Challenge{},
		tokens:     map[string]TokenRecord{},
		users:      map[string]WalletUser{},
		touched:    map[string]time.Time{},
	}
}

// WithTx applies writes from fn only when it succeeds.
func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mu.Lock()
	staged := &stubStore{
		challenges: cloneMap(store.challenges),
		tokens:     cloneMap(store.tokens),
		users:      cloneMap(store.users),
		touched:    map[string]time.Time{},
		saveErr:    store.saveErr,
	}
	store.mu.Unlock()
	if err := fn(ctx, staged); err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	store.challenges = staged.challenges
	store.tokens = staged.tokens
	store.users = staged.users
	return nil
}

func (store *stubStore) SaveChallenge(_ context.Context, challenge Challenge) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.saveErr != nil {
		return store.saveErr
	}
	store.challenges[challenge.NonceDigest] = challenge
	return nil
}

func (store *stubStore) ConsumeChallenge(_ context.Context, nonceDigest string) (Challenge, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	challenge, ok := store.challenges[nonceDigest]
	if !ok {
		return Challenge{}, faults.ErrNotFound
	}
	delete(store.challenges, nonceDigest)
	return challenge, nil
}

func (store *stubStore) SaveToken(_ context.Context, record TokenRecord) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.saveErr != nil {
		return store.saveErr
	}
	store.tokens[record.TokenHash] = record
	return nil
}

func (store *stubStore) GetToken(_ context.Context, tokenHash string) (TokenRecord, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	record, ok := store.tokens[tokenHash]
	if !ok {
		return TokenRecord{}, faults.ErrNotFound
	}
	return record, nil
}

func (store *stubStore) TouchToken(_ context.Context, tokenHash string, usedAt time.Time) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.touched[tokenHash] = usedAt
	return nil
}

func (store *stubStore) DeleteToken(_ context.Context, tokenHash string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.tokens, tokenHash)
	return nil
}

func (store *stubStore) FindUserByWallet(_ context.Context, wallet string) (WalletUser, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, user := range store.users {
		if user.Wallet == wallet {
			return user, nil
		}
	}
	return WalletUser{}, faults.ErrNotFound
}

func (store *stubStore) UpsertWalletUser(_ context.Context, userID string, wallet string, _ time.Time) (WalletUser, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if userID == "" {
		return WalletUser{}, errors.New("empty user id")
	}
	if existing, ok := store.users[userID]; ok && existing.Wallet != "" && existing.Wallet != wallet {
		return WalletUser{}, ErrWalletTaken
	}
	user := WalletUser{UserID: userID, Wallet: wallet}
	store.users[userID] = user
	return user, nil
}

func (store *stubStore) tokenCount() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.tokens)
}

func (store *stubStore) userCount() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.users)
}

func cloneMap[K comparable, V any](source map[K]V) map[K]V {
	cloned := make(map[K]V, len(source))
	for key, value := range source {
		cloned[key] = value
	}
	return cloned
}
