package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/walletauth"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuthStore implements walletauth.Store.
type AuthStore struct {
	db *gorm.DB
}

var _ walletauth.Store = (*AuthStore)(nil)

// NewAuthStore returns an AuthStore backed by db.
func NewAuthStore(db *gorm.DB) *AuthStore {
	return &AuthStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *AuthStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore walletauth.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &AuthStore{db: transaction})
	})
}

func (store *AuthStore) SaveChallenge(ctx context.Context, challenge walletauth.Challenge) error {
	row := NonceChallenge{
		NonceDigest: challenge.NonceDigest,
		UserID:      challenge.UserID,
		Wallet:      challenge.Wallet,
		Domain:      challenge.Domain,
		ExpiresAt:   challenge.ExpiresAt.UTC(),
		CreatedAt:   challenge.CreatedAt.UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectChallenge, errorCodeCreate, err)
	}
	return nil
}

// ConsumeChallenge reads the challenge and removes it with a guarded delete.
// When two callers race, the one whose delete affects no row gets not found.
func (store *AuthStore) ConsumeChallenge(ctx context.Context, nonceDigest string) (walletauth.Challenge, error) {
	var row NonceChallenge
	if err := store.db.WithContext(ctx).Where("nonce_digest = ?", nonceDigest).Take(&row).Error; err != nil {
		return walletauth.Challenge{}, lookupError(errorSubjectChallenge, errorCodeGet, err)
	}
	result := store.db.WithContext(ctx).Where("nonce_digest = ?", nonceDigest).Delete(&NonceChallenge{})
	if result.Error != nil {
		return walletauth.Challenge{}, wrapStoreError(errorSubjectChallenge, errorCodeConsume, result.Error)
	}
	if result.RowsAffected != 1 {
		return walletauth.Challenge{}, wrapStoreError(errorSubjectChallenge, errorCodeConsume, faults.ErrNotFound)
	}
	return walletauth.Challenge{
		NonceDigest: row.NonceDigest,
		UserID:      row.UserID,
		Wallet:      row.Wallet,
		Domain:      row.Domain,
		ExpiresAt:   row.ExpiresAt,
		CreatedAt:   row.CreatedAt,
	}, nil
}

func (store *AuthStore) SaveToken(ctx context.Context, record walletauth.TokenRecord) error {
	row := AccessToken{
		TokenHash:  record.TokenHash,
		UserID:     record.UserID,
		Wallet:     record.Wallet,
		ExpiresAt:  record.ExpiresAt.UTC(),
		LastUsedAt: record.LastUsedAt.UTC(),
		CreatedAt:  record.CreatedAt.UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectToken, errorCodeCreate, err)
	}
	return nil
}

func (store *AuthStore) GetToken(ctx context.Context, tokenHash string) (walletauth.TokenRecord, error) {
	var row AccessToken
	if err := store.db.WithContext(ctx).Where("token_hash = ?", tokenHash).Take(&row).Error; err != nil {
		return walletauth.TokenRecord{}, lookupError(errorSubjectToken, errorCodeGet, err)
	}
	return walletauth.TokenRecord{
		TokenHash:  row.TokenHash,
		UserID:     row.UserID,
		Wallet:     row.Wallet,
		ExpiresAt:  row.ExpiresAt,
		LastUsedAt: row.LastUsedAt,
		CreatedAt:  row.CreatedAt,
	}, nil
}

func (store *AuthStore) TouchToken(ctx context.Context, tokenHash string, usedAt time.Time) error {
	err := store.db.WithContext(ctx).
		Model(&AccessToken{}).
		Where("token_hash = ?", tokenHash).
		Update("last_used_at", usedAt.UTC()).Error
	if err != nil {
		return wrapStoreError(errorSubjectToken, errorCodeUpdate, err)
	}
	return nil
}

func (store *AuthStore) DeleteToken(ctx context.Context, tokenHash string) error {
	if err := store.db.WithContext(ctx).Where("token_hash = ?", tokenHash).Delete(&AccessToken{}).Error; err != nil {
		return wrapStoreError(errorSubjectToken, errorCodeDelete, err)
	}
	return nil
}

func (store *AuthStore) FindUserByWallet(ctx context.Context, wallet string) (walletauth.WalletUser, error) {
	var row User
	if err := store.db.WithContext(ctx).Where("wallet = ?", wallet).Take(&row).Error; err != nil {
		return walletauth.WalletUser{}, lookupError(errorSubjectUser, errorCodeLookup, err)
	}
	return walletauth.WalletUser{UserID: row.ID, Wallet: stringValue(row.Wallet)}, nil
}

// UpsertWalletUser binds wallet to userID, creating the user when missing. A
// user already bound to another wallet keeps it and ErrWalletTaken is returned.
func (store *AuthStore) UpsertWalletUser(ctx context.Context, userID string, wallet string, seenAt time.Time) (walletauth.WalletUser, error) {
	seenAt = seenAt.UTC()
	var row User
	err := store.db.WithContext(ctx).Clauses(lockForUpdate()).Where("id = ?", userID).Take(&row).Error
	switch {
	case err == nil:
		if bound := stringValue(row.Wallet); bound != "" && bound != wallet {
			return walletauth.WalletUser{}, wrapStoreError(errorSubjectUser, errorCodeUpdate, walletauth.ErrWalletTaken)
		}
		updates := map[string]any{"wallet": nullableString(wallet), "last_seen_at": seenAt, "updated_at": seenAt}
		if err := store.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Updates(updates).Error; err != nil {
			return walletauth.WalletUser{}, walletConflict(errorCodeUpdate, err)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = User{ID: userID, Wallet: nullableString(wallet), LastSeenAt: &seenAt, CreatedAt: seenAt, UpdatedAt: seenAt, ClaimedPartners: datatypes.JSON([]byte(emptyClaimedPartners))}
		if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
			return walletauth.WalletUser{}, walletConflict(errorCodeCreate, err)
		}
	default:
		return walletauth.WalletUser{}, wrapStoreError(errorSubjectUser, errorCodeLock, err)
	}
	return walletauth.WalletUser{UserID: userID, Wallet: wallet}, nil
}

// PurgeExpired removes expired challenges and tokens.
func (store *AuthStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		challenges := transaction.Where("expires_at <= ?", now.UTC()).Delete(&NonceChallenge{})
		if challenges.Error != nil {
			return challenges.Error
		}
		tokens := transaction.Where("expires_at <= ?", now.UTC()).Delete(&AccessToken{})
		if tokens.Error != nil {
			return tokens.Error
		}
		removed = challenges.RowsAffected + tokens.RowsAffected
		return nil
	})
	if err != nil {
		return 0, wrapStoreError(errorSubjectToken, errorCodePurge, err)
	}
	return removed, nil
}

func walletConflict(code string, err error) error {
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectUser, code, walletauth.ErrWalletTaken)
	}
	return wrapStoreError(errorSubjectUser, code, err)
}
