package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/rewards"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrUserConflict reports a duplicate user id or a wallet bound to another user.
var ErrUserConflict = fmt.Errorf("%w: user or wallet already exists", faults.ErrConflict)

const emptyClaimedPartners = "[]"

// RewardStore implements rewards.Store.
type RewardStore struct {
	ledgerTables
	db *gorm.DB
}

var _ rewards.Store = (*RewardStore)(nil)

// NewRewardStore returns a RewardStore backed by db.
func NewRewardStore(db *gorm.DB) *RewardStore {
	return &RewardStore{ledgerTables: ledgerTables{db: db}, db: db}
}

// WithTx executes fn within a transaction.
func (store *RewardStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore rewards.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, NewRewardStore(transaction))
	})
}

func (store *RewardStore) GetUser(ctx context.Context, userID string) (rewards.User, error) {
	return store.findUser(store.db.WithContext(ctx), userID, errorCodeGet)
}

func (store *RewardStore) LockUser(ctx context.Context, userID string) (rewards.User, error) {
	return store.findUser(store.db.WithContext(ctx).Clauses(lockForUpdate()), userID, errorCodeLock)
}

func (store *RewardStore) findUser(query *gorm.DB, userID string, code string) (rewards.User, error) {
	var row User
	if err := query.Where("id = ?", userID).Take(&row).Error; err != nil {
		return rewards.User{}, lookupError(errorSubjectUser, code, err)
	}
	var claimed []string
	if len(row.ClaimedPartners) > 0 {
		if err := json.Unmarshal(row.ClaimedPartners, &claimed); err != nil {
			return rewards.User{}, wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
		}
	}
	return rewards.User{
		ID:              row.ID,
		Wallet:          stringValue(row.Wallet),
		CountryCode:     row.CountryCode,
		Energy:          row.Energy,
		BoostLevel:      row.BoostLevel,
		BoostExpiresAt:  row.BoostExpiresAt,
		TotalWatches:    row.TotalWatches,
		TotalEarned:     row.TotalEarned,
		SessionCount:    row.SessionCount,
		DailyWatchCount: row.DailyWatchCount,
		DailyWatchDate:  row.DailyWatchDate,
		LastWatchAt:     row.LastWatchAt,
		LastSeenAt:      row.LastSeenAt,
		ClaimedPartners: claimed,
		CreatedAt:       row.CreatedAt,
	}, nil
}

func (store *RewardStore) CreateUser(ctx context.Context, user rewards.User) error {
	row := User{
		ID:           user.ID,
		Wallet:       nullableString(user.Wallet),
		CountryCode:  user.CountryCode,
		Energy:       user.Energy,
		TotalEarned:  user.TotalEarned,
		SessionCount: user.SessionCount,
		LastSeenAt:   user.LastSeenAt,
		CreatedAt:    user.CreatedAt.UTC(),
		UpdatedAt:    user.CreatedAt.UTC(),
	}
	claimed, err := claimedPartnersJSON(user.ClaimedPartners)
	if err != nil {
		return wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
	}
	row.ClaimedPartners = claimed
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return userWriteError(errorCodeCreate, err)
	}
	return nil
}

// SaveUser writes the reward columns. Boost columns belong to settlement and
// are left untouched.
func (store *RewardStore) SaveUser(ctx context.Context, user rewards.User) error {
	claimed, err := claimedPartnersJSON(user.ClaimedPartners)
	if err != nil {
		return wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
	}
	updates := map[string]any{
		"wallet":            nullableString(user.Wallet),
		"country_code":      user.CountryCode,
		"energy":            user.Energy,
		"total_watches":     user.TotalWatches,
		"total_earned":      user.TotalEarned,
		"session_count":     user.SessionCount,
		"daily_watch_count": user.DailyWatchCount,
		"daily_watch_date":  user.DailyWatchDate,
		"last_watch_at":     user.LastWatchAt,
		"last_seen_at":      user.LastSeenAt,
		"claimed_partners":  claimed,
		"updated_at":        time.Now().UTC(),
	}
	if err := store.db.WithContext(ctx).Model(&User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
		return userWriteError(errorCodeUpdate, err)
	}
	return nil
}

func (store *RewardStore) InsertWatchLog(ctx context.Context, watchLog rewards.WatchLog) error {
	row := WatchLog{
		ID:          watchLog.ID,
		UserID:      watchLog.UserID,
		AdID:        watchLog.AdID,
		Reward:      watchLog.Reward,
		BaseReward:  watchLog.BaseReward,
		Multiplier:  watchLog.Multiplier,
		CountryCode: watchLog.CountryCode,
		CreatedAt:   watchLog.CreatedAt.UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectWatchLog, errorCodeInsert, err)
	}
	return nil
}

func (store *RewardStore) InsertSessionLog(ctx context.Context, sessionLog rewards.SessionLog) error {
	row := SessionLog{
		ID:             sessionLog.ID,
		UserID:         sessionLog.UserID,
		CountryCode:    sessionLog.CountryCode,
		CreatedAt:      sessionLog.CreatedAt.UTC(),
		LastActivityAt: sessionLog.LastActivityAt.UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectSession, errorCodeInsert, err)
	}
	return nil
}

func (store *RewardStore) InsertRewardClaim(ctx context.Context, claim rewards.RewardClaim) error {
	row := RewardClaim{
		ID:          claim.ID,
		UserID:      claim.UserID,
		PartnerID:   claim.PartnerID,
		PartnerName: claim.PartnerName,
		Reward:      claim.Reward,
		CreatedAt:   claim.CreatedAt.UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return wrapStoreError(errorSubjectClaim, errorCodeDuplicate, rewards.ErrRewardClaimed)
		}
		return wrapStoreError(errorSubjectClaim, errorCodeInsert, err)
	}
	return nil
}

func (store *RewardStore) ListWatchLogs(ctx context.Context, userID string, limit int) ([]rewards.WatchLog, error) {
	var rows []WatchLog
	if err := store.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectWatchLog, errorCodeList, err)
	}
	watchLogs := make([]rewards.WatchLog, 0, len(rows))
	for _, row := range rows {
		watchLogs = append(watchLogs, rewards.WatchLog{
			ID:          row.ID,
			UserID:      row.UserID,
			AdID:        row.AdID,
			Reward:      row.Reward,
			BaseReward:  row.BaseReward,
			Multiplier:  row.Multiplier,
			CountryCode: row.CountryCode,
			CreatedAt:   row.CreatedAt,
		})
	}
	return watchLogs, nil
}

func (store *RewardStore) ListSessionLogs(ctx context.Context, userID string, limit int) ([]rewards.SessionLog, error) {
	var rows []SessionLog
	if err := store.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectSession, errorCodeList, err)
	}
	sessionLogs := make([]rewards.SessionLog, 0, len(rows))
	for _, row := range rows {
		sessionLogs = append(sessionLogs, rewards.SessionLog{
			ID:             row.ID,
			UserID:         row.UserID,
			CountryCode:    row.CountryCode,
			CreatedAt:      row.CreatedAt,
			LastActivityAt: row.LastActivityAt,
		})
	}
	return sessionLogs, nil
}

func claimedPartnersJSON(claimed []string) (datatypes.JSON, error) {
	if len(claimed) == 0 {
		return datatypes.JSON([]byte(emptyClaimedPartners)), nil
	}
	return marshalJSON(claimed)
}

func userWriteError(code string, err error) error {
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectUser, code, ErrUserConflict)
	}
	return wrapStoreError(errorSubjectUser, code, err)
}
