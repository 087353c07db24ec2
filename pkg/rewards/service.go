// Package rewards implements user bootstrap, balances, ad-watch energy credits
// and ledger history on top of the shared ledger.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/economy"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	dayLayout      = "2006-01-02"
	rewardDecimals = 2

	operationInitUser = "init_user"
	operationAdWatch  = "ad_watch"
	operationClaim    = "reward_claim"

	statsWatchHistory   = 25
	statsSessionHistory = 10
)

var (
	ErrInvalidServiceConfig = errors.New("invalid service config")
	ErrUserNotFound         = fmt.Errorf("%w: user not found", faults.ErrNotFound)
	ErrInvalidUserID        = fmt.Errorf("%w: invalid user id", faults.ErrInvalidInput)
	ErrInvalidAdID          = fmt.Errorf("%w: invalid ad id", faults.ErrInvalidInput)
	ErrCooldownActive       = fmt.Errorf("%w: ad cooldown active", faults.ErrConflict)
	ErrDailyLimitReached    = fmt.Errorf("%w: daily ad limit reached", faults.ErrConflict)
	ErrPartnerUnavailable   = fmt.Errorf("%w: partner reward unavailable", faults.ErrNotFound)
	ErrRewardClaimed        = fmt.Errorf("%w: partner reward already claimed", faults.ErrConflict)
)

// CooldownError carries the time left before the next watch is allowed.
type CooldownError struct {
	Remaining time.Duration
}

func (cooldownError CooldownError) Error() string {
	return fmt.Sprintf("%v: %s remaining", ErrCooldownActive, cooldownError.Remaining)
}

func (cooldownError CooldownError) Unwrap() error {
	return ErrCooldownActive
}

// User is a player's reward state.
type User struct {
	ID              string
	Wallet          string
	CountryCode     string
	Energy          decimal.Decimal
	BoostLevel      int
	BoostExpiresAt  *time.Time
	TotalWatches    int
	TotalEarned     decimal.Decimal
	SessionCount    int
	DailyWatchCount int
	DailyWatchDate  string
	LastWatchAt     *time.Time
	LastSeenAt      *time.Time
	ClaimedPartners []string
	CreatedAt       time.Time
}

func (user User) hasClaimed(partnerID string) bool {
	for _, claimed := range user.ClaimedPartners {
		if claimed == partnerID {
			return true
		}
	}
	return false
}

// WatchLog is one rewarded ad view.
type WatchLog struct {
	ID          string
	UserID      string
	AdID        string
	Reward      decimal.Decimal
	BaseReward  decimal.Decimal
	Multiplier  decimal.Decimal
	CountryCode string
	CreatedAt   time.Time
}

// SessionLog records one app launch.
type SessionLog struct {
	ID             string
	UserID         string
	CountryCode    string
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// RewardClaim records one partner reward paid to a user.
type RewardClaim struct {
	ID          string
	UserID      string
	PartnerID   string
	PartnerName string
	Reward      decimal.Decimal
	CreatedAt   time.Time
}

// Store persists users, watch logs and ledger entries.
type Store interface {
	ledger.EntryWriter
	ledger.HistoryStore
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetUser(ctx context.Context, userID string) (User, error)
	LockUser(ctx context.Context, userID string) (User, error)
	CreateUser(ctx context.Context, user User) error
	SaveUser(ctx context.Context, user User) error
	InsertWatchLog(ctx context.Context, watchLog WatchLog) error
	InsertSessionLog(ctx context.Context, sessionLog SessionLog) error
	InsertRewardClaim(ctx context.Context, claim RewardClaim) error
	// ListWatchLogs and ListSessionLogs return the newest limit rows first.
	ListWatchLogs(ctx context.Context, userID string, limit int) ([]WatchLog, error)
	ListSessionLogs(ctx context.Context, userID string, limit int) ([]SessionLog, error)
}

// Balance is the spendable state of a user.
type Balance struct {
	UserID          string
	Energy          decimal.Decimal
	BoostLevel      int
	Multiplier      decimal.Decimal
	BoostExpiresAt  *time.Time
	TotalEarned     decimal.Decimal
	TotalWatches    int
	DailyWatchCount int
	DailyRemaining  int
}

// WatchResult is the outcome of a rewarded ad view.
type WatchResult struct {
	WatchLogID     string
	Reward         decimal.Decimal
	Multiplier     decimal.Decimal
	Energy         decimal.Decimal
	DailyRemaining int
}

// ClaimResult is the outcome of a partner reward claim.
type ClaimResult struct {
	ClaimID     string
	PartnerID   string
	PartnerName string
	Reward      decimal.Decimal
	Energy      decimal.Decimal
}

// RewardStatus lists claimed partners and how many are still open.
type RewardStatus struct {
	ClaimedPartners []string
	Available       int
}

// Stats is the profile summary of a user.
type Stats struct {
	Energy         decimal.Decimal
	TotalWatches   int
	TotalEarned    decimal.Decimal
	SessionCount   int
	TodayWatches   int
	DailyLimit     int
	BoostLevel     int
	Multiplier     decimal.Decimal
	BoostExpiresAt *time.Time
	CountryCode    string
	WatchHistory   []WatchLog
	SessionHistory []SessionLog
}

// Service implements the reward operations.
type Service struct {
	store   Store
	economy economy.Economy
	now     func() time.Time
	newID   func() string
	logger  ledger.OperationLogger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithOperationLogger registers an operation logger.
func WithOperationLogger(logger ledger.OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithIDGenerator overrides watch log id generation.
func WithIDGenerator(newID func() string) ServiceOption {
	return func(service *Service) {
		if newID != nil {
			service.newID = newID
		}
	}
}

// NewService builds a reward service.
func NewService(store Store, rules economy.Economy, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil || now == nil {
		return nil, ErrInvalidServiceConfig
	}
	service := &Service{store: store, economy: rules, now: now, newID: uuid.NewString}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// InitUser creates the user or records a new session. A wallet is only filled
// when none is set.
func (service *Service) InitUser(ctx context.Context, userID string, wallet string, countryCode string) (user User, err error) {
	defer func() {
		ledger.Emit(ctx, service.logger, ledger.OperationLog{Operation: operationInitUser, UserID: userID, Error: err})
	}()
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, ErrInvalidUserID
	}
	err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		now := service.now().UTC()
		existing, lockErr := txStore.LockUser(ctx, userID)
		if errors.Is(lockErr, faults.ErrNotFound) {
			user = User{
				ID:           userID,
				Wallet:       strings.TrimSpace(wallet),
				CountryCode:  strings.ToUpper(strings.TrimSpace(countryCode)),
				Energy:       decimal.Zero,
				TotalEarned:  decimal.Zero,
				SessionCount: 1,
				LastSeenAt:   &now,
				CreatedAt:    now,
			}
			if createErr := txStore.CreateUser(ctx, user); createErr != nil {
				return faults.Infrastructure(createErr)
			}
			return service.recordSession(ctx, txStore, user, now)
		}
		if lockErr != nil {
			return faults.Infrastructure(lockErr)
		}
		existing.SessionCount++
		existing.LastSeenAt = &now
		if existing.Wallet == "" {
			existing.Wallet = strings.TrimSpace(wallet)
		}
		if code := strings.ToUpper(strings.TrimSpace(countryCode)); code != "" {
			existing.CountryCode = code
		}
		if saveErr := txStore.SaveUser(ctx, existing); saveErr != nil {
			return faults.Infrastructure(saveErr)
		}
		user = existing
		return service.recordSession(ctx, txStore, existing, now)
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// Balance reports energy and the effective boost of userID.
func (service *Service) Balance(ctx context.Context, userID string) (Balance, error) {
	user, err := service.store.GetUser(ctx, userID)
	if errors.Is(err, faults.ErrNotFound) {
		return Balance{}, ErrUserNotFound
	}
	if err != nil {
		return Balance{}, faults.Infrastructure(err)
	}
	now := service.now()
	level := service.economy.EffectiveLevel(user.BoostLevel, user.BoostExpiresAt, now)
	expiresAt := user.BoostExpiresAt
	if level == 0 {
		expiresAt = nil
	}
	dailyCount := user.DailyWatchCount
	if user.DailyWatchDate != now.UTC().Format(dayLayout) {
		dailyCount = 0
	}
	return Balance{
		UserID:          user.ID,
		Energy:          user.Energy,
		BoostLevel:      level,
		Multiplier:      service.economy.Multiplier(user.BoostLevel, user.BoostExpiresAt, now),
		BoostExpiresAt:  expiresAt,
		TotalEarned:     user.TotalEarned,
		TotalWatches:    user.TotalWatches,
		DailyWatchCount: dailyCount,
		DailyRemaining:  remaining(service.economy.Ads().DailyLimit, dailyCount),
	}, nil
}

// CompleteAdWatch credits energy for one ad view under the user lock.
func (service *Service) CompleteAdWatch(ctx context.Context, userID string, adID string) (result WatchResult, err error) {
	var creditKey string
	defer func() {
		ledger.Emit(ctx, service.logger, ledger.OperationLog{
			Operation:      operationAdWatch,
			UserID:         userID,
			Amount:         result.Reward,
			IdempotencyKey: creditKey,
			Metadata:       ledger.MarshalMetadata(map[string]any{"adId": adID}),
			Error:          err,
		})
	}()
	adID = strings.TrimSpace(adID)
	if adID == "" {
		return WatchResult{}, ErrInvalidAdID
	}
	rules := service.economy.Ads()
	err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		user, lockErr := txStore.LockUser(ctx, userID)
		if errors.Is(lockErr, faults.ErrNotFound) {
			return ErrUserNotFound
		}
		if lockErr != nil {
			return faults.Infrastructure(lockErr)
		}
		now := service.now().UTC()
		today := now.Format(dayLayout)
		if user.DailyWatchDate != today {
			user.DailyWatchDate = today
			user.DailyWatchCount = 0
		}
		if user.LastWatchAt != nil && rules.Cooldown > 0 {
			if elapsed := now.Sub(*user.LastWatchAt); elapsed < rules.Cooldown {
				return CooldownError{Remaining: rules.Cooldown - elapsed}
			}
		}
		if rules.DailyLimit > 0 && user.DailyWatchCount >= rules.DailyLimit {
			return ErrDailyLimitReached
		}

		baseReward := rules.BaseReward(adID)
		multiplier := service.economy.Multiplier(user.BoostLevel, user.BoostExpiresAt, now)
		reward := baseReward.Mul(multiplier).Round(rewardDecimals)

		user.Energy = user.Energy.Add(reward)
		user.TotalEarned = user.TotalEarned.Add(reward)
		user.TotalWatches++
		user.DailyWatchCount++
		user.LastWatchAt = &now
		user.LastSeenAt = &now
		if saveErr := txStore.SaveUser(ctx, user); saveErr != nil {
			return faults.Infrastructure(saveErr)
		}

		watchLog := WatchLog{
			ID:          service.newID(),
			UserID:      user.ID,
			AdID:        adID,
			Reward:      reward,
			BaseReward:  baseReward,
			Multiplier:  multiplier,
			CountryCode: user.CountryCode,
			CreatedAt:   now,
		}
		if insertErr := txStore.InsertWatchLog(ctx, watchLog); insertErr != nil {
			return faults.Infrastructure(insertErr)
		}
		key, keyErr := ledger.AdWatchKey(watchLog.ID)
		if keyErr != nil {
			return keyErr
		}
		creditKey = key.String()
		entry, entryErr := ledger.NewEntry(user.ID, user.Wallet, ledger.EntryCredit, reward, ledger.CurrencyEnergy, key,
			ledger.MarshalMetadata(map[string]any{"adId": adID, "watchLogId": watchLog.ID, "multiplier": multiplier.String()}), now)
		if entryErr != nil {
			return entryErr
		}
		if _, appendErr := ledger.Append(ctx, txStore, entry); appendErr != nil {
			return faults.Infrastructure(appendErr)
		}
		result = WatchResult{
			WatchLogID:     watchLog.ID,
			Reward:         reward,
			Multiplier:     multiplier,
			Energy:         user.Energy,
			DailyRemaining: remaining(rules.DailyLimit, user.DailyWatchCount),
		}
		return nil
	})
	if err != nil {
		return WatchResult{}, err
	}
	return result, nil
}

// History returns a page of the user's ledger, newest first.
func (service *Service) History(ctx context.Context, userID string, page int, limit int) (ledger.Page, error) {
	result, err := ledger.History(ctx, service.store, userID, ledger.NewPageRequest(page, limit))
	if err != nil {
		return ledger.Page{}, faults.Infrastructure(err)
	}
	return result, nil
}

func (service *Service) recordSession(ctx context.Context, txStore Store, user User, now time.Time) error {
	sessionLog := SessionLog{
		ID:             service.newID(),
		UserID:         user.ID,
		CountryCode:    user.CountryCode,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := txStore.InsertSessionLog(ctx, sessionLog); err != nil {
		return faults.Infrastructure(err)
	}
	return nil
}

// ClaimReward pays a partner reward once per user.
func (service *Service) ClaimReward(ctx context.Context, userID string, partnerID string) (result ClaimResult, err error) {
	var creditKey string
	defer func() {
		ledger.Emit(ctx, service.logger, ledger.OperationLog{
			Operation:      operationClaim,
			UserID:         userID,
			Amount:         result.Reward,
			IdempotencyKey: creditKey,
			Metadata:       ledger.MarshalMetadata(map[string]any{"partnerId": partnerID}),
			Error:          err,
		})
	}()
	partner, ok := service.economy.Partner(strings.TrimSpace(partnerID))
	if !ok {
		return ClaimResult{}, ErrPartnerUnavailable
	}
	err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		user, lockErr := txStore.LockUser(ctx, userID)
		if errors.Is(lockErr, faults.ErrNotFound) {
			return ErrUserNotFound
		}
		if lockErr != nil {
			return faults.Infrastructure(lockErr)
		}
		if user.hasClaimed(partner.ID) {
			return ErrRewardClaimed
		}
		now := service.now().UTC()
		user.ClaimedPartners = append(append([]string(nil), user.ClaimedPartners...), partner.ID)
		user.Energy = user.Energy.Add(partner.Reward)
		user.TotalEarned = user.TotalEarned.Add(partner.Reward)
		user.LastSeenAt = &now
		if saveErr := txStore.SaveUser(ctx, user); saveErr != nil {
			return faults.Infrastructure(saveErr)
		}

		claim := RewardClaim{
			ID:          service.newID(),
			UserID:      user.ID,
			PartnerID:   partner.ID,
			PartnerName: partner.Name,
			Reward:      partner.Reward,
			CreatedAt:   now,
		}
		if insertErr := txStore.InsertRewardClaim(ctx, claim); insertErr != nil {
			return faults.Infrastructure(insertErr)
		}
		key, keyErr := ledger.RewardClaimKey(claim.ID)
		if keyErr != nil {
			return keyErr
		}
		creditKey = key.String()
		entry, entryErr := ledger.NewEntry(user.ID, user.Wallet, ledger.EntryCredit, partner.Reward, ledger.CurrencyEnergy, key,
			ledger.MarshalMetadata(map[string]any{"partnerId": partner.ID, "partnerName": partner.Name, "rewardClaimId": claim.ID}), now)
		if entryErr != nil {
			return entryErr
		}
		if _, appendErr := ledger.Append(ctx, txStore, entry); appendErr != nil {
			return faults.Infrastructure(appendErr)
		}
		result = ClaimResult{
			ClaimID:     claim.ID,
			PartnerID:   partner.ID,
			PartnerName: partner.Name,
			Reward:      partner.Reward,
			Energy:      user.Energy,
		}
		return nil
	})
	if err != nil {
		return ClaimResult{}, err
	}
	return result, nil
}

// RewardStatus reports claimed partners and the count still open.
func (service *Service) RewardStatus(ctx context.Context, userID string) (RewardStatus, error) {
	user, err := service.store.GetUser(ctx, userID)
	if errors.Is(err, faults.ErrNotFound) {
		return RewardStatus{}, ErrUserNotFound
	}
	if err != nil {
		return RewardStatus{}, faults.Infrastructure(err)
	}
	available := 0
	for _, partner := range service.economy.ActivePartners() {
		if !user.hasClaimed(partner.ID) {
			available++
		}
	}
	claimed := user.ClaimedPartners
	if claimed == nil {
		claimed = []string{}
	}
	return RewardStatus{ClaimedPartners: claimed, Available: available}, nil
}

// Stats summarizes totals, boost and recent activity of userID.
func (service *Service) Stats(ctx context.Context, userID string) (Stats, error) {
	user, err := service.store.GetUser(ctx, userID)
	if errors.Is(err, faults.ErrNotFound) {
		return Stats{}, ErrUserNotFound
	}
	if err != nil {
		return Stats{}, faults.Infrastructure(err)
	}
	watches, err := service.store.ListWatchLogs(ctx, user.ID, statsWatchHistory)
	if err != nil {
		return Stats{}, faults.Infrastructure(err)
	}
	sessions, err := service.store.ListSessionLogs(ctx, user.ID, statsSessionHistory)
	if err != nil {
		return Stats{}, faults.Infrastructure(err)
	}
	now := service.now()
	level := service.economy.EffectiveLevel(user.BoostLevel, user.BoostExpiresAt, now)
	expiresAt := user.BoostExpiresAt
	if level == 0 {
		expiresAt = nil
	}
	todayWatches := user.DailyWatchCount
	if user.DailyWatchDate != now.UTC().Format(dayLayout) {
		todayWatches = 0
	}
	return Stats{
		Energy:         user.Energy,
		TotalWatches:   user.TotalWatches,
		TotalEarned:    user.TotalEarned,
		SessionCount:   user.SessionCount,
		TodayWatches:   todayWatches,
		DailyLimit:     service.economy.Ads().DailyLimit,
		BoostLevel:     level,
		Multiplier:     service.economy.Multiplier(user.BoostLevel, user.BoostExpiresAt, now),
		BoostExpiresAt: expiresAt,
		CountryCode:    user.CountryCode,
		WatchHistory:   watches,
		SessionHistory: sessions,
	}, nil
}

func remaining(limit int, used int) int {
	if limit <= used {
		return 0
	}
	return limit - used
}
