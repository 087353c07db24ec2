package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User mirrors the users table shared by auth, settlement and rewards.
type User struct {
	ID              string          `gorm:"primaryKey"`
	Wallet          *string         `gorm:"uniqueIndex:uniq_users_wallet"`
	CountryCode     string          `gorm:"size:8;not null;default:''"`
	Energy          decimal.Decimal `gorm:"type:numeric(30,2);not null;default:0"`
	BoostLevel      int             `gorm:"not null;default:0"`
	BoostExpiresAt  *time.Time
	TotalWatches    int             `gorm:"not null;default:0"`
	TotalEarned     decimal.Decimal `gorm:"type:numeric(30,2);not null;default:0"`
	SessionCount    int             `gorm:"not null;default:0"`
	DailyWatchCount int             `gorm:"not null;default:0"`
	DailyWatchDate  string          `gorm:"size:10;not null;default:''"`
	LastWatchAt     *time.Time
	LastSeenAt      *time.Time
	ClaimedPartners datatypes.JSON `gorm:"not null;default:'[]'"`
	CreatedAt       time.Time      `gorm:"not null"`
	UpdatedAt       time.Time      `gorm:"not null"`
}

func (User) TableName() string { return "users" }

// Order mirrors the orders table.
type Order struct {
	ID                   string          `gorm:"primaryKey"`
	UserID               string          `gorm:"not null;index:idx_orders_user_created,priority:1"`
	BoostLevel           int             `gorm:"not null"`
	TonAmount            decimal.Decimal `gorm:"type:numeric(30,9);not null"`
	Payload              string          `gorm:"not null;uniqueIndex:uniq_orders_payload"`
	MerchantWallet       string          `gorm:"not null"`
	Status               string          `gorm:"size:32;not null;index"`
	TxHash               *string         `gorm:"uniqueIndex:uniq_orders_tx_hash"`
	VerificationAttempts int             `gorm:"not null;default:0"`
	VerificationError    string          `gorm:"not null;default:''"`
	LastPaymentCheck     *time.Time
	LastEvent            datatypes.JSON
	PaidAt               *time.Time
	AppliedBoostLevel    int `gorm:"not null;default:0"`
	BoostExpiresAt       *time.Time
	CreatedAt            time.Time `gorm:"not null;index:idx_orders_user_created,priority:2"`
	UpdatedAt            time.Time `gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

// LedgerEntry mirrors the ledger_entries table.
type LedgerEntry struct {
	EntryID        string          `gorm:"primaryKey"`
	UserID         string          `gorm:"not null;index:idx_ledger_user_created,priority:1"`
	Wallet         string          `gorm:"not null;default:''"`
	Type           string          `gorm:"size:16;not null"`
	Amount         decimal.Decimal `gorm:"type:numeric(30,9);not null"`
	Currency       string          `gorm:"size:8;not null"`
	IdempotencyKey string          `gorm:"not null;uniqueIndex:uniq_ledger_idem_key"`
	Metadata       datatypes.JSON  `gorm:"not null"`
	CreatedAt      time.Time       `gorm:"not null;index:idx_ledger_user_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// NonceChallenge mirrors the nonce_challenges table. Only the nonce digest is stored.
type NonceChallenge struct {
	NonceDigest string    `gorm:"primaryKey"`
	UserID      string    `gorm:"not null;default:''"`
	Wallet      string    `gorm:"not null;default:''"`
	Domain      string    `gorm:"not null;default:''"`
	ExpiresAt   time.Time `gorm:"not null;index"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (NonceChallenge) TableName() string { return "nonce_challenges" }

// AccessToken mirrors the access_tokens table. Only the token hash is stored.
type AccessToken struct {
	TokenHash  string    `gorm:"primaryKey"`
	UserID     string    `gorm:"not null;index"`
	Wallet     string    `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"not null;index"`
	LastUsedAt time.Time `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (AccessToken) TableName() string { return "access_tokens" }

// WatchLog mirrors the watch_logs table.
type WatchLog struct {
	ID          string          `gorm:"primaryKey"`
	UserID      string          `gorm:"not null;index:idx_watch_logs_user_created,priority:1"`
	AdID        string          `gorm:"not null"`
	Reward      decimal.Decimal `gorm:"type:numeric(30,2);not null"`
	BaseReward  decimal.Decimal `gorm:"type:numeric(30,2);not null"`
	Multiplier  decimal.Decimal `gorm:"type:numeric(10,4);not null"`
	CountryCode string          `gorm:"size:8;not null;default:''"`
	CreatedAt   time.Time       `gorm:"not null;index:idx_watch_logs_user_created,priority:2"`
}

func (WatchLog) TableName() string { return "watch_logs" }

// SessionLog mirrors the session_logs table.
type SessionLog struct {
	ID             string    `gorm:"primaryKey"`
	UserID         string    `gorm:"not null;index:idx_session_logs_user_created,priority:1"`
	CountryCode    string    `gorm:"size:8;not null;default:''"`
	CreatedAt      time.Time `gorm:"not null;index:idx_session_logs_user_created,priority:2"`
	LastActivityAt time.Time `gorm:"not null"`
}

func (SessionLog) TableName() string { return "session_logs" }

// RewardClaim mirrors the reward_claims table. A partner pays a user once.
type RewardClaim struct {
	ID          string          `gorm:"primaryKey"`
	UserID      string          `gorm:"not null;uniqueIndex:uniq_reward_claims_user_partner,priority:1"`
	PartnerID   string          `gorm:"not null;uniqueIndex:uniq_reward_claims_user_partner,priority:2"`
	PartnerName string          `gorm:"not null;default:''"`
	Reward      decimal.Decimal `gorm:"type:numeric(30,2);not null"`
	CreatedAt   time.Time       `gorm:"not null"`
}

func (RewardClaim) TableName() string { return "reward_claims" }

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&User{}, &Order{}, &LedgerEntry{}, &NonceChallenge{}, &AccessToken{}, &WatchLog{}, &SessionLog{}, &RewardClaim{}}
}

// AutoMigrate creates or updates the schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

func nullableString(wallet string) *string {
	if wallet == "" {
		return nil
	}
	return &wallet
}

func stringValue(wallet *string) string {
	if wallet == nil {
		return ""
	}
	return *wallet
}
