package gormstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/economy"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/ledger"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/rewards"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/settlement"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/walletauth"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testWallet   = "0:83dfd552e63729b472fcbcc8c45ebcc6691702558b68ec7527e1ba403a0f31a8"
	testMerchant = "0:a3935861f79daf59a13d6d182e1640210c02f98e3df18fda74b8f5ab141abf18"
	testTxHash   = "9a1f6b1e0c9dd6bc0b6fa0b2e0f1a7b5c3d2e1f0a9b8c7d6e5f4a3b2c1d0e9f8"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(t.TempDir()+"/boost.db"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("sqlite open failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate failed: %v", err)
	}
	return db
}

func mustEntry(t *testing.T, userID string, key string, amount string, createdAt time.Time) ledger.Entry {
	t.Helper()
	idempotencyKey, err := ledger.NewIdempotencyKey(key)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	entry, err := ledger.NewEntry(userID, testWallet, ledger.EntryCredit, decimal.RequireFromString(amount), ledger.CurrencyEnergy, idempotencyKey,
		ledger.MarshalMetadata(map[string]any{"source": "test"}), createdAt)
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	return entry
}

func TestLedgerTablesRejectDuplicateKeysAndPage(t *testing.T) {
	t.Parallel()
	tables := ledgerTables{db: openTestDB(t)}
	ctx := context.Background()
	base := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)

	for index, key := range []string{"ad:1", "ad:2", "ad:3"} {
		if err := tables.InsertEntry(ctx, mustEntry(t, "user-1", key, "10.5", base.Add(time.Duration(index)*time.Minute))); err != nil {
			t.Fatalf("insert %s: %v", key, err)
		}
	}
	err := tables.InsertEntry(ctx, mustEntry(t, "user-1", "ad:2", "99", base))
	if !errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}
	applied, err := ledger.Append(ctx, tables, mustEntry(t, "user-1", "ad:3", "1", base))
	if err != nil || applied {
		t.Fatalf("expected duplicate to be treated as applied, got %v %v", applied, err)
	}

	entries, total, err := tables.ListEntries(ctx, "user-1", 0, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(entries) != 2 {
		t.Fatalf("expected 2 of 3 entries, got %d of %d", len(entries), total)
	}
	if entries[0].IdempotencyKey.String() != "ad:3" || entries[1].IdempotencyKey.String() != "ad:2" {
		t.Fatalf("expected newest first, got %s %s", entries[0].IdempotencyKey, entries[1].IdempotencyKey)
	}
	if !entries[0].Amount.Equal(decimal.RequireFromString("10.5")) || entries[0].EntryID == "" || entries[0].Currency != ledger.CurrencyEnergy {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
}

func TestAuthStoreChallengesAreSingleUse(t *testing.T) {
	t.Parallel()
	store := NewAuthStore(openTestDB(t))
	ctx := context.Background()
	now := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)

	challenge := walletauth.Challenge{NonceDigest: "digest-1", UserID: "user-1", Domain: "example.com", ExpiresAt: now.Add(time.Minute), CreatedAt: now}
	if err := store.SaveChallenge(ctx, challenge); err != nil {
		t.Fatalf("save: %v", err)
	}
	consumed, err := store.ConsumeChallenge(ctx, "digest-1")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if consumed.UserID != "user-1" || consumed.Domain != "example.com" || !consumed.ExpiresAt.Equal(challenge.ExpiresAt) {
		t.Fatalf("unexpected challenge %+v", consumed)
	}
	if _, err := store.ConsumeChallenge(ctx, "digest-1"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected second consume to miss, got %v", err)
	}
}

func TestAuthStoreTokensAndWalletBinding(t *testing.T) {
	t.Parallel()
	store := NewAuthStore(openTestDB(t))
	ctx := context.Background()
	now := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)

	if _, err := store.UpsertWalletUser(ctx, "user-1", testWallet, now); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	found, err := store.FindUserByWallet(ctx, testWallet)
	if err != nil || found.UserID != "user-1" {
		t.Fatalf("expected user-1, got %+v %v", found, err)
	}
	if _, err := store.UpsertWalletUser(ctx, "user-2", testWallet, now); !errors.Is(err, walletauth.ErrWalletTaken) {
		t.Fatalf("expected ErrWalletTaken, got %v", err)
	}
	if _, err := store.FindUserByWallet(ctx, testMerchant); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	record := walletauth.TokenRecord{TokenHash: "hash-1", UserID: "user-1", Wallet: testWallet, ExpiresAt: now.Add(time.Hour), LastUsedAt: now, CreatedAt: now}
	if err := store.SaveToken(ctx, record); err != nil {
		t.Fatalf("save token: %v", err)
	}
	if err := store.TouchToken(ctx, "hash-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("touch: %v", err)
	}
	loaded, err := store.GetToken(ctx, "hash-1")
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if !loaded.LastUsedAt.Equal(now.Add(time.Minute)) || loaded.Wallet != testWallet {
		t.Fatalf("unexpected token %+v", loaded)
	}

	expired := walletauth.TokenRecord{TokenHash: "hash-2", UserID: "user-1", Wallet: testWallet, ExpiresAt: now.Add(-time.Second), LastUsedAt: now, CreatedAt: now}
	if err := store.SaveToken(ctx, expired); err != nil {
		t.Fatalf("save expired token: %v", err)
	}
	removed, err := store.PurgeExpired(ctx, now)
	if err != nil || removed != 1 {
		t.Fatalf("expected one purged row, got %d %v", removed, err)
	}

	if err := store.DeleteToken(ctx, "hash-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetToken(ctx, "hash-1"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuthStoreKeepsBoundWallet(t *testing.T) {
	t.Parallel()
	store := NewAuthStore(openTestDB(t))
	ctx := context.Background()
	now := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)

	if _, err := store.UpsertWalletUser(ctx, "user-1", testWallet, now); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := store.UpsertWalletUser(ctx, "user-1", testWallet, now.Add(time.Hour)); err != nil {
		t.Fatalf("re-upsert with the same wallet: %v", err)
	}
	_, err := store.UpsertWalletUser(ctx, "user-1", testMerchant, now)
	if !errors.Is(err, walletauth.ErrWalletTaken) || !errors.Is(err, faults.ErrConflict) {
		t.Fatalf("expected ErrWalletTaken, got %v", err)
	}
	found, err := store.FindUserByWallet(ctx, testWallet)
	if err != nil || found.UserID != "user-1" {
		t.Fatalf("expected user-1 to keep its wallet, got %+v %v", found, err)
	}
	if _, err := store.FindUserByWallet(ctx, testMerchant); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected the second wallet to stay unbound, got %v", err)
	}
}

func TestSettlementStoreOrderRoundTrip(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	store := NewSettlementStore(db)
	ctx := context.Background()
	now := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)
	if _, err := NewAuthStore(db).UpsertWalletUser(ctx, "user-1", testWallet, now); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	order := settlement.Order{
		ID:             "order-1",
		UserID:         "user-1",
		BoostLevel:     2,
		TonAmount:      decimal.RequireFromString("0.7"),
		Payload:        "payload-1",
		MerchantWallet: testMerchant,
		Status:         settlement.StatusPending,
		CreatedAt:      now,
	}
	if err := store.CreateOrder(ctx, order); err != nil {
		t.Fatalf("create: %v", err)
	}
	order.Status = settlement.StatusPendingVerification
	order.VerificationAttempts = 1
	order.TxHash = testTxHash
	order.LastEvent = &settlement.PaymentEvent{ID: 1, Status: "submitted", ReceivedAt: now, Wallet: testWallet, Amount: decimal.RequireFromString("0.7")}
	if err := store.UpdateOrder(ctx, order); err != nil {
		t.Fatalf("update: %v", err)
	}

	loaded, err := store.FindOrderByTxHash(ctx, testTxHash)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if loaded.Status != settlement.StatusPendingVerification || !loaded.TonAmount.Equal(order.TonAmount) {
		t.Fatalf("unexpected order %+v", loaded)
	}
	if loaded.LastEvent == nil || loaded.LastEvent.Status != "submitted" || !loaded.LastEvent.Amount.Equal(order.TonAmount) {
		t.Fatalf("unexpected last event %+v", loaded.LastEvent)
	}

	other := order
	other.ID = "order-2"
	other.Payload = "payload-2"
	other.TxHash = ""
	other.LastEvent = nil
	if err := store.CreateOrder(ctx, other); err != nil {
		t.Fatalf("create other: %v", err)
	}
	other.TxHash = testTxHash
	if err := store.UpdateOrder(ctx, other); !errors.Is(err, settlement.ErrTxHashReused) {
		t.Fatalf("expected ErrTxHashReused, got %v", err)
	}
	if _, err := store.GetOrder(ctx, "missing"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type acceptingVerifier struct{}

func (acceptingVerifier) VerifyTransfer(context.Context, settlement.TransferQuery) (bool, error) {
	return true, nil
}

func TestSettlementEngineOnStoreDebitsOnce(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)
	if _, err := NewAuthStore(db).UpsertWalletUser(ctx, "user-1", testWallet, now); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	store := NewSettlementStore(db)
	engine, err := settlement.NewEngine(store, acceptingVerifier{}, economy.Default(), testMerchant, settlement.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	created, err := engine.CreateOrder(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	first, err := engine.ConfirmOrder(ctx, "user-1", created.OrderID, testTxHash)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	second, err := engine.ConfirmOrder(ctx, "user-1", created.OrderID, testTxHash)
	if err != nil {
		t.Fatalf("confirm again: %v", err)
	}
	if first.AlreadyPaid || !second.AlreadyPaid || second.BoostLevel != 2 {
		t.Fatalf("unexpected results %+v %+v", first, second)
	}

	entries, total, err := store.ListEntries(ctx, "user-1", 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || entries[0].Type != ledger.EntryDebit || entries[0].IdempotencyKey.String() != "order:confirm:"+created.OrderID {
		t.Fatalf("expected one confirm debit, got %d %+v", total, entries)
	}
	user, err := store.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.BoostLevel != 2 || user.BoostExpiresAt == nil || !user.BoostExpiresAt.Equal(now.Add(14*24*time.Hour)) {
		t.Fatalf("unexpected boost %+v", user)
	}
}

func TestRewardStoreWithService(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	store := NewRewardStore(db)
	ctx := context.Background()
	now := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)
	service, err := rewards.NewService(store, economy.Default(), func() time.Time { return now })
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	if _, err := service.InitUser(ctx, "user-1", testWallet, "fr"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := service.InitUser(ctx, "user-2", testWallet, ""); !errors.Is(err, faults.ErrConflict) {
		t.Fatalf("expected wallet conflict, got %v", err)
	}
	result, err := service.CompleteAdWatch(ctx, "user-1", "banner")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if !result.Energy.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected energy %s", result.Energy)
	}
	balance, err := service.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Energy.Equal(decimal.NewFromInt(10)) || balance.TotalWatches != 1 || balance.DailyWatchCount != 1 {
		t.Fatalf("unexpected balance %+v", balance)
	}
	page, err := service.History(ctx, "user-1", 1, 20)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if page.Total != 1 || page.Entries[0].IdempotencyKey.String() != "ad:"+result.WatchLogID {
		t.Fatalf("unexpected history %+v", page)
	}
	var logs int64
	if err := db.Model(&WatchLog{}).Where("user_id = ?", "user-1").Count(&logs).Error; err != nil || logs != 1 {
		t.Fatalf("expected one watch log, got %d %v", logs, err)
	}
}

func TestRewardStoreClaimsAndStats(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	store := NewRewardStore(db)
	ctx := context.Background()
	now := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	service, err := rewards.NewService(store, economy.Default(), clock)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	for session := 0; session < 2; session++ {
		if _, err := service.InitUser(ctx, "user-1", testWallet, "fr"); err != nil {
			t.Fatalf("init %d: %v", session, err)
		}
		now = now.Add(time.Hour)
	}
	if _, err := service.CompleteAdWatch(ctx, "user-1", "banner"); err != nil {
		t.Fatalf("watch: %v", err)
	}
	now = now.Add(time.Minute)

	claim, err := service.ClaimReward(ctx, "user-1", "telegram_crypto_insights")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claim.Energy.Equal(decimal.NewFromInt(760)) {
		t.Fatalf("unexpected energy after claim %s", claim.Energy)
	}
	if _, err := service.ClaimReward(ctx, "user-1", "telegram_crypto_insights"); !errors.Is(err, rewards.ErrRewardClaimed) {
		t.Fatalf("expected ErrRewardClaimed, got %v", err)
	}
	if err := store.InsertRewardClaim(ctx, rewards.RewardClaim{ID: "dup", UserID: "user-1", PartnerID: "telegram_crypto_insights", Reward: decimal.NewFromInt(1), CreatedAt: now}); !errors.Is(err, faults.ErrConflict) {
		t.Fatalf("expected unique claim per partner, got %v", err)
	}

	status, err := service.RewardStatus(ctx, "user-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status.ClaimedPartners) != 1 || status.ClaimedPartners[0] != "telegram_crypto_insights" || status.Available != 3 {
		t.Fatalf("unexpected status %+v", status)
	}
	stats, err := service.Stats(ctx, "user-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.SessionCount != 2 || len(stats.SessionHistory) != 2 || len(stats.WatchHistory) != 1 || stats.TodayWatches != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if !stats.SessionHistory[0].CreatedAt.After(stats.SessionHistory[1].CreatedAt) {
		t.Fatalf("expected newest session first, got %+v", stats.SessionHistory)
	}
	if !stats.TotalEarned.Equal(decimal.NewFromInt(760)) {
		t.Fatalf("unexpected total earned %s", stats.TotalEarned)
	}
	page, err := service.History(ctx, "user-1", 1, 20)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if page.Total != 2 || page.Entries[0].IdempotencyKey.String() != "reward:"+claim.ClaimID {
		t.Fatalf("unexpected history %+v", page)
	}
}
