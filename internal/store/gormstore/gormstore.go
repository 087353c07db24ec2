// Package gormstore implements the service stores on GORM for PostgreSQL and SQLite.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
	"github.com/MarkoPoloResearchLab/tonboost/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON   = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	lockStrengthUpdate    = "UPDATE"

	errorOperationStore   = "store"
	errorSubjectChallenge = "challenge"
	errorSubjectClaim     = "reward_claim"
	errorSubjectSession   = "session_log"
	errorSubjectEntry     = "entry"
	errorSubjectOrder     = "order"
	errorSubjectToken     = "token"
	errorSubjectUser      = "user"
	errorSubjectWatchLog  = "watch_log"
	errorCodeConsume      = "consume"
	errorCodeCreate       = "create"
	errorCodeDelete       = "delete"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeLock         = "lock"
	errorCodeLookup       = "lookup"
	errorCodePurge        = "purge"
	errorCodeUpdate       = "update"
)

// ledgerTables implements ledger.EntryWriter and ledger.HistoryStore. It is
// embedded by every domain store so all of them append to the same ledger.
type ledgerTables struct {
	db *gorm.DB
}

// InsertEntry inserts a ledger line. An existing idempotency key is reported
// as ledger.ErrDuplicateIdempotencyKey without aborting the transaction.
func (tables ledgerTables) InsertEntry(ctx context.Context, entry ledger.Entry) error {
	row := LedgerEntry{
		EntryID:        entry.EntryID,
		UserID:         entry.UserID,
		Wallet:         entry.Wallet,
		Type:           entry.Type.String(),
		Amount:         entry.Amount,
		Currency:       entry.Currency,
		IdempotencyKey: entry.IdempotencyKey.String(),
		Metadata:       datatypesJSON(entry.Metadata.String()),
		CreatedAt:      entry.CreatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	result := tables.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
		Create(&row)
	if isUniqueViolation(result.Error) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if result.Error != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	return nil
}

// ListEntries returns a user's entries newest first with the total count.
func (tables ledgerTables) ListEntries(ctx context.Context, userID string, offset int, limit int) ([]ledger.Entry, int64, error) {
	var total int64
	if err := tables.db.WithContext(ctx).Model(&LedgerEntry{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	var rows []LedgerEntry
	err := tables.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("entry_id DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, 0, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, total, nil
}

func mapLedgerEntry(row LedgerEntry) (ledger.Entry, error) {
	entryType, err := ledger.ParseEntryType(row.Type)
	if err != nil {
		return ledger.Entry{}, err
	}
	idempotencyKey, err := ledger.NewIdempotencyKey(row.IdempotencyKey)
	if err != nil {
		return ledger.Entry{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return ledger.Entry{}, err
	}
	entry, err := ledger.NewEntry(row.UserID, row.Wallet, entryType, row.Amount, row.Currency, idempotencyKey, metadata, row.CreatedAt)
	if err != nil {
		return ledger.Entry{}, err
	}
	entry.EntryID = row.EntryID
	return entry, nil
}

func lockForUpdate() clause.Locking {
	return clause.Locking{Strength: lockStrengthUpdate}
}

func wrapStoreError(subject string, code string, err error) error {
	return faults.WrapError(errorOperationStore, subject, code, err)
}

// lookupError maps gorm.ErrRecordNotFound to faults.ErrNotFound.
func lookupError(subject string, code string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wrapStoreError(subject, code, faults.ErrNotFound)
	}
	return wrapStoreError(subject, code, err)
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func marshalJSON(value any) (datatypes.JSON, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(encoded), nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
