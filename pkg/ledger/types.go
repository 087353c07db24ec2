// Package ledger models the append-only economic ledger. Every entry carries a
// globally unique idempotency key; inserting a key twice is a no-op.
package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
	"github.com/shopspring/decimal"
)

// Domain-level error values returned by the ledger package.
var (
	ErrDuplicateIdempotencyKey = fmt.Errorf("duplicate idempotency key")
	ErrInvalidUserID           = fmt.Errorf("%w: invalid user id", faults.ErrInvalidInput)
	ErrInvalidIdempotencyKey   = fmt.Errorf("%w: invalid idempotency key", faults.ErrInvalidInput)
	ErrInvalidAmount           = fmt.Errorf("%w: invalid amount", faults.ErrInvalidInput)
	ErrInvalidEntryType        = fmt.Errorf("%w: invalid entry type", faults.ErrInvalidInput)
	ErrInvalidMetadataJSON     = fmt.Errorf("%w: invalid metadata json", faults.ErrInvalidInput)
)

// Currency codes recorded on entries.
const (
	CurrencyTON    = "TON"
	CurrencyEnergy = "CL"
)

// EntryType enumerates ledger entry kinds.
type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

// ParseEntryType validates a stored entry type.
func ParseEntryType(raw string) (EntryType, error) {
	switch EntryType(raw) {
	case EntryCredit, EntryDebit:
		return EntryType(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryType, raw)
	}
}

// String returns the stored representation.
func (entryType EntryType) String() string {
	return string(entryType)
}

// IdempotencyKey scopes duplicate detection.
type IdempotencyKey struct {
	value string
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// MetadataJSON stores arbitrary entry metadata.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// MarshalMetadata encodes a metadata map, falling back to "{}".
func MarshalMetadata(metadata map[string]any) MetadataJSON {
	if len(metadata) == 0 {
		return MetadataJSON{value: "{}"}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return MetadataJSON{value: "{}"}
	}
	return MetadataJSON{value: string(raw)}
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// Entry is a single immutable line in the ledger.
type Entry struct {
	EntryID        string
	UserID         string
	Wallet         string
	Amount         decimal.Decimal
	Currency       string
	Type           EntryType
	IdempotencyKey IdempotencyKey
	Metadata       MetadataJSON
	CreatedAt      time.Time
}

// NewEntry validates the inputs of a ledger line. EntryID is assigned by the store.
func NewEntry(userID string, wallet string, entryType EntryType, amount decimal.Decimal, currency string, idempotencyKey IdempotencyKey, metadata MetadataJSON, createdAt time.Time) (Entry, error) {
	if strings.TrimSpace(userID) == "" {
		return Entry{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if _, err := ParseEntryType(entryType.String()); err != nil {
		return Entry{}, err
	}
	if !amount.IsPositive() {
		return Entry{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if idempotencyKey.String() == "" {
		return Entry{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	if strings.TrimSpace(currency) == "" {
		currency = CurrencyTON
	}
	return Entry{
		UserID:         strings.TrimSpace(userID),
		Wallet:         strings.TrimSpace(wallet),
		Amount:         amount,
		Currency:       currency,
		Type:           entryType,
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
		CreatedAt:      createdAt.UTC(),
	}, nil
}
