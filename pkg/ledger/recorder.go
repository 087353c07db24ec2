package ledger

import (
	"context"
	"errors"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// EntryWriter inserts ledger lines. Implementations return
// ErrDuplicateIdempotencyKey when the key already exists.
type EntryWriter interface {
	InsertEntry(ctx context.Context, entry Entry) error
}

// HistoryStore lists a user's entries newest first.
type HistoryStore interface {
	ListEntries(ctx context.Context, userID string, offset int, limit int) ([]Entry, int64, error)
}

// Append inserts entry and reports whether it was newly applied.
// A duplicate idempotency key means the event was already recorded.
func Append(ctx context.Context, writer EntryWriter, entry Entry) (bool, error) {
	err := writer.InsertEntry(ctx, entry)
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PageRequest is a normalized history page selector.
type PageRequest struct {
	Page  int
	Limit int
}

// NewPageRequest clamps page to >= 1 and limit to [1, 100], defaulting to 20.
func NewPageRequest(page int, limit int) PageRequest {
	if page < 1 {
		page = 1
	}
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	return PageRequest{Page: page, Limit: limit}
}

// Offset returns the number of rows to skip.
func (request PageRequest) Offset() int {
	return (request.Page - 1) * request.Limit
}

// Page is one page of ledger history.
type Page struct {
	Entries []Entry
	Page    int
	Limit   int
	Total   int64
	HasNext bool
}

// History lists ledger entries for a user.
func History(ctx context.Context, store HistoryStore, userID string, request PageRequest) (Page, error) {
	entries, total, err := store.ListEntries(ctx, userID, request.Offset(), request.Limit)
	if err != nil {
		return Page{}, err
	}
	return Page{
		Entries: entries,
		Page:    request.Page,
		Limit:   request.Limit,
		Total:   total,
		HasNext: int64(request.Offset()+len(entries)) < total,
	}, nil
}
