package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists completed trade records.
type TradeStore interface {
	Insert(ctx context.Context, rec TradeRecord) error
	List(ctx context.Context, symbol string, opts ListOpts) ([]TradeRecord, error)
	ListDay(ctx context.Context, symbol string, day time.Time) ([]TradeRecord, error)
	Count(ctx context.Context, symbol string) (int64, error)
}

// BookTopCache publishes the latest top-of-book view for monitoring. Writes
// are best effort; a cache failure must never affect trading.
type BookTopCache interface {
	Set(ctx context.Context, top BookTop) error
	Get(ctx context.Context, symbol string) (BookTop, error)
}

// BlobWriter writes an object to blob storage (trade-log archival).
type BlobWriter interface {
	Write(ctx context.Context, key string, contentType string, body io.Reader) error
}

// LockManager provides a cross-process mutual-exclusion primitive. Used to
// guarantee at most one strategy instance per symbol and account.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL and returns an
	// unlock function. Returns ErrLockHeld when another party holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
