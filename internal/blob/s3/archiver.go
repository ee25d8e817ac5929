package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nsavelyev/scalpbot/internal/domain"
)

// Archiver periodically uploads the previous day's completed trades as a
// JSONL object. Archival is observational; a failed upload is retried on the
// next interval and never affects trading.
type Archiver struct {
	writer domain.BlobWriter
	trades domain.TradeStore
	symbol string
	every  time.Duration
	log    *slog.Logger

	// lastDay is the most recent day successfully archived, as a local
	// date string. Guards against re-uploading the same object every tick.
	lastDay string
}

// NewArchiver creates an Archiver for the given symbol. every bounds how
// often the previous day is checked; zero defaults to one hour.
func NewArchiver(writer domain.BlobWriter, trades domain.TradeStore, symbol string, every time.Duration, log *slog.Logger) *Archiver {
	if every <= 0 {
		every = time.Hour
	}
	return &Archiver{
		writer: writer,
		trades: trades,
		symbol: symbol,
		every:  every,
		log:    log.With("component", "archiver"),
	}
}

// Run archives the previous day on startup and then on every interval until
// ctx is canceled.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.every)
	defer ticker.Stop()

	a.archivePrevious(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.archivePrevious(ctx)
		}
	}
}

func (a *Archiver) archivePrevious(ctx context.Context) {
	day := time.Now().AddDate(0, 0, -1)
	key := day.Format("2006-01-02")
	if key == a.lastDay {
		return
	}

	n, err := a.ArchiveDay(ctx, day)
	if err != nil {
		a.log.Error("trade archive failed", "day", key, "error", err)
		return
	}
	a.lastDay = key
	if n > 0 {
		a.log.Info("trade log archived", "day", key, "trades", n)
	}
}

// ArchiveDay uploads all trades whose exit falls on the given calendar day
// to archive/trades/{symbol}/YYYY-MM-DD.jsonl and returns the record count.
// Days with no trades produce no object.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) (int64, error) {
	recs, err := a.trades.ListDay(ctx, a.symbol, day)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive day query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive day marshal: %w", err)
	}

	key := archiveKey(a.symbol, day)
	if err := a.writer.Write(ctx, key, "application/x-ndjson", bytes.NewReader(buf)); err != nil {
		return 0, fmt.Errorf("s3blob: archive day upload: %w", err)
	}

	return int64(len(recs)), nil
}

// archiveKey builds the object key for a day's trade log, partitioned by
// symbol and calendar date.
//
//	archive/trades/BTCUSDT/2026-08-28.jsonl
func archiveKey(symbol string, day time.Time) string {
	return fmt.Sprintf("archive/trades/%s/%s.jsonl", symbol, day.Format("2006-01-02"))
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// line per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
