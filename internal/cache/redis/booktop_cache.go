package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nsavelyev/scalpbot/internal/domain"
)

// bookTopTTL bounds how long a published top survives without refresh; a
// stalled feed must not leave a stale top looking live.
const bookTopTTL = 30 * time.Second

// BookTopCache implements domain.BookTopCache using one Redis hash per
// symbol.
//
// Key schema:
//
//	booktop:{symbol} - hash with fields bid, ask, mid, spread, update_id, ts
type BookTopCache struct {
	rdb *redis.Client
}

// NewBookTopCache creates a BookTopCache backed by the given Client.
func NewBookTopCache(c *Client) *BookTopCache {
	return &BookTopCache{rdb: c.Underlying()}
}

func bookTopKey(symbol string) string {
	return "booktop:" + symbol
}

// Set replaces the published top for top.Symbol and refreshes its TTL.
func (bc *BookTopCache) Set(ctx context.Context, top domain.BookTop) error {
	key := bookTopKey(top.Symbol)

	pipe := bc.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"bid", strconv.FormatFloat(top.BestBid, 'f', -1, 64),
		"ask", strconv.FormatFloat(top.BestAsk, 'f', -1, 64),
		"mid", strconv.FormatFloat(top.MidPrice, 'f', -1, 64),
		"spread", strconv.FormatFloat(top.Spread, 'f', -1, 64),
		"update_id", strconv.FormatInt(top.LastUpdateID, 10),
		"ts", strconv.FormatInt(top.Timestamp.UnixNano(), 10),
	)
	pipe.Expire(ctx, key, bookTopTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book top %s: %w", top.Symbol, err)
	}
	return nil
}

// Get reads the published top for symbol. It returns domain.ErrNotFound when
// no live top exists.
func (bc *BookTopCache) Get(ctx context.Context, symbol string) (domain.BookTop, error) {
	vals, err := bc.rdb.HGetAll(ctx, bookTopKey(symbol)).Result()
	if err != nil {
		return domain.BookTop{}, fmt.Errorf("redis: get book top %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.BookTop{}, domain.ErrNotFound
	}

	top := domain.BookTop{Symbol: symbol}
	top.BestBid, _ = strconv.ParseFloat(vals["bid"], 64)
	top.BestAsk, _ = strconv.ParseFloat(vals["ask"], 64)
	top.MidPrice, _ = strconv.ParseFloat(vals["mid"], 64)
	top.Spread, _ = strconv.ParseFloat(vals["spread"], 64)
	top.LastUpdateID, _ = strconv.ParseInt(vals["update_id"], 10, 64)
	if tsNano, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		top.Timestamp = time.Unix(0, tsNano)
	}
	return top, nil
}

// Compile-time interface check.
var _ domain.BookTopCache = (*BookTopCache)(nil)
