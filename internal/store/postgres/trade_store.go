package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nsavelyev/scalpbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

var _ domain.TradeStore = (*TradeStore)(nil)

const tradeSelectCols = `id, symbol, direction, entry_time, entry_price,
	quantity, take_profit, stop_loss, exit_time, exit_price,
	result, gross_pnl, fees, net_pnl`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var recs []domain.TradeRecord
	for rows.Next() {
		var r domain.TradeRecord
		if err := rows.Scan(
			&r.ID, &r.Symbol, &r.Direction, &r.EntryTime, &r.EntryPrice,
			&r.Quantity, &r.TakeProfit, &r.StopLoss, &r.ExitTime, &r.ExitPrice,
			&r.Result, &r.GrossPnL, &r.Fees, &r.NetPnL,
		); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Insert persists one completed round-trip. Re-inserting the same record ID
// is a no-op so a retried write after an ambiguous failure stays safe.
func (s *TradeStore) Insert(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (
			id, symbol, direction, entry_time, entry_price,
			quantity, take_profit, stop_loss, exit_time, exit_price,
			result, gross_pnl, fees, net_pnl
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Symbol, rec.Direction, rec.EntryTime, rec.EntryPrice,
		rec.Quantity, rec.TakeProfit, rec.StopLoss, rec.ExitTime, rec.ExitPrice,
		rec.Result, rec.GrossPnL, rec.Fees, rec.NetPnL,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", rec.ID, err)
	}
	return nil
}

// List returns completed trades for a symbol, newest first, with pagination
// and optional time filtering on exit time.
func (s *TradeStore) List(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE symbol = $1`
	args := []any{symbol}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND exit_time >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND exit_time <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY exit_time DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	recs, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return recs, nil
}

// ListDay returns all trades for a symbol whose exit falls on the given
// calendar day in the day's location, in chronological order.
func (s *TradeStore) ListDay(ctx context.Context, symbol string, day time.Time) ([]domain.TradeRecord, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)

	query := `SELECT ` + tradeSelectCols + `
		FROM trades
		WHERE symbol = $1 AND exit_time >= $2 AND exit_time < $3
		ORDER BY exit_time ASC`

	rows, err := s.pool.Query(ctx, query, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("postgres: list day trades: %w", err)
	}
	defer rows.Close()

	recs, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan day trades: %w", err)
	}
	return recs, nil
}

// Count returns the total number of recorded trades for a symbol.
func (s *TradeStore) Count(ctx context.Context, symbol string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM trades WHERE symbol = $1", symbol).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count trades: %w", err)
	}
	return n, nil
}
