package domain

import (
	"context"
	"time"
)

// Venue is the order-placement and account interface to the exchange. All
// calls are signed network operations with explicit timeouts; a timed-out
// call must be treated as "outcome unknown" by the caller, which re-queries
// order status rather than assuming success or failure.
type Venue interface {
	// ServerTime returns the venue clock, used once at startup to compute
	// the local clock offset applied to signed request timestamps.
	ServerTime(ctx context.Context) (time.Time, error)

	// SymbolFilters returns the tick/step increments for a symbol.
	SymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error)

	// DepthSnapshot fetches a full book snapshot used to prime the mirror.
	DepthSnapshot(ctx context.Context, symbol string, limit int) (DepthSnapshot, error)

	// PlaceOrder submits an order through the primary order endpoint.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)

	// PlaceAlgoOrder submits a conditional order through the secondary
	// algo-order endpoint, used as a fallback when the primary endpoint
	// rejects the stop order type.
	PlaceAlgoOrder(ctx context.Context, req OrderRequest) (OrderAck, error)

	// QueryOrder returns the current status snapshot for an order.
	QueryOrder(ctx context.Context, symbol string, orderID int64) (OrderState, error)

	// QueryAlgoOrder returns the status snapshot for a conditional order.
	// Algo ids are not valid on the primary endpoint.
	QueryAlgoOrder(ctx context.Context, symbol string, algoID int64) (OrderState, error)

	// CancelOrder cancels a single order.
	CancelOrder(ctx context.Context, symbol string, orderID int64) error

	// CancelAlgoOrder cancels a single conditional order by algo id.
	CancelAlgoOrder(ctx context.Context, symbol string, algoID int64) error

	// CancelAllOrders cancels every open order on the symbol.
	CancelAllOrders(ctx context.Context, symbol string) error

	// PositionRisk returns the current net position for the symbol.
	PositionRisk(ctx context.Context, symbol string) (Position, error)

	// SetLeverage sets the account leverage for the symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}
