package domain

import "time"

// Side indicates whether an order buys or sells the base asset.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType is the venue order type.
type OrderType string

const (
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
)

// TimeInForce controls how long an order rests.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
	// TimeInForceGTX is post-only: the order is rejected instead of ever
	// executing as a taker.
	TimeInForceGTX TimeInForce = "GTX"
)

// OrderStatus is the venue-reported lifecycle status of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether the status is final: the venue will never change
// it again.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// OrderRequest is a new-order submission.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Price       string // formatted to tick size; empty for MARKET
	Quantity    string // formatted to step size
	StopPrice   string // trigger price for STOP_MARKET; empty otherwise
	TimeInForce TimeInForce
	ReduceOnly  bool
}

// OrderAck is the venue response to a placement call.
type OrderAck struct {
	OrderID     int64
	AlgoOrderID int64 // set when the conditional-order endpoint was used
	Status      OrderStatus
	AvgPrice    float64
	ExecutedQty float64
}

// OrderState is a point-in-time status snapshot returned by a query.
type OrderState struct {
	OrderID     int64
	Status      OrderStatus
	Price       float64
	AvgPrice    float64
	OrigQty     float64
	ExecutedQty float64
	UpdateTime  time.Time
}

// TrackedOrder is one logical order (entry, take-profit, or stop) owned by
// the orchestrator that placed it. The orchestrator is the sole writer of its
// bookkeeping fields; the order is dropped once a terminal status is observed
// or the cycle is abandoned.
type TrackedOrder struct {
	OrderID     int64
	AlgoOrderID int64
	Symbol      string
	Side        Side
	Type        OrderType
	Price       float64
	Quantity    float64
	Status      OrderStatus
	ReduceOnly  bool
	PlacedAt    time.Time
}

// ID returns the identity used for queries: the regular order id, or the algo
// order id when the order went through the conditional-order endpoint.
func (o TrackedOrder) ID() int64 {
	if o.OrderID != 0 {
		return o.OrderID
	}
	return o.AlgoOrderID
}

// Algo reports whether the order lives on the conditional-order endpoint.
// Algo ids are a separate namespace: queries and cancels for such orders must
// go through the algo endpoint, never the primary one.
func (o TrackedOrder) Algo() bool {
	return o.OrderID == 0 && o.AlgoOrderID != 0
}

// Position is the venue-reported net position for a symbol. PositionAmt is
// signed: positive long, negative short.
type Position struct {
	Symbol      string
	PositionAmt float64
	EntryPrice  float64
}

// SymbolFilters holds the venue's price and quantity increments for a symbol.
type SymbolFilters struct {
	Symbol   string
	TickSize string // decimal string, e.g. "0.10"
	StepSize string // decimal string, e.g. "0.001"
}
