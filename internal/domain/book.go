package domain

import "time"

// PriceLevel is a single price+quantity entry on one side of the book.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// DepthSnapshot is a full order-book snapshot for a symbol. Bids are sorted
// descending by price, asks ascending, as delivered by the venue.
type DepthSnapshot struct {
	Symbol       string
	Bids         []PriceLevel
	Asks         []PriceLevel
	LastUpdateID int64
}

// DepthDiff is an incremental partial-depth update. This venue's partial-depth
// stream replaces the entire visible level arrays per message rather than
// merging individual levels.
type DepthDiff struct {
	Symbol        string
	Bids          []PriceLevel
	Asks          []PriceLevel
	FirstUpdateID int64
	FinalUpdateID int64
	EventTime     time.Time
}

// BookTop is the condensed top-of-book view published for monitoring.
type BookTop struct {
	Symbol       string
	BestBid      float64
	BestAsk      float64
	MidPrice     float64
	Spread       float64
	LastUpdateID int64
	Timestamp    time.Time
}
