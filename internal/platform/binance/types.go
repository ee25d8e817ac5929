package binance

import (
	"fmt"
	"strconv"

	"github.com/nsavelyev/scalpbot/internal/domain"
)

// serverTimeResponse is the /time payload.
type serverTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

// exchangeInfoResponse is the subset of /exchangeInfo we consume.
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize"`
			StepSize   string `json:"stepSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

// depthResponse is the REST depth snapshot payload.
type depthResponse struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// orderResponse is the order placement/query payload shared by the primary
// and conditional endpoints.
type orderResponse struct {
	OrderID     int64  `json:"orderId"`
	AlgoOrderID int64  `json:"algoId"`
	Status      string `json:"status"`
	Price       string `json:"price"`
	AvgPrice    string `json:"avgPrice"`
	OrigQty     string `json:"origQty"`
	ExecutedQty string `json:"executedQty"`
	UpdateTime  int64  `json:"updateTime"`
}

// positionRiskEntry is one element of the /positionRisk payload.
type positionRiskEntry struct {
	Symbol      string `json:"symbol"`
	PositionAmt string `json:"positionAmt"`
	EntryPrice  string `json:"entryPrice"`
}

// wsDepthEvent is the partial-depth stream payload. The venue sends the full
// visible level arrays on every message.
type wsDepthEvent struct {
	EventType     string      `json:"e"`
	EventTime     int64       `json:"E"`
	Symbol        string      `json:"s"`
	FirstUpdateID int64       `json:"U"`
	FinalUpdateID int64       `json:"u"`
	Bids          [][2]string `json:"b"`
	Asks          [][2]string `json:"a"`
}

// parseLevels converts the venue's [price, qty] string pairs into price
// levels, preserving order.
func parseLevels(raw [][2]string) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			return nil, fmt.Errorf("binance: parse level price %q: %w", pair[0], err)
		}
		qty, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			return nil, fmt.Errorf("binance: parse level qty %q: %w", pair[1], err)
		}
		out = append(out, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return out, nil
}

// parseFloat parses a venue decimal string, treating empty as zero.
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
