package binance

import (
	"encoding/json"

	"github.com/nsavelyev/scalpbot/internal/domain"
)

// Venue error codes the engine reacts to by name. Anything else is treated
// as unrecoverable for the current cycle.
const (
	// CodeStopTypeUnsupported is returned when the primary order endpoint
	// rejects the stop order type; the conditional-order endpoint is the
	// fallback. Fallback is gated on exactly this code, never a broad match.
	CodeStopTypeUnsupported = -4120

	// CodeInsufficientMargin aborts the cycle; no retry will succeed.
	CodeInsufficientMargin = -2019

	// CodeUnknownOrder is returned by cancel/query for an order id the venue
	// no longer knows, typically because it already reached a terminal state.
	CodeUnknownOrder = -2011
)

// apiError is the venue's error payload.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// parseAPIError converts a non-2xx response body into a *domain.VenueError
// when it carries the venue's {code, msg} shape, or nil otherwise.
func parseAPIError(body []byte) *domain.VenueError {
	var ae apiError
	if err := json.Unmarshal(body, &ae); err != nil || ae.Code == 0 {
		return nil
	}
	return &domain.VenueError{Code: ae.Code, Message: ae.Msg}
}
