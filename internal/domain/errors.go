package domain

import (
	"errors"
	"fmt"
)

var (
	ErrStaleBook       = errors.New("book has no data or is stale")
	ErrNoDepth         = errors.New("requested level exceeds available depth")
	ErrInvalidBracket  = errors.New("invalid bracket ordering")
	ErrOrderNotFilled  = errors.New("order not filled")
	ErrCircuitOpen     = errors.New("circuit breaker open")
	ErrAlreadyRunning  = errors.New("a strategy is already running")
	ErrInvalidOrder    = errors.New("invalid order parameters")
	ErrWSDisconnect    = errors.New("websocket disconnected")
	ErrOutcomeUnknown  = errors.New("order outcome unknown")
	ErrMonitorTimedOut = errors.New("monitoring ceiling reached")
	ErrLockHeld        = errors.New("lock already held")
	ErrNotFound        = errors.New("not found")
)

// VenueError is an exchange rejection carrying the venue's numeric error
// code, used to distinguish recoverable rejections (fall back to an alternate
// placement path) from unrecoverable ones (abort the cycle).
type VenueError struct {
	Code    int
	Message string
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("venue error %d: %s", e.Code, e.Message)
}

// VenueCode extracts the venue error code from err, or 0 when err is not a
// VenueError.
func VenueCode(err error) int {
	var ve *VenueError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return 0
}
