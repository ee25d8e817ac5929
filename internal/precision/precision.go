// Package precision converts raw prices and quantities into venue-legal
// increments. All arithmetic goes through shopspring/decimal so that binary
// float drift can never introduce an extra digit past the increment's own
// precision.
package precision

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DecimalPlaces returns the number of significant decimal places implied by
// an increment string, with trailing zeros stripped: "0.0100" -> 2, "1" -> 0.
func DecimalPlaces(increment string) int {
	dot := strings.IndexByte(increment, '.')
	if dot < 0 {
		return 0
	}
	frac := strings.TrimRight(increment[dot+1:], "0")
	return len(frac)
}

// RoundToTickSize rounds price to the nearest multiple of tick, ties away
// from zero, then clamps the result to the tick's own decimal-place count.
func RoundToTickSize(price float64, tick string) (float64, error) {
	t, err := decimal.NewFromString(tick)
	if err != nil {
		return 0, fmt.Errorf("precision: parse tick size %q: %w", tick, err)
	}
	if t.Sign() <= 0 {
		return 0, fmt.Errorf("precision: tick size must be positive, got %q", tick)
	}
	p := decimal.NewFromFloat(price)
	multiples := p.Div(t).Round(0)
	out := multiples.Mul(t).Round(int32(DecimalPlaces(tick)))
	f, _ := out.Float64()
	return f, nil
}

// RoundToStepSize floors qty to the nearest multiple of step. Flooring is
// deliberate: submitted size must never exceed the requested size.
func RoundToStepSize(qty float64, step string) (float64, error) {
	s, err := decimal.NewFromString(step)
	if err != nil {
		return 0, fmt.Errorf("precision: parse step size %q: %w", step, err)
	}
	if s.Sign() <= 0 {
		return 0, fmt.Errorf("precision: step size must be positive, got %q", step)
	}
	q := decimal.NewFromFloat(qty)
	multiples := q.Div(s).Floor()
	out := multiples.Mul(s).Round(int32(DecimalPlaces(step)))
	f, _ := out.Float64()
	return f, nil
}

// FormatPrice rounds price to the tick size and renders it with exactly the
// tick's decimal-place count, ready for the order payload.
func FormatPrice(price float64, tick string) (string, error) {
	rounded, err := RoundToTickSize(price, tick)
	if err != nil {
		return "", err
	}
	return decimal.NewFromFloat(rounded).StringFixed(int32(DecimalPlaces(tick))), nil
}

// FormatQuantity floors qty to the step size and renders it with exactly the
// step's decimal-place count.
func FormatQuantity(qty float64, step string) (string, error) {
	rounded, err := RoundToStepSize(qty, step)
	if err != nil {
		return "", err
	}
	return decimal.NewFromFloat(rounded).StringFixed(int32(DecimalPlaces(step))), nil
}
