package precision

import (
	"math"
	"testing"
)

func TestDecimalPlaces(t *testing.T) {
	tests := []struct {
		increment string
		want      int
	}{
		{"0.1", 1},
		{"0.01", 2},
		{"0.0100", 2},
		{"0.001", 3},
		{"1", 0},
		{"1.0", 0},
		{"10", 0},
		{"0.00000100", 6},
	}

	for _, tt := range tests {
		if got := DecimalPlaces(tt.increment); got != tt.want {
			t.Errorf("DecimalPlaces(%q) = %d, want %d", tt.increment, got, tt.want)
		}
	}
}

func TestRoundToTickSize(t *testing.T) {
	tests := []struct {
		price float64
		tick  string
		want  float64
	}{
		{100.04, "0.1", 100.0},
		{100.05, "0.1", 100.1}, // tie rounds away from zero
		{100.06, "0.1", 100.1},
		{50000.123, "0.10", 50000.1},
		{27123.456, "0.5", 27123.5},
		{0.07, "0.01", 0.07},
		{1234.5678, "1", 1235},
		// Values that drift under binary float math must still land on a
		// legal increment.
		{2.675, "0.01", 2.68},
	}

	for _, tt := range tests {
		got, err := RoundToTickSize(tt.price, tt.tick)
		if err != nil {
			t.Fatalf("RoundToTickSize(%v, %q): %v", tt.price, tt.tick, err)
		}
		if got != tt.want {
			t.Errorf("RoundToTickSize(%v, %q) = %v, want %v", tt.price, tt.tick, got, tt.want)
		}
	}
}

func TestRoundToTickSizeRejectsBadTick(t *testing.T) {
	for _, tick := range []string{"", "abc", "0", "-0.1"} {
		if _, err := RoundToTickSize(100, tick); err == nil {
			t.Errorf("RoundToTickSize(100, %q): expected error", tick)
		}
	}
}

func TestRoundToStepSizeFloors(t *testing.T) {
	tests := []struct {
		qty  float64
		step string
		want float64
	}{
		{0.0019, "0.001", 0.001},
		{0.001999, "0.001", 0.001},
		{0.002, "0.001", 0.002},
		{1.23456, "0.01", 1.23},
		{5.999, "1", 5},
		{0.0009, "0.001", 0},
	}

	for _, tt := range tests {
		got, err := RoundToStepSize(tt.qty, tt.step)
		if err != nil {
			t.Fatalf("RoundToStepSize(%v, %q): %v", tt.qty, tt.step, err)
		}
		if got != tt.want {
			t.Errorf("RoundToStepSize(%v, %q) = %v, want %v", tt.qty, tt.step, got, tt.want)
		}
		if got > tt.qty {
			t.Errorf("RoundToStepSize(%v, %q) = %v exceeds input", tt.qty, tt.step, got)
		}
	}
}

func TestRoundToStepSizeNeverExceedsInput(t *testing.T) {
	// Sweep a range of awkward quantities; the floored result must always be
	// an exact multiple of the step and never above the input.
	step := "0.001"
	for i := 0; i < 1000; i++ {
		qty := 0.0001 * float64(i) * 1.37
		got, err := RoundToStepSize(qty, step)
		if err != nil {
			t.Fatalf("RoundToStepSize(%v): %v", qty, err)
		}
		if got > qty+1e-12 {
			t.Fatalf("RoundToStepSize(%v) = %v exceeds input", qty, got)
		}
		units := got / 0.001
		if math.Abs(units-math.Round(units)) > 1e-6 {
			t.Fatalf("RoundToStepSize(%v) = %v is not a multiple of %s", qty, got, step)
		}
	}
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		price float64
		tick  string
		want  string
	}{
		{50000.123, "0.10", "50000.1"},
		{100.05, "0.1", "100.1"},
		{1234.5678, "1", "1235"},
	}

	for _, tt := range tests {
		got, err := FormatPrice(tt.price, tt.tick)
		if err != nil {
			t.Fatalf("FormatPrice(%v, %q): %v", tt.price, tt.tick, err)
		}
		if got != tt.want {
			t.Errorf("FormatPrice(%v, %q) = %q, want %q", tt.price, tt.tick, got, tt.want)
		}
	}
}

func TestFormatQuantity(t *testing.T) {
	got, err := FormatQuantity(0.0019, "0.001")
	if err != nil {
		t.Fatalf("FormatQuantity: %v", err)
	}
	if got != "0.001" {
		t.Errorf("FormatQuantity(0.0019, 0.001) = %q, want %q", got, "0.001")
	}
}
