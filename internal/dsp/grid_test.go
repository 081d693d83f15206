package dsp

import (
	"errors"
	"math"
	"testing"
)

func TestDopplerGrid(t *testing.T) {
	tests := []struct {
		name           string
		min, max, step float64
		expectedLen    int
		expectedFirst  float64
		expectedLast   float64
	}{
		{name: "single", min: 0, max: 0, step: 1, expectedLen: 1, expectedFirst: 0, expectedLast: 0},
		{name: "exact_multiple_includes_max", min: 0, max: 10, step: 5, expectedLen: 3, expectedFirst: 0, expectedLast: 10},
		{name: "not_multiple", min: 0, max: 9, step: 5, expectedLen: 2, expectedFirst: 0, expectedLast: 5},
		{name: "meteor_default", min: -30000, max: 5000, step: 100, expectedLen: 351, expectedFirst: -30000, expectedLast: 5000},
		{name: "negative_range", min: -3, max: -1, step: 1, expectedLen: 3, expectedFirst: -3, expectedLast: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grid, err := DopplerGrid(tt.min, tt.max, tt.step)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(grid) != tt.expectedLen {
				t.Fatalf("expected %d values got %d: %v", tt.expectedLen, len(grid), grid)
			}
			if grid[0] != tt.expectedFirst || grid[len(grid)-1] != tt.expectedLast {
				t.Fatalf("unexpected bounds %g..%g", grid[0], grid[len(grid)-1])
			}
		})
	}
}

// The boundary rule compares against max+step, so rounding can admit a value just past max.
func TestDopplerGridFloatBoundary(t *testing.T) {
	grid, err := DopplerGrid(0, 0.3, 0.1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(grid) != 4 {
		t.Fatalf("expected 4 values got %d: %v", len(grid), grid)
	}
	if math.Abs(grid[3]-0.3) > 1e-12 {
		t.Fatalf("last value %g not at max", grid[3])
	}
}

func TestDopplerGridInvalid(t *testing.T) {
	tests := []struct {
		name           string
		min, max, step float64
	}{
		{name: "zero_step", min: 0, max: 1, step: 0},
		{name: "negative_step", min: 0, max: 1, step: -1},
		{name: "inverted", min: 1, max: 0, step: 1},
		{name: "nan", min: math.NaN(), max: 1, step: 1},
		{name: "inf_step", min: 0, max: 1, step: math.Inf(1)},
		{name: "too_many_bins", min: 0, max: 1, step: 1e-9},
		{name: "step_below_resolution", min: 1e20, max: 1e20, step: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DopplerGrid(tt.min, tt.max, tt.step); !errors.Is(err, ErrInvalidConfiguration) {
				t.Fatalf("expected ErrInvalidConfiguration got %v", err)
			}
		})
	}
}
