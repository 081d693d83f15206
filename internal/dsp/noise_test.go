package dsp

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func TestEstimateNoiseExact(t *testing.T) {
	stats, err := EstimateNoise([]complex128{1 + 1i, -1 - 1i}, 0.05)
	if err != nil {
		t.Fatalf("EstimateNoise failed: %v", err)
	}
	if stats.Mean != 0 || math.Abs(stats.StdDev-1) > 1e-12 || stats.Values != 4 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if !(stats.Interval[0] < stats.StdDev && stats.StdDev < stats.Interval[1]) {
		t.Fatalf("interval %v does not bracket %g", stats.Interval, stats.StdDev)
	}
}

func TestEstimateNoiseGaussian(t *testing.T) {
	const sigma = 2.0
	rng := rand.New(rand.NewPCG(31, 32))
	samples := make([]complex128, 20000)
	for i := range samples {
		samples[i] = complex(rng.NormFloat64()*sigma, rng.NormFloat64()*sigma)
	}
	stats, err := EstimateNoise(samples, 1e-6)
	if err != nil {
		t.Fatalf("EstimateNoise failed: %v", err)
	}
	if math.Abs(stats.Mean) > 0.05 {
		t.Fatalf("mean %g too far from zero", stats.Mean)
	}
	if stats.Interval[0] > sigma || stats.Interval[1] < sigma {
		t.Fatalf("interval %v excludes true sigma %g (estimate %g)", stats.Interval, sigma, stats.StdDev)
	}
	if width := stats.Interval[1] - stats.Interval[0]; width > 0.2 {
		t.Fatalf("interval %v unexpectedly wide", stats.Interval)
	}
}

func TestEstimateNoiseInvalid(t *testing.T) {
	tests := []struct {
		name       string
		samples    []complex128
		confidence float64
	}{
		{name: "empty", samples: nil, confidence: 0.1},
		{name: "zero_confidence", samples: []complex128{1, 2}, confidence: 0},
		{name: "unit_confidence", samples: []complex128{1, 2}, confidence: 1},
		{name: "nan_confidence", samples: []complex128{1, 2}, confidence: math.NaN()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EstimateNoise(tt.samples, tt.confidence); !errors.Is(err, ErrInvalidConfiguration) {
				t.Fatalf("expected ErrInvalidConfiguration got %v", err)
			}
		})
	}
}
