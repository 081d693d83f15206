package dsp

import (
	"math"
	"testing"
)

func TestSignalEnergyRegimes(t *testing.T) {
	signal := []complex128{1, 2, 3, 4, 5}
	got := SignalEnergy(nil, signal, 2)
	expected := []float64{5, 5, 5, 13, 25, 41, 41}
	if len(got) != len(expected) {
		t.Fatalf("expected %d energies got %d", len(expected), len(got))
	}
	for i := range expected {
		if math.Abs(got[i]-expected[i]) > 1e-12 {
			t.Fatalf("index %d expected %g got %g", i, expected[i], got[i])
		}
	}
}

func TestSignalEnergyComplexMagnitude(t *testing.T) {
	got := SignalEnergy(nil, []complex128{3 + 4i, 0, 1i}, 1)
	expected := []float64{25, 25, 0, 1}
	for i := range expected {
		if math.Abs(got[i]-expected[i]) > 1e-12 {
			t.Fatalf("index %d expected %g got %g", i, expected[i], got[i])
		}
	}
}

func TestGuardEnergy(t *testing.T) {
	tests := []struct {
		in, expected float64
	}{
		{in: 0, expected: 1},
		{in: EnergyEpsilon / 2, expected: 1},
		{in: -EnergyEpsilon / 2, expected: 1},
		{in: EnergyEpsilon, expected: EnergyEpsilon},
		{in: 42, expected: 42},
	}
	for _, tt := range tests {
		if got := GuardEnergy(tt.in); got != tt.expected {
			t.Fatalf("GuardEnergy(%g) = %g want %g", tt.in, got, tt.expected)
		}
	}
}

func TestSignalNormScaled(t *testing.T) {
	got := SignalNorm(nil, []complex128{3e200, 4e200i, 0}, 2)
	expected := []float64{5e200, 5e200, 5e200, 4e200, 4e200}
	for i := range expected {
		if math.Abs(got[i]-expected[i]) > 1e-12*expected[i] {
			t.Fatalf("index %d expected %g got %g", i, expected[i], got[i])
		}
	}
}

func TestGuardNorm(t *testing.T) {
	tests := []struct {
		in, expected float64
	}{
		{in: 0, expected: 1},
		{in: 1e-4, expected: 1},
		{in: 1e-3, expected: 1e-3},
		{in: 1e300, expected: 1e300},
	}
	for _, tt := range tests {
		if got := GuardNorm(tt.in); got != tt.expected {
			t.Fatalf("GuardNorm(%g) = %g want %g", tt.in, got, tt.expected)
		}
	}
}

func TestNormalizePower(t *testing.T) {
	decoded := []complex128{2, 3i, 0, 1 + 1i}
	norms := []float64{0, 3, 0, math.Sqrt2}
	got := NormalizePower(nil, decoded, norms, 1)
	// A silent window falls back to the raw power.
	expected := []float64{4, 1, 0, 1}
	for i := range expected {
		if math.Abs(got[i]-expected[i]) > 1e-12 {
			t.Fatalf("index %d expected %g got %g", i, expected[i], got[i])
		}
	}

	zeroCode := NormalizePower(nil, []complex128{0, 0}, []float64{0, 0}, 0)
	for i, v := range zeroCode {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("index %d not finite: %g", i, v)
		}
	}

	huge := NormalizePower(nil, []complex128{4e300, 1e300}, []float64{2e300, 2e300}, 2)
	if math.Abs(huge[0]-1) > 1e-12 || math.Abs(huge[1]-0.0625) > 1e-12 {
		t.Fatalf("expected [1 0.0625] got %v", huge)
	}
}

func TestReplicaEnergy(t *testing.T) {
	rep := BuildReplica(nil, []float64{1, -1, 1, 1, 1, -1, -1, 1, 1, -1, 1, -1, 1}, 1234, 6e-6)
	if got := ReplicaEnergy(rep); math.Abs(got-13) > 1e-9 {
		t.Fatalf("expected energy 13 got %g", got)
	}
}
