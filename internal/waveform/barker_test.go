package waveform

import "testing"

func TestBarkerSidelobes(t *testing.T) {
	for _, n := range BarkerLengths() {
		code, err := Barker(n)
		if err != nil {
			t.Fatalf("Barker(%d) failed: %v", n, err)
		}
		if len(code) != n {
			t.Fatalf("Barker(%d) has %d chips", n, len(code))
		}
		// Aperiodic autocorrelation sidelobes of a Barker code never exceed 1.
		for lag := 1; lag < n; lag++ {
			var sum float64
			for i := 0; i+lag < n; i++ {
				sum += code[i] * code[i+lag]
			}
			if sum > 1 || sum < -1 {
				t.Fatalf("Barker(%d) sidelobe %g at lag %d", n, sum, lag)
			}
		}
	}
}

func TestBarkerReturnsCopy(t *testing.T) {
	a, _ := Barker(13)
	a[0] = 42
	b, _ := Barker(13)
	if b[0] != 1 {
		t.Fatalf("Barker shares backing storage")
	}
}

func TestBarkerUnknownLength(t *testing.T) {
	if _, err := Barker(6); err == nil {
		t.Fatalf("expected error for length 6")
	}
}

func TestOversample(t *testing.T) {
	got, err := Oversample([]float64{1, -1, 1}, 3)
	if err != nil {
		t.Fatalf("Oversample failed: %v", err)
	}
	want := []float64{1, 1, 1, -1, -1, -1, 1, 1, 1}
	if len(got) != len(want) {
		t.Fatalf("expected %d chips got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chip %d: got %g want %g", i, got[i], want[i])
		}
	}
	if _, err := Oversample(want, 0); err == nil {
		t.Fatalf("expected error for zero factor")
	}
}
