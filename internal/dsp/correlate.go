package dsp

import (
	"fmt"

	"gonum.org/v1/gonum/cmplxs"
)

// Correlate slides replica across signal and writes one value per integer delay into dst.
// dst must hold exactly len(signal)+len(replica) values. Delays are enumerated in descending
// order: dst[0] is delay len(replica) and dst[len(dst)-1] is delay -(len(signal)-1).
// For delay δ the value is Σ signal[i]·conj(replica[i+δ]) over the indices where i+δ
// addresses the replica.
func Correlate(dst, signal, replica []complex128) []complex128 {
	n, l := len(signal), len(replica)
	if len(dst) != n+l {
		panic(fmt.Sprintf("dsp: correlation output holds %d values, want %d", len(dst), n+l))
	}
	for count := range dst {
		delay := l - count
		lo, hi := overlap(n, l, delay)
		if lo >= hi {
			dst[count] = 0
			continue
		}
		// cmplxs.Dot conjugates its first argument.
		dst[count] = cmplxs.Dot(replica[lo+delay:hi+delay], signal[lo:hi])
	}
	return dst
}

// overlap returns the signal index range [lo,hi) whose shifted index i+delay lies in [0,l).
func overlap(n, l, delay int) (int, int) {
	lo := 0
	if -delay > lo {
		lo = -delay
	}
	hi := n
	if l-delay < hi {
		hi = l - delay
	}
	return lo, hi
}
