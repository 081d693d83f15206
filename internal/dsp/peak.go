package dsp

import "gonum.org/v1/gonum/floats"

// ExtractPeak returns the largest value of power and its index minus codeLen, so the
// delay is reported relative to the alignment point rather than the array offset.
// Ties keep the lowest index.
func ExtractPeak(power []float64, codeLen int) (float64, int) {
	if len(power) == 0 {
		return 0, -codeLen
	}
	i := floats.MaxIdx(power)
	return power[i], i - codeLen
}
