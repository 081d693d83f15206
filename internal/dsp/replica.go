package dsp

import "math"

// BuildReplica writes the Doppler-rotated replica of code into dst and returns it.
// Chip j is rotated by 2π·dopplerHz·(j+1)·samplePeriod: the phase is anchored one
// sample ahead of the first chip.
func BuildReplica(dst []complex128, code []float64, dopplerHz, samplePeriod float64) []complex128 {
	if cap(dst) < len(code) {
		dst = make([]complex128, len(code))
	}
	dst = dst[:len(code)]
	for j, chip := range code {
		phase := 2 * math.Pi * dopplerHz * float64(j+1) * samplePeriod
		sin, cos := math.Sincos(phase)
		dst[j] = complex(chip*cos, chip*sin)
	}
	return dst
}
