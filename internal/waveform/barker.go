// Package waveform provides transmit codes and synthetic received frames for echo searches.
package waveform

import (
	"fmt"
	"sort"
)

var barkerCodes = map[int][]float64{
	2:  {1, -1},
	3:  {1, 1, -1},
	4:  {1, 1, -1, 1},
	5:  {1, 1, 1, -1, 1},
	7:  {1, 1, 1, -1, -1, 1, -1},
	11: {1, 1, 1, -1, -1, -1, 1, -1, -1, 1, -1},
	13: {1, 1, 1, 1, 1, -1, -1, 1, 1, -1, 1, -1, 1},
}

// BarkerLengths lists the code lengths Barker accepts, ascending.
func BarkerLengths() []int {
	out := make([]int, 0, len(barkerCodes))
	for n := range barkerCodes {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Barker returns a fresh copy of the length-n Barker code.
func Barker(n int) ([]float64, error) {
	code, ok := barkerCodes[n]
	if !ok {
		return nil, fmt.Errorf("no barker code of length %d (have %v)", n, BarkerLengths())
	}
	return append([]float64(nil), code...), nil
}

// Oversample repeats every chip factor times, matching a transmitter that holds each chip
// for factor sample periods.
func Oversample(code []float64, factor int) ([]float64, error) {
	if factor < 1 {
		return nil, fmt.Errorf("oversample factor %d must be positive", factor)
	}
	out := make([]float64, 0, len(code)*factor)
	for _, c := range code {
		for k := 0; k < factor; k++ {
			out = append(out, c)
		}
	}
	return out, nil
}
