package dsp

import (
	"fmt"
	"math"
)

// MaxDopplerBins bounds the number of Doppler hypotheses a single search may evaluate.
const MaxDopplerBins = 1 << 20

// DopplerGrid returns the Doppler hypotheses min, min+step, ... continuing while the
// candidate is strictly below max+step. When (max-min) is an exact multiple of step the
// last value is max itself.
func DopplerGrid(min, max, step float64) ([]float64, error) {
	if !finite(min) || !finite(max) || !finite(step) {
		return nil, fmt.Errorf("%w: doppler grid (%g, %g, %g) is not finite", ErrInvalidConfiguration, min, max, step)
	}
	if step <= 0 {
		return nil, fmt.Errorf("%w: doppler step %g must be positive", ErrInvalidConfiguration, step)
	}
	if max < min {
		return nil, fmt.Errorf("%w: doppler max %g below min %g", ErrInvalidConfiguration, max, min)
	}
	if (max-min)/step >= MaxDopplerBins {
		return nil, fmt.Errorf("%w: doppler grid exceeds %d bins", ErrInvalidConfiguration, MaxDopplerBins)
	}

	limit := max + step
	grid := make([]float64, 0, int((max-min)/step)+2)
	for k := 0; ; k++ {
		v := min + float64(k)*step
		if !(v < limit) {
			break
		}
		grid = append(grid, v)
	}
	if len(grid) == 0 {
		return nil, fmt.Errorf("%w: doppler step %g vanishes at %g", ErrInvalidConfiguration, step, max)
	}
	return grid, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
