package dsp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// NoiseStats summarizes the Gaussian noise in a block of received samples.
type NoiseStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	// Interval bounds the true standard deviation at the requested confidence, low first.
	Interval [2]float64 `json:"interval"`
	Values   int        `json:"values"`
}

// EstimateNoise pools the real and imaginary parts of samples and returns their mean,
// population standard deviation and the chi-square confidence interval of that standard
// deviation. confidence is the two-sided tail probability, e.g. 1e-6.
func EstimateNoise(samples []complex128, confidence float64) (NoiseStats, error) {
	if len(samples) == 0 {
		return NoiseStats{}, fmt.Errorf("%w: no samples for noise estimate", ErrInvalidConfiguration)
	}
	if !(confidence > 0 && confidence < 1) {
		return NoiseStats{}, fmt.Errorf("%w: confidence %g outside (0,1)", ErrInvalidConfiguration, confidence)
	}

	values := make([]float64, 0, 2*len(samples))
	for _, v := range samples {
		values = append(values, real(v))
	}
	for _, v := range samples {
		values = append(values, imag(v))
	}

	mean, std := stat.PopMeanStdDev(values, nil)
	dof := float64(len(values) - 1)
	chi := distuv.ChiSquared{K: dof}
	spread := dof * std * std

	return NoiseStats{
		Mean:   mean,
		StdDev: std,
		Interval: [2]float64{
			math.Sqrt(spread / chi.Quantile(1-confidence/2)),
			math.Sqrt(spread / chi.Quantile(confidence/2)),
		},
		Values: len(values),
	}, nil
}
