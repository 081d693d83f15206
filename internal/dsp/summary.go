package dsp

// Peak locates one Doppler row's strongest delay.
type Peak struct {
	DopplerIndex int     `json:"dopplerIndex"`
	DopplerHz    float64 `json:"dopplerHz"`
	Delay        int     `json:"delay"`
	Power        float64 `json:"power"`
}

// Best returns the strongest row peak; ties keep the lowest Doppler index.
// DopplerIndex is -1 when the result holds no rows.
func (r *Result) Best() Peak {
	best := Peak{DopplerIndex: -1}
	for i, p := range r.PeakPower {
		if best.DopplerIndex < 0 || p > best.Power {
			best = r.peak(i)
		}
	}
	return best
}

// Detections returns the row peaks whose power exceeds threshold, in grid order.
func (r *Result) Detections(threshold float64) []Peak {
	var out []Peak
	for i, p := range r.PeakPower {
		if p > threshold {
			out = append(out, r.peak(i))
		}
	}
	return out
}

// MaxPowerPerDelay returns, for every delay column, the largest raw power over all Doppler rows.
func (r *Result) MaxPowerPerDelay() []float64 {
	out := make([]float64, r.Power.DelayCount())
	for i := 0; i < r.Power.DopplerCount(); i++ {
		for j, v := range r.Power.Row(i) {
			if i == 0 || real(v) > out[j] {
				out[j] = real(v)
			}
		}
	}
	return out
}

// MaxNormalizedPerDelay returns, for every delay column, the largest normalized power over all Doppler rows.
func (r *Result) MaxNormalizedPerDelay() []float64 {
	out := make([]float64, r.Normalized.DelayCount())
	for i := 0; i < r.Normalized.DopplerCount(); i++ {
		for j, v := range r.Normalized.Row(i) {
			if i == 0 || v > out[j] {
				out[j] = v
			}
		}
	}
	return out
}

func (r *Result) peak(i int) Peak {
	p := Peak{
		DopplerIndex: i,
		Delay:        r.PeakIndex[i],
		Power:        r.PeakPower[i],
	}
	if i < len(r.DopplerHz) {
		p.DopplerHz = r.DopplerHz[i]
	}
	return p
}
