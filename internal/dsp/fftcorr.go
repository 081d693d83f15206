package dsp

import (
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FFTCorrelator computes the same delay sweep as Correlate through zero-padded FFTs.
// The conjugated spectrum of the received signal is computed once and shared by every
// clone; each clone owns its FFT plan and scratch buffer, so clones may run on separate
// goroutines while a single FFTCorrelator must not be used concurrently.
type FFTCorrelator struct {
	signalLen int
	codeLen   int
	size      int
	spectrum  []complex128 // conj(FFT(signal)), read-only after construction
	fft       *fourier.CmplxFFT
	work      []complex128
}

// NewFFTCorrelator prepares a correlator for signal and replicas of length codeLen.
func NewFFTCorrelator(signal []complex128, codeLen int) *FFTCorrelator {
	size := 1
	for size < len(signal)+codeLen {
		size <<= 1
	}
	c := &FFTCorrelator{
		signalLen: len(signal),
		codeLen:   codeLen,
		size:      size,
		fft:       fourier.NewCmplxFFT(size),
		work:      make([]complex128, size),
	}

	copy(c.work, signal)
	c.spectrum = c.fft.Coefficients(nil, c.work)
	for i, v := range c.spectrum {
		c.spectrum[i] = cmplx.Conj(v)
	}
	return c
}

// Clone returns a correlator sharing the signal spectrum with its own plan and scratch.
func (c *FFTCorrelator) Clone() *FFTCorrelator {
	return &FFTCorrelator{
		signalLen: c.signalLen,
		codeLen:   c.codeLen,
		size:      c.size,
		spectrum:  c.spectrum,
		fft:       fourier.NewCmplxFFT(c.size),
		work:      make([]complex128, c.size),
	}
}

// Size returns the transform length.
func (c *FFTCorrelator) Size() int { return c.size }

// Correlate writes the descending-delay correlation of the prepared signal against replica.
func (c *FFTCorrelator) Correlate(dst, replica []complex128) []complex128 {
	if len(replica) != c.codeLen {
		panic(fmt.Sprintf("dsp: replica holds %d chips, correlator prepared for %d", len(replica), c.codeLen))
	}
	if len(dst) != c.signalLen+c.codeLen {
		panic(fmt.Sprintf("dsp: correlation output holds %d values, want %d", len(dst), c.signalLen+c.codeLen))
	}

	clear(c.work)
	copy(c.work, replica)
	c.fft.Coefficients(c.work, c.work)
	for i := range c.work {
		c.work[i] *= c.spectrum[i]
	}
	c.fft.Sequence(c.work, c.work)

	// work[k] = size · Σ conj(signal[i])·replica[(i+k) mod size]
	scale := complex(1/float64(c.size), 0)
	for count := range dst {
		k := c.codeLen - count
		if k < 0 {
			k += c.size
		}
		dst[count] = cmplx.Conj(c.work[k]) * scale
	}
	return dst
}
