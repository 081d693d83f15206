package dsp

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
)

// Method selects the correlation kernel.
type Method int

const (
	// MethodDirect evaluates every delay as a dot product, O(N·L) per Doppler row.
	MethodDirect Method = iota
	// MethodFFT evaluates all delays through zero-padded FFTs, O((N+L)·log(N+L)) per row.
	MethodFFT
)

func (m Method) String() string {
	switch m {
	case MethodDirect:
		return "direct"
	case MethodFFT:
		return "fft"
	default:
		return "unknown"
	}
}

// ParseMethod converts a string to a Method.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct", "":
		return MethodDirect, nil
	case "fft":
		return MethodFFT, nil
	default:
		return Method(0), fmt.Errorf("%w: unsupported correlation method %q", ErrInvalidConfiguration, s)
	}
}

// Config fully specifies one echo search.
type Config struct {
	DopplerMin   float64 // Hz
	DopplerMax   float64 // Hz
	DopplerStep  float64 // Hz
	SamplePeriod float64 // seconds between received samples
	// Workers bounds the number of Doppler rows computed concurrently.
	// Zero uses runtime.NumCPU().
	Workers int
	Method  Method
	// KeepCorrelation also stores the raw complex correlation surface.
	KeepCorrelation bool
}

// Dimensions returns the Doppler row count and the per-row delay count a search of
// signalLen samples against a code of codeLen chips produces.
func (c Config) Dimensions(signalLen, codeLen int) (dopplerCount, delayCount int, err error) {
	grid, err := c.validate(signalLen, codeLen)
	if err != nil {
		return 0, 0, err
	}
	return len(grid), signalLen + codeLen, nil
}

func (c Config) validate(signalLen, codeLen int) ([]float64, error) {
	grid, err := DopplerGrid(c.DopplerMin, c.DopplerMax, c.DopplerStep)
	if err != nil {
		return nil, err
	}
	if codeLen == 0 {
		return nil, fmt.Errorf("%w: empty code", ErrInvalidConfiguration)
	}
	if signalLen <= codeLen {
		return nil, fmt.Errorf("%w: signal length %d must exceed code length %d", ErrInvalidConfiguration, signalLen, codeLen)
	}
	if !finite(c.SamplePeriod) {
		return nil, fmt.Errorf("%w: sample period %g is not finite", ErrInvalidConfiguration, c.SamplePeriod)
	}
	if c.Workers < 0 {
		return nil, fmt.Errorf("%w: negative worker count %d", ErrInvalidConfiguration, c.Workers)
	}
	if c.Method != MethodDirect && c.Method != MethodFFT {
		return nil, fmt.Errorf("%w: unsupported correlation method %d", ErrInvalidConfiguration, int(c.Method))
	}
	return grid, nil
}

// Result holds the surfaces and per-Doppler peaks of one search.
type Result struct {
	DopplerHz []float64
	// Power holds |correlation|² per Doppler row and delay; imaginary parts are zero.
	Power *Matrix[complex128]
	// Normalized holds the energy-normalized power scanned for peaks.
	Normalized *Matrix[float64]
	PeakPower  []float64
	// PeakIndex is the delay of each row's maximum relative to the alignment point.
	PeakIndex []int
	// Correlation is the raw complex correlation, populated only with Config.KeepCorrelation.
	Correlation *Matrix[complex128]
	CodeLen     int
}

// NewResult allocates storage for dopplerCount rows of delayCount values.
func NewResult(dopplerCount, delayCount int, keepCorrelation bool) *Result {
	r := &Result{
		Power:      NewMatrix[complex128](dopplerCount, delayCount),
		Normalized: NewMatrix[float64](dopplerCount, delayCount),
		PeakPower:  make([]float64, dopplerCount),
		PeakIndex:  make([]int, dopplerCount),
	}
	if keepCorrelation {
		r.Correlation = NewMatrix[complex128](dopplerCount, delayCount)
	}
	return r
}

func (r *Result) checkShape(dopplerCount, delayCount int, keepCorrelation bool) error {
	if r == nil {
		return fmt.Errorf("%w: nil result", ErrBufferSizeMismatch)
	}
	if !r.Power.hasShape(dopplerCount, delayCount) {
		return fmt.Errorf("%w: power surface must be %dx%d", ErrBufferSizeMismatch, dopplerCount, delayCount)
	}
	if !r.Normalized.hasShape(dopplerCount, delayCount) {
		return fmt.Errorf("%w: normalized surface must be %dx%d", ErrBufferSizeMismatch, dopplerCount, delayCount)
	}
	if len(r.PeakPower) != dopplerCount {
		return fmt.Errorf("%w: peak power holds %d values, want %d", ErrBufferSizeMismatch, len(r.PeakPower), dopplerCount)
	}
	if len(r.PeakIndex) != dopplerCount {
		return fmt.Errorf("%w: peak index holds %d values, want %d", ErrBufferSizeMismatch, len(r.PeakIndex), dopplerCount)
	}
	if keepCorrelation && !r.Correlation.hasShape(dopplerCount, delayCount) {
		return fmt.Errorf("%w: correlation surface must be %dx%d", ErrBufferSizeMismatch, dopplerCount, delayCount)
	}
	return nil
}

// Search runs the delay x Doppler matched-filter search and returns freshly allocated results.
func Search(ctx context.Context, cfg Config, signal []complex128, code []float64) (*Result, error) {
	grid, err := cfg.validate(len(signal), len(code))
	if err != nil {
		return nil, err
	}
	res := NewResult(len(grid), len(signal)+len(code), cfg.KeepCorrelation)
	res.DopplerHz = grid
	res.CodeLen = len(code)
	if err := run(ctx, cfg, signal, code, res); err != nil {
		return nil, err
	}
	return res, nil
}

// SearchInto runs the search writing into caller-supplied storage, which must match the
// dimensions reported by cfg.Dimensions. Validation happens before any computation; when
// the search is aborted the contents of dst are unspecified.
func SearchInto(ctx context.Context, cfg Config, signal []complex128, code []float64, dst *Result) error {
	grid, err := cfg.validate(len(signal), len(code))
	if err != nil {
		return err
	}
	if err := dst.checkShape(len(grid), len(signal)+len(code), cfg.KeepCorrelation); err != nil {
		return err
	}
	dst.DopplerHz = grid
	dst.CodeLen = len(code)
	if !cfg.KeepCorrelation {
		dst.Correlation = nil
	}
	return run(ctx, cfg, signal, code, dst)
}

// run fans the Doppler rows out to a worker pool. Every row reads only the immutable
// inputs and writes its own output row, so workers share nothing mutable.
func run(ctx context.Context, cfg Config, signal []complex128, code []float64, dst *Result) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("echo search aborted: %w", err)
	}

	rows := len(dst.DopplerHz)
	norms := SignalNorm(nil, signal, len(code))

	var base *FFTCorrelator
	if cfg.Method == MethodFFT {
		base = NewFFTCorrelator(signal, len(code))
	}

	numWorkers := cfg.Workers
	if numWorkers == 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > rows {
		numWorkers = rows
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	jobs := make(chan int)
	var completed atomic.Int64
	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		rw := &rowWorker{
			cfg:     cfg,
			signal:  signal,
			code:    code,
			norms:   norms,
			dst:     dst,
			replica: make([]complex128, len(code)),
			decoded: make([]complex128, len(signal)+len(code)),
		}
		if base != nil {
			rw.fft = base
			if w > 0 {
				rw.fft = base.Clone()
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			var n int64
			for row := range jobs {
				if ctx.Err() != nil {
					continue
				}
				rw.process(row)
				n++
			}
			completed.Add(n)
		}()
	}

feed:
	for row := 0; row < rows; row++ {
		select {
		case jobs <- row:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if int(completed.Load()) != rows {
		return fmt.Errorf("echo search aborted after %d of %d doppler rows: %w", completed.Load(), rows, ctx.Err())
	}
	return nil
}

// rowWorker owns the scratch buffers reused across the rows one goroutine computes.
type rowWorker struct {
	cfg     Config
	signal  []complex128
	code    []float64
	norms   []float64
	dst     *Result
	fft     *FFTCorrelator
	replica []complex128
	decoded []complex128
}

func (w *rowWorker) process(row int) {
	w.replica = BuildReplica(w.replica, w.code, w.dst.DopplerHz[row], w.cfg.SamplePeriod)
	if w.fft != nil {
		w.fft.Correlate(w.decoded, w.replica)
	} else {
		Correlate(w.decoded, w.signal, w.replica)
	}

	norm := NormalizePower(w.dst.Normalized.Row(row), w.decoded, w.norms, ReplicaNorm(w.replica))

	pow := w.dst.Power.Row(row)
	for j, d := range w.decoded {
		pow[j] = complex(real(d)*real(d)+imag(d)*imag(d), 0)
	}
	if w.cfg.KeepCorrelation {
		copy(w.dst.Correlation.Row(row), w.decoded)
	}

	w.dst.PeakPower[row], w.dst.PeakIndex[row] = ExtractPeak(norm, len(w.code))
}
