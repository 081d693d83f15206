// Package app runs echo searches on received frames and tracks the echoes they reveal.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rjboer/GoEcho/internal/dsp"
	"github.com/rjboer/GoEcho/internal/logging"
	"github.com/rjboer/GoEcho/internal/telemetry"
)

// Config captures application level configuration. Zero fields take defaults in Init.
type Config struct {
	DopplerMin         float64       `json:"dopplerMin"`
	DopplerMax         float64       `json:"dopplerMax"`
	DopplerStep        float64       `json:"dopplerStep"`
	SamplePeriod       float64       `json:"samplePeriod"`
	Workers            int           `json:"workers"`
	Method             string        `json:"method"`
	KeepCorrelation    bool          `json:"keepCorrelation"`
	DetectionThreshold float64       `json:"detectionThreshold"`
	NoiseConfidence    float64       `json:"noiseConfidence"`
	MaxSamples         int           `json:"maxSamples"`
	MaxSurfaceCells    int           `json:"maxSurfaceCells"`
	MaxEvents          int           `json:"maxEvents"`
	EventTimeout       time.Duration `json:"eventTimeout"`
	DelayTolerance     int           `json:"delayTolerance"`
	DopplerTolerance   float64       `json:"dopplerTolerance"`
	ConfirmHits        int           `json:"confirmHits"`
	HistoryLimit       int           `json:"historyLimit"`
}

// DefaultConfig returns the configuration Init produces from a zero Config.
func DefaultConfig() Config {
	var c Config
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	// An all-zero grid means "unset"; a deliberate single 0 Hz bin needs a non-zero step.
	if c.DopplerMin == 0 && c.DopplerMax == 0 && c.DopplerStep == 0 {
		c.DopplerMin = -30000
		c.DopplerMax = 5000
	}
	if c.DopplerStep == 0 {
		c.DopplerStep = 100
	}
	if c.SamplePeriod == 0 {
		c.SamplePeriod = 6e-6
	}
	if c.Method == "" {
		c.Method = dsp.MethodDirect.String()
	}
	if c.DetectionThreshold == 0 {
		c.DetectionThreshold = 0.5
	}
	if c.NoiseConfidence == 0 {
		c.NoiseConfidence = 1e-6
	}
	if c.MaxSamples == 0 {
		c.MaxSamples = 1 << 20
	}
	if c.MaxSurfaceCells == 0 {
		c.MaxSurfaceCells = 1 << 23
	}
	if c.MaxEvents == 0 {
		c.MaxEvents = 16
	}
	if c.EventTimeout == 0 {
		c.EventTimeout = 5 * time.Second
	}
	if c.DelayTolerance == 0 {
		c.DelayTolerance = 2
	}
	if c.DopplerTolerance == 0 {
		c.DopplerTolerance = 2 * c.DopplerStep
	}
	if c.ConfirmHits == 0 {
		c.ConfirmHits = 2
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = 50
	}
}

// SearchConfig converts c to the engine configuration.
func (c Config) SearchConfig() (dsp.Config, error) {
	method, err := dsp.ParseMethod(c.Method)
	if err != nil {
		return dsp.Config{}, err
	}
	return dsp.Config{
		DopplerMin:      c.DopplerMin,
		DopplerMax:      c.DopplerMax,
		DopplerStep:     c.DopplerStep,
		SamplePeriod:    c.SamplePeriod,
		Workers:         c.Workers,
		Method:          method,
		KeepCorrelation: c.KeepCorrelation,
	}, nil
}

// Frame is one received sample block to be searched for echoes of Code.
type Frame struct {
	ID     string
	Signal []complex128
	Code   []float64
}

// Report summarizes the search of one frame.
type Report struct {
	FrameID    string          `json:"frameId"`
	Digest     string          `json:"digest"`
	Best       dsp.Peak        `json:"best"`
	Detections []dsp.Peak      `json:"detections"`
	Noise      *dsp.NoiseStats `json:"noise,omitempty"`
	Events     []Event         `json:"events,omitempty"`
	Doppler    int             `json:"dopplerCount"`
	Delays     int             `json:"delayCount"`
	Duration   time.Duration   `json:"duration"`
	Result     *dsp.Result     `json:"-"`
}

var errNotInitialized = errors.New("searcher not initialized")

// Searcher wires frames into the echo search engine, the event manager and telemetry.
type Searcher struct {
	reporter telemetry.Reporter
	logger   logging.Logger
	cfg      Config
	search   dsp.Config
	events   *EventManager
	now      func() time.Time
}

// NewSearcher builds a searcher; call Init before processing frames.
func NewSearcher(reporter telemetry.Reporter, logger logging.Logger, cfg Config) *Searcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Searcher{
		reporter: reporter,
		logger:   logger.With(logging.F("subsystem", "searcher")),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Init applies configuration defaults and validates the search grid.
func (s *Searcher) Init() error {
	s.cfg.applyDefaults()
	search, err := s.cfg.SearchConfig()
	if err != nil {
		return fmt.Errorf("search config: %w", err)
	}
	if _, err := dsp.DopplerGrid(search.DopplerMin, search.DopplerMax, search.DopplerStep); err != nil {
		return fmt.Errorf("search config: %w", err)
	}
	s.search = search
	s.events = NewEventManager(EventOptions{
		MaxEvents:        s.cfg.MaxEvents,
		Timeout:          s.cfg.EventTimeout,
		DelayTolerance:   s.cfg.DelayTolerance,
		DopplerTolerance: s.cfg.DopplerTolerance,
		ConfirmHits:      s.cfg.ConfirmHits,
		HistoryLimit:     s.cfg.HistoryLimit,
	})
	s.logger.Info("searcher initialized",
		logging.F("doppler_min_hz", s.cfg.DopplerMin),
		logging.F("doppler_max_hz", s.cfg.DopplerMax),
		logging.F("doppler_step_hz", s.cfg.DopplerStep),
		logging.F("sample_period_s", s.cfg.SamplePeriod),
		logging.F("method", s.search.Method.String()),
	)
	return nil
}

// Config returns the effective configuration.
func (s *Searcher) Config() Config { return s.cfg }

// Events returns the tracked echo events.
func (s *Searcher) Events() []Event {
	if s.events == nil {
		return nil
	}
	s.events.Expire(s.now())
	return s.events.Events()
}

// Process searches one frame. It is safe to call concurrently.
func (s *Searcher) Process(ctx context.Context, frame Frame) (*Report, error) {
	if s.events == nil {
		return nil, errNotInitialized
	}
	if len(frame.Signal) > s.cfg.MaxSamples {
		return nil, fmt.Errorf("%w: frame holds %d samples, limit %d", dsp.ErrInvalidConfiguration, len(frame.Signal), s.cfg.MaxSamples)
	}
	rows, delays, err := s.search.Dimensions(len(frame.Signal), len(frame.Code))
	if err != nil {
		return nil, err
	}
	if rows > s.cfg.MaxSurfaceCells/delays {
		return nil, fmt.Errorf("%w: %d x %d search surface exceeds %d cells", dsp.ErrInvalidConfiguration, rows, delays, s.cfg.MaxSurfaceCells)
	}

	logger := s.logger.With(logging.F("frame_id", frame.ID))
	start := time.Now()
	res, err := dsp.Search(ctx, s.search, frame.Signal, frame.Code)
	if err != nil {
		logger.Warn("search failed", logging.Err(err))
		return nil, err
	}
	duration := time.Since(start)

	report := &Report{
		FrameID:    frame.ID,
		Digest:     InputDigest(frame.Signal, frame.Code, s.search),
		Best:       res.Best(),
		Detections: res.Detections(s.cfg.DetectionThreshold),
		Doppler:    res.Normalized.DopplerCount(),
		Delays:     res.Normalized.DelayCount(),
		Duration:   duration,
		Result:     res,
	}
	if noise, err := dsp.EstimateNoise(frame.Signal, s.cfg.NoiseConfidence); err == nil {
		report.Noise = &noise
	} else {
		logger.Debug("noise estimate skipped", logging.Err(err))
	}

	now := s.now()
	if len(report.Detections) > 0 {
		report.Events = s.events.ObserveFrame(report.Detections, now)
	}

	sample := telemetry.Sample{
		Timestamp:  now,
		FrameID:    frame.ID,
		Digest:     report.Digest,
		DopplerHz:  report.Best.DopplerHz,
		Delay:      report.Best.Delay,
		PeakPower:  report.Best.Power,
		Detections: len(report.Detections),
		DurationMs: duration.Seconds() * 1000,
	}
	if ev, ok := strongestEvent(report); ok {
		sample.EventID = ev.ID
	}
	if s.reporter != nil {
		s.reporter.Report(sample)
	}

	logger.Debug("frame processed",
		logging.F("doppler_rows", report.Doppler),
		logging.F("delays", report.Delays),
		logging.F("best_doppler_hz", report.Best.DopplerHz),
		logging.F("best_delay", report.Best.Delay),
		logging.F("best_power", report.Best.Power),
		logging.F("detections", len(report.Detections)),
		logging.F("duration_ms", sample.DurationMs),
	)
	return report, nil
}

// strongestEvent returns the event the best detection was associated with.
func strongestEvent(r *Report) (Event, bool) {
	var (
		best  Event
		found bool
		power float64
	)
	for i, det := range r.Detections {
		if !found || det.Power > power {
			best, power, found = r.Events[i], det.Power, true
		}
	}
	return best, found
}

// FrameSource supplies received frames, such as a waveform.Simulator.
type FrameSource interface {
	Frame(ctx context.Context) ([]complex128, error)
}

// Run searches frames from src against code every interval until ctx is cancelled.
func (s *Searcher) Run(ctx context.Context, src FrameSource, code []float64, interval time.Duration) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for iteration := 0; ; iteration++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		signal, err := src.Frame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receive frame %d: %w", iteration, err)
		}
		if len(signal) == 0 {
			s.logger.Warn("received empty frame", logging.F("iteration", iteration))
			continue
		}
		if _, err := s.Process(ctx, Frame{ID: fmt.Sprintf("loop-%d", iteration), Signal: signal, Code: code}); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("process frame %d: %w", iteration, err)
		}
	}
}
