package app

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rjboer/GoEcho/internal/dsp"
	"github.com/rjboer/GoEcho/internal/logging"
	"github.com/rjboer/GoEcho/internal/telemetry"
	"github.com/rjboer/GoEcho/internal/waveform"
)

type recordingReporter struct {
	mu      sync.Mutex
	samples []telemetry.Sample
}

func (r *recordingReporter) Report(s telemetry.Sample) {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()
}

func (r *recordingReporter) Samples() []telemetry.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]telemetry.Sample(nil), r.samples...)
}

func testLogger() logging.Logger { return logging.New(logging.Debug, logging.Text, io.Discard) }

func echoFrame(t *testing.T, n, delay int, dopplerHz float64) ([]complex128, []float64) {
	t.Helper()
	code, err := waveform.Barker(13)
	if err != nil {
		t.Fatalf("Barker failed: %v", err)
	}
	sim, err := waveform.NewSimulator(waveform.SimConfig{
		NumSamples:   n,
		SamplePeriod: 6e-6,
		Code:         code,
		Echoes:       []waveform.Echo{{Delay: delay, DopplerHz: dopplerHz, Amplitude: 0.5}},
	})
	if err != nil {
		t.Fatalf("NewSimulator failed: %v", err)
	}
	frame, err := sim.Frame(context.Background())
	if err != nil {
		t.Fatalf("Frame failed: %v", err)
	}
	return frame, code
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.DopplerMin != -30000 || cfg.DopplerMax != 5000 || cfg.DopplerStep != 100 {
		t.Fatalf("unexpected doppler defaults %+v", cfg)
	}
	if cfg.SamplePeriod != 6e-6 || cfg.DetectionThreshold != 0.5 || cfg.NoiseConfidence != 1e-6 {
		t.Fatalf("unexpected search defaults %+v", cfg)
	}
	if cfg.Method != "direct" || cfg.DopplerTolerance != 200 {
		t.Fatalf("unexpected derived defaults %+v", cfg)
	}
	if cfg.MaxSamples != 1<<20 || cfg.MaxSurfaceCells != 1<<23 {
		t.Fatalf("unexpected limits %+v", cfg)
	}

	single := Config{DopplerStep: 1}
	single.applyDefaults()
	if single.DopplerMin != 0 || single.DopplerMax != 0 {
		t.Fatalf("explicit single-bin grid overwritten: %+v", single)
	}
}

func TestSearcherProcessFindsEcho(t *testing.T) {
	reporter := &recordingReporter{}
	s := NewSearcher(reporter, testLogger(), Config{DopplerMin: -3000, DopplerMax: 3000, DopplerStep: 500})
	if err := s.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	frame, code := echoFrame(t, 64, 10, 2000)

	report, err := s.Process(context.Background(), Frame{ID: "f1", Signal: frame, Code: code})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if report.Best.DopplerHz != 2000 || report.Best.Delay != 10 {
		t.Fatalf("expected echo at 2000 Hz delay 10 got %+v", report.Best)
	}
	if report.Doppler != 13 || report.Delays != 77 {
		t.Fatalf("unexpected surface size %dx%d", report.Doppler, report.Delays)
	}
	if len(report.Detections) == 0 || len(report.Events) != len(report.Detections) {
		t.Fatalf("expected detections associated with events: %+v", report)
	}
	if report.Noise == nil || report.Noise.Values != 128 {
		t.Fatalf("expected noise statistics, got %+v", report.Noise)
	}
	if len(report.Digest) != 64 {
		t.Fatalf("unexpected digest %q", report.Digest)
	}

	samples := reporter.Samples()
	if len(samples) != 1 {
		t.Fatalf("expected one telemetry sample got %d", len(samples))
	}
	got := samples[0]
	if got.FrameID != "f1" || got.Delay != 10 || got.DopplerHz != 2000 || got.EventID == 0 || got.Digest != report.Digest {
		t.Fatalf("unexpected telemetry sample %+v", got)
	}

	// The same reflector on the next frame confirms the event.
	if _, err := s.Process(context.Background(), Frame{ID: "f2", Signal: frame, Code: code}); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	events := s.Events()
	if len(events) != 1 || events[0].State != EventConfirmed || events[0].Delay != 10 {
		t.Fatalf("expected one confirmed event at delay 10, got %+v", events)
	}
}

func TestSearcherRejectsInput(t *testing.T) {
	uninit := NewSearcher(nil, testLogger(), Config{})
	if _, err := uninit.Process(context.Background(), Frame{}); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected errNotInitialized got %v", err)
	}

	if err := NewSearcher(nil, testLogger(), Config{Method: "wavelet"}).Init(); !errors.Is(err, dsp.ErrInvalidConfiguration) {
		t.Fatalf("expected invalid method rejected, got %v", err)
	}
	if err := NewSearcher(nil, testLogger(), Config{DopplerMin: 10, DopplerMax: -10, DopplerStep: 1}).Init(); !errors.Is(err, dsp.ErrInvalidConfiguration) {
		t.Fatalf("expected inverted grid rejected, got %v", err)
	}

	s := NewSearcher(nil, testLogger(), Config{DopplerStep: 1, MaxSamples: 16})
	if err := s.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if _, err := s.Process(context.Background(), Frame{Signal: make([]complex128, 17), Code: []float64{1}}); !errors.Is(err, dsp.ErrInvalidConfiguration) {
		t.Fatalf("expected oversized frame rejected, got %v", err)
	}
	if _, err := s.Process(context.Background(), Frame{Signal: make([]complex128, 2), Code: []float64{1, 1}}); !errors.Is(err, dsp.ErrInvalidConfiguration) {
		t.Fatalf("expected short frame rejected, got %v", err)
	}
}

func TestSearcherLimitsSurface(t *testing.T) {
	// 5 Doppler rows x (64+13) delays = 385 cells.
	s := NewSearcher(nil, testLogger(), Config{DopplerMin: -1000, DopplerMax: 1000, DopplerStep: 500, MaxSurfaceCells: 384})
	if err := s.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	signal, code := echoFrame(t, 64, 10, 0)
	frame := Frame{ID: "surface", Signal: signal, Code: code}
	if _, err := s.Process(context.Background(), frame); !errors.Is(err, dsp.ErrInvalidConfiguration) {
		t.Fatalf("expected oversized surface rejected, got %v", err)
	}

	s = NewSearcher(nil, testLogger(), Config{DopplerMin: -1000, DopplerMax: 1000, DopplerStep: 500, MaxSurfaceCells: 385})
	if err := s.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if _, err := s.Process(context.Background(), frame); err != nil {
		t.Fatalf("surface at the limit rejected: %v", err)
	}
}

func TestSearcherRunStopsOnCancel(t *testing.T) {
	reporter := &recordingReporter{}
	s := NewSearcher(reporter, testLogger(), Config{DopplerMin: -1000, DopplerMax: 1000, DopplerStep: 500, Method: "fft"})
	if err := s.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	code, _ := waveform.Barker(13)
	sim, err := waveform.NewSimulator(waveform.SimConfig{
		NumSamples:   128,
		SamplePeriod: 6e-6,
		Code:         code,
		Echoes:       []waveform.Echo{{Delay: 50, Amplitude: 1}},
		NoiseSigma:   0.05,
		Seed:         9,
	})
	if err != nil {
		t.Fatalf("NewSimulator failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx, sim, code, 10*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	samples := reporter.Samples()
	if len(samples) == 0 {
		t.Fatalf("expected telemetry output")
	}
	if samples[0].Delay != 50 {
		t.Fatalf("unexpected first sample %+v", samples[0])
	}
}
