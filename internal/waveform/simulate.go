package waveform

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/rjboer/GoEcho/internal/dsp"
)

// Echo describes one reflector in a simulated frame.
type Echo struct {
	Delay     int     `json:"delay"`     // samples from frame start to the first chip
	DopplerHz float64 `json:"dopplerHz"` // Doppler shift applied to the code
	Amplitude float64 `json:"amplitude"`
}

// SimConfig controls the frames a Simulator produces.
type SimConfig struct {
	NumSamples   int
	SamplePeriod float64
	Code         []float64
	Echoes       []Echo
	// NoiseSigma is the standard deviation of each of the I and Q noise components.
	NoiseSigma float64
	Seed       uint64
}

// Simulator synthesizes received frames containing Doppler-shifted echoes of a code plus
// complex Gaussian noise. Chips falling outside the frame are dropped.
type Simulator struct {
	mu    sync.Mutex
	cfg   SimConfig
	noise distuv.Normal
}

// NewSimulator validates cfg and returns a simulator with a deterministic noise source.
func NewSimulator(cfg SimConfig) (*Simulator, error) {
	if cfg.NumSamples <= 0 {
		cfg.NumSamples = 1024
	}
	if cfg.SamplePeriod <= 0 {
		cfg.SamplePeriod = 6e-6
	}
	if len(cfg.Code) == 0 {
		return nil, fmt.Errorf("simulator needs a non-empty code")
	}
	if cfg.NoiseSigma < 0 {
		return nil, fmt.Errorf("noise sigma %g must not be negative", cfg.NoiseSigma)
	}
	cfg.Code = append([]float64(nil), cfg.Code...)
	cfg.Echoes = append([]Echo(nil), cfg.Echoes...)
	return &Simulator{
		cfg: cfg,
		noise: distuv.Normal{
			Mu:    0,
			Sigma: cfg.NoiseSigma,
			Src:   rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15),
		},
	}, nil
}

// Config returns a copy of the active configuration.
func (s *Simulator) Config() SimConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.cfg
	cfg.Code = append([]float64(nil), s.cfg.Code...)
	cfg.Echoes = append([]Echo(nil), s.cfg.Echoes...)
	return cfg
}

// SetEchoes replaces the reflectors used for subsequent frames.
func (s *Simulator) SetEchoes(echoes []Echo) {
	s.mu.Lock()
	s.cfg.Echoes = append([]Echo(nil), echoes...)
	s.mu.Unlock()
}

// Frame returns one received frame of NumSamples samples.
func (s *Simulator) Frame(ctx context.Context) ([]complex128, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.cfg
	frame := make([]complex128, cfg.NumSamples)
	if cfg.NoiseSigma > 0 {
		for i := range frame {
			frame[i] = complex(s.noise.Rand(), s.noise.Rand())
		}
	}

	var replica []complex128
	for _, e := range cfg.Echoes {
		replica = dsp.BuildReplica(replica, cfg.Code, e.DopplerHz, cfg.SamplePeriod)
		amp := complex(e.Amplitude, 0)
		for j, v := range replica {
			i := e.Delay + j
			if i < 0 || i >= len(frame) {
				continue
			}
			frame[i] += amp * v
		}
	}
	return frame, nil
}
