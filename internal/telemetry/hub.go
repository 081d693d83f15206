// Package telemetry records per-frame search outcomes and serves them over HTTP.
package telemetry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// Config represents the runtime configuration exposed by the telemetry hub.
type Config struct {
	HistoryLimit     int `json:"historyLimit"`
	SubscriberBuffer int `json:"subscriberBuffer"`
}

const (
	minHistoryLimit     = 1
	maxHistoryLimit     = 10_000
	minSubscriberBuffer = 1
	maxSubscriberBuffer = 4096
)

func defaultConfig() Config {
	return Config{
		HistoryLimit:     500,
		SubscriberBuffer: 16,
	}
}

// validateConfig fills zero fields from base and range-checks the result.
func validateConfig(cfg Config, base Config) (Config, error) {
	if base.HistoryLimit == 0 || base.SubscriberBuffer == 0 {
		base = defaultConfig()
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = base.HistoryLimit
	}
	if cfg.SubscriberBuffer == 0 {
		cfg.SubscriberBuffer = base.SubscriberBuffer
	}

	if cfg.HistoryLimit < minHistoryLimit || cfg.HistoryLimit > maxHistoryLimit {
		return Config{}, fmt.Errorf("history limit must be between %d and %d", minHistoryLimit, maxHistoryLimit)
	}
	if cfg.SubscriberBuffer < minSubscriberBuffer || cfg.SubscriberBuffer > maxSubscriberBuffer {
		return Config{}, fmt.Errorf("subscriber buffer must be between %d and %d", minSubscriberBuffer, maxSubscriberBuffer)
	}
	return cfg, nil
}

// Sample captures the outcome of searching one frame.
type Sample struct {
	Timestamp  time.Time `json:"timestamp"`
	FrameID    string    `json:"frameId"`
	Digest     string    `json:"digest"`
	DopplerHz  float64   `json:"dopplerHz"`
	Delay      int       `json:"delay"`
	PeakPower  float64   `json:"peakPower"`
	Detections int       `json:"detections"`
	EventID    int       `json:"eventId,omitempty"`
	DurationMs float64   `json:"durationMs"`
}

// Reporter captures telemetry samples.
type Reporter interface {
	Report(sample Sample)
}

// MultiReporter fans out telemetry to multiple destinations.
type MultiReporter []Reporter

// Report forwards the sample to each configured reporter.
func (m MultiReporter) Report(sample Sample) {
	for _, r := range m {
		if r != nil {
			r.Report(sample)
		}
	}
}

// Hub collects history and fans out telemetry updates to subscribers.
// Slow subscribers miss samples rather than blocking the reporter.
type Hub struct {
	mu          sync.RWMutex
	history     []Sample
	subscribers map[chan Sample]struct{}
	config      Config
	started     time.Time
}

// ProcessStats describes the serving process.
type ProcessStats struct {
	NumGoroutine int           `json:"numGoroutine"`
	HeapAlloc    uint64        `json:"heapAlloc"`
	Uptime       time.Duration `json:"uptime"`
}

// Diagnostics is served on /api/diagnostics.
type Diagnostics struct {
	Process     ProcessStats `json:"process"`
	Samples     int          `json:"samples"`
	Subscribers int          `json:"subscribers"`
}

// NewHub builds a telemetry hub with the provided history limit; zero keeps the default.
func NewHub(historyLimit int) *Hub {
	cfg, err := validateConfig(Config{HistoryLimit: historyLimit}, defaultConfig())
	if err != nil {
		cfg = defaultConfig()
	}
	return &Hub{
		subscribers: make(map[chan Sample]struct{}),
		config:      cfg,
		started:     time.Now(),
	}
}

// Report implements Reporter and records a new telemetry sample.
func (h *Hub) Report(sample Sample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	h.mu.Lock()
	h.history = append(h.history, sample)
	h.trim()
	for ch := range h.subscribers {
		select {
		case ch <- sample:
		default:
		}
	}
	h.mu.Unlock()
}

// History returns a copy of stored telemetry samples, oldest first.
func (h *Hub) History() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Sample, len(h.history))
	copy(out, h.history)
	return out
}

// ConfigSnapshot returns the latest validated configuration.
func (h *Hub) ConfigSnapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// UpdateConfig validates cfg against the current configuration and applies it.
func (h *Hub) UpdateConfig(cfg Config) (Config, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	next, err := validateConfig(cfg, h.config)
	if err != nil {
		return Config{}, err
	}
	h.config = next
	h.trim()
	return next, nil
}

// Subscribe registers a listener for live updates. The returned cancel function
// unregisters and closes the channel.
func (h *Hub) Subscribe() (<-chan Sample, func()) {
	h.mu.Lock()
	ch := make(chan Sample, h.config.SubscriberBuffer)
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Diagnostics reports process and hub state.
func (h *Hub) Diagnostics() Diagnostics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	h.mu.RLock()
	defer h.mu.RUnlock()
	return Diagnostics{
		Process: ProcessStats{
			NumGoroutine: runtime.NumGoroutine(),
			HeapAlloc:    mem.HeapAlloc,
			Uptime:       time.Since(h.started),
		},
		Samples:     len(h.history),
		Subscribers: len(h.subscribers),
	}
}

// trim must be called with mu held.
func (h *Hub) trim() {
	if len(h.history) > h.config.HistoryLimit {
		h.history = append([]Sample(nil), h.history[len(h.history)-h.config.HistoryLimit:]...)
	}
}

func (h *Hub) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.History())
}

func (h *Hub) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.Diagnostics())
}

func (h *Hub) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.ConfigSnapshot())
}

func (h *Hub) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var incoming Config
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
		return
	}
	cfg, err := h.UpdateConfig(incoming)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, cfg)
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	// replay history for immediate display
	for _, sample := range h.History() {
		writeEvent(w, sample)
	}
	flusher.Flush()

	for {
		select {
		case sample, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, sample)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, sample Sample) {
	payload, err := json.Marshal(sample)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
