package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rjboer/GoEcho/internal/dsp"
	"github.com/rjboer/GoEcho/internal/logging"
	"github.com/rjboer/GoEcho/internal/waveform"
)

const maxRequestBytes = 64 << 20

var errBadRequest = errors.New("bad request")

// searchRequest carries one frame; signal samples are [re, im] pairs.
type searchRequest struct {
	ID             string       `json:"id"`
	Signal         [][2]float64 `json:"signal"`
	Code           []float64    `json:"code,omitempty"`
	Barker         int          `json:"barker,omitempty"`
	Oversample     int          `json:"oversample,omitempty"`
	IncludeSurface bool         `json:"includeSurface,omitempty"`
}

// simulateRequest describes a synthetic frame of Barker echoes.
type simulateRequest struct {
	ID             string          `json:"id"`
	NumSamples     int             `json:"numSamples"`
	Barker         int             `json:"barker"`
	Oversample     int             `json:"oversample,omitempty"`
	NoiseSigma     float64         `json:"noiseSigma"`
	Seed           uint64          `json:"seed"`
	Echoes         []waveform.Echo `json:"echoes"`
	IncludeSurface bool            `json:"includeSurface,omitempty"`
}

type searchResponse struct {
	*Report
	DopplerHz             []float64 `json:"dopplerHz,omitempty"`
	PeakPower             []float64 `json:"peakPower,omitempty"`
	PeakIndex             []int     `json:"peakIndex,omitempty"`
	MaxPowerPerDelay      []float64 `json:"maxPowerPerDelay,omitempty"`
	MaxNormalizedPerDelay []float64 `json:"maxNormalizedPerDelay,omitempty"`
}

// Handler serves the search API under /api/.
type Handler struct {
	searcher *Searcher
	logger   logging.Logger
	mux      *http.ServeMux
}

// NewHandler exposes s over HTTP.
func NewHandler(s *Searcher, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{
		searcher: s,
		logger:   logger.With(logging.F("subsystem", "api")),
		mux:      http.NewServeMux(),
	}
	h.mux.HandleFunc("/api/search", h.handleSearch)
	h.mux.HandleFunc("/api/simulate", h.handleSimulate)
	h.mux.HandleFunc("/api/events", h.handleEvents)
	h.mux.HandleFunc("/api/searcher", h.handleConfig)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) { h.mux.ServeHTTP(w, r) }

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	code, err := requestCode(req.Code, req.Barker, req.Oversample, h.searcher.Config().MaxSamples)
	if err != nil {
		h.fail(w, err)
		return
	}
	signal := make([]complex128, len(req.Signal))
	for i, iq := range req.Signal {
		signal[i] = complex(iq[0], iq[1])
	}
	h.run(r.Context(), w, Frame{ID: req.ID, Signal: signal, Code: code}, req.IncludeSurface)
}

func (h *Handler) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req simulateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if req.Barker == 0 {
		req.Barker = 13
	}
	code, err := requestCode(nil, req.Barker, req.Oversample, h.searcher.Config().MaxSamples)
	if err != nil {
		h.fail(w, err)
		return
	}
	if req.NumSamples > h.searcher.Config().MaxSamples {
		h.fail(w, fmt.Errorf("%w: %d samples exceeds limit %d", errBadRequest, req.NumSamples, h.searcher.Config().MaxSamples))
		return
	}
	sim, err := waveform.NewSimulator(waveform.SimConfig{
		NumSamples:   req.NumSamples,
		SamplePeriod: h.searcher.Config().SamplePeriod,
		Code:         code,
		Echoes:       req.Echoes,
		NoiseSigma:   req.NoiseSigma,
		Seed:         req.Seed,
	})
	if err != nil {
		h.fail(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	signal, err := sim.Frame(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.run(r.Context(), w, Frame{ID: req.ID, Signal: signal, Code: code}, req.IncludeSurface)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	events := h.searcher.Events()
	if events == nil {
		events = []Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.searcher.Config())
}

func (h *Handler) run(ctx context.Context, w http.ResponseWriter, frame Frame, includeSurface bool) {
	report, err := h.searcher.Process(ctx, frame)
	if err != nil {
		h.fail(w, err)
		return
	}
	resp := searchResponse{Report: report}
	if includeSurface {
		res := report.Result
		resp.DopplerHz = res.DopplerHz
		resp.PeakPower = res.PeakPower
		resp.PeakIndex = res.PeakIndex
		resp.MaxPowerPerDelay = res.MaxPowerPerDelay()
		resp.MaxNormalizedPerDelay = res.MaxNormalizedPerDelay()
	}
	writeJSON(w, http.StatusOK, resp)
}

// fail maps err onto an HTTP status: invalid input is 400, cancellation 503.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", logging.Err(err), logging.F("status", status))
	} else {
		h.logger.Debug("request rejected", logging.Err(err), logging.F("status", status))
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, dsp.ErrInvalidConfiguration),
		errors.Is(err, dsp.ErrBufferSizeMismatch):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// requestCode resolves the code of a request, rejecting codes longer than maxLen before
// oversampling allocates them.
func requestCode(code []float64, barker, oversample, maxLen int) ([]float64, error) {
	if len(code) == 0 {
		if barker == 0 {
			return nil, fmt.Errorf("%w: either code or barker is required", errBadRequest)
		}
		var err error
		if code, err = waveform.Barker(barker); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
	}
	if len(code) > maxLen || (oversample > 1 && oversample > maxLen/len(code)) {
		return nil, fmt.Errorf("%w: code of %d chips oversampled %d times exceeds %d samples", errBadRequest, len(code), oversample, maxLen)
	}
	if oversample > 1 {
		var err error
		if code, err = waveform.Oversample(code, oversample); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
	}
	return code, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid payload: %v", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
