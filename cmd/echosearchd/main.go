package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rjboer/GoEcho/internal/app"
	"github.com/rjboer/GoEcho/internal/logging"
	"github.com/rjboer/GoEcho/internal/mdns"
	"github.com/rjboer/GoEcho/internal/telemetry"
	"github.com/rjboer/GoEcho/internal/waveform"
)

func main() {
	configPath := envString(os.LookupEnv, "ECHO_CONFIG", "echosearchd.json")

	persistentCfg, err := loadOrCreateConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	cfg, err := parseConfig(os.Args[1:], os.LookupEnv, persistentCfg)
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}
	if err := saveConfig(configPath, persistentFromCLI(cfg)); err != nil {
		log.Fatalf("save config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	logging.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.discover > 0 {
		if err := discover(ctx, cfg.discover); err != nil {
			log.Fatalf("discover: %v", err)
		}
		return
	}
	if err := serve(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("serve: %v", err)
	}
}

func serve(ctx context.Context, cfg cliConfig, logger logging.Logger) error {
	hub := telemetry.NewHub(cfg.historyLimit)
	reporters := []telemetry.Reporter{hub}
	if cfg.logSamples {
		reporters = append(reporters, telemetry.NewStdoutReporter(logger))
	}

	searcher := app.NewSearcher(telemetry.MultiReporter(reporters), logger, searcherConfig(cfg))
	if err := searcher.Init(); err != nil {
		return fmt.Errorf("init searcher: %w", err)
	}

	source, code, err := selectSource(cfg)
	if err != nil {
		return fmt.Errorf("select source: %w", err)
	}

	errCh := make(chan error, 2)
	web := telemetry.NewWebServer(cfg.webAddr, hub, app.NewHandler(searcher, logger), logger)
	go func() { errCh <- web.Start(ctx) }()

	if cfg.advertise {
		go func() {
			adv, err := advertise(ctx, cfg, searcher.Config(), logger)
			if err != nil {
				logger.Warn("mdns advertisement failed", logging.Err(err))
				return
			}
			logger.Info("mdns advertisement registered", logging.F("service", mdns.ServiceType), logging.F("instance", cfg.instance))
			<-ctx.Done()
			adv.Shutdown()
		}()
	}

	if source != nil {
		logger.Info("starting simulated frame loop", logging.F("interval", cfg.simInterval.String()))
		go func() { errCh <- searcher.Run(ctx, source, code, cfg.simInterval) }()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func discover(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	hosts, err := mdns.Discover(ctx, mdns.ServiceType)
	if err != nil {
		return err
	}
	if len(hosts) == 0 {
		fmt.Println("No echo search services found")
		return nil
	}
	for i, h := range hosts {
		fmt.Printf("#%d %s (%s:%d)\n", i+1, h.Instance, h.Hostname, h.Port)
		for _, ip := range h.Addresses {
			fmt.Printf("   addr %s\n", ip)
		}
		for _, rec := range mdns.TXTRecords(h.TXT) {
			fmt.Printf("   txt  %s\n", rec)
		}
	}
	return nil
}

func advertise(ctx context.Context, cfg cliConfig, sc app.Config, logger logging.Logger) (*mdns.Advertisement, error) {
	port, err := portFromAddr(cfg.webAddr)
	if err != nil {
		return nil, err
	}
	return mdns.AdvertiseRetry(ctx, cfg.instance, port, mdns.TXTRecords(txtFields(sc)),
		mdns.RetryPolicy{InitialInterval: time.Second, MaxInterval: 30 * time.Second},
		func(err error, next time.Duration) {
			logger.Debug("mdns advertisement retry", logging.Err(err), logging.F("next", next.String()))
		})
}

func txtFields(sc app.Config) map[string]string {
	return map[string]string{
		"doppler_min":   strconv.FormatFloat(sc.DopplerMin, 'g', -1, 64),
		"doppler_max":   strconv.FormatFloat(sc.DopplerMax, 'g', -1, 64),
		"doppler_step":  strconv.FormatFloat(sc.DopplerStep, 'g', -1, 64),
		"sample_period": strconv.FormatFloat(sc.SamplePeriod, 'g', -1, 64),
		"method":        sc.Method,
	}
}

func portFromAddr(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("web address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("web address %q has no fixed port", addr)
	}
	return port, nil
}

func newLogger(cfg cliConfig) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.logLevel)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.logFormat)
	if err != nil {
		return nil, err
	}
	return logging.New(level, format, os.Stderr), nil
}

type cliConfig struct {
	dopplerMin      float64
	dopplerMax      float64
	dopplerStep     float64
	samplePeriod    float64
	workers         int
	method          string
	threshold       float64
	noiseConfidence float64
	maxSamples      int
	maxSurfaceCells int
	maxEvents       int
	eventTimeout    time.Duration
	historyLimit    int
	webAddr         string
	logLevel        string
	logFormat       string
	logSamples      bool
	advertise       bool
	instance        string
	discover        time.Duration
	source          string
	simSamples      int
	simBarker       int
	simOversample   int
	simNoise        float64
	simDelay        int
	simDoppler      float64
	simInterval     time.Duration
}

type persistentConfig struct {
	DopplerMin      float64 `json:"doppler_min"`
	DopplerMax      float64 `json:"doppler_max"`
	DopplerStep     float64 `json:"doppler_step"`
	SamplePeriod    float64 `json:"sample_period"`
	Workers         int     `json:"workers"`
	Method          string  `json:"method"`
	Threshold       float64 `json:"detection_threshold"`
	NoiseConfidence float64 `json:"noise_confidence"`
	MaxSamples      int     `json:"max_samples"`
	MaxSurfaceCells int     `json:"max_surface_cells"`
	MaxEvents       int     `json:"max_events"`
	EventTimeout    string  `json:"event_timeout"`
	HistoryLimit    int     `json:"history_limit"`
	WebAddr         string  `json:"web_addr"`
	LogLevel        string  `json:"log_level"`
	LogFormat       string  `json:"log_format"`
	LogSamples      bool    `json:"log_samples"`
	Advertise       bool    `json:"advertise"`
	Instance        string  `json:"instance"`
	Source          string  `json:"source"`
	SimSamples      int     `json:"sim_samples"`
	SimBarker       int     `json:"sim_barker"`
	SimOversample   int     `json:"sim_oversample"`
	SimNoise        float64 `json:"sim_noise"`
	SimDelay        int     `json:"sim_delay"`
	SimDoppler      float64 `json:"sim_doppler"`
	SimInterval     string  `json:"sim_interval"`
}

func parseConfig(args []string, lookup func(string) (string, bool), defaults persistentConfig) (cliConfig, error) {
	cfg := cliConfig{}
	fs := flag.NewFlagSet("echosearchd", flag.ContinueOnError)
	fs.Float64Var(&cfg.dopplerMin, "doppler-min", envFloat(lookup, "ECHO_DOPPLER_MIN", defaults.DopplerMin), "Lowest Doppler hypothesis in Hz")
	fs.Float64Var(&cfg.dopplerMax, "doppler-max", envFloat(lookup, "ECHO_DOPPLER_MAX", defaults.DopplerMax), "Highest Doppler hypothesis in Hz")
	fs.Float64Var(&cfg.dopplerStep, "doppler-step", envFloat(lookup, "ECHO_DOPPLER_STEP", defaults.DopplerStep), "Doppler grid step in Hz")
	fs.Float64Var(&cfg.samplePeriod, "sample-period", envFloat(lookup, "ECHO_SAMPLE_PERIOD", defaults.SamplePeriod), "Time between received samples in seconds")
	fs.IntVar(&cfg.workers, "workers", envInt(lookup, "ECHO_WORKERS", defaults.Workers), "Concurrent Doppler rows (0 = all CPUs)")
	fs.StringVar(&cfg.method, "method", envString(lookup, "ECHO_METHOD", defaults.Method), "Correlation method (direct|fft)")
	fs.Float64Var(&cfg.threshold, "threshold", envFloat(lookup, "ECHO_THRESHOLD", defaults.Threshold), "Normalized power above which a row peak is a detection")
	fs.Float64Var(&cfg.noiseConfidence, "noise-confidence", envFloat(lookup, "ECHO_NOISE_CONFIDENCE", defaults.NoiseConfidence), "Two-sided tail probability of the noise interval")
	fs.IntVar(&cfg.maxSamples, "max-samples", envInt(lookup, "ECHO_MAX_SAMPLES", defaults.MaxSamples), "Largest frame accepted")
	fs.IntVar(&cfg.maxSurfaceCells, "max-surface-cells", envInt(lookup, "ECHO_MAX_SURFACE_CELLS", defaults.MaxSurfaceCells), "Largest Doppler x delay surface one frame may allocate")
	fs.IntVar(&cfg.maxEvents, "max-events", envInt(lookup, "ECHO_MAX_EVENTS", defaults.MaxEvents), "Echo events tracked at once")
	fs.DurationVar(&cfg.eventTimeout, "event-timeout", envDuration(lookup, "ECHO_EVENT_TIMEOUT", defaults.EventTimeout), "Close events not seen for this long")
	fs.IntVar(&cfg.historyLimit, "history-limit", envInt(lookup, "ECHO_HISTORY_LIMIT", defaults.HistoryLimit), "Maximum samples to keep in telemetry history")
	fs.StringVar(&cfg.webAddr, "web-addr", envString(lookup, "ECHO_WEB_ADDR", defaults.WebAddr), "HTTP listen address (e.g. :8080)")
	fs.StringVar(&cfg.logLevel, "log-level", envString(lookup, "ECHO_LOG_LEVEL", defaults.LogLevel), "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.logFormat, "log-format", envString(lookup, "ECHO_LOG_FORMAT", defaults.LogFormat), "Log format (text|json)")
	fs.BoolVar(&cfg.logSamples, "log-samples", envBool(lookup, "ECHO_LOG_SAMPLES", defaults.LogSamples), "Also log every telemetry sample")
	fs.BoolVar(&cfg.advertise, "advertise", envBool(lookup, "ECHO_ADVERTISE", defaults.Advertise), "Advertise the service over mDNS")
	fs.StringVar(&cfg.instance, "instance", envString(lookup, "ECHO_INSTANCE", defaults.Instance), "mDNS instance name")
	fs.DurationVar(&cfg.discover, "discover", 0, "Browse for echo search services for this long, print them and exit")
	fs.StringVar(&cfg.source, "source", envString(lookup, "ECHO_SOURCE", defaults.Source), "Frame source (none|simulate)")
	fs.IntVar(&cfg.simSamples, "sim-samples", envInt(lookup, "ECHO_SIM_SAMPLES", defaults.SimSamples), "Simulated frame length")
	fs.IntVar(&cfg.simBarker, "sim-barker", envInt(lookup, "ECHO_SIM_BARKER", defaults.SimBarker), "Simulated Barker code length")
	fs.IntVar(&cfg.simOversample, "sim-oversample", envInt(lookup, "ECHO_SIM_OVERSAMPLE", defaults.SimOversample), "Samples per simulated chip")
	fs.Float64Var(&cfg.simNoise, "sim-noise", envFloat(lookup, "ECHO_SIM_NOISE", defaults.SimNoise), "Simulated noise sigma per component")
	fs.IntVar(&cfg.simDelay, "sim-delay", envInt(lookup, "ECHO_SIM_DELAY", defaults.SimDelay), "Simulated echo delay in samples")
	fs.Float64Var(&cfg.simDoppler, "sim-doppler", envFloat(lookup, "ECHO_SIM_DOPPLER", defaults.SimDoppler), "Simulated echo Doppler in Hz")
	fs.DurationVar(&cfg.simInterval, "sim-interval", envDuration(lookup, "ECHO_SIM_INTERVAL", defaults.SimInterval), "Interval between simulated frames")

	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	return cfg, nil
}

func searcherConfig(cfg cliConfig) app.Config {
	return app.Config{
		DopplerMin:         cfg.dopplerMin,
		DopplerMax:         cfg.dopplerMax,
		DopplerStep:        cfg.dopplerStep,
		SamplePeriod:       cfg.samplePeriod,
		Workers:            cfg.workers,
		Method:             cfg.method,
		DetectionThreshold: cfg.threshold,
		NoiseConfidence:    cfg.noiseConfidence,
		MaxSamples:         cfg.maxSamples,
		MaxSurfaceCells:    cfg.maxSurfaceCells,
		MaxEvents:          cfg.maxEvents,
		EventTimeout:       cfg.eventTimeout,
	}
}

func persistentFromCLI(cfg cliConfig) persistentConfig {
	return persistentConfig{
		DopplerMin:      cfg.dopplerMin,
		DopplerMax:      cfg.dopplerMax,
		DopplerStep:     cfg.dopplerStep,
		SamplePeriod:    cfg.samplePeriod,
		Workers:         cfg.workers,
		Method:          cfg.method,
		Threshold:       cfg.threshold,
		NoiseConfidence: cfg.noiseConfidence,
		MaxSamples:      cfg.maxSamples,
		MaxSurfaceCells: cfg.maxSurfaceCells,
		MaxEvents:       cfg.maxEvents,
		EventTimeout:    cfg.eventTimeout.String(),
		HistoryLimit:    cfg.historyLimit,
		WebAddr:         cfg.webAddr,
		LogLevel:        cfg.logLevel,
		LogFormat:       cfg.logFormat,
		LogSamples:      cfg.logSamples,
		Advertise:       cfg.advertise,
		Instance:        cfg.instance,
		Source:          cfg.source,
		SimSamples:      cfg.simSamples,
		SimBarker:       cfg.simBarker,
		SimOversample:   cfg.simOversample,
		SimNoise:        cfg.simNoise,
		SimDelay:        cfg.simDelay,
		SimDoppler:      cfg.simDoppler,
		SimInterval:     cfg.simInterval.String(),
	}
}

func loadOrCreateConfig(path string) (persistentConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultPersistentConfig()
			if saveErr := saveConfig(path, cfg); saveErr != nil {
				return persistentConfig{}, saveErr
			}
			return cfg, nil
		}
		return persistentConfig{}, err
	}
	defer f.Close()

	cfg := defaultPersistentConfig()
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return persistentConfig{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

func saveConfig(path string, cfg persistentConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func defaultPersistentConfig() persistentConfig {
	d := app.DefaultConfig()
	return persistentConfig{
		DopplerMin:      d.DopplerMin,
		DopplerMax:      d.DopplerMax,
		DopplerStep:     d.DopplerStep,
		SamplePeriod:    d.SamplePeriod,
		Workers:         0,
		Method:          d.Method,
		Threshold:       d.DetectionThreshold,
		NoiseConfidence: d.NoiseConfidence,
		MaxSamples:      d.MaxSamples,
		MaxSurfaceCells: d.MaxSurfaceCells,
		MaxEvents:       d.MaxEvents,
		EventTimeout:    d.EventTimeout.String(),
		HistoryLimit:    500,
		WebAddr:         ":8080",
		LogLevel:        "info",
		LogFormat:       "text",
		Instance:        "echosearch",
		Source:          "none",
		SimSamples:      1 << 12,
		SimBarker:       13,
		SimOversample:   1,
		SimNoise:        0.1,
		SimDelay:        1000,
		SimDoppler:      -12000,
		SimInterval:     "500ms",
	}
}

func selectSource(cfg cliConfig) (app.FrameSource, []float64, error) {
	switch cfg.source {
	case "none", "":
		return nil, nil, nil
	case "simulate":
		code, err := waveform.Barker(cfg.simBarker)
		if err != nil {
			return nil, nil, err
		}
		if code, err = waveform.Oversample(code, max(cfg.simOversample, 1)); err != nil {
			return nil, nil, err
		}
		sim, err := waveform.NewSimulator(waveform.SimConfig{
			NumSamples:   cfg.simSamples,
			SamplePeriod: cfg.samplePeriod,
			Code:         code,
			Echoes:       []waveform.Echo{{Delay: cfg.simDelay, DopplerHz: cfg.simDoppler, Amplitude: 1}},
			NoiseSigma:   cfg.simNoise,
			Seed:         uint64(time.Now().UnixNano()),
		})
		if err != nil {
			return nil, nil, err
		}
		return sim, code, nil
	default:
		return nil, nil, fmt.Errorf("unknown source %s", cfg.source)
	}
}

func envFloat(lookup func(string) (string, bool), key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(lookup func(string) (string, bool), key string, def bool) bool {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func envDuration(lookup func(string) (string, bool), key, def string) time.Duration {
	if val, ok := lookup(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	parsed, _ := time.ParseDuration(def)
	return parsed
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}
