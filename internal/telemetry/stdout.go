package telemetry

import "github.com/rjboer/GoEcho/internal/logging"

// StdoutReporter writes samples through the structured logger.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a reporter with the provided logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return StdoutReporter{logger: logger.With(logging.F("subsystem", "telemetry"))}
}

func (r StdoutReporter) Report(sample Sample) {
	fields := []logging.Field{
		logging.F("frame_id", sample.FrameID),
		logging.F("doppler_hz", sample.DopplerHz),
		logging.F("delay", sample.Delay),
		logging.F("peak_power", sample.PeakPower),
		logging.F("detections", sample.Detections),
		logging.F("duration_ms", sample.DurationMs),
	}
	if sample.EventID != 0 {
		fields = append(fields, logging.F("event_id", sample.EventID))
	}
	if sample.Digest != "" {
		fields = append(fields, logging.F("digest", sample.Digest))
	}
	r.logger.Info("telemetry sample", fields...)
}
