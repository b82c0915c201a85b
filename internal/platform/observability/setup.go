package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Config captures observability toggles.
type Config struct {
	Enabled bool
	// OnSpan receives the duration of every finished span, enabled or not.
	OnSpan SpanSink
}

// SpanSink consumes finished span measurements.
type SpanSink func(component, operation string, d time.Duration, err error)

// ShutdownFunc allows callers to tear down any observability exporters.
type ShutdownFunc func(context.Context) error

var (
	loggerMu             sync.RWMutex
	instrumentationLog   *slog.Logger
	instrumentationState Config
)

func currentLogger() (*slog.Logger, Config) {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return instrumentationLog, instrumentationState
}

// Setup installs the logger and span sink used by StartSpan and RecordMetric.
// The returned shutdown function detaches them again.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (ShutdownFunc, error) {
	loggerMu.Lock()
	instrumentationLog = logger
	instrumentationState = cfg
	loggerMu.Unlock()

	if logger != nil {
		if cfg.Enabled {
			logger.InfoContext(ctx, "[Perf] span logging enabled")
		} else {
			logger.DebugContext(ctx, "[Perf] span logging disabled")
		}
	}
	return func(context.Context) error {
		loggerMu.Lock()
		instrumentationLog = nil
		instrumentationState = Config{}
		loggerMu.Unlock()
		return nil
	}, nil
}
