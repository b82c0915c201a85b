package observability

import (
	"context"
	"log/slog"
	"time"
)

// Enabled reports whether span logging has been toggled on.
func Enabled() bool {
	_, cfg := currentLogger()
	return cfg.Enabled
}

// StartSpan measures an operation. The returned function ends the span and
// hands the duration to the configured sink.
func StartSpan(ctx context.Context, component, operation string) (context.Context, func(error)) {
	logger, cfg := currentLogger()
	if cfg.OnSpan == nil && (logger == nil || !cfg.Enabled) {
		return ctx, func(error) {}
	}

	start := time.Now()
	if logger != nil && cfg.Enabled {
		logger.LogAttrs(ctx, slog.LevelDebug, "[Perf] span start",
			slog.String("component", component),
			slog.String("operation", operation),
		)
	}

	return ctx, func(err error) {
		duration := time.Since(start)
		if cfg.OnSpan != nil {
			cfg.OnSpan(component, operation, duration, err)
		}
		if logger == nil || !cfg.Enabled {
			return
		}

		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("component", component),
			slog.String("operation", operation),
			slog.Duration("duration", duration),
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}
		logger.LogAttrs(ctx, level, "[Perf] span end", attrs...)
	}
}

// RecordMetric emits a best-effort metric datapoint via the configured logger.
func RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) {
	logger, cfg := currentLogger()
	if logger == nil || !cfg.Enabled {
		return
	}

	attrs := []slog.Attr{
		slog.String("metric", name),
		slog.Float64("value", value),
	}
	for k, v := range labels {
		attrs = append(attrs, slog.String(k, v))
	}

	logger.LogAttrs(ctx, slog.LevelDebug, "[Perf] metric", attrs...)
}
