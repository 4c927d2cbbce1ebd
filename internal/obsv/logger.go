// Package obsv carries the ambient observability stack every binary in this
// repository wires in regardless of the core's Non-goals: structured
// logging, Prometheus metrics, and OpenTelemetry tracing spans around the
// job lifecycle. Grounded on the teacher's cmd/server/main.go buildLogger
// (level-driven zap.Config selection) and every package's
// logger.Named("xxx") convention.
package obsv

import "go.uber.org/zap"

// BuildLogger constructs a zap.Logger whose encoding and level are driven by
// level ("debug", "info", "warn", "error"), matching the teacher's
// buildLogger: development encoding only at debug level, production JSON
// encoding otherwise.
func BuildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config
	if level == "debug" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}
