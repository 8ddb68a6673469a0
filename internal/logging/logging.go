// Package logging builds the structured zap loggers every bigbrotr service
// uses in place of the ad-hoc fmt.Printf tagging an earlier prototype used.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a small wrapper so config packages don't need to import zapcore
// directly.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// New builds a zap logger. dev selects the human-readable console encoder;
// production uses JSON, matching how most of the corpus's service binaries
// pick encoders by environment.
func New(level Level, dev bool) (*zap.Logger, error) {
	zl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build logger: %w", err)
	}
	return logger, nil
}

func parseLevel(level Level) (zapcore.Level, error) {
	switch Level(strings.ToLower(string(level))) {
	case LevelDebug:
		return zapcore.DebugLevel, nil
	case LevelInfo, "":
		return zapcore.InfoLevel, nil
	case LevelWarn:
		return zapcore.WarnLevel, nil
	case LevelError:
		return zapcore.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("logging: unknown log level %q", level)
	}
}

// ForComponent returns a child logger tagged with the given component name,
// the structured analog of the teacher's "[COMPONENT]" prefix convention.
func ForComponent(base *zap.Logger, component string) *zap.Logger {
	return base.With(zap.String("component", component))
}

// RelayFields is a convenience builder for the (error kind, relay URL,
// reason) triple spec.md requires on every user-visible failure log line.
func RelayFields(kind, relayURL, reason string) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	if kind != "" {
		fields = append(fields, zap.String("error_kind", kind))
	}
	if relayURL != "" {
		fields = append(fields, zap.String("relay", relayURL))
	}
	if reason != "" {
		fields = append(fields, zap.String("reason", reason))
	}
	return fields
}
