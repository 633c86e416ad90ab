// Package log wraps go.uber.org/zap into the single structured logger
// threaded through the engine's run context, grounded on
// theRebelliousNerd-codenerd's internal/logging package — the only
// pack repo that ships a dedicated logging layer, generalized here
// from its category-file-per-subsystem model to a single
// *zap.SugaredLogger carried via context rather than package globals
// (spec §9's "pass these via an explicit run context").
package log

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// contextKey is unexported so only this package can populate or read
// the context value.
type contextKey struct{}

// New builds the engine's logger. verbose selects debug-level output;
// output selects the encoding: "json" gets a JSON encoder suited to
// machine consumption (matching the summary's own "json" output mode),
// anything else gets a human-readable console encoder written to
// stderr so stdout stays free for the TUI/summary rendering this
// package never touches.
func New(verbose bool, output string) (*zap.SugaredLogger, error) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if output == "json" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	sink := zapcore.Lock(zapcore.AddSync(os.Stderr))
	core := zapcore.NewCore(encoder, sink, level)
	logger := zap.New(core, zap.ErrorOutput(sink))
	return logger.Sugar(), nil
}

// WithLogger returns a context carrying logger, retrievable with
// FromContext.
func WithLogger(ctx context.Context, logger *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger carried by ctx, or a no-op logger if
// none was attached — callers never need a nil check.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if logger, ok := ctx.Value(contextKey{}).(*zap.SugaredLogger); ok && logger != nil {
		return logger
	}
	return zap.NewNop().Sugar()
}
