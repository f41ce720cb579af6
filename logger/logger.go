// Package logger builds the structured zap logger shared by every component
package logger

import (
	"context"
	"fmt"
	"os"

	"github.com/amirphl/newsletter-dashboard/config"
	"github.com/amirphl/newsletter-dashboard/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	ProductionMode  = "production"
	DevelopmentMode = "development"
)

// New builds a logger for the given deployment mode; the returned func flushes it
func New(cfg config.LoggingConfig, mode string) (*zap.Logger, func(), error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var encoderConfig zapcore.EncoderConfig
	if mode == ProductionMode {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	var encoder zapcore.Encoder
	if cfg.Format == "console" || (cfg.Format == "" && mode != ProductionMode) {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var syncers []zapcore.WriteSyncer
	var rotator *lumberjack.Logger
	if cfg.Output == "" || cfg.Output == "stdout" || cfg.Output == "both" {
		syncers = append(syncers, zapcore.Lock(os.Stdout))
	}
	if cfg.Output == "file" || cfg.Output == "both" {
		rotator = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		syncers = append(syncers, zapcore.AddSync(rotator))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(syncers...), level)
	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if mode != ProductionMode {
		opts = append(opts, zap.Development())
	}
	l := zap.New(core, opts...)

	flush := func() {
		_ = l.Sync()
		if rotator != nil {
			_ = rotator.Close()
		}
	}
	return l, flush, nil
}

// WithContext attaches request-scoped fields found in ctx
func WithContext(ctx context.Context, l *zap.Logger) *zap.Logger {
	if ctx == nil {
		return l
	}
	var fields []zap.Field
	if requestID, ok := ctx.Value(utils.RequestIDKey).(string); ok && requestID != "" {
		fields = append(fields, zap.String(string(utils.RequestIDKey), requestID))
	}
	if endpoint, ok := ctx.Value(utils.EndpointKey).(string); ok && endpoint != "" {
		fields = append(fields, zap.String(string(utils.EndpointKey), endpoint))
	}
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}
