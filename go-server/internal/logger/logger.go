package logger

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	ServiceName string
	Environment string
	LokiURL     string
}

// New builds the process logger: a console encoder in development and JSON
// otherwise, teed into Loki when a push URL is configured. The returned
// function flushes and stops the Loki writer.
func New(opts Options) (*zap.Logger, func(context.Context) error) {
	level := zapcore.InfoLevel
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderConfig)

	if opts.Environment == "development" {
		level = zapcore.DebugLevel
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level),
	}

	shutdown := func(context.Context) error { return nil }
	if opts.LokiURL != "" {
		loki := NewLokiWriter(LokiConfig{
			URL:         opts.LokiURL,
			ServiceName: opts.ServiceName,
			Environment: opts.Environment,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), loki, level))
		shutdown = loki.Close
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)).
		With(zap.String("service", opts.ServiceName))
	return l, shutdown
}
