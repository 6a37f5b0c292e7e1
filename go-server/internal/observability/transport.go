package observability

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// loggingTransport logs every exporter request at debug level so collector
// connectivity problems show up in the service log.
type loggingTransport struct {
	base   http.RoundTripper
	logger *zap.Logger
}

func newLoggingTransport(logger *zap.Logger) http.RoundTripper {
	return &loggingTransport{
		base:   http.DefaultTransport,
		logger: logger,
	}
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		t.logger.Warn("OTLP request failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL.String()),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, err
	}

	fields := []zap.Field{
		zap.String("url", req.URL.String()),
		zap.Int64("content_length", req.ContentLength),
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("duration", duration),
		zap.Any("headers", redactHeaders(req.Header)),
	}
	if resp.StatusCode >= 400 {
		t.logger.Warn("OTLP request rejected", fields...)
	} else {
		t.logger.Debug("OTLP request sent", fields...)
	}
	return resp, nil
}

// redactHeaders flattens headers for logging, hiding credentials.
func redactHeaders(headers http.Header) map[string]string {
	formatted := make(map[string]string, len(headers))
	for key, values := range headers {
		lowerKey := strings.ToLower(key)
		if strings.Contains(lowerKey, "authorization") ||
			strings.Contains(lowerKey, "token") ||
			strings.Contains(lowerKey, "secret") {
			formatted[key] = "***REDACTED***"
			continue
		}
		formatted[key] = strings.Join(values, ", ")
	}
	return formatted
}
