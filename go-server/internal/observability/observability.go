package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"

	"github.com/fonsecaaso/linkpulse/go-server/internal/logger"
)

type Options struct {
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	LokiURL      string
}

// Observability holds all observability components
type Observability struct {
	Logger         *zap.Logger
	TracingEnabled bool

	tracerShutdown func(ctx context.Context) error
	loggerShutdown func(ctx context.Context) error
}

// Setup installs the global zap logger and, when an OTLP endpoint is
// configured, the global tracer provider.
func Setup(ctx context.Context, opts Options) (*Observability, error) {
	l, loggerShutdown := logger.New(logger.Options{
		ServiceName: opts.ServiceName,
		Environment: opts.Environment,
		LokiURL:     opts.LokiURL,
	})
	zap.ReplaceGlobals(l)

	obs := &Observability{Logger: l, loggerShutdown: loggerShutdown}

	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	if opts.OTLPEndpoint == "" {
		l.Info("Tracing disabled, OTEL_EXPORTER_OTLP_ENDPOINT not set")
		return obs, nil
	}

	res, err := newResource(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tracerShutdown, err := initTracing(ctx, res, opts.OTLPEndpoint, l)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	obs.tracerShutdown = tracerShutdown
	obs.TracingEnabled = true
	return obs, nil
}

// Shutdown flushes spans and log lines.
func (o *Observability) Shutdown(ctx context.Context) error {
	var errs []error

	if o.tracerShutdown != nil {
		if err := o.tracerShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	_ = o.Logger.Sync()
	if o.loggerShutdown != nil {
		if err := o.loggerShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("logger shutdown: %w", err))
		}
	}

	return errors.Join(errs...)
}

func newResource(ctx context.Context, opts Options) (*resource.Resource, error) {
	attrs := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			semconv.DeploymentEnvironment(opts.Environment),
		),
		resource.WithHost(),
	}
	if clusterName := os.Getenv("AWS_ECS_CLUSTER_NAME"); clusterName != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.AWSECSClusterARN(clusterName)))
	}
	if taskARN := os.Getenv("TASK_ARN"); taskARN != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.AWSECSTaskARN(taskARN)))
	}
	return resource.New(ctx, attrs...)
}

func initTracing(ctx context.Context, res *resource.Resource, endpoint string, l *zap.Logger) (func(context.Context) error, error) {
	exporterLogger := l.With(zap.String("component", "OTLPExporter"))

	hostPort, insecure, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(hostPort),
		otlptracehttp.WithHTTPClient(&http.Client{Transport: newLoggingTransport(exporterLogger)}),
	}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(
		exporter,
		sdktrace.WithMaxExportBatchSize(512),
		sdktrace.WithMaxQueueSize(2048),
		sdktrace.WithBatchTimeout(5*time.Second),
	)

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tracerProvider)

	exporterLogger.Info("OTLP trace exporter initialized", zap.String("endpoint", hostPort))
	return tracerProvider.Shutdown, nil
}

// parseEndpoint reduces endpoint to the host:port the OTLP exporter wants,
// which appends /v1/traces itself. Plain http and bare host:port are sent
// without TLS.
func parseEndpoint(endpoint string) (string, bool, error) {
	endpoint = strings.TrimSpace(strings.Trim(endpoint, `"`))
	if endpoint == "" {
		return "", false, errors.New("empty OTLP endpoint")
	}

	if !strings.Contains(endpoint, "://") {
		hostPort, _, _ := strings.Cut(endpoint, "/")
		return hostPort, true, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid OTLP endpoint %q: missing host", endpoint)
	}
	return u.Host, u.Scheme != "https", nil
}
