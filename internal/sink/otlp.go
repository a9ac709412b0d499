// Copyright (C) 2017 Librato, Inc. All rights reserved.

package sink

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/appoptics/otlp-histogram-sender/internal/config"
	"github.com/appoptics/otlp-histogram-sender/internal/log"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/atomic"
	"golang.org/x/net/http/httpproxy"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// The instrument the measurements are recorded into.
const (
	MeterName        = "example-meter"
	MeterVersion     = "1.0.0"
	HistogramName    = "http.server.duration"
	histogramDesc    = "HTTP request duration"
	histogramUnit    = "ms"
	grpcUserAgent    = "otlp-histogram-sender"
	retryInitial     = 500 * time.Millisecond // initial export retry delay
	retryMaxInterval = 60 * time.Second       // max export retry delay
	retryMaxElapsed  = 5 * time.Minute        // give up retrying an export after this
)

// OTLPSink records measurements into a histogram of the OpenTelemetry SDK
// and exports them over OTLP. Histograms are exported with delta
// temporality.
type OTLPSink struct {
	provider  *sdkmetric.MeterProvider
	histogram metric.Float64Histogram
	target    string
	timeout   time.Duration
	closed    *atomic.Bool
}

var _ Sink = (*OTLPSink)(nil)

// RouteSDKErrors sends the errors of the SDK, e.g., those of the background
// export, to the logger.
func RouteSDKErrors() {
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Errorf("OpenTelemetry SDK error: %v", err)
	}))
}

// New creates an OTLPSink for the configuration. It doesn't connect to the
// endpoint; a malformed endpoint or an invalid proxy is reported as a
// ConstructionError.
func New(ctx context.Context, c *config.Config) (*OTLPSink, error) {
	target, err := parseTarget(c)
	if err != nil {
		return nil, &ConstructionError{Err: err}
	}

	exporter, err := newExporter(ctx, c, target)
	if err != nil {
		return nil, &ConstructionError{Err: errors.Wrap(err, "exporter")}
	}

	res, err := newResource(ctx, c)
	if err != nil {
		exporter.Shutdown(ctx)
		return nil, &ConstructionError{Err: errors.Wrap(err, "resource")}
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{
		sdkmetric.WithInterval(c.ExportIntervalDuration()),
	}
	if t := c.ExportTimeoutDuration(); t > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithTimeout(t))
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
	)

	meter := provider.Meter(MeterName, metric.WithInstrumentationVersion(MeterVersion))
	histogram, err := meter.Float64Histogram(HistogramName,
		metric.WithDescription(histogramDesc),
		metric.WithUnit(histogramUnit))
	if err != nil {
		provider.Shutdown(ctx)
		return nil, &ConstructionError{Err: errors.Wrap(err, "histogram")}
	}

	s := &OTLPSink{
		provider:  provider,
		histogram: histogram,
		target:    target.String(),
		timeout:   c.ExportTimeoutDuration(),
		closed:    atomic.NewBool(false),
	}
	log.Infof("Metric sink is initialized: protocol=%s target=%s", c.Protocol, s.target)
	return s, nil
}

// Target returns the URL (http/protobuf) or address (grpc) the metrics are
// exported to.
func (s *OTLPSink) Target() string {
	return s.target
}

// Record buffers one measurement. It's dropped if the sink is closed.
func (s *OTLPSink) Record(ctx context.Context, value float64, labels map[string]interface{}) {
	if s.closed.Load() {
		log.Debugf("Dropped measurement %v: %v", value, ErrSinkClosed)
		return
	}
	s.histogram.Record(ctx, value, metric.WithAttributes(toAttributes(labels)...))
}

// Flush exports the pending measurements now.
func (s *OTLPSink) Flush(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSinkClosed
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.provider.ForceFlush(ctx); err != nil {
		return &ExportError{Err: err}
	}
	return nil
}

// Shutdown flushes and stops the pipeline. Only the first call has an effect.
func (s *OTLPSink) Shutdown(ctx context.Context) error {
	if !s.closed.CAS(false, true) {
		return nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.provider.Shutdown(ctx); err != nil {
		return &ExportError{Err: errors.Wrap(err, "shutdown")}
	}
	log.Info("Metric sink is stopped.")
	return nil
}

func (s *OTLPSink) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// deltaHistograms selects delta temporality for histograms and the default
// for everything else.
func deltaHistograms(kind sdkmetric.InstrumentKind) metricdata.Temporality {
	if kind == sdkmetric.InstrumentKindHistogram {
		return metricdata.DeltaTemporality
	}
	return sdkmetric.DefaultTemporalitySelector(kind)
}

func parseTarget(c *config.Config) (*url.URL, error) {
	raw := c.MetricsEndpoint()
	if c.Protocol == config.ProtocolGRPC {
		raw = c.Endpoint
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid endpoint")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("invalid endpoint %q: the scheme must be http or https", c.Endpoint)
	}
	if u.Host == "" {
		return nil, errors.Errorf("invalid endpoint %q: missing host", c.Endpoint)
	}

	if c.Protocol == config.ProtocolGRPC {
		return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
	}
	return u, nil
}

func newExporter(ctx context.Context, c *config.Config, target *url.URL) (sdkmetric.Exporter, error) {
	if c.Protocol == config.ProtocolGRPC {
		return newGRPCExporter(ctx, c, target)
	}
	return newHTTPExporter(ctx, c, target)
}

func newHTTPExporter(ctx context.Context, c *config.Config, target *url.URL) (sdkmetric.Exporter, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(target.Host),
		otlpmetrichttp.WithURLPath(target.Path),
		otlpmetrichttp.WithHeaders(c.AuthorizationHeader()),
		otlpmetrichttp.WithTemporalitySelector(deltaHistograms),
		otlpmetrichttp.WithRetry(otlpmetrichttp.RetryConfig{
			Enabled:         true,
			InitialInterval: retryInitial,
			MaxInterval:     retryMaxInterval,
			MaxElapsedTime:  retryMaxElapsed,
		}),
	}
	if target.Scheme == "http" {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	} else if c.InsecureSkipVerify {
		opts = append(opts, otlpmetrichttp.WithTLSClientConfig(&tls.Config{InsecureSkipVerify: true}))
	}
	if t := c.ExportTimeoutDuration(); t > 0 {
		opts = append(opts, otlpmetrichttp.WithTimeout(t))
	}
	if c.Proxy != "" {
		proxy, err := proxyFunc(c.Proxy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, otlpmetrichttp.WithProxy(proxy))
	}

	return otlpmetrichttp.New(ctx, opts...)
}

func newGRPCExporter(ctx context.Context, c *config.Config, target *url.URL) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(target.Host),
		otlpmetricgrpc.WithHeaders(c.AuthorizationHeader()),
		otlpmetricgrpc.WithTemporalitySelector(deltaHistograms),
		otlpmetricgrpc.WithRetry(otlpmetricgrpc.RetryConfig{
			Enabled:         true,
			InitialInterval: retryInitial,
			MaxInterval:     retryMaxInterval,
			MaxElapsedTime:  retryMaxElapsed,
		}),
		otlpmetricgrpc.WithDialOption(grpc.WithUserAgent(grpcUserAgent)),
	}
	if target.Scheme == "http" {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	} else {
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(
			credentials.NewTLS(&tls.Config{InsecureSkipVerify: c.InsecureSkipVerify})))
	}
	if t := c.ExportTimeoutDuration(); t > 0 {
		opts = append(opts, otlpmetricgrpc.WithTimeout(t))
	}
	if c.Proxy != "" {
		log.Warningf("Proxy %s is ignored by the %s protocol", c.Proxy, config.ProtocolGRPC)
	}

	return otlpmetricgrpc.New(ctx, opts...)
}

// proxyFunc returns the proxy selector of the http transport. Requests to
// localhost are never proxied.
func proxyFunc(proxy string) (otlpmetrichttp.HTTPTransportProxyFunc, error) {
	if _, err := url.Parse(proxy); err != nil {
		return nil, errors.Wrap(err, "invalid proxy")
	}

	pf := (&httpproxy.Config{HTTPProxy: proxy, HTTPSProxy: proxy}).ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		return pf(req.URL)
	}, nil
}

func newResource(ctx context.Context, c *config.Config) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(c.ServiceName),
			semconv.ServiceVersion(c.ServiceVersion),
			semconv.DeploymentEnvironment(c.Environment),
		),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithProcessPID(),
	)
	if errors.Is(err, resource.ErrPartialResource) {
		log.Warningf("Some resource attributes are not detected: %v", err)
		return res, nil
	}
	return res, err
}

// toAttributes converts labels to attributes, sorted by key.
func toAttributes(labels map[string]interface{}) []attribute.KeyValue {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(labels))
	for _, k := range keys {
		switch v := labels[k].(type) {
		case string:
			attrs = append(attrs, attribute.String(k, v))
		case int:
			attrs = append(attrs, attribute.Int(k, v))
		case int64:
			attrs = append(attrs, attribute.Int64(k, v))
		case float64:
			attrs = append(attrs, attribute.Float64(k, v))
		case bool:
			attrs = append(attrs, attribute.Bool(k, v))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(v)))
		}
	}
	return attrs
}
