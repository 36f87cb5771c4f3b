// Package clients holds the HTTP plumbing shared by the users and
// inventory service clients.
package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/orderflow/internal/domain/order"
)

// DefaultTimeout bounds a single collaborator call.
const DefaultTimeout = 5 * time.Second

// Config describes one collaborator endpoint.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Normalize trims the trailing slash of BaseURL and applies DefaultTimeout.
func (c Config) Normalize() Config {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// NewHTTPClient returns an http.Client whose transport records spans and
// metrics for every outbound request.
func NewHTTPClient(tp trace.TracerProvider, mp metric.MeterProvider) *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithTracerProvider(tp),
			otelhttp.WithMeterProvider(mp),
		),
	}
}

type bearerKey struct{}

// WithBearer stores the inbound Authorization header value so outbound
// calls made on behalf of the request can forward it.
func WithBearer(ctx context.Context, authorization string) context.Context {
	if authorization == "" {
		return ctx
	}
	return context.WithValue(ctx, bearerKey{}, authorization)
}

// Bearer returns the Authorization value stored by WithBearer.
func Bearer(ctx context.Context) string {
	v, _ := ctx.Value(bearerKey{}).(string)
	return v
}

// NewRequest builds an outbound request carrying the forwarded
// Authorization header.
func NewRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	var r io.Reader = http.NoBody
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth := Bearer(ctx); auth != "" {
		req.Header.Set("Authorization", auth)
	}
	return req, nil
}

// Unavailable wraps err as a collaborator outage.
func Unavailable(dependency string, err error) error {
	return &order.DependencyError{Dependency: dependency, Err: err}
}

// StatusError reports an unexpected response status.
type StatusError struct {
	Method string
	URL    string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Code)
}
