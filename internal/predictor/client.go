// Package predictor is the HTTP client for the remote prediction service.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/opensource-finance/rxwatch/internal/domain"
)

// Upstream paths.
const (
	HistoryPath = "/predict/history"
	PredictPath = "/predict"
)

// maxErrorBody bounds how much of a failed response is kept for diagnostics.
const maxErrorBody = 512

// ErrUpstream marks every failure talking to the prediction service.
var ErrUpstream = errors.New("prediction service error")

// StatusError is returned when the service answers with a non-2xx status.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Code, e.Body)
}

// Unwrap lets callers match StatusError with errors.Is(err, ErrUpstream).
func (e *StatusError) Unwrap() error {
	return ErrUpstream
}

var tracer = otel.Tracer("rxwatch-predictor")

// Client calls the prediction service. Failures are returned, never retried.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client from cfg.
func NewClient(cfg domain.UpstreamConfig, opts ...Option) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid upstream URL %q: scheme must be http or https", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		logger:     slog.Default().With("component", "predictor"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// History fetches every logged prediction. Individual malformed records are
// decoded leniently; only a transport failure, a non-2xx status or a body
// that is not a JSON array fails the call.
func (c *Client) History(ctx context.Context) ([]domain.PredictionRecord, error) {
	var records []domain.PredictionRecord
	if err := c.do(ctx, "history", http.MethodGet, HistoryPath, nil, &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []domain.PredictionRecord{}
	}
	c.logger.Debug("fetched prediction history", "count", len(records))
	return records, nil
}

// Predict scores a single prescription.
func (c *Client) Predict(ctx context.Context, req domain.PrescriptionRequest) (*domain.PredictionResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode prediction request: %w", err)
	}

	var result domain.PredictionResult
	if err := c.do(ctx, "predict", http.MethodPost, PredictPath, body, &result); err != nil {
		return nil, err
	}
	c.logger.Debug("prediction received",
		"patient", req.Patient,
		"risk_score", result.RiskScore.Float(),
		"fraud", result.Fraud,
	)
	return &result, nil
}

// Ping checks that the service root answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", http.MethodGet, "/", nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	ctx, span := tracer.Start(ctx, "predictor."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		),
	)
	defer span.End()

	err := c.roundTrip(ctx, op, method, path, body, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s: rate limiter: %w", ErrUpstream, op, err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %s: creating request: %w", ErrUpstream, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUpstream, op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("upstream call",
		"op", op,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decoding response: %w", ErrUpstream, op, err)
	}
	return nil
}
