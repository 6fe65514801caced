package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/automationservice/flowengine/internal/types"
)

// HTTPGateway submits outbound sends to a messaging provider over HTTP.
// Sends carry the idempotency key in both the payload and the
// Idempotency-Key header so provider-side retries de-duplicate.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// HTTPOption is a functional option for configuring HTTPGateway.
type HTTPOption func(*HTTPGateway)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(g *HTTPGateway) {
		g.client = client
	}
}

// WithAPIKey sets the bearer token sent on every provider request.
func WithAPIKey(key string) HTTPOption {
	return func(g *HTTPGateway) {
		g.apiKey = key
	}
}

// WithRateLimit bounds the outbound send rate (sends per second with the
// given burst). Zero disables limiting.
func WithRateLimit(perSecond float64, burst int) HTTPOption {
	return func(g *HTTPGateway) {
		if perSecond > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithLogger configures structured logging for the gateway.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(g *HTTPGateway) {
		g.logger = logger
	}
}

// NewHTTPGateway creates an HTTP gateway client for the given base URL.
// Defaults: 10s request timeout, no rate limit, slog.Default().
func NewHTTPGateway(baseURL string, opts ...HTTPOption) *HTTPGateway {
	g := &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Send submits one outbound message. Timeouts and 5xx responses come back
// as retryable GATEWAY_UNAVAILABLE errors; 4xx responses are non-retryable.
func (g *HTTPGateway) Send(ctx context.Context, msg OutboundMessage) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return types.WrapRetryableError(types.GATEWAY_UNAVAILABLE,
				"rate limiter interrupted", err)
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return types.WrapError(types.ACTION_FATAL, "failed to encode outbound message", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return types.WrapError(types.ACTION_FATAL, "failed to build send request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.IdempotencyKey)
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return types.WrapRetryableError(types.GATEWAY_UNAVAILABLE, "send request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		g.logger.DebugContext(ctx, "outbound message accepted",
			"idempotency_key", msg.IdempotencyKey,
			"status", resp.StatusCode,
		)
		return nil
	case resp.StatusCode >= 500:
		return types.NewRetryableError(types.GATEWAY_UNAVAILABLE,
			fmt.Sprintf("gateway returned %d", resp.StatusCode))
	default:
		return types.NewError(types.ACTION_FATAL,
			fmt.Sprintf("gateway rejected send with %d", resp.StatusCode))
	}
}
