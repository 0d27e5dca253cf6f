package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tanngo729/storefront-gateway/internal/platform/requestctx"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 2
	// Each retry after a timeout runs with a grown budget so a slow but
	// healthy backend still gets a chance to answer.
	retryTimeoutGrowth = 2
)

var errClientBaseURLRequired = errors.New("remote: base URL is required")

// ClientDeps wires the HTTP transport and behaviour knobs for the client.
type ClientDeps struct {
	BaseURL       string
	HTTPClient    *http.Client
	Timeout       time.Duration
	UploadTimeout time.Duration
	MaxRetries    int
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

// Client talks to the remote order service. All durable state lives there;
// the gateway only orchestrates it.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	breaker       *gobreaker.CircuitBreaker[[]byte]
	timeout       time.Duration
	uploadTimeout time.Duration
	maxRetries    int
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewClient constructs a Client enforcing dependency validation.
func NewClient(deps ClientDeps) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(deps.BaseURL), "/")
	if baseURL == "" {
		return nil, errClientBaseURLRequired
	}

	httpClient := deps.HTTPClient
	if httpClient == nil {
		// Trace propagation to the remote service rides on the default
		// transport; an injected client keeps whatever it was built with.
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	uploadTimeout := deps.UploadTimeout
	if uploadTimeout <= 0 {
		uploadTimeout = timeout * 4
	}
	maxRetries := deps.MaxRetries
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "remote-order-service",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		baseURL:       baseURL,
		httpClient:    httpClient,
		breaker:       breaker,
		timeout:       timeout,
		uploadTimeout: uploadTimeout,
		maxRetries:    maxRetries,
		logger:        logger,
	}, nil
}

type callOptions struct {
	query  url.Values
	upload bool
}

// do issues one logical call: per-attempt timeout, bounded retry on
// timeout with a grown budget, circuit breaker around the transport.
func (c *Client) do(ctx context.Context, op, method, path string, body any, out any, opts callOptions) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindValidation, Op: op, Err: err}
		}
		payload = data
	}

	budget := c.timeout
	if opts.upload {
		budget = c.uploadTimeout
	}

	for attempt := 0; ; attempt++ {
		respBody, err := c.attempt(ctx, method, path, payload, opts.query, budget)
		if err == nil {
			if out != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, out); err != nil {
					return &Error{Kind: KindUnavailable, Op: op, Err: fmt.Errorf("decode response: %w", err)}
				}
			}
			return nil
		}

		// The final attempt's error is the one surfaced; earlier
		// timeouts only show up in the retry log.
		remoteErr := classify(op, err)
		if !remoteErr.IsTimeout() || attempt >= c.maxRetries {
			return remoteErr
		}

		budget *= retryTimeoutGrowth
		c.logger(ctx, "remote.retry_after_timeout", map[string]any{
			"op":      op,
			"attempt": attempt + 1,
			"budget":  budget.String(),
		})
	}
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, query url.Values, budget time.Duration) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	return c.breaker.Execute(func() ([]byte, error) {
		endpoint := c.baseURL + path
		if len(query) > 0 {
			endpoint += "?" + query.Encode()
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(attemptCtx, method, endpoint, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if identity, ok := requestctx.IdentityFrom(ctx); ok && identity.Token != "" {
			req.Header.Set("Authorization", "Bearer "+identity.Token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= 400 {
			return nil, &statusError{status: resp.StatusCode, body: data}
		}
		return data, nil
	})
}

type statusError struct {
	status int
	body   []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("remote responded %d", e.status)
}

type remoteErrorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func classify(op string, err error) *Error {
	var remoteErr *Error
	if errors.As(err, &remoteErr) {
		return remoteErr
	}

	var se *statusError
	if errors.As(err, &se) {
		message := ""
		var body remoteErrorBody
		if json.Unmarshal(se.body, &body) == nil {
			if body.Message != "" {
				message = body.Message
			} else {
				message = body.Error
			}
		}
		kind := KindUnavailable
		switch {
		case se.status == http.StatusUnauthorized || se.status == http.StatusForbidden:
			kind = KindUnauthorized
		case se.status == http.StatusNotFound:
			kind = KindNotFound
		case se.status == http.StatusConflict:
			kind = KindConflict
		case se.status == http.StatusBadRequest || se.status == http.StatusUnprocessableEntity:
			kind = KindValidation
		}
		return &Error{Kind: kind, Op: op, Status: se.status, Message: message}
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &Error{Kind: KindUnavailable, Op: op, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	}

	return &Error{Kind: KindNetworkUnavailable, Op: op, Err: err}
}
