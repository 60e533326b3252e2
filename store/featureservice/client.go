// Package featureservice implements the feature store on top of an ArcGIS
// REST FeatureServer.
//
// Layers are addressed by name. Names are resolved against the service
// description once (exact match first, then the first layer whose name
// contains the requested one) unless an id is configured with WithLayerID.
package featureservice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/pkg/retry"
	"github.com/c360/featuresync/store"
)

var _ store.Store = (*Client)(nil)

// maxResponseSize bounds a decoded response body.
const maxResponseSize = 32 << 20

// Client talks to one FeatureServer.
type Client struct {
	base    *url.URL
	http    *http.Client
	token   string
	limiter *rate.Limiter
	retry   retry.Config
	logger  *slog.Logger

	mu       sync.Mutex
	ids      map[string]int
	layers   map[int]*layerInfo
	resolved bool
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends token with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit limits outgoing requests to rps per second with the given
// burst. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithLayerID maps a layer name to its id and skips the service lookup for
// it.
func WithLayerID(name string, id int) Option {
	return func(c *Client) { c.ids[strings.ToLower(name)] = id }
}

// New creates a client for the FeatureServer at serviceURL, e.g.
// https://services.arcgis.com/<org>/arcgis/rest/services/<name>/FeatureServer.
func New(serviceURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(serviceURL, "/"))
	if err != nil {
		return nil, errors.WrapInvalid(err, "featureservice", "New", "parse service url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("unsupported scheme %q: %w", u.Scheme, errors.ErrInvalidConfig),
			"featureservice", "New", "parse service url")
	}

	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: 30 * time.Second},
		retry:  retry.DefaultConfig(),
		logger: slog.Default(),
		ids:    make(map[string]int),
		layers: make(map[int]*layerInfo),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.retry.Retryable = errors.IsTransient
	c.logger = c.logger.With("component", "featureservice", "service", u.Redacted())
	return c, nil
}

// serviceError is the error envelope ArcGIS returns with HTTP 200.
type serviceError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func (e *serviceError) Error() string {
	msg := e.Message
	if len(e.Details) > 0 {
		msg += ": " + strings.Join(e.Details, "; ")
	}
	return fmt.Sprintf("service error %d: %s", e.Code, msg)
}

// retryable reports whether the service error code is worth another
// attempt. Token and permission errors are not.
func (e *serviceError) retryable() bool {
	switch e.Code {
	case 400, 403, 404, 498, 499:
		return false
	}
	return true
}

// call sends one form request and decodes the JSON response into out,
// retrying transient failures. The returned error matches ErrTransport.
func (c *Client) call(ctx context.Context, method, path string, form url.Values, out any) error {
	if form == nil {
		form = url.Values{}
	}
	form.Set("f", "json")
	if c.token != "" {
		form.Set("token", c.token)
	}

	op := strings.TrimPrefix(path, "/")
	attempt := func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.NonRetryable(err)
			}
		}
		return c.send(ctx, method, path, form, out)
	}

	cfg := c.retry
	cfg.OnRetry = func(n int, err error, delay time.Duration) {
		c.logger.Warn("retrying feature service call", "path", op, "attempt", n, "delay", delay, "error", err)
	}

	if err := retry.Do(ctx, cfg, attempt); err != nil {
		return errors.Transport(err, "featureservice", method, op)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, form url.Values, out any) error {
	u := *c.base
	u.Path += path

	var (
		req *http.Request
		err error
	)
	if method == http.MethodGet {
		u.RawQuery = form.Encode()
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, u.String(), strings.NewReader(form.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return retry.NonRetryable(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "featureservice", "send", "http request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return errors.WrapTransient(err, "featureservice", "send", "read response")
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return errors.WrapTransient(fmt.Errorf("HTTP %d", resp.StatusCode), "featureservice", "send", "http status")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return retry.NonRetryable(fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
	}

	var envelope struct {
		Error *serviceError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return retry.NonRetryable(errors.WrapInvalid(err, "featureservice", "send", "decode response"))
	}
	if envelope.Error != nil {
		if envelope.Error.retryable() {
			return errors.WrapTransient(envelope.Error, "featureservice", "send", "service call")
		}
		return retry.NonRetryable(envelope.Error)
	}

	if out == nil {
		return nil
	}
	if err := decode(body, out); err != nil {
		return retry.NonRetryable(errors.WrapInvalid(err, "featureservice", "send", "decode response"))
	}
	return nil
}
