package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultUserAgent = "releaseflow"
	// DefaultTimeout bounds a single registry call.
	DefaultTimeout = 10 * time.Second
)

// HTTPClientOptions holds configuration for creating an HTTP client.
type HTTPClientOptions struct {
	timeout   time.Duration
	userAgent string
	transport http.RoundTripper
}

// HTTPClientOption is a functional option for NewHTTPClient.
type HTTPClientOption func(*HTTPClientOptions)

// WithTimeout sets the timeout applied to every request. Zero disables it.
func WithTimeout(timeout time.Duration) HTTPClientOption {
	return func(o *HTTPClientOptions) {
		o.timeout = timeout
	}
}

// WithHTTPUserAgent sets the User-Agent header for HTTP requests.
func WithHTTPUserAgent(userAgent string) HTTPClientOption {
	return func(o *HTTPClientOptions) {
		o.userAgent = userAgent
	}
}

// WithTransport replaces the base transport, mostly useful in tests.
func WithTransport(rt http.RoundTripper) HTTPClientOption {
	return func(o *HTTPClientOptions) {
		o.transport = rt
	}
}

// userAgentTransport wraps an http.RoundTripper and injects a User-Agent header.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

// NewHTTPClient creates a new HTTP client with the given options applied.
func NewHTTPClient(opts ...HTTPClientOption) *http.Client {
	options := &HTTPClientOptions{
		timeout:   DefaultTimeout,
		userAgent: DefaultUserAgent,
		transport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &http.Client{
		Transport: &userAgentTransport{
			base:      options.transport,
			userAgent: options.userAgent,
		},
		Timeout: options.timeout,
	}
}

// getJSON performs a GET request and decodes a JSON response into v.
// 404 maps to ErrNotFound, 429 and 5xx as well as transport failures map to
// a *NetworkError.
func getJSON(ctx context.Context, client *http.Client, registry, url string, v any) error {
	resp, err := get(ctx, client, registry, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s: decoding response from %s failed: %w", registry, url, err)
	}
	return nil
}

func get(ctx context.Context, client *http.Client, registry, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: creating request failed: %w", registry, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &NetworkError{Registry: registry, Op: "GET " + url, Err: err}
	}

	if err := statusError(registry, url, resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func statusError(registry, url string, code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return fmt.Errorf("%s: GET %s: %w", registry, url, ErrNotFound)
	case code == http.StatusTooManyRequests || code >= 500:
		return &NetworkError{Registry: registry, Op: "GET " + url, Err: fmt.Errorf("unexpected status %d", code)}
	default:
		return fmt.Errorf("%s: GET %s: unexpected status %d", registry, url, code)
	}
}
