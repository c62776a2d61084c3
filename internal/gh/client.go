// Package gh constructs GitHub API clients and classifies their errors.
package gh

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/google/go-github/v75/github"
)

// TokenEnv is the environment variable holding the GitHub token.
const TokenEnv = "GITHUB_TOKEN"

// Options configures NewClient.
type Options struct {
	// HTTPClient is used for all requests. Nil means http.DefaultClient.
	HTTPClient *http.Client
	// Token authenticates requests. Empty means the value of GITHUB_TOKEN.
	Token string
	// BaseURL points the client to a GitHub Enterprise or test server.
	BaseURL string
}

// NewClient returns a GitHub client configured with opts.
func NewClient(opts Options) (*github.Client, error) {
	client := github.NewClient(opts.HTTPClient)

	token := opts.Token
	if token == "" {
		token = os.Getenv(TokenEnv)
	}
	if token != "" {
		client = client.WithAuthToken(token)
	}

	if opts.BaseURL != "" {
		base, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid github base url %q: %w", opts.BaseURL, err)
		}
		if !strings.HasSuffix(base.Path, "/") {
			base.Path += "/"
		}
		client.BaseURL = base
	}
	return client, nil
}

// IsNotFound reports whether err is a 404 returned by the GitHub API.
func IsNotFound(err error) bool {
	return statusCode(err) == http.StatusNotFound
}

// IsUnauthorized reports whether err is an authentication or authorization
// failure.
func IsUnauthorized(err error) bool {
	code := statusCode(err)
	return code == http.StatusUnauthorized || (code == http.StatusForbidden && !IsTransient(err))
}

// IsTransient reports whether err is a rate limit, server side or transport
// failure that may succeed when retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return true
	}
	if code := statusCode(err); code != 0 {
		return code == http.StatusTooManyRequests || code >= 500
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func statusCode(err error) int {
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return respErr.Response.StatusCode
	}
	return 0
}
