package common

import (
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"
)

// HttpClient is a thin interface over *http.Client with retry support.
// It exists so transports can be mocked in tests.
type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
	Get(url string) (*http.Response, error)
	CloseIdleConnections()
	RetryWithExponentialBackoff(operation func() (interface{}, error)) (interface{}, error)
	SetRandAndSleepForTest(sleep func(d time.Duration), seed int64)
	Std() *http.Client
}

// HTTPError captures an unexpected upstream status code and response body.
// The status code is carried through unmodified so callers can inspect it.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, string(e.Body))
}

// userAgentRoundTripper adds a User-Agent header to every outgoing request.
type userAgentRoundTripper struct {
	Wrapped   http.RoundTripper
	UserAgent string
}

func (rt *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone request to avoid mutating the original
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", rt.UserAgent)
	return rt.Wrapped.RoundTrip(clone)
}

type httpClient struct {
	client    *http.Client
	sleepFunc func(d time.Duration)
}

// NewHttpClient wraps base with a custom User-Agent and a 10s timeout.
func NewHttpClient(userAgent string, base *http.Client) HttpClient {
	if base.Transport == nil {
		base.Transport = http.DefaultTransport
	}
	base.Transport = &userAgentRoundTripper{
		Wrapped:   base.Transport,
		UserAgent: userAgent,
	}
	base.Timeout = 10 * time.Second

	return &httpClient{
		client:    base,
		sleepFunc: time.Sleep,
	}
}

func (h *httpClient) Do(req *http.Request) (*http.Response, error) {
	return h.client.Do(req)
}

func (h *httpClient) Get(url string) (*http.Response, error) {
	return h.client.Get(url)
}

func (h *httpClient) CloseIdleConnections() {
	h.client.CloseIdleConnections()
}

// Std returns the underlying *http.Client, for libraries that require the
// concrete type (e.g. the oauth2.HTTPClient context value).
func (h *httpClient) Std() *http.Client {
	return h.client
}

const (
	maxRetries = 5
	baseDelay  = 1 * time.Second
	maxDelay   = 32 * time.Second
)

// RetryWithExponentialBackoff retries operation() on retryable HTTPErrors
// (429 and transient 5xx). Other errors break out immediately.
func (h *httpClient) RetryWithExponentialBackoff(operation func() (interface{}, error)) (interface{}, error) {
	var result interface{}
	var err error
	delay := baseDelay

	for i := 0; i < maxRetries; i++ {
		if result, err = operation(); err == nil {
			return result, nil
		}

		var httpErr *HTTPError
		if errors.As(err, &httpErr) && isRetryableStatus(httpErr.StatusCode) {
			if i == maxRetries-1 {
				break
			}
			jitter := time.Duration(rand.Int63n(int64(delay)))
			h.sleepFunc(delay + jitter)

			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
			continue
		}
		break
	}
	return nil, err
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (h *httpClient) SetRandAndSleepForTest(sleep func(d time.Duration), seed int64) {
	h.sleepFunc = sleep
	rand.Seed(seed)
}
