package exact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mvdwal/exactapi/common"
	"github.com/mvdwal/exactapi/common/model"
	"github.com/mvdwal/exactapi/modules/oauth"
)

// TokenProvider supplies valid tokens per user. Satisfied by *oauth.Manager.
type TokenProvider interface {
	GetValidToken(ctx context.Context, userID string) (*oauth.TokenRecord, error)
	ForceRefresh(ctx context.Context, userID string) (*oauth.TokenRecord, error)
	SetDivision(ctx context.Context, userID string, division int) error
}

// Client defines the lower-level HTTP operations against Exact Online:
// GET/POST/PUT/DELETE on division-scoped resource paths, bearer injection,
// caching and retry. Endpoints are relative, e.g. "crm/Accounts".
type Client interface {
	GetJSON(ctx context.Context, userID, endpoint string, entity interface{}, params map[string]string) error
	GetBytes(ctx context.Context, userID, endpoint string, params map[string]string) ([]byte, error)
	PostJSON(ctx context.Context, userID, endpoint string, body io.Reader, expectedStatusCodes ...int) ([]byte, error)
	PutJSON(ctx context.Context, userID, endpoint string, body io.Reader, expectedStatusCodes ...int) ([]byte, error)
	DeleteJSON(ctx context.Context, userID, endpoint string, expectedStatusCodes ...int) ([]byte, error)
	DoRequest(ctx context.Context, userID, method, urlStr string, body io.Reader, expectedStatus ...int) ([]byte, error)
	CurrentDivision(ctx context.Context, userID string) (int, error)
	BaseURL() string
}

var upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "exactapi_upstream_requests_total",
	Help: "Requests issued against the Exact Online API, by method and outcome.",
}, []string{"method", "outcome"})

// How long idempotent GET responses are cached.
const defaultCacheExpiration = 2 * time.Minute

type exactClient struct {
	baseURL    string
	httpClient common.HttpClient
	cache      common.CacheRepository
	tokens     TokenProvider
}

// NewClient creates a Client for the given country base URL. Every request
// obtains a valid token from tokens first, so any call may trigger an
// implicit refresh.
func NewClient(baseURL string, httpClient common.HttpClient, cache common.CacheRepository, tokens TokenProvider) Client {
	return &exactClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		cache:      cache,
		tokens:     tokens,
	}
}

func (c *exactClient) BaseURL() string {
	return c.baseURL
}

// GetJSON retrieves JSON from a resource endpoint and unmarshals into entity.
func (c *exactClient) GetJSON(ctx context.Context, userID, endpoint string, entity interface{}, params map[string]string) error {
	data, err := c.GetBytes(ctx, userID, endpoint, params)
	if err != nil {
		return err
	}
	return model.JSONUnmarshal(data, entity)
}

// GetBytes retrieves raw bytes from a resource endpoint, with caching and
// retry on transient upstream failures.
func (c *exactClient) GetBytes(ctx context.Context, userID, endpoint string, params map[string]string) ([]byte, error) {
	cacheKey := c.buildCacheKey(userID, endpoint, params)
	if c.cache != nil {
		if cached, found := c.cache.Get(cacheKey); found {
			return cached, nil
		}
	}

	urlStr, err := c.resourceURL(ctx, userID, endpoint, params)
	if err != nil {
		return nil, err
	}

	operation := func() (interface{}, error) {
		data, err := c.DoRequest(ctx, userID, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		if c.cache != nil {
			c.cache.Set(cacheKey, data, defaultCacheExpiration)
		}
		return data, nil
	}

	result, err := c.httpClient.RetryWithExponentialBackoff(operation)
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// PostJSON sends a POST to a resource endpoint. Exact answers 201 on create.
func (c *exactClient) PostJSON(ctx context.Context, userID, endpoint string, body io.Reader, expectedStatusCodes ...int) ([]byte, error) {
	if len(expectedStatusCodes) == 0 {
		expectedStatusCodes = []int{http.StatusCreated}
	}
	urlStr, err := c.resourceURL(ctx, userID, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.DoRequest(ctx, userID, http.MethodPost, urlStr, body, expectedStatusCodes...)
}

// PutJSON sends a PUT to a resource endpoint. Exact answers 204 on update.
func (c *exactClient) PutJSON(ctx context.Context, userID, endpoint string, body io.Reader, expectedStatusCodes ...int) ([]byte, error) {
	if len(expectedStatusCodes) == 0 {
		expectedStatusCodes = []int{http.StatusNoContent}
	}
	urlStr, err := c.resourceURL(ctx, userID, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.DoRequest(ctx, userID, http.MethodPut, urlStr, body, expectedStatusCodes...)
}

// DeleteJSON sends a DELETE to a resource endpoint.
func (c *exactClient) DeleteJSON(ctx context.Context, userID, endpoint string, expectedStatusCodes ...int) ([]byte, error) {
	if len(expectedStatusCodes) == 0 {
		expectedStatusCodes = []int{http.StatusNoContent}
	}
	urlStr, err := c.resourceURL(ctx, userID, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.DoRequest(ctx, userID, http.MethodDelete, urlStr, nil, expectedStatusCodes...)
}

// DoRequest performs one authenticated request against urlStr. It obtains a
// valid token first, so it may block on a refresh round-trip. On a 401 with
// refresh capability it forces one refresh and retries once; any other
// upstream status passes through unmodified inside *common.HTTPError.
func (c *exactClient) DoRequest(ctx context.Context, userID, method, urlStr string, body io.Reader, expectedStatus ...int) ([]byte, error) {
	if len(expectedStatus) == 0 {
		expectedStatus = []int{http.StatusOK}
	}

	// read the entire body up front so the retry can replay it
	var bodyBytes []byte
	if body != nil {
		b, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		bodyBytes = b
	}

	rec, err := c.tokens.GetValidToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	data, status, err := c.executeRequest(ctx, method, urlStr, rec, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		rec, err = c.tokens.ForceRefresh(ctx, userID)
		if err != nil {
			return nil, err
		}
		data, status, err = c.executeRequest(ctx, method, urlStr, rec, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, err
		}
	}

	switch {
	case status == http.StatusNotFound:
		upstreamRequests.WithLabelValues(method, "not_found").Inc()
	case status >= 200 && status < 300:
		upstreamRequests.WithLabelValues(method, "success").Inc()
	default:
		upstreamRequests.WithLabelValues(method, "error").Inc()
	}

	if !statusMatches(status, expectedStatus) {
		return nil, &common.HTTPError{
			StatusCode: status,
			Body:       data,
		}
	}
	return data, nil
}

// CurrentDivision returns the user's division, discovering it from
// current/Me on first use and persisting it on the token record.
func (c *exactClient) CurrentDivision(ctx context.Context, userID string) (int, error) {
	rec, err := c.tokens.GetValidToken(ctx, userID)
	if err != nil {
		return 0, err
	}
	if rec.Division != 0 {
		return rec.Division, nil
	}

	data, err := c.DoRequest(ctx, userID, http.MethodGet, c.baseURL+"/api/v1/current/Me", nil)
	if err != nil {
		return 0, err
	}
	var env model.ODataEnvelope
	if err := model.JSONUnmarshal(data, &env); err != nil {
		return 0, fmt.Errorf("decode current/Me: %w", err)
	}
	var results []model.Me
	if err := env.Results(&results); err != nil {
		return 0, fmt.Errorf("decode current/Me results: %w", err)
	}
	if len(results) == 0 || results[0].CurrentDivision == 0 {
		return 0, fmt.Errorf("current/Me returned no division")
	}

	division := results[0].CurrentDivision
	if err := c.tokens.SetDivision(ctx, userID, division); err != nil {
		return 0, err
	}
	return division, nil
}

// executeRequest does the low-level HTTP round trip with bearer injection.
func (c *exactClient) executeRequest(ctx context.Context, method, urlStr string, rec *oauth.TokenRecord, body io.Reader) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if method == http.MethodPost || method == http.MethodPut {
		req.Header.Set("Content-Type", "application/json")
	}
	tokenType := rec.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	req.Header.Set("Authorization", tokenType+" "+rec.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", readErr)
	}
	return data, resp.StatusCode, nil
}

// resourceURL builds {base}/api/v1/{division}/{endpoint}?params.
func (c *exactClient) resourceURL(ctx context.Context, userID, endpoint string, params map[string]string) (string, error) {
	division, err := c.CurrentDivision(ctx, userID)
	if err != nil {
		return "", err
	}

	full, err := url.Parse(fmt.Sprintf("%s/api/v1/%d/%s", c.baseURL, division, endpoint))
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	q := full.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	full.RawQuery = q.Encode()
	return full.String(), nil
}

func (c *exactClient) buildCacheKey(userID, endpoint string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	queryParams := ""
	for _, k := range keys {
		queryParams += fmt.Sprintf("&%s=%s", k, params[k])
	}
	return fmt.Sprintf("exact:%s:%s:%s", userID, endpoint, queryParams)
}

func statusMatches(statusCode int, expected []int) bool {
	for _, s := range expected {
		if statusCode == s {
			return true
		}
	}
	return false
}
