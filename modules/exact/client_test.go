package exact_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mvdwal/exactapi/common"
	"github.com/mvdwal/exactapi/modules/exact"
	"github.com/mvdwal/exactapi/modules/oauth"
)

type mockHttpClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHttpClient) Do(req *http.Request) (*http.Response, error) {
	return m.doFunc(req)
}
func (m *mockHttpClient) Get(url string) (*http.Response, error) {
	panic("Get not implemented in mock")
}
func (m *mockHttpClient) CloseIdleConnections() {}
func (m *mockHttpClient) RetryWithExponentialBackoff(op func() (interface{}, error)) (interface{}, error) {
	return op()
}
func (m *mockHttpClient) SetRandAndSleepForTest(func(d time.Duration), int64) {}
func (m *mockHttpClient) Std() *http.Client                                   { return nil }

type fakeTokens struct {
	mu            sync.Mutex
	rec           oauth.TokenRecord
	getErr        error
	forceCalls    int
	divisionCalls []int
}

func (f *fakeTokens) GetValidToken(context.Context, string) (*oauth.TokenRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	out := f.rec
	return &out, nil
}

func (f *fakeTokens) ForceRefresh(context.Context, string) (*oauth.TokenRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forceCalls++
	f.rec.AccessToken = "refreshed-token"
	out := f.rec
	return &out, nil
}

func (f *fakeTokens) SetDivision(_ context.Context, _ string, division int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.divisionCalls = append(f.divisionCalls, division)
	f.rec.Division = division
	return nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newFakeTokens(division int) *fakeTokens {
	return &fakeTokens{rec: oauth.TokenRecord{
		UserID:       "alice",
		AccessToken:  "valid-token",
		RefreshToken: "rt",
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
		Division:     division,
	}}
}

func TestClient_GetBytes_URLAndBearer(t *testing.T) {
	var gotURL, gotAuth string
	httpc := &mockHttpClient{doFunc: func(req *http.Request) (*http.Response, error) {
		gotURL = req.URL.String()
		gotAuth = req.Header.Get("Authorization")
		return jsonResponse(http.StatusOK, `{"d":{"results":[]}}`), nil
	}}
	tokens := newFakeTokens(815)

	c := exact.NewClient(oauth.CountryBaseURL("BE"), httpc, nil, tokens)

	_, err := c.GetBytes(context.Background(), "alice", "crm/Accounts", map[string]string{"$top": "10"})
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(gotURL, "https://start.exactonline.be/api/v1/815/crm/Accounts") {
		t.Errorf("unexpected URL: %s", gotURL)
	}
	if !strings.Contains(gotURL, "%24top=10") {
		t.Errorf("missing $top param: %s", gotURL)
	}
	if gotAuth != "Bearer valid-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestClient_GetBytes_CacheHit(t *testing.T) {
	calls := 0
	httpc := &mockHttpClient{doFunc: func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusOK, `{"d":{"results":[]}}`), nil
	}}
	c := exact.NewClient("https://start.exactonline.nl", httpc, common.NewCacheStore(), newFakeTokens(1))
	ctx := context.Background()

	if _, err := c.GetBytes(ctx, "alice", "crm/Accounts", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetBytes(ctx, "alice", "crm/Accounts", nil); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("expected 1 upstream call with warm cache, got %d", calls)
	}
}

func TestClient_DoRequest_RefreshRetryOn401(t *testing.T) {
	var mu sync.Mutex
	var auths []string
	httpc := &mockHttpClient{doFunc: func(req *http.Request) (*http.Response, error) {
		mu.Lock()
		auths = append(auths, req.Header.Get("Authorization"))
		n := len(auths)
		mu.Unlock()
		if n == 1 {
			return jsonResponse(http.StatusUnauthorized, `{"error":"token expired"}`), nil
		}
		return jsonResponse(http.StatusOK, `{"ok":true}`), nil
	}}
	tokens := newFakeTokens(1)

	c := exact.NewClient("https://start.exactonline.nl", httpc, nil, tokens)

	data, err := c.DoRequest(context.Background(), "alice", http.MethodGet,
		"https://start.exactonline.nl/api/v1/1/system/Me", nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("unexpected body: %s", data)
	}
	if tokens.forceCalls != 1 {
		t.Errorf("expected 1 forced refresh, got %d", tokens.forceCalls)
	}
	if auths[0] != "Bearer valid-token" || auths[1] != "Bearer refreshed-token" {
		t.Errorf("unexpected auth sequence: %v", auths)
	}
}

func TestClient_DoRequest_PassesThroughUpstreamStatus(t *testing.T) {
	httpc := &mockHttpClient{doFunc: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusForbidden, `{"error":"no access"}`), nil
	}}
	c := exact.NewClient("https://start.exactonline.nl", httpc, nil, newFakeTokens(1))

	_, err := c.DoRequest(context.Background(), "alice", http.MethodGet,
		"https://start.exactonline.nl/api/v1/1/crm/Accounts", nil)

	var httpErr *common.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *common.HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d", httpErr.StatusCode)
	}
}

func TestClient_DoRequest_NoToken(t *testing.T) {
	httpc := &mockHttpClient{doFunc: func(req *http.Request) (*http.Response, error) {
		t.Fatal("no request expected without a token")
		return nil, nil
	}}
	tokens := &fakeTokens{getErr: oauth.ErrNoToken}
	c := exact.NewClient("https://start.exactonline.nl", httpc, nil, tokens)

	_, err := c.DoRequest(context.Background(), "alice", http.MethodGet,
		"https://start.exactonline.nl/api/v1/1/crm/Accounts", nil)
	if !errors.Is(err, oauth.ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestClient_CurrentDivision_Discovery(t *testing.T) {
	var urls []string
	httpc := &mockHttpClient{doFunc: func(req *http.Request) (*http.Response, error) {
		urls = append(urls, req.URL.String())
		if strings.Contains(req.URL.Path, "/current/Me") {
			return jsonResponse(http.StatusOK,
				`{"d":{"results":[{"UserID":"u-1","FullName":"Alice","CurrentDivision":102030}]}}`), nil
		}
		return jsonResponse(http.StatusOK, `{"d":{"results":[]}}`), nil
	}}
	tokens := newFakeTokens(0)

	c := exact.NewClient("https://start.exactonline.nl", httpc, nil, tokens)
	ctx := context.Background()

	division, err := c.CurrentDivision(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if division != 102030 {
		t.Errorf("division = %d", division)
	}
	if len(tokens.divisionCalls) != 1 || tokens.divisionCalls[0] != 102030 {
		t.Errorf("division not persisted: %v", tokens.divisionCalls)
	}

	// subsequent resource calls use the discovered division in the path
	if _, err := c.GetBytes(ctx, "alice", "crm/Accounts", nil); err != nil {
		t.Fatal(err)
	}
	last := urls[len(urls)-1]
	if !strings.Contains(last, "/api/v1/102030/crm/Accounts") {
		t.Errorf("expected division-scoped URL, got %s", last)
	}

	// discovery happens once; the persisted value is reused
	if len(tokens.divisionCalls) != 1 {
		t.Errorf("expected a single discovery, got %v", tokens.divisionCalls)
	}
}
