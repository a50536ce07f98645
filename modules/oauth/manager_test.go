package oauth_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/mvdwal/exactapi/modules/oauth"
)

// fakeRefresher issues sequentially numbered token pairs and records every
// refresh token it was called with.
type fakeRefresher struct {
	mu       sync.Mutex
	calls    int
	seen     []string
	fail     error
	delay    time.Duration
	lifetime time.Duration
}

func (f *fakeRefresher) RefreshToken(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.seen = append(f.seen, refreshToken)
	fail := f.fail
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if fail != nil {
		return nil, fail
	}
	lifetime := f.lifetime
	if lifetime == 0 {
		lifetime = time.Hour
	}
	return &oauth2.Token{
		AccessToken:  fmt.Sprintf("at-%d", n),
		RefreshToken: fmt.Sprintf("rt-%d", n),
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(lifetime),
	}, nil
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func seedToken(t *testing.T, store oauth.TokenStore, userID string, remaining time.Duration) {
	t.Helper()
	rec := oauth.NewTokenRecord(userID, &oauth2.Token{
		AccessToken:  "at-0",
		RefreshToken: "rt-0",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(remaining),
	})
	if err := store.Put(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
}

func TestManager_GetValidToken_FreshTokenPassesThrough(t *testing.T) {
	store := oauth.NewMemoryTokenStore()
	refresher := &fakeRefresher{}
	mgr := oauth.NewManager(store, refresher, 5*time.Minute, nil)

	seedToken(t, store, "alice", time.Hour)

	rec, err := mgr.GetValidToken(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if rec.AccessToken != "at-0" {
		t.Errorf("expected stored token, got %q", rec.AccessToken)
	}
	if refresher.callCount() != 0 {
		t.Errorf("no refresh expected, got %d calls", refresher.callCount())
	}
}

func TestManager_GetValidToken_RefreshesWithinThreshold(t *testing.T) {
	store := oauth.NewMemoryTokenStore()
	refresher := &fakeRefresher{}
	mgr := oauth.NewManager(store, refresher, 5*time.Minute, nil)

	// 3 minutes left, threshold 5: must refresh
	seedToken(t, store, "alice", 3*time.Minute)

	rec, err := mgr.GetValidToken(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if rec.AccessToken != "at-1" || rec.RefreshToken != "rt-1" {
		t.Errorf("pair not replaced together: %+v", rec)
	}
	if refresher.seen[0] != "rt-0" {
		t.Errorf("refresh used %q, want rt-0", refresher.seen[0])
	}
	// the guarantee: more than threshold remaining
	if time.Until(rec.ExpiresAt) <= 5*time.Minute {
		t.Errorf("returned token violates threshold: %v left", time.Until(rec.ExpiresAt))
	}
}

func TestManager_RefreshTokenRotation(t *testing.T) {
	store := oauth.NewMemoryTokenStore()
	refresher := &fakeRefresher{}
	mgr := oauth.NewManager(store, refresher, 5*time.Minute, nil)
	ctx := context.Background()

	seedToken(t, store, "alice", time.Minute)

	const n = 5
	for i := 0; i < n; i++ {
		if _, err := mgr.ForceRefresh(ctx, "alice"); err != nil {
			t.Fatal(err)
		}
	}

	// after N refreshes the stored refresh token is the Nth issued one,
	// and every refresh used the previous rotation's token
	rec, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if want := fmt.Sprintf("rt-%d", n); rec.RefreshToken != want {
		t.Errorf("stored refresh token = %q, want %q", rec.RefreshToken, want)
	}
	if want := fmt.Sprintf("at-%d", n); rec.AccessToken != want {
		t.Errorf("stored access token = %q, want %q", rec.AccessToken, want)
	}
	for i, seen := range refresher.seen {
		if want := fmt.Sprintf("rt-%d", i); seen != want {
			t.Errorf("refresh %d used %q, want %q", i+1, seen, want)
		}
	}
}

func TestManager_RefreshFailureLeavesStoreUntouched(t *testing.T) {
	store := oauth.NewMemoryTokenStore()
	refresher := &fakeRefresher{fail: errors.New("invalid_grant")}
	mgr := oauth.NewManager(store, refresher, 5*time.Minute, nil)
	ctx := context.Background()

	seedToken(t, store, "alice", time.Minute)

	_, err := mgr.GetValidToken(ctx, "alice")
	var refreshErr *oauth.RefreshError
	if !errors.As(err, &refreshErr) {
		t.Fatalf("expected *RefreshError, got %v", err)
	}

	rec, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if rec.AccessToken != "at-0" || rec.RefreshToken != "rt-0" {
		t.Errorf("stored token was modified on failed refresh: %+v", rec)
	}
}

func TestManager_GetValidToken_NoToken(t *testing.T) {
	mgr := oauth.NewManager(oauth.NewMemoryTokenStore(), &fakeRefresher{}, 0, nil)

	_, err := mgr.GetValidToken(context.Background(), "nobody")
	if !errors.Is(err, oauth.ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestManager_RevokeThenGetValidToken(t *testing.T) {
	store := oauth.NewMemoryTokenStore()
	mgr := oauth.NewManager(store, &fakeRefresher{}, 0, nil)
	ctx := context.Background()

	seedToken(t, store, "alice", time.Hour)

	if err := mgr.Revoke(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.GetValidToken(ctx, "alice"); !errors.Is(err, oauth.ErrNoToken) {
		t.Fatalf("expected ErrNoToken after revoke, got %v", err)
	}
	if err := mgr.Revoke(ctx, "alice"); !errors.Is(err, oauth.ErrNoToken) {
		t.Fatalf("expected ErrNoToken on double revoke, got %v", err)
	}
}

func TestManager_ConcurrentRefreshHitsUpstreamOnce(t *testing.T) {
	store := oauth.NewMemoryTokenStore()
	refresher := &fakeRefresher{delay: 50 * time.Millisecond}
	mgr := oauth.NewManager(store, refresher, 5*time.Minute, nil)
	ctx := context.Background()

	seedToken(t, store, "alice", time.Minute)

	const workers = 10
	var wg sync.WaitGroup
	results := make([]*oauth.TokenRecord, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = mgr.GetValidToken(ctx, "alice")
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
	}
	// the single-use refresh token was spent exactly once
	if got := refresher.callCount(); got != 1 {
		t.Errorf("expected 1 upstream refresh, got %d", got)
	}
	for i := 1; i < workers; i++ {
		if results[i].AccessToken != results[0].AccessToken {
			t.Errorf("worker %d got a different token", i)
		}
	}
}

func TestManager_SetDivision(t *testing.T) {
	store := oauth.NewMemoryTokenStore()
	mgr := oauth.NewManager(store, &fakeRefresher{}, 0, nil)
	ctx := context.Background()

	seedToken(t, store, "alice", time.Hour)

	if err := mgr.SetDivision(ctx, "alice", 456789); err != nil {
		t.Fatal(err)
	}
	rec, _ := store.Get(ctx, "alice")
	if rec.Division != 456789 {
		t.Errorf("Division = %d", rec.Division)
	}
}
