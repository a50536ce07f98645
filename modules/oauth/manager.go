package oauth

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

var refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "exactapi_token_refresh_total",
	Help: "Token refresh attempts by outcome.",
}, []string{"outcome"})

// TokenRefresher performs a refresh grant against the provider.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// providerRefresher refreshes against the app's token endpoint via the
// oauth2 package's refresh grant.
type providerRefresher struct {
	cfg AppConfig
	hc  *http.Client
}

// NewProviderRefresher returns the production TokenRefresher for cfg.
func NewProviderRefresher(cfg AppConfig, hc *http.Client) TokenRefresher {
	return &providerRefresher{cfg: cfg, hc: hc}
}

func (p *providerRefresher) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if p.hc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.hc)
	}
	conf := &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  p.cfg.TokenURL(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	// A token with only a refresh token forces TokenSource to hit the
	// token endpoint immediately.
	return conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

// Manager is the refresh policy: it hands out tokens guaranteed to have
// more than the configured threshold of remaining lifetime, refreshing
// them transparently when they run low.
type Manager struct {
	tokens    TokenStore
	refresher TokenRefresher
	threshold time.Duration
	group     singleflight.Group
	log       *zap.Logger
}

// NewManager builds a Manager. threshold <= 0 means DefaultRefreshThreshold.
func NewManager(tokens TokenStore, refresher TokenRefresher, threshold time.Duration, log *zap.Logger) *Manager {
	if threshold <= 0 {
		threshold = DefaultRefreshThreshold
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		tokens:    tokens,
		refresher: refresher,
		threshold: threshold,
		log:       log,
	}
}

// GetValidToken returns the user's token with more than the threshold of
// lifetime left, refreshing it first if needed. ErrNoToken when the user
// never authorized (or revoked); *RefreshError when the provider rejects
// the refresh, in which case the stored token is left untouched and the
// caller must re-run the authorization flow.
func (m *Manager) GetValidToken(ctx context.Context, userID string) (*TokenRecord, error) {
	rec, err := m.tokens.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !rec.ExpiresWithin(m.threshold) {
		return rec, nil
	}
	return m.refresh(ctx, userID, false)
}

// ForceRefresh refreshes regardless of remaining lifetime.
func (m *Manager) ForceRefresh(ctx context.Context, userID string) (*TokenRecord, error) {
	return m.refresh(ctx, userID, true)
}

// refresh serializes refreshes per user. Exact Online rotates the refresh
// token on every use, so concurrent callers must share a single upstream
// call: the second use of a spent refresh token would fail.
func (m *Manager) refresh(ctx context.Context, userID string, force bool) (*TokenRecord, error) {
	v, err, _ := m.group.Do(userID, func() (interface{}, error) {
		rec, err := m.tokens.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		// A caller that queued behind an in-flight refresh may find the
		// stored token already fresh.
		if !force && !rec.ExpiresWithin(m.threshold) {
			return rec, nil
		}

		tok, err := m.refresher.RefreshToken(ctx, rec.RefreshToken)
		if err != nil {
			refreshTotal.WithLabelValues("error").Inc()
			m.log.Warn("token refresh failed",
				zap.String("user", userID), zap.Error(err))
			return nil, &RefreshError{Err: err}
		}

		// Access and refresh token are replaced together; the record is
		// written back in one Put.
		rec.ApplyToken(tok)
		if err := m.tokens.Put(ctx, rec); err != nil {
			return nil, err
		}
		refreshTotal.WithLabelValues("ok").Inc()
		m.log.Info("token refreshed",
			zap.String("user", userID),
			zap.Time("expires_at", rec.ExpiresAt))
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*TokenRecord), nil
}

// SetDivision persists the discovered current division on the record.
func (m *Manager) SetDivision(ctx context.Context, userID string, division int) error {
	rec, err := m.tokens.Get(ctx, userID)
	if err != nil {
		return err
	}
	rec.Division = division
	rec.UpdatedAt = time.Now()
	return m.tokens.Put(ctx, rec)
}

// Revoke deletes the stored token. Subsequent GetValidToken calls return
// ErrNoToken until a new authorization completes.
func (m *Manager) Revoke(ctx context.Context, userID string) error {
	if err := m.tokens.Delete(ctx, userID); err != nil {
		return err
	}
	m.log.Info("token revoked", zap.String("user", userID))
	return nil
}

// Threshold exposes the effective refresh threshold.
func (m *Manager) Threshold() time.Duration {
	return m.threshold
}
