package oauth

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Flow drives the authorization-code exchange: it hands out provider
// redirect URLs and turns callbacks into persisted token records.
type Flow struct {
	cfg    AppConfig
	tokens TokenStore
	states StateStore
	hc     *http.Client
	log    *zap.Logger
}

// NewFlow builds a Flow. hc may be nil, in which case the oauth2 package's
// default client is used for the exchange.
func NewFlow(cfg AppConfig, tokens TokenStore, states StateStore, hc *http.Client, log *zap.Logger) *Flow {
	if log == nil {
		log = zap.NewNop()
	}
	return &Flow{cfg: cfg, tokens: tokens, states: states, hc: hc, log: log}
}

func (f *Flow) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     f.cfg.ClientID,
		ClientSecret: f.cfg.ClientSecret,
		RedirectURL:  f.cfg.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  f.cfg.AuthURL(),
			TokenURL: f.cfg.TokenURL(),
			// Exact Online wants credentials in the form body.
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// BeginAuthorization persists a fresh state bound to userID and returns the
// provider URL to redirect the user to.
func (f *Flow) BeginAuthorization(ctx context.Context, userID string) (string, error) {
	if !f.cfg.Configured() {
		return "", ErrNotConfigured
	}
	state, err := f.states.Create(ctx, userID)
	if err != nil {
		return "", err
	}
	url := f.oauthConfig().AuthCodeURL(state, oauth2.SetAuthURLParam("force_login", "0"))
	f.log.Debug("authorization started",
		zap.String("user", userID),
		zap.String("country", f.cfg.Country))
	return url, nil
}

// HandleCallback validates and consumes the state, exchanges the code for a
// token pair, and persists the result. A failed callback never creates a
// token. ErrInvalidState signals a missing or already-consumed state;
// *TokenExchangeError signals an upstream rejection or network failure.
func (f *Flow) HandleCallback(ctx context.Context, code, state string) (*TokenRecord, error) {
	userID, err := f.states.Consume(ctx, state)
	if err != nil {
		f.log.Warn("callback with invalid state", zap.Error(err))
		return nil, err
	}

	if f.hc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.hc)
	}
	tok, err := f.oauthConfig().Exchange(ctx, code)
	if err != nil {
		f.log.Warn("code exchange failed", zap.String("user", userID), zap.Error(err))
		return nil, &TokenExchangeError{Err: err}
	}

	rec, err := f.tokens.Get(ctx, userID)
	switch {
	case errors.Is(err, ErrNoToken):
		rec = NewTokenRecord(userID, tok)
	case err != nil:
		return nil, err
	default:
		// Re-authorization replaces the pair but keeps identity fields
		// such as the discovered division.
		rec.ApplyToken(tok)
	}
	if err := f.tokens.Put(ctx, rec); err != nil {
		return nil, err
	}

	f.log.Info("authorization completed",
		zap.String("user", userID),
		zap.Time("expires_at", rec.ExpiresAt))
	return rec, nil
}
