package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mvdwal/exactapi/common"
	"github.com/mvdwal/exactapi/modules/exact"
	"github.com/mvdwal/exactapi/modules/oauth"
)

// defaultUser is used when the caller does not pass an explicit ?user=.
const defaultUser = "default"

// Handlers implements the /oauth management surface. User identity is
// always explicit (?user= query parameter); there is no ambient session.
type Handlers struct {
	cfg     oauth.AppConfig
	flow    *oauth.Flow
	manager *oauth.Manager
	tokens  oauth.TokenStore
	svc     exact.Service
	log     *zap.Logger
}

// NewHandlers wires the management endpoints.
func NewHandlers(cfg oauth.AppConfig, flow *oauth.Flow, manager *oauth.Manager, tokens oauth.TokenStore, svc exact.Service, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{
		cfg:     cfg,
		flow:    flow,
		manager: manager,
		tokens:  tokens,
		svc:     svc,
		log:     log,
	}
}

func userParam(r *http.Request) string {
	if u := r.URL.Query().Get("user"); u != "" {
		return u
	}
	return defaultUser
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"status":  "error",
		"error":   code,
		"message": message,
	})
}

// Status reports configuration and authorization state for a user.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	user := userParam(r)

	resp := map[string]interface{}{
		"configured": h.cfg.Configured(),
		"country":    h.cfg.Country,
		"base_url":   h.cfg.BaseURL(),
		"user":       user,
		"has_token":  false,
	}

	rec, err := h.tokens.Get(r.Context(), user)
	if err == nil {
		resp["has_token"] = true
		resp["expires_at"] = rec.ExpiresAt
		resp["expired"] = rec.Expired()
		resp["expires_soon"] = rec.ExpiresWithin(h.cfg.Threshold())
		if rec.Division != 0 {
			resp["division"] = rec.Division
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Authorize begins the authorization flow and redirects to the provider.
func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	user := userParam(r)

	redirectURL, err := h.flow.BeginAuthorization(r.Context(), user)
	if err != nil {
		if errors.Is(err, oauth.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, "not_configured",
				"set EXACT_CLIENT_ID and EXACT_CLIENT_SECRET")
			return
		}
		h.log.Error("begin authorization failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// Callback handles the provider redirect with code and state.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if provErr := q.Get("error"); provErr != "" {
		writeError(w, http.StatusBadRequest, "provider_error", provErr)
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "missing_params",
			"missing authorization code or state")
		return
	}

	_, err := h.flow.HandleCallback(r.Context(), code, state)
	if err != nil {
		var exchangeErr *oauth.TokenExchangeError
		switch {
		case errors.Is(err, oauth.ErrInvalidState):
			writeError(w, http.StatusBadRequest, "invalid_state", err.Error())
		case errors.As(err, &exchangeErr):
			writeError(w, http.StatusBadGateway, "exchange_failed", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}
	http.Redirect(w, r, "/oauth/", http.StatusFound)
}

// Refresh forces a token refresh regardless of remaining lifetime.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	user := userParam(r)

	rec, err := h.manager.ForceRefresh(r.Context(), user)
	if err != nil {
		var refreshErr *oauth.RefreshError
		switch {
		case errors.Is(err, oauth.ErrNoToken):
			writeError(w, http.StatusNotFound, "no_token", err.Error())
		case errors.As(err, &refreshErr):
			writeError(w, http.StatusBadGateway, "refresh_failed", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "success",
		"expires_at": rec.ExpiresAt,
	})
}

// Revoke deletes the stored token; re-authorization is required afterwards.
func (h *Handlers) Revoke(w http.ResponseWriter, r *http.Request) {
	user := userParam(r)

	if err := h.manager.Revoke(r.Context(), user); err != nil {
		if errors.Is(err, oauth.ErrNoToken) {
			writeError(w, http.StatusNotFound, "no_token", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// Test issues a diagnostic system/Me call and reports connectivity.
func (h *Handlers) Test(w http.ResponseWriter, r *http.Request) {
	user := userParam(r)

	me, err := h.svc.Me(r.Context(), user)
	if err != nil {
		var refreshErr *oauth.RefreshError
		var httpErr *common.HTTPError
		switch {
		case errors.Is(err, oauth.ErrNoToken):
			writeError(w, http.StatusNotFound, "no_token",
				"no token found, authorize first")
		case errors.As(err, &refreshErr):
			writeError(w, http.StatusUnauthorized, "refresh_failed",
				"authorization expired or revoked, re-authorize")
		case errors.As(err, &httpErr):
			// upstream status passes through unmodified
			writeError(w, httpErr.StatusCode, "upstream_error", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"data":   me,
	})
}

// Healthz is the liveness probe.
func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
