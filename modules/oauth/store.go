package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"
)

// stateTTL bounds how long an authorization redirect may stay outstanding
// before its callback is rejected.
const stateTTL = 10 * time.Minute

// defaultExpiresIn is applied when a provider response omits expires_in.
const defaultExpiresIn = 600 * time.Second

// TokenRecord is the persisted token pair for one user/app.
type TokenRecord struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	Division     int       `json:"division,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Expired reports whether the access token's lifetime has fully elapsed.
func (r *TokenRecord) Expired() bool {
	return !time.Now().Before(r.ExpiresAt)
}

// ExpiresWithin reports whether the access token has d or less lifetime left.
func (r *TokenRecord) ExpiresWithin(d time.Duration) bool {
	return time.Now().Add(d).After(r.ExpiresAt)
}

// OAuth2 converts the record into an *oauth2.Token.
func (r *TokenRecord) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		Expiry:       r.ExpiresAt,
	}
}

// ApplyToken replaces the access and refresh token together from a provider
// response. The pair is never updated independently: once the provider
// rotates the refresh token, the old one must not survive.
func (r *TokenRecord) ApplyToken(t *oauth2.Token) {
	r.AccessToken = t.AccessToken
	if t.RefreshToken != "" {
		r.RefreshToken = t.RefreshToken
	}
	r.TokenType = t.Type()
	r.ExpiresAt = t.Expiry
	if r.ExpiresAt.IsZero() {
		r.ExpiresAt = time.Now().Add(defaultExpiresIn)
	}
	r.UpdatedAt = time.Now()
}

// NewTokenRecord builds a fresh record for a user from a provider response.
func NewTokenRecord(userID string, t *oauth2.Token) *TokenRecord {
	rec := &TokenRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: time.Now(),
	}
	rec.ApplyToken(t)
	return rec
}

// TokenStore persists token records keyed by user.
type TokenStore interface {
	Get(ctx context.Context, userID string) (*TokenRecord, error)
	Put(ctx context.Context, rec *TokenRecord) error
	Delete(ctx context.Context, userID string) error
}

// StateStore correlates outgoing authorization redirects with callbacks.
// States are single-use: Consume removes the state as it reads it.
type StateStore interface {
	Create(ctx context.Context, userID string) (string, error)
	Consume(ctx context.Context, state string) (string, error)
}

func newState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ----------------------------------------------------------------------
// In-memory implementations
// ----------------------------------------------------------------------

type memoryTokenStore struct {
	mu      sync.RWMutex
	records map[string]TokenRecord
}

// NewMemoryTokenStore returns a process-local TokenStore.
func NewMemoryTokenStore() TokenStore {
	return &memoryTokenStore{records: make(map[string]TokenRecord)}
}

func (s *memoryTokenStore) Get(_ context.Context, userID string) (*TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[userID]
	if !ok {
		return nil, ErrNoToken
	}
	out := rec
	return &out, nil
}

func (s *memoryTokenStore) Put(_ context.Context, rec *TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UserID] = *rec
	return nil
}

func (s *memoryTokenStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[userID]; !ok {
		return ErrNoToken
	}
	delete(s.records, userID)
	return nil
}

type memoryStateStore struct {
	states *cache.Cache
}

// NewMemoryStateStore returns a StateStore with TTL eviction, so abandoned
// authorization flows clean themselves up.
func NewMemoryStateStore() StateStore {
	return &memoryStateStore{states: cache.New(stateTTL, stateTTL)}
}

func (s *memoryStateStore) Create(_ context.Context, userID string) (string, error) {
	state, err := newState()
	if err != nil {
		return "", err
	}
	s.states.Set(state, userID, stateTTL)
	return state, nil
}

func (s *memoryStateStore) Consume(_ context.Context, state string) (string, error) {
	v, ok := s.states.Get(state)
	if !ok {
		return "", ErrInvalidState
	}
	s.states.Delete(state)
	return v.(string), nil
}
