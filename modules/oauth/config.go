package oauth

import (
	"fmt"
	"strings"
	"time"
)

// DefaultRefreshThreshold is the minimum remaining lifetime a token must
// have when handed out; anything closer to expiry is refreshed first.
const DefaultRefreshThreshold = 5 * time.Minute

// countryBaseURLs maps an Exact Online country code to its API base URL.
// The table is static; every resource and OAuth endpoint hangs off it.
var countryBaseURLs = map[string]string{
	"NL": "https://start.exactonline.nl",
	"BE": "https://start.exactonline.be",
	"UK": "https://start.exactonline.co.uk",
	"FR": "https://start.exactonline.fr",
	"DE": "https://start.exactonline.de",
	"US": "https://start.exactonline.com",
}

// CountryBaseURL returns the base URL for a country code, falling back to
// NL for unknown codes.
func CountryBaseURL(country string) string {
	if u, ok := countryBaseURLs[strings.ToUpper(country)]; ok {
		return u
	}
	return countryBaseURLs["NL"]
}

// ValidCountry reports whether country is one of the supported codes.
func ValidCountry(country string) bool {
	_, ok := countryBaseURLs[strings.ToUpper(country)]
	return ok
}

// AppConfig is one Exact Online app registration: the credentials, the
// country the tenant lives in, and where the provider redirects back to.
type AppConfig struct {
	ClientID     string
	ClientSecret string
	Country      string
	RedirectURI  string

	// RefreshThreshold is the remaining-lifetime floor for handed-out
	// tokens. Zero means DefaultRefreshThreshold.
	RefreshThreshold time.Duration

	// BaseURLOverride takes precedence over the country table when set.
	// Used with mock providers in tests.
	BaseURLOverride string
}

// BaseURL resolves the API base URL for this app's country.
func (c AppConfig) BaseURL() string {
	if c.BaseURLOverride != "" {
		return c.BaseURLOverride
	}
	return CountryBaseURL(c.Country)
}

// AuthURL is the provider's authorization endpoint.
func (c AppConfig) AuthURL() string {
	return c.BaseURL() + "/api/oauth2/auth"
}

// TokenURL is the provider's token endpoint, used for both the code
// exchange and refresh grants.
func (c AppConfig) TokenURL() string {
	return c.BaseURL() + "/api/oauth2/token"
}

// Threshold returns the effective refresh threshold.
func (c AppConfig) Threshold() time.Duration {
	if c.RefreshThreshold > 0 {
		return c.RefreshThreshold
	}
	return DefaultRefreshThreshold
}

// Configured reports whether the app registration carries credentials.
func (c AppConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Validate checks the fields an operator must supply.
func (c AppConfig) Validate() error {
	if !c.Configured() {
		return fmt.Errorf("oauth: client_id and client_secret are required")
	}
	if c.Country != "" && !ValidCountry(c.Country) {
		return fmt.Errorf("oauth: unsupported country %q", c.Country)
	}
	if c.RedirectURI == "" {
		return fmt.Errorf("oauth: redirect_uri is required")
	}
	return nil
}
