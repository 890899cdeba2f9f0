package strava

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/endpoints"
)

// ErrNoCredentials means no token-resolution path is available: neither an
// access token nor a client id/secret pair is configured.
var ErrNoCredentials = errors.New(
	"no usable Strava credentials: set STRAVA_ACCESS_TOKEN, or STRAVA_CLIENT_ID and STRAVA_CLIENT_SECRET")

// DefaultScopes are requested during authorization. activity:read_all covers
// private activities.
var DefaultScopes = []string{"read", "activity:read", "activity:read_all"}

// OAuthConfig builds the oauth2 config for the Strava endpoint. Strava wants
// client_id and client_secret as form params, not basic auth, so the auth
// style is pinned rather than auto-detected.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       DefaultScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   endpoints.Strava.AuthURL,
			TokenURL:  endpoints.Strava.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// ExchangeCode swaps a one-time authorization code for an access/refresh
// token pair.
func ExchangeCode(ctx context.Context, cfg *oauth2.Config, code string) (*oauth2.Token, error) {
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, wrapTokenError("token exchange", err)
	}
	return tok, nil
}

// RefreshToken obtains a fresh access token from a refresh token.
func RefreshToken(ctx context.Context, cfg *oauth2.Config, refreshToken string) (*oauth2.Token, error) {
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, wrapTokenError("token refresh", err)
	}
	return tok, nil
}

// ResolveAccessToken picks a bearer token for API calls. A configured access
// token wins. Failing that, a client-credentials exchange is attempted with
// the id/secret pair; note this is a pragmatic shortcut outside the standard
// Strava OAuth code flow and only works if the provider permits it for the
// application. tokenURL overrides the token endpoint when non-empty.
func ResolveAccessToken(ctx context.Context, accessToken, clientID, clientSecret, tokenURL string) (string, error) {
	if accessToken != "" {
		return accessToken, nil
	}
	if clientID == "" || clientSecret == "" {
		return "", ErrNoCredentials
	}
	if tokenURL == "" {
		tokenURL = endpoints.Strava.TokenURL
	}
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tok, err := cc.Token(ctx)
	if err != nil {
		return "", wrapTokenError("client-credentials exchange", err)
	}
	return tok.AccessToken, nil
}

// wrapTokenError converts oauth2's retrieve error into an APIError so token
// endpoint failures carry the same status+body surface as API failures.
func wrapTokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return fmt.Errorf("%s: %w", op, &APIError{
			StatusCode: status,
			Body:       strings.TrimSpace(string(re.Body)),
		})
	}
	return fmt.Errorf("%s: %w", op, err)
}
