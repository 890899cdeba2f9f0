package mapserver

import (
	"context"
	"fmt"
	"html"
	"log"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/kosmo/strava-tiles/internal/strava"
)

func (s *Server) oauthConfig() *oauth2.Config {
	cfg := strava.OAuthConfig(s.opts.Creds.ClientID, s.opts.Creds.ClientSecret, s.opts.RedirectURL)
	if s.opts.TokenURL != "" {
		cfg.Endpoint.TokenURL = s.opts.TokenURL
	}
	return cfg
}

// refresh trades the configured refresh token for a fresh access token and
// stores it for subsequent requests.
func (s *Server) refresh(ctx context.Context) (string, error) {
	tok, err := strava.RefreshToken(ctx, s.oauthConfig(), s.opts.Creds.RefreshToken)
	if err != nil {
		return "", err
	}
	log.Print("Token refreshed successfully")
	if tok.RefreshToken != "" && tok.RefreshToken != s.opts.Creds.RefreshToken {
		log.Printf("New refresh token: %s", tok.RefreshToken)
		log.Print("Update STRAVA_REFRESH_TOKEN in your .env file with the new value.")
	}
	s.setToken(tok.AccessToken)
	return tok.AccessToken, nil
}

type authStartResponse struct {
	Success bool   `json:"success"`
	AuthURL string `json:"auth_url,omitempty"`
	Message string `json:"message"`
}

func (s *Server) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	if s.opts.Creds.ClientID == "" {
		writeJSON(w, authStartResponse{Message: "STRAVA_CLIENT_ID is not set."})
		return
	}
	url := s.oauthConfig().AuthCodeURL("", oauth2.SetAuthURLParam("approval_prompt", "auto"))
	writeJSON(w, authStartResponse{
		Success: true,
		AuthURL: url,
		Message: "Sign in with Strava in the opened window.",
	})
}

func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errMsg := q.Get("error"); errMsg != "" {
		authPage(w, "Authorization failed", errMsg, "")
		return
	}
	code := q.Get("code")
	if code == "" {
		authPage(w, "Authorization failed", "No authorization code received.", "")
		return
	}
	if s.opts.Creds.ClientID == "" || s.opts.Creds.ClientSecret == "" {
		authPage(w, "Configuration error", "STRAVA_CLIENT_ID or STRAVA_CLIENT_SECRET is not set.", "")
		return
	}

	tok, err := strava.ExchangeCode(r.Context(), s.oauthConfig(), code)
	if err != nil {
		authPage(w, "Token exchange failed", err.Error(), "")
		return
	}
	s.setToken(tok.AccessToken)
	log.Print("OAuth successful, access token obtained")
	if tok.RefreshToken != "" {
		log.Printf("Refresh token: %s", tok.RefreshToken)
		log.Print("Save it in your .env file as STRAVA_REFRESH_TOKEN.")
	}
	authPage(w, "Signed in", "You can close this window and fetch activities.", tok.RefreshToken)
}

type authStatusResponse struct {
	Authenticated bool `json:"authenticated"`
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	authed := s.accessToken != ""
	s.mu.RUnlock()
	writeJSON(w, authStatusResponse{Authenticated: authed})
}

// authPage writes a minimal HTML result page for the OAuth popup. When a
// refresh token is present it is shown so the user can copy it into .env.
func authPage(w http.ResponseWriter, title, message, refreshToken string) {
	title = html.EscapeString(title)
	message = html.EscapeString(message)
	refreshToken = html.EscapeString(refreshToken)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html><head><title>%s</title>
<script>
  if (window.opener) {
    window.opener.postMessage({ type: 'strava-auth-done' }, '*');
    setTimeout(function () { window.close(); }, 2000);
  }
</script>
</head>
<body style="font-family: sans-serif; padding: 40px; text-align: center;">
<h1>%s</h1>
<p>%s</p>
`, title, title, message)
	if refreshToken != "" {
		fmt.Fprintf(w, `<p style="font-size: 12px; color: #666;">Refresh token (for .env): <code>%s</code></p>
`, refreshToken)
	}
	fmt.Fprint(w, `<p><a href="/">Back to the map</a></p>
</body></html>`)
}
