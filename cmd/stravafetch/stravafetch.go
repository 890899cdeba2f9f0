// Command stravafetch authenticates against the Strava API, prints the
// athlete profile and recent activities, and can optionally exchange an
// OAuth authorization code or export activities as GPX files.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cli/browser"
	"github.com/davecgh/go-spew/spew"
	"golang.org/x/oauth2"

	"github.com/kosmo/strava-tiles/internal/config"
	"github.com/kosmo/strava-tiles/internal/export"
	"github.com/kosmo/strava-tiles/internal/strava"
	"github.com/kosmo/strava-tiles/internal/tiledb"
	"github.com/kosmo/strava-tiles/internal/tiles"
)

const (
	callbackAddr    = "127.0.0.1:8080"
	callbackPath    = "/callback"
	callbackTimeout = 10 * time.Second
)

func main() {
	config.LoadDotenv()
	f, err := config.ParseFetchFlags("stravafetch", os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()

	if f.ExchangeCode != "" {
		exchangeAndPrint(ctx, f)
		return
	}

	var token string
	if f.Login {
		token = interactiveLogin(ctx, f)
	} else {
		token, err = strava.ResolveAccessToken(ctx, f.AccessToken, f.ClientID, f.ClientSecret, "")
		if err != nil {
			log.Fatal(err)
		}
	}

	client := strava.NewClient(ctx, token)
	athlete, err := client.GetAthlete(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Authenticated as athlete id=%d name=%s %s username=%s\n",
		athlete.ID, athlete.Firstname, athlete.Lastname, athlete.Username)
	if f.DumpAthlete {
		spew.Dump(athlete)
	}

	activities, raw, err := client.GetActivities(ctx, f.PerPage, f.Page)
	if err != nil {
		log.Fatal(err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		log.Fatalf("could not pretty-print activities payload: %v", err)
	}
	fmt.Printf("Recent activities (JSON):\n%s\n", buf.Bytes())

	if !f.ExportGPX || len(activities) == 0 {
		return
	}

	db, err := tiledb.Open(f.DBPath)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	res, err := export.Activities(ctx, client, db, activities, f.OutDir, f.FetchAll)
	if err != nil {
		log.Fatal(err)
	}
	if _, err := tiles.ProcessDir(ctx, db, f.OutDir); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Import summary: %d imported, %d skipped (already imported)\n", res.Imported, res.Skipped)
}

// exchangeAndPrint swaps a one-time authorization code for tokens, prints
// them, and exits. No API endpoints are called in this mode.
func exchangeAndPrint(ctx context.Context, f config.FetchFlags) {
	if f.ClientID == "" || f.ClientSecret == "" {
		log.Fatal("Missing STRAVA_CLIENT_ID or STRAVA_CLIENT_SECRET. Populate .env first.")
	}
	tok, err := strava.ExchangeCode(ctx, strava.OAuthConfig(f.ClientID, f.ClientSecret, ""), f.ExchangeCode)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Access token: %s\n", tok.AccessToken)
	if tok.RefreshToken != "" {
		fmt.Printf("Refresh token: %s\n", tok.RefreshToken)
	}
	fmt.Println("Note: Save tokens securely. Do NOT commit them.")
}

// interactiveLogin runs the local authorize-and-callback flow: it serves
// the redirect URI on localhost, opens the consent page in the browser, and
// exchanges the captured code. On exchange failure it falls back to the
// configured access token, which may lack the requested scopes.
func interactiveLogin(ctx context.Context, f config.FetchFlags) string {
	if f.ClientID == "" || !isNumeric(f.ClientID) {
		log.Fatal("Invalid client ID. Set STRAVA_CLIENT_ID to your numeric application ID.")
	}
	if f.ClientSecret == "" {
		log.Fatal("Missing client secret. Set STRAVA_CLIENT_SECRET from your Strava app settings.")
	}

	// The redirect URI must match the Strava app settings exactly.
	cfg := strava.OAuthConfig(f.ClientID, f.ClientSecret, "http://localhost:8080"+callbackPath)

	codeCh := make(chan string, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			fmt.Fprint(w, "Missing ?code= parameter")
			return
		}
		select {
		case codeCh <- code:
		default:
		}
		fmt.Fprint(w, "You can close this tab. Code captured.")
	})

	ln, err := net.Listen("tcp", callbackAddr)
	if err != nil {
		log.Fatalf("could not listen on %s for the OAuth callback: %v", callbackAddr, err)
	}
	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("callback server error: %v", err)
		}
	}()
	defer srv.Close()

	authorizeURL := cfg.AuthCodeURL("", oauth2.SetAuthURLParam("approval_prompt", "auto"))
	fmt.Printf("Opening browser for OAuth: %s\n", authorizeURL)
	if err := browser.OpenURL(authorizeURL); err != nil {
		log.Printf("could not open browser, visit the URL manually: %v", err)
	}

	var code string
	select {
	case code = <-codeCh:
	case <-time.After(callbackTimeout):
		log.Fatalf("Timed out waiting for OAuth callback (no code received in %v).", callbackTimeout)
	}

	tok, err := strava.ExchangeCode(ctx, cfg, code)
	if err != nil {
		log.Printf("Token exchange failed: %v", err)
		if f.AccessToken == "" {
			log.Fatal("no fallback access token configured")
		}
		log.Print("Falling back to configured access token (scopes may be insufficient).")
		return f.AccessToken
	}
	fmt.Println("Obtained access token via OAuth.")
	if tok.RefreshToken != "" {
		log.Printf("Refresh token: %s (save it as STRAVA_REFRESH_TOKEN)", tok.RefreshToken)
	}
	return tok.AccessToken
}

func isNumeric(s string) bool {
	return s != "" && strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) == -1
}
