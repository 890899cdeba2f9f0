// Package config resolves credentials and CLI options from flags, the
// process environment, and an optional .env file in the working directory.
package config

import (
	"flag"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff"
)

// Credentials are the Strava application and token values. All fields are
// optional individually; the token-resolution logic decides whether a usable
// combination is present.
type Credentials struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
}

// FetchFlags are the options of the stravafetch command.
type FetchFlags struct {
	Credentials

	ExchangeCode string
	PerPage      int
	Page         int
	Login        bool
	DumpAthlete  bool

	ExportGPX bool
	FetchAll  bool
	OutDir    string
	DBPath    string
}

// ServeFlags are the options of the tileserver command.
type ServeFlags struct {
	Credentials

	Addr      string
	DBPath    string
	GPXDir    string
	StaticDir string
}

// LoadDotenv loads a .env file from the working directory if one exists.
// Variables already set in the environment are not overwritten.
func LoadDotenv() {
	_ = godotenv.Load()
}

// addCredentialFlags registers the credential flags. Through the STRAVA env
// prefix these pick up STRAVA_CLIENT_ID, STRAVA_CLIENT_SECRET,
// STRAVA_ACCESS_TOKEN and STRAVA_REFRESH_TOKEN when the flag is not given.
func addCredentialFlags(fs *flag.FlagSet, c *Credentials) {
	fs.StringVar(&c.ClientID, "client-id", "", "numeric Strava application client ID")
	fs.StringVar(&c.ClientSecret, "client-secret", "", "Strava application client secret")
	fs.StringVar(&c.AccessToken, "access-token", "", "previously obtained OAuth access token")
	fs.StringVar(&c.RefreshToken, "refresh-token", "", "previously obtained OAuth refresh token")
}

// ParseFetchFlags parses the stravafetch command line. Unknown flags are an
// error and produce a usage message.
func ParseFetchFlags(name string, args []string) (FetchFlags, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	f := FetchFlags{}
	addCredentialFlags(fs, &f.Credentials)
	fs.StringVar(&f.ExchangeCode, "exchange-code", "", "exchange an OAuth authorization code for tokens, print them and exit")
	fs.IntVar(&f.PerPage, "per-page", 5, "activities per page")
	fs.IntVar(&f.Page, "page", 1, "page number of the activity list")
	fs.BoolVar(&f.Login, "login", false, "run the interactive browser OAuth flow to obtain a fresh token")
	fs.BoolVar(&f.DumpAthlete, "dump-athlete", false, "dump the full athlete payload")
	fs.BoolVar(&f.ExportGPX, "export-gpx", false, "export the listed activities as GPX files")
	fs.BoolVar(&f.FetchAll, "fetch-all", false, "re-export activities already recorded as imported")
	fs.StringVar(&f.OutDir, "out-dir", "gpx", "directory for exported GPX files")
	fs.StringVar(&f.DBPath, "db", "tiles.db", "path of the SQLite database")
	err := ff.Parse(fs, args, ff.WithEnvVarPrefix("STRAVA"))
	return f, err
}

// ParseServeFlags parses the tileserver command line.
func ParseServeFlags(name string, args []string) (ServeFlags, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	f := ServeFlags{}
	addCredentialFlags(fs, &f.Credentials)
	fs.StringVar(&f.Addr, "addr", "127.0.0.1:8080", "listen address of the map server")
	fs.StringVar(&f.DBPath, "db", "tiles.db", "path of the SQLite database")
	fs.StringVar(&f.GPXDir, "gpx-dir", "gpx", "directory of GPX files")
	fs.StringVar(&f.StaticDir, "static-dir", "static", "directory of static web assets")
	err := ff.Parse(fs, args, ff.WithEnvVarPrefix("STRAVA"))
	return f, err
}
