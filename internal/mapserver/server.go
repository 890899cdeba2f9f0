// Package mapserver is the local web server that renders visited tiles and
// GPX tracks on a Leaflet map, and lets the browser trigger Strava fetches.
package mapserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kosmo/strava-tiles/internal/config"
	"github.com/kosmo/strava-tiles/internal/export"
	"github.com/kosmo/strava-tiles/internal/gpx"
	"github.com/kosmo/strava-tiles/internal/strava"
	"github.com/kosmo/strava-tiles/internal/tiledb"
	"github.com/kosmo/strava-tiles/internal/tiles"
)

// Options configure a Server beyond its storage handle.
type Options struct {
	GPXDir    string
	StaticDir string
	Creds     config.Credentials

	// BaseURL and TokenURL override the Strava API and token endpoints,
	// for tests. Empty means the real endpoints.
	BaseURL  string
	TokenURL string

	// RedirectURL is where Strava sends the browser back to after consent.
	RedirectURL string
}

// Server holds the map server state. The access token obtained through the
// in-browser OAuth flow lives only in memory.
type Server struct {
	db   *tiledb.DB
	opts Options

	mu          sync.RWMutex
	accessToken string
}

func New(db *tiledb.DB, opts Options) *Server {
	if opts.GPXDir == "" {
		opts.GPXDir = "gpx"
	}
	if opts.StaticDir == "" {
		opts.StaticDir = "static"
	}
	if opts.RedirectURL == "" {
		opts.RedirectURL = "http://localhost:8080/auth/callback"
	}
	return &Server{db: db, opts: opts}
}

// Handler returns the routed handler with logging and panic recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /gpx", s.handleListGPX)
	mux.HandleFunc("GET /gpx/{filename}", s.handleGPXFile)
	mux.HandleFunc("GET /tiles", s.handleTiles)
	mux.HandleFunc("POST /fetch-activities", s.handleFetchActivities)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /square-cluster", s.handleSquareCluster)
	mux.HandleFunc("GET /auth/start", s.handleAuthStart)
	mux.HandleFunc("GET /auth/callback", s.handleAuthCallback)
	mux.HandleFunc("GET /auth/status", s.handleAuthStatus)
	return withLogging(mux)
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("Panic recovered: %v", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		log.Printf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writing response: %v", err)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.opts.StaticDir, "index.html"))
}

// gpxFileInfo describes one exported GPX file for the file list endpoint.
type gpxFileInfo struct {
	Filename   string  `json:"filename"`
	Modified   int64   `json:"modified"`
	DistanceKM float64 `json:"distance_km"`
}

func (s *Server) handleListGPX(w http.ResponseWriter, r *http.Request) {
	files := []gpxFileInfo{}
	entries, err := os.ReadDir(s.opts.GPXDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".gpx") {
				continue
			}
			info := gpxFileInfo{Filename: e.Name()}
			data, err := os.ReadFile(filepath.Join(s.opts.GPXDir, e.Name()))
			if err != nil {
				continue
			}
			if track, err := gpx.Parse(data); err == nil {
				info.Modified = track.Start.Unix()
				if track.Start.IsZero() {
					info.Modified = 0
				}
				info.DistanceKM = round2(gpx.DistanceKM(track.Points))
			}
			files = append(files, info)
		}
	}
	// newest first
	sort.Slice(files, func(i, j int) bool { return files[i].Modified > files[j].Modified })
	writeJSON(w, files)
}

func (s *Server) handleGPXFile(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	if strings.Contains(filename, "..") || strings.ContainsAny(filename, `/\`) {
		http.Error(w, "Invalid filename", http.StatusBadRequest)
		return
	}
	data, err := os.ReadFile(filepath.Join(s.opts.GPXDir, filename))
	if err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/gpx+xml")
	w.Write(data)
}

// tilesResponse is the payload of GET /tiles.
type tilesResponse struct {
	Tiles      []tiledb.Tile `json:"tiles"`
	Zoom       int           `json:"zoom"`
	TotalCount int           `json:"total_count"`
}

func (s *Server) handleTiles(w http.ResponseWriter, r *http.Request) {
	all, err := s.db.AllTiles(r.Context())
	if err != nil {
		log.Printf("loading tiles: %v", err)
		all = nil
	}
	if all == nil {
		all = []tiledb.Tile{}
	}
	writeJSON(w, tilesResponse{Tiles: all, Zoom: tiles.Zoom, TotalCount: len(all)})
}

type statsResponse struct {
	TotalDistanceKM float64 `json:"total_distance_km"`
	ActivityCount   int     `json:"activity_count"`
	MaxSquare       uint32  `json:"max_square"`
	MaxCluster      int     `json:"max_cluster"`
	Eddington       int     `json:"eddington"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	total, err := s.db.TotalDistanceKM(ctx)
	if err != nil {
		log.Printf("loading total distance: %v", err)
	}
	ids, _ := s.db.ImportedActivityIDs(ctx)
	dists, _ := s.db.ActivityDistances(ctx)
	coords := s.tileCoords(ctx)

	writeJSON(w, statsResponse{
		TotalDistanceKM: round2(total),
		ActivityCount:   len(ids),
		MaxSquare:       tiles.MaxSquare(coords).Size,
		MaxCluster:      tiles.MaxCluster(coords).Size,
		Eddington:       tiles.Eddington(dists),
	})
}

type boundsPair = [2][2]float64

type squareClusterResponse struct {
	MaxSquare struct {
		Size   uint32     `json:"size"`
		Bounds boundsPair `json:"bounds"`
	} `json:"max_square"`
	MaxCluster struct {
		Size  int          `json:"size"`
		Tiles []boundsPair `json:"tiles"`
	} `json:"max_cluster"`
	Zoom int `json:"zoom"`
}

func (s *Server) handleSquareCluster(w http.ResponseWriter, r *http.Request) {
	coords := s.tileCoords(r.Context())
	square := tiles.MaxSquare(coords)
	cluster := tiles.MaxCluster(coords)

	var resp squareClusterResponse
	resp.Zoom = tiles.Zoom
	resp.MaxSquare.Size = square.Size
	if square.Size > 0 {
		latMin, lonMin, _, _ := tiles.Bounds(square.TopLeftX, square.TopLeftY+square.Size-1, tiles.Zoom)
		_, _, latMax, lonMax := tiles.Bounds(square.TopLeftX+square.Size-1, square.TopLeftY, tiles.Zoom)
		resp.MaxSquare.Bounds = boundsPair{{latMin, lonMin}, {latMax, lonMax}}
	}
	resp.MaxCluster.Size = cluster.Size
	resp.MaxCluster.Tiles = []boundsPair{}
	for _, c := range cluster.Tiles {
		latMin, lonMin, latMax, lonMax := tiles.Bounds(c.X, c.Y, tiles.Zoom)
		resp.MaxCluster.Tiles = append(resp.MaxCluster.Tiles, boundsPair{{latMin, lonMin}, {latMax, lonMax}})
	}
	writeJSON(w, resp)
}

func (s *Server) tileCoords(ctx context.Context) []tiles.Coord {
	all, err := s.db.AllTiles(ctx)
	if err != nil {
		log.Printf("loading tiles: %v", err)
		return nil
	}
	coords := make([]tiles.Coord, 0, len(all))
	for _, t := range all {
		coords = append(coords, tiles.Coord{X: t.X, Y: t.Y})
	}
	return coords
}

type fetchParams struct {
	FetchAll bool `json:"fetch_all"`
	PerPage  int  `json:"per_page"`
	Page     int  `json:"page"`
}

type fetchResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
}

func (s *Server) handleFetchActivities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params := fetchParams{PerPage: 50, Page: 1}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&params)
	}
	if params.PerPage <= 0 {
		params.PerPage = 50
	}
	if params.Page <= 0 {
		params.Page = 1
	}

	token := s.currentToken()
	if token == "" && s.opts.Creds.RefreshToken == "" {
		writeJSON(w, fetchResponse{Message: "Not authenticated. Sign in with Strava first."})
		return
	}
	if token == "" {
		fresh, err := s.refresh(ctx)
		if err != nil {
			writeJSON(w, fetchResponse{Message: fmt.Sprintf("Token refresh failed: %v. Re-authenticate via the CLI or the map page.", err)})
			return
		}
		token = fresh
	}

	client := s.apiClient(ctx, token)
	activities, _, err := client.GetActivities(ctx, params.PerPage, params.Page)
	if err != nil {
		var apiErr *strava.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized && s.opts.Creds.RefreshToken != "" {
			log.Print("Access token expired, attempting refresh...")
			fresh, rerr := s.refresh(ctx)
			if rerr != nil {
				writeJSON(w, fetchResponse{Message: fmt.Sprintf("Token refresh failed: %v. Re-authenticate via the CLI or the map page.", rerr)})
				return
			}
			token = fresh
			client = s.apiClient(ctx, token)
			activities, _, err = client.GetActivities(ctx, params.PerPage, params.Page)
		}
		if err != nil {
			writeJSON(w, fetchResponse{Message: fmt.Sprintf("Strava API error: %v", err)})
			return
		}
	}

	if len(activities) == 0 {
		writeJSON(w, fetchResponse{Success: true, Message: "No new activities found."})
		return
	}

	res, err := export.Activities(ctx, client, s.db, activities, s.opts.GPXDir, params.FetchAll)
	if err != nil {
		writeJSON(w, fetchResponse{Message: fmt.Sprintf("Export failed: %v", err), Imported: res.Imported, Skipped: res.Skipped})
		return
	}
	if _, err := tiles.ProcessDir(ctx, s.db, s.opts.GPXDir); err != nil {
		log.Printf("processing gpx files: %v", err)
	}
	writeJSON(w, fetchResponse{
		Success:  true,
		Message:  fmt.Sprintf("%d activities imported, %d skipped", res.Imported, res.Skipped),
		Imported: res.Imported,
		Skipped:  res.Skipped,
	})
}

func (s *Server) currentToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.accessToken != "" {
		return s.accessToken
	}
	return s.opts.Creds.AccessToken
}

func (s *Server) setToken(token string) {
	s.mu.Lock()
	s.accessToken = token
	s.mu.Unlock()
}

func (s *Server) apiClient(ctx context.Context, token string) *strava.Client {
	c := strava.NewClient(ctx, token)
	if s.opts.BaseURL != "" {
		c.BaseURL = s.opts.BaseURL
	}
	return c
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
