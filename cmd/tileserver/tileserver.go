// Command tileserver serves the local map of visited tiles and exported GPX
// tracks, with in-browser Strava sign-in and activity fetching.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/kosmo/strava-tiles/internal/config"
	"github.com/kosmo/strava-tiles/internal/mapserver"
	"github.com/kosmo/strava-tiles/internal/tiledb"
	"github.com/kosmo/strava-tiles/internal/tiles"
)

func main() {
	config.LoadDotenv()
	f, err := config.ParseServeFlags("tileserver", os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()

	db, err := tiledb.Open(f.DBPath)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	log.Print("Processing GPX files...")
	newTiles, err := tiles.ProcessDir(ctx, db, f.GPXDir)
	if err != nil {
		log.Fatal(err)
	}
	if newTiles > 0 {
		log.Printf("Added %d new tile entries", newTiles)
	}
	total, err := db.TileCount(ctx)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Total tiles in database: %d", total)

	srv := mapserver.New(db, mapserver.Options{
		GPXDir:    f.GPXDir,
		StaticDir: f.StaticDir,
		Creds:     f.Credentials,
	})
	log.Printf("Map server running at http://%s", f.Addr)
	if err := http.ListenAndServe(f.Addr, srv.Handler()); err != nil {
		log.Fatal(err)
	}
}
