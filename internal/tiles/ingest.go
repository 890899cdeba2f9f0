package tiles

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/twpayne/go-polyline"

	"github.com/kosmo/strava-tiles/internal/gpx"
	"github.com/kosmo/strava-tiles/internal/strava"
	"github.com/kosmo/strava-tiles/internal/tiledb"
)

const parseWorkers = 8

// FromPoints maps track points onto tiles, keeping the earliest visit time
// per tile, and stamps them with the owning activity.
func FromPoints(points []gpx.Point, activityID, activityTitle, gpxFilename string) []tiledb.Tile {
	earliest := make(map[Coord]int64)
	for _, p := range points {
		c := Coord{}
		c.X, c.Y = At(p.Lat, p.Lon, Zoom)
		var t int64
		if !p.Time.IsZero() {
			t = p.Time.Unix()
		}
		if prev, ok := earliest[c]; !ok || t < prev {
			earliest[c] = t
		}
	}
	tiles := make([]tiledb.Tile, 0, len(earliest))
	for c, t := range earliest {
		tiles = append(tiles, tiledb.Tile{
			X:              c.X,
			Y:              c.Y,
			Z:              Zoom,
			FirstVisitedAt: t,
			ActivityID:     activityID,
			ActivityTitle:  activityTitle,
			GPXFilename:    gpxFilename,
		})
	}
	return tiles
}

// FromPolyline decodes an activity's summary polyline into tile visits.
// Useful when no GPX with per-point times exists for the activity; every
// tile gets the activity start as its visit time.
func FromPolyline(a strava.ActivitySummary) ([]tiledb.Tile, error) {
	if a.Map.SummaryPolyline == "" {
		return nil, nil
	}
	coords, _, err := polyline.DecodeCoords([]byte(a.Map.SummaryPolyline))
	if err != nil {
		return nil, fmt.Errorf("decoding polyline of activity %d: %w", a.ID, err)
	}
	start, _ := time.Parse(time.RFC3339, a.StartDate)
	points := make([]gpx.Point, 0, len(coords))
	for _, c := range coords {
		points = append(points, gpx.Point{Lat: c[0], Lon: c[1], Time: start})
	}
	return FromPoints(points, strconv.FormatInt(a.ID, 10), a.Name, ""), nil
}

type parsedFile struct {
	filename string
	track    *gpx.Track
}

// ProcessDir ingests every not-yet-processed GPX file under dir into the
// database and returns the number of new tile entries. Files are parsed
// concurrently; all writes happen on the caller's goroutine. Files that
// cannot be read or parsed are logged and skipped, and stay unprocessed so
// a later run retries them.
func ProcessDir(ctx context.Context, db *tiledb.DB, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading gpx dir %s: %w", dir, err)
	}

	var pending []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".gpx") {
			continue
		}
		done, err := db.IsFileProcessed(ctx, e.Name())
		if err != nil {
			return 0, err
		}
		if !done {
			pending = append(pending, e.Name())
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	p := pool.NewWithResults[parsedFile]().WithMaxGoroutines(parseWorkers)
	for _, name := range pending {
		p.Go(func() parsedFile {
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				log.Printf("Error processing %s: %v", name, err)
				return parsedFile{}
			}
			track, err := gpx.Parse(data)
			if err != nil {
				log.Printf("Error processing %s: %v", name, err)
				return parsedFile{}
			}
			return parsedFile{filename: name, track: track}
		})
	}
	parsed := p.Wait()

	total := 0
	for _, f := range parsed {
		if f.track == nil {
			continue
		}
		title := f.track.Name
		if title == "" {
			title = f.filename
		}
		activityID := activityIDFromFilename(f.filename)
		batch := FromPoints(f.track.Points, activityID, title, f.filename)
		if err := db.InsertTiles(ctx, batch); err != nil {
			return total, err
		}
		if err := db.MarkFileProcessed(ctx, f.filename); err != nil {
			return total, err
		}
		if id, err := strconv.ParseInt(activityID, 10, 64); err == nil {
			distance := gpx.DistanceKM(f.track.Points)
			if err := db.MarkActivityImported(ctx, id, title, distance); err != nil {
				log.Printf("warning: could not mark activity %d as imported: %v", id, err)
			}
		}
		if len(batch) > 0 {
			log.Printf("Processed %s: %d tiles", f.filename, len(batch))
		}
		total += len(batch)
	}
	return total, nil
}

// activityIDFromFilename recovers the activity id from names like
// "activity_15409133734.gpx".
func activityIDFromFilename(filename string) string {
	name := strings.TrimSuffix(filename, ".gpx")
	return strings.TrimPrefix(name, "activity_")
}
