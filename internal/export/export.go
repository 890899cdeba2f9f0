// Package export turns fetched Strava activities into GPX files on disk and
// records the imports in the tile database.
package export

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/kosmo/strava-tiles/internal/gpx"
	"github.com/kosmo/strava-tiles/internal/strava"
	"github.com/kosmo/strava-tiles/internal/tiledb"
	"github.com/kosmo/strava-tiles/internal/tiles"
)

// Result counts what one export run did.
type Result struct {
	Imported int
	Skipped  int
}

// Activities exports each listed activity as gpx/activity_<id>.gpx, one at a
// time. Activities already recorded as imported are skipped unless fetchAll
// is set. An activity whose streams cannot be fetched still contributes its
// summary-polyline tiles, but is not marked imported so a later run can
// retry the full export.
func Activities(ctx context.Context, client *strava.Client, db *tiledb.DB, activities []strava.ActivitySummary, outDir string, fetchAll bool) (Result, error) {
	var res Result
	if len(activities) == 0 {
		return res, nil
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return res, fmt.Errorf("creating output dir %s: %w", outDir, err)
	}

	imported := make(map[int64]bool)
	if !fetchAll {
		ids, err := db.ImportedActivityIDs(ctx)
		if err != nil {
			return res, err
		}
		for _, id := range ids {
			imported[id] = true
		}
	}

	for _, act := range activities {
		if imported[act.ID] {
			log.Printf("Skipping already imported activity %d - %s", act.ID, act.Name)
			res.Skipped++
			continue
		}
		log.Printf("Exporting GPX for activity %d - %s", act.ID, act.Name)

		streams, err := client.GetActivityStreams(ctx, act.ID)
		if err != nil {
			log.Printf("Failed to get streams for activity %d: %v", act.ID, err)
			batch, perr := tiles.FromPolyline(act)
			if perr != nil {
				log.Printf("Failed to decode summary polyline of activity %d: %v", act.ID, perr)
				continue
			}
			if len(batch) > 0 {
				if ierr := db.InsertTiles(ctx, batch); ierr != nil {
					return res, ierr
				}
				log.Printf("Recorded %d tiles for activity %d from its summary polyline", len(batch), act.ID)
			}
			continue
		}

		data, err := gpx.Build(act.Name, act.StartDate, streams)
		if err != nil {
			log.Printf("Failed to build GPX for activity %d: %v", act.ID, err)
			continue
		}
		path := filepath.Join(outDir, fmt.Sprintf("activity_%d.gpx", act.ID))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return res, fmt.Errorf("writing %s: %w", path, err)
		}

		distance := gpx.DistanceKM(gpx.PointsFromStreams(act.StartDate, streams))
		if err := db.MarkActivityImported(ctx, act.ID, act.Name, distance); err != nil {
			log.Printf("warning: could not mark activity %d as imported: %v", act.ID, err)
		}
		log.Printf("Saved GPX: %s (%.2f km)", path, distance)
		res.Imported++
	}
	return res, nil
}
