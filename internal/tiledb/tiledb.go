// Package tiledb is the SQLite store for visited map tiles, processed GPX
// files, and imported activities.
package tiledb

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
create table if not exists tiles (
	x integer not null,
	y integer not null,
	z integer not null,
	first_visited_at integer not null,
	activity_id text not null default '',
	activity_title text not null default '',
	gpx_filename text not null default '',
	primary key (x, y, z)
);

create table if not exists processed_files (
	filename text primary key,
	processed_at integer not null
);

create table if not exists imported_activities (
	id integer primary key,
	name text not null default '',
	distance_km real not null default 0,
	imported_at integer not null
);
`

const upsertTile = `
insert into
    tiles (
           x,
           y,
           z,
           first_visited_at,
           activity_id,
           activity_title,
           gpx_filename
    ) values (
           :x,
           :y,
           :z,
           :first_visited_at,
           :activity_id,
           :activity_title,
           :gpx_filename
    )
on conflict (x, y, z) do update
    set first_visited_at = min(first_visited_at, excluded.first_visited_at)
`

const upsertActivity = `
insert into
    imported_activities (id, name, distance_km, imported_at)
    values (:id, :name, :distance_km, :imported_at)
on conflict (id) do update
    set name = excluded.name,
        distance_km = excluded.distance_km
`

// Tile is one visited slippy-map tile. The activity columns point at the
// activity whose track first produced the tile.
type Tile struct {
	X              uint32 `db:"x" json:"x"`
	Y              uint32 `db:"y" json:"y"`
	Z              uint32 `db:"z" json:"z"`
	FirstVisitedAt int64  `db:"first_visited_at" json:"first_visited_at"`
	ActivityID     string `db:"activity_id" json:"activity_id,omitempty"`
	ActivityTitle  string `db:"activity_title" json:"activity_title,omitempty"`
	GPXFilename    string `db:"gpx_filename" json:"gpx_filename,omitempty"`
}

// DB wraps the sqlx handle with the queries this project needs.
type DB struct {
	*sqlx.DB
}

// Open opens (creating if necessary) the database at path and bootstraps the
// schema. Use ":memory:" for an ephemeral database.
func Open(path string) (*DB, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &DB{db}, nil
}

// InsertTiles upserts a batch of tiles in one transaction, keeping the
// earliest first_visited_at on conflict.
func (d *DB) InsertTiles(ctx context.Context, tiles []Tile) error {
	tx, err := d.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, t := range tiles {
		if _, err := tx.NamedExecContext(ctx, upsertTile, t); err != nil {
			return fmt.Errorf("inserting tile (%d,%d,%d): %w", t.X, t.Y, t.Z, err)
		}
	}
	return tx.Commit()
}

// AllTiles returns every visited tile.
func (d *DB) AllTiles(ctx context.Context) ([]Tile, error) {
	var tiles []Tile
	err := d.SelectContext(ctx, &tiles,
		`select x, y, z, first_visited_at, activity_id, activity_title, gpx_filename from tiles`)
	return tiles, err
}

// TileCount returns the number of visited tiles.
func (d *DB) TileCount(ctx context.Context) (int, error) {
	var n int
	err := d.GetContext(ctx, &n, `select count(*) from tiles`)
	return n, err
}

// IsFileProcessed reports whether a GPX file has been ingested before.
func (d *DB) IsFileProcessed(ctx context.Context, filename string) (bool, error) {
	var n int
	if err := d.GetContext(ctx, &n,
		`select count(*) from processed_files where filename = ?`, filename); err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkFileProcessed records a GPX file as ingested.
func (d *DB) MarkFileProcessed(ctx context.Context, filename string) error {
	_, err := d.ExecContext(ctx,
		`insert or ignore into processed_files (filename, processed_at) values (?, ?)`,
		filename, time.Now().Unix())
	return err
}

// MarkActivityImported records an activity as exported, with its name and
// track distance.
func (d *DB) MarkActivityImported(ctx context.Context, id int64, name string, distanceKM float64) error {
	_, err := d.NamedExecContext(ctx, upsertActivity, map[string]any{
		"id":          id,
		"name":        name,
		"distance_km": distanceKM,
		"imported_at": time.Now().Unix(),
	})
	return err
}

// ImportedActivityIDs returns the ids of all imported activities.
func (d *DB) ImportedActivityIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := d.SelectContext(ctx, &ids, `select id from imported_activities`)
	return ids, err
}

// TotalDistanceKM sums the distance of all imported activities.
func (d *DB) TotalDistanceKM(ctx context.Context) (float64, error) {
	var total float64
	err := d.GetContext(ctx, &total, `select coalesce(sum(distance_km), 0) from imported_activities`)
	return total, err
}

// ActivityDistances returns the per-activity distances, unordered.
func (d *DB) ActivityDistances(ctx context.Context) ([]float64, error) {
	var dists []float64
	err := d.SelectContext(ctx, &dists, `select distance_km from imported_activities`)
	return dists, err
}
