// Package tiles computes which zoom-14 slippy-map tiles an athlete's tracks
// have visited, and the statistics derived from them.
package tiles

import (
	"math"
	"sort"
)

// Zoom is the tile zoom level all visits are tracked at, following the
// convention of tile-hunting games.
const Zoom = 14

// At returns the slippy-map tile containing the given coordinate.
func At(lat, lon float64, zoom int) (x, y uint32) {
	n := float64(uint32(1) << uint(zoom))
	x = uint32(math.Floor((lon + 180.0) / 360.0 * n))
	latRad := lat * math.Pi / 180
	y = uint32(math.Floor((1.0 - math.Asinh(math.Tan(latRad))/math.Pi) / 2.0 * n))
	return x, y
}

// Bounds returns the lat/lon bounding box of a tile.
func Bounds(x, y uint32, zoom int) (latMin, lonMin, latMax, lonMax float64) {
	n := float64(uint32(1) << uint(zoom))
	lonMin = float64(x)/n*360.0 - 180.0
	lonMax = float64(x+1)/n*360.0 - 180.0
	latMax = math.Atan(math.Sinh(math.Pi*(1.0-2.0*float64(y)/n))) * 180 / math.Pi
	latMin = math.Atan(math.Sinh(math.Pi*(1.0-2.0*float64(y+1)/n))) * 180 / math.Pi
	return latMin, lonMin, latMax, lonMax
}

// Coord is a tile coordinate at the tracking zoom.
type Coord struct {
	X, Y uint32
}

// Square is the largest fully-visited square of tiles.
type Square struct {
	Size     uint32 `json:"size"`
	TopLeftX uint32 `json:"top_left_x"`
	TopLeftY uint32 `json:"top_left_y"`
}

// Cluster is the largest connected group of surrounded tiles.
type Cluster struct {
	Size  int     `json:"size"`
	Tiles []Coord `json:"tiles"`
}

// MaxCluster finds the tiles that are surrounded on all four sides by other
// visited tiles, then returns the largest 4-connected component among them.
func MaxCluster(coords []Coord) Cluster {
	if len(coords) == 0 {
		return Cluster{}
	}

	visited := make(map[Coord]bool, len(coords))
	for _, c := range coords {
		visited[c] = true
	}

	surrounded := make(map[Coord]bool)
	for _, c := range coords {
		if c.X > 0 && visited[Coord{c.X - 1, c.Y}] &&
			visited[Coord{c.X + 1, c.Y}] &&
			c.Y > 0 && visited[Coord{c.X, c.Y - 1}] &&
			visited[Coord{c.X, c.Y + 1}] {
			surrounded[c] = true
		}
	}
	if len(surrounded) == 0 {
		return Cluster{}
	}

	var best []Coord
	for len(surrounded) > 0 {
		var start Coord
		for c := range surrounded {
			start = c
			break
		}
		delete(surrounded, start)

		queue := []Coord{start}
		var cluster []Coord
		for len(queue) > 0 {
			c := queue[0]
			queue = queue[1:]
			cluster = append(cluster, c)

			neighbors := []Coord{{c.X + 1, c.Y}, {c.X, c.Y + 1}}
			if c.X > 0 {
				neighbors = append(neighbors, Coord{c.X - 1, c.Y})
			}
			if c.Y > 0 {
				neighbors = append(neighbors, Coord{c.X, c.Y - 1})
			}
			for _, n := range neighbors {
				if surrounded[n] {
					delete(surrounded, n)
					queue = append(queue, n)
				}
			}
		}
		if len(cluster) > len(best) {
			best = cluster
		}
	}
	return Cluster{Size: len(best), Tiles: best}
}

// MaxSquare finds the largest square fully covered by the given tiles, via
// the classic dynamic program over the bounding grid.
func MaxSquare(coords []Coord) Square {
	if len(coords) == 0 {
		return Square{}
	}

	visited := make(map[Coord]bool, len(coords))
	minX, maxX := coords[0].X, coords[0].X
	minY, maxY := coords[0].Y, coords[0].Y
	for _, c := range coords {
		visited[c] = true
		minX, maxX = min(minX, c.X), max(maxX, c.X)
		minY, maxY = min(minY, c.Y), max(maxY, c.Y)
	}

	width := int(maxX-minX) + 1
	height := int(maxY-minY) + 1
	dp := make([][]uint32, height)
	for i := range dp {
		dp[i] = make([]uint32, width)
	}

	var result Square
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			abs := Coord{minX + uint32(x), minY + uint32(y)}
			if !visited[abs] {
				continue
			}
			if x == 0 || y == 0 {
				dp[y][x] = 1
			} else {
				dp[y][x] = min(dp[y-1][x], dp[y][x-1], dp[y-1][x-1]) + 1
			}
			if dp[y][x] > result.Size {
				result.Size = dp[y][x]
				result.TopLeftX = abs.X - result.Size + 1
				result.TopLeftY = abs.Y - result.Size + 1
			}
		}
	}
	return result
}

// Eddington returns the largest E such that at least E activities are at
// least E kilometers long.
func Eddington(distancesKM []float64) int {
	sorted := append([]float64(nil), distancesKM...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	e := 0
	for i, d := range sorted {
		if d < float64(i+1) {
			break
		}
		e = i + 1
	}
	return e
}
