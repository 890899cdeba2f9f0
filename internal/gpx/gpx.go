// Package gpx builds GPX 1.1 documents from Strava activity streams and
// parses them back into track points.
package gpx

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/beevik/etree"

	"github.com/kosmo/strava-tiles/internal/strava"
)

const creator = "strava-tiles"

// Point is one track point. Time is zero when the source had none.
type Point struct {
	Lat  float64
	Lon  float64
	Time time.Time
}

// Track is a parsed GPX track.
type Track struct {
	Name   string
	Start  time.Time
	Points []Point
}

// Build renders the streams of one activity as a GPX document. startDate is
// the activity start in RFC3339 as Strava reports it; when parseable it
// becomes the metadata time and the base for per-point times taken from the
// time stream.
func Build(name, startDate string, streams *strava.StreamSet) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("gpx")
	root.CreateAttr("version", "1.1")
	root.CreateAttr("creator", creator)
	root.CreateAttr("xmlns", "http://www.topografix.com/GPX/1/1")
	root.CreateAttr("xmlns:xsi", "http://www.w3.org/2001/XMLSchema-instance")
	root.CreateAttr("xsi:schemaLocation", "http://www.topografix.com/GPX/1/1 http://www.topografix.com/GPX/1/1/gpx.xsd")

	var start time.Time
	if startDate != "" {
		if t, err := time.Parse(time.RFC3339, startDate); err == nil {
			start = t
			meta := root.CreateElement("metadata")
			meta.CreateElement("time").SetText(startDate)
		}
	}

	trk := root.CreateElement("trk")
	trk.CreateElement("name").SetText(name)
	seg := trk.CreateElement("trkseg")

	var coords [][2]float64
	if streams != nil && streams.Latlng != nil {
		coords = streams.Latlng.Data
	}
	for i, ll := range coords {
		pt := seg.CreateElement("trkpt")
		pt.CreateAttr("lat", strconv.FormatFloat(ll[0], 'f', 7, 64))
		pt.CreateAttr("lon", strconv.FormatFloat(ll[1], 'f', 7, 64))
		if streams.Altitude != nil && i < len(streams.Altitude.Data) {
			pt.CreateElement("ele").SetText(strconv.FormatFloat(streams.Altitude.Data[i], 'f', 2, 64))
		}
		if !start.IsZero() && streams.Time != nil && i < len(streams.Time.Data) {
			t := start.Add(time.Duration(streams.Time.Data[i]) * time.Second)
			pt.CreateElement("time").SetText(t.Format(time.RFC3339))
		}
	}

	doc.Indent(2)
	return doc.WriteToBytes()
}

// Parse reads a GPX document back into a track. Points without an own time
// element inherit the metadata time.
func Parse(data []byte) (*Track, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parsing gpx: %w", err)
	}

	trk := &Track{}
	if e := doc.FindElement("//trk/name"); e != nil {
		trk.Name = e.Text()
	}
	if e := doc.FindElement("//metadata/time"); e != nil {
		if t, err := time.Parse(time.RFC3339, e.Text()); err == nil {
			trk.Start = t
		}
	}
	for _, pt := range doc.FindElements("//trkseg/trkpt") {
		lat, latErr := strconv.ParseFloat(pt.SelectAttrValue("lat", ""), 64)
		lon, lonErr := strconv.ParseFloat(pt.SelectAttrValue("lon", ""), 64)
		if latErr != nil || lonErr != nil {
			continue
		}
		p := Point{Lat: lat, Lon: lon, Time: trk.Start}
		if e := pt.FindElement("time"); e != nil {
			if t, err := time.Parse(time.RFC3339, e.Text()); err == nil {
				p.Time = t
			}
		}
		trk.Points = append(trk.Points, p)
	}
	return trk, nil
}

// PointsFromStreams converts a stream set directly into track points, the
// same way Build lays them out.
func PointsFromStreams(startDate string, streams *strava.StreamSet) []Point {
	var start time.Time
	if t, err := time.Parse(time.RFC3339, startDate); err == nil {
		start = t
	}
	var pts []Point
	if streams == nil || streams.Latlng == nil {
		return pts
	}
	for i, ll := range streams.Latlng.Data {
		p := Point{Lat: ll[0], Lon: ll[1], Time: start}
		if !start.IsZero() && streams.Time != nil && i < len(streams.Time.Data) {
			p.Time = start.Add(time.Duration(streams.Time.Data[i]) * time.Second)
		}
		pts = append(pts, p)
	}
	return pts
}

// DistanceKM is the summed haversine distance over consecutive points.
func DistanceKM(points []Point) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += haversineKM(points[i-1].Lat, points[i-1].Lon, points[i].Lat, points[i].Lon)
	}
	return total
}

const earthRadiusKM = 6371.0

func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	rLat1 := lat1 * math.Pi / 180
	rLat2 := lat2 * math.Pi / 180

	a := math.Pow(math.Sin(dLat/2), 2) + math.Cos(rLat1)*math.Cos(rLat2)*math.Pow(math.Sin(dLon/2), 2)
	return earthRadiusKM * 2 * math.Asin(math.Sqrt(a))
}
