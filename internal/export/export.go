// Package export renders extracted routes as JSON, YAML, GeoJSON or a CSV
// listing of stops.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gopkg.in/yaml.v3"

	"ptparser/internal/pt"
)

type Format string

const (
	JSON    Format = "json"
	YAML    Format = "yaml"
	GeoJSON Format = "geojson"
	CSV     Format = "csv"
)

// Formats lists the supported formats.
var Formats = []Format{JSON, YAML, GeoJSON, CSV}

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case JSON, YAML, GeoJSON, CSV:
		return f, nil
	case "yml":
		return YAML, nil
	case "":
		return JSON, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// Write renders routes to w.
func Write(w io.Writer, format Format, routes []pt.Route) error {
	switch format {
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(nonNil(routes))
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(nonNil(routes)); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case GeoJSON:
		b, err := FeatureCollection(routes).MarshalJSON()
		if err != nil {
			return fmt.Errorf("encode geojson: %w", err)
		}
		_, err = w.Write(append(b, '\n'))
		return err
	case CSV:
		return gocsv.Marshal(StopRows(routes), w)
	}
	return fmt.Errorf("unknown export format %q", format)
}

func nonNil(routes []pt.Route) []pt.Route {
	if routes == nil {
		return []pt.Route{}
	}
	return routes
}

// FeatureCollection has one MultiLineString feature per route followed by
// one Point feature per stop.
func FeatureCollection(routes []pt.Route) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range routes {
		f := geojson.NewFeature(r.MultiLineString())
		f.ID = r.ID
		f.Properties["kind"] = "route"
		f.Properties["id"] = r.ID
		f.Properties["name"] = r.Name()
		f.Properties["mode"] = r.Mode()
		f.Properties["status_code"] = r.Status.Code
		f.Properties["status_detail"] = r.Status.Detail
		f.Properties["tags"] = r.Tags
		f.Properties["info"] = r.Info
		fc.Append(f)
	}
	for _, r := range routes {
		for seq, s := range r.Stops {
			f := geojson.NewFeature(orb.Point{s.Lon, s.Lat})
			f.Properties["kind"] = "stop"
			f.Properties["id"] = s.ID
			f.Properties["route_id"] = r.ID
			f.Properties["seq"] = seq
			f.Properties["name"] = s.Tags["name"]
			fc.Append(f)
		}
	}
	return fc
}

// StopRow is one line of the CSV stop listing.
type StopRow struct {
	RouteID   uint64  `csv:"route_id"`
	RouteName string  `csv:"route_name"`
	Mode      string  `csv:"mode"`
	Status    uint64  `csv:"status_code"`
	Seq       int     `csv:"seq"`
	StopID    uint64  `csv:"stop_id"`
	StopName  string  `csv:"stop_name"`
	Lon       float64 `csv:"lon"`
	Lat       float64 `csv:"lat"`
}

// StopRows flattens the stops of routes in route then membership order.
func StopRows(routes []pt.Route) []*StopRow {
	rows := []*StopRow{}
	for _, r := range routes {
		for seq, s := range r.Stops {
			rows = append(rows, &StopRow{
				RouteID:   r.ID,
				RouteName: r.Name(),
				Mode:      r.Mode(),
				Status:    r.Status.Code,
				Seq:       seq,
				StopID:    s.ID,
				StopName:  s.Tags["name"],
				Lon:       s.Lon,
				Lat:       s.Lat,
			})
		}
	}
	return rows
}
