package pt

import (
	"github.com/paulmach/orb"

	"ptparser/internal/flatten"
)

// Status codes carried by ParseStatus. Codes below 500 come from the
// flattening step; StatusFlattenFailed marks a relation whose flattening
// returned an error or panicked.
const (
	StatusOK            = flatten.CodeOK
	StatusNoWays        = flatten.CodeNoWays
	StatusMissingWays   = flatten.CodeMissingWays
	StatusDisjoint      = flatten.CodeDisjoint
	StatusFlattenFailed uint64 = 500
)

// Node is a stop or platform member of a route.
type Node struct {
	ID   uint64            `json:"id" yaml:"id"`
	Tags map[string]string `json:"tags" yaml:"tags"`
	Lon  float64           `json:"lon" yaml:"lon"`
	Lat  float64           `json:"lat" yaml:"lat"`
}

// ParseStatus is the outcome of flattening one relation's geometry.
type ParseStatus struct {
	Code   uint64 `json:"code" yaml:"code"`
	Detail string `json:"detail" yaml:"detail"`
}

// Route is one public transport relation extracted from the map data.
// Every Route returned by a Parser is an independent copy.
type Route struct {
	ID       uint64            `json:"id" yaml:"id"`
	Tags     map[string]string `json:"tags" yaml:"tags"`
	Info     map[string]string `json:"info" yaml:"info"`
	Stops    []Node            `json:"stops" yaml:"stops"`
	Geometry [][][2]float64    `json:"geometry" yaml:"geometry"` // [lon, lat]
	Status   ParseStatus       `json:"status" yaml:"status"`
}

// OK reports whether the route geometry was flattened without degradation.
func (r Route) OK() bool { return r.Status.Code == StatusOK }

// Name returns the route's name tag.
func (r Route) Name() string { return r.Tags["name"] }

// Mode returns the route tag (bus, tram, ...), or the relation type when
// the relation is not a route.
func (r Route) Mode() string {
	if m := r.Tags["route"]; m != "" {
		return m
	}
	return r.Tags["type"]
}

// MultiLineString returns the geometry as orb geometry.
func (r Route) MultiLineString() orb.MultiLineString {
	mls := make(orb.MultiLineString, 0, len(r.Geometry))
	for _, line := range r.Geometry {
		ls := make(orb.LineString, len(line))
		for i, p := range line {
			ls[i] = orb.Point(p)
		}
		mls = append(mls, ls)
	}
	return mls
}
