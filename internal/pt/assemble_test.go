package pt

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ptparser/internal/osmdata"
)

func relation() osmdata.Relation {
	return osmdata.Relation{
		ID:   7,
		Tags: map[string]string{"type": "route", "route": "tram", "name": "T1"},
		Stops: []osmdata.Node{
			{ID: 70, Tags: map[string]string{"name": "Depot"}, Lon: 0, Lat: 0.0001},
		},
		MissingStops: 1,
		Ways: []osmdata.Way{
			{ID: 71, Points: orb.LineString{{0, 0}, {0.001, 0}}},
			{ID: 72, Points: orb.LineString{{0.001, 0}, {0.002, 0}}},
		},
	}
}

func TestAssemble(t *testing.T) {
	r := Assemble(relation(), 0, false)

	assert.Equal(t, uint64(7), r.ID)
	assert.True(t, r.OK())
	assert.Equal(t, "T1", r.Name())
	assert.Equal(t, "tram", r.Mode())
	require.Len(t, r.Stops, 1)
	assert.Equal(t, uint64(70), r.Stops[0].ID)
	assert.Equal(t, [][][2]float64{{{0, 0}, {0.001, 0}, {0.002, 0}}}, r.Geometry)

	assert.Equal(t, "2", r.Info["ways"])
	assert.Equal(t, "2", r.Info["resolved_ways"])
	assert.Equal(t, "2", r.Info["stops"])
	assert.Equal(t, "1", r.Info["missing_stops"])
	assert.Equal(t, "1", r.Info["segments"])
	assert.NotEmpty(t, r.Info["length_m"])
}

func TestAssemble_ClonesTags(t *testing.T) {
	rel := relation()
	r := Assemble(rel, 0, false)

	r.Tags["name"] = "changed"
	r.Stops[0].Tags["name"] = "changed"
	assert.Equal(t, "T1", rel.Tags["name"])
	assert.Equal(t, "Depot", rel.Stops[0].Tags["name"])
}

func TestAssemble_NilTags(t *testing.T) {
	r := Assemble(osmdata.Relation{ID: 1}, 0, false)
	assert.NotNil(t, r.Tags)
	assert.NotNil(t, r.Info)
	assert.Equal(t, StatusNoWays, r.Status.Code)
	assert.Empty(t, r.Geometry)
}

func TestAssemble_FlattenErrorIsFolded(t *testing.T) {
	// a negative gap makes flattening fail; the route is still produced
	r := Assemble(relation(), -1, false)

	assert.Equal(t, StatusFlattenFailed, r.Status.Code)
	assert.NotEmpty(t, r.Status.Detail)
	assert.NotNil(t, r.Geometry)
	assert.Empty(t, r.Geometry)
	assert.Equal(t, "T1", r.Name())
	assert.Len(t, r.Stops, 1)
	assert.Equal(t, "0", r.Info["segments"])
}

func TestFailedRoute(t *testing.T) {
	r := failedRoute(relation(), "index out of range")

	assert.Equal(t, StatusFlattenFailed, r.Status.Code)
	assert.Contains(t, r.Status.Detail, "index out of range")
	assert.Equal(t, uint64(7), r.ID)
	assert.Empty(t, r.Geometry)
}

func TestRoute_MultiLineString(t *testing.T) {
	r := Route{Geometry: [][][2]float64{{{1, 2}, {3, 4}}, {{5, 6}, {7, 8}}}}
	mls := r.MultiLineString()
	require.Len(t, mls, 2)
	assert.Equal(t, orb.Point{3, 4}, mls[0][1])
	assert.Equal(t, orb.Point{5, 6}, mls[1][0])
}

func TestRoute_ModeFallsBackToType(t *testing.T) {
	r := Route{Tags: map[string]string{"type": "associatedStreet"}}
	assert.Equal(t, "associatedStreet", r.Mode())
}
