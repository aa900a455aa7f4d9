package pt

import (
	"fmt"
	"maps"
	"strconv"

	"ptparser/internal/flatten"
	"ptparser/internal/osmdata"
)

// Assemble builds the Route for one relation, flattening its ways with the
// given gap in metres. A flattening error never escapes: it is recorded as
// StatusFlattenFailed with an empty geometry while the other fields stay
// populated.
func Assemble(rel osmdata.Relation, gap float64, dedupe bool) Route {
	r := baseRoute(rel)

	lines, status, err := flatten.Ways(rel.Ways, gap, flatten.Options{Dedupe: dedupe})
	if err != nil {
		return withFailure(r, err)
	}

	r.Geometry = make([][][2]float64, len(lines))
	for i, ls := range lines {
		line := make([][2]float64, len(ls))
		for j, p := range ls {
			line[j] = [2]float64(p)
		}
		r.Geometry[i] = line
	}
	r.Status = ParseStatus{Code: status.Code, Detail: status.Detail}
	r.Info["segments"] = strconv.Itoa(len(lines))
	r.Info["length_m"] = strconv.FormatFloat(flatten.Length(lines), 'f', 1, 64)
	return r
}

// failedRoute is the Route for a relation whose transformation panicked.
func failedRoute(rel osmdata.Relation, cause any) Route {
	return withFailure(baseRoute(rel), fmt.Errorf("flatten panicked: %v", cause))
}

func withFailure(r Route, err error) Route {
	r.Geometry = [][][2]float64{}
	r.Status = ParseStatus{Code: StatusFlattenFailed, Detail: err.Error()}
	r.Info["segments"] = "0"
	return r
}

// baseRoute copies the fields that do not depend on flattening. Maps are
// cloned so callers cannot reach the loaded dataset through a Route.
func baseRoute(rel osmdata.Relation) Route {
	resolved := 0
	for _, w := range rel.Ways {
		if w.Resolved() {
			resolved++
		}
	}
	r := Route{
		ID:    uint64(rel.ID),
		Tags:  cloneTags(rel.Tags),
		Stops: make([]Node, len(rel.Stops)),
		Info: map[string]string{
			"ways":          strconv.Itoa(len(rel.Ways)),
			"resolved_ways": strconv.Itoa(resolved),
			"stops":         strconv.Itoa(len(rel.Stops) + rel.MissingStops),
			"missing_stops": strconv.Itoa(rel.MissingStops),
		},
	}
	for i, n := range rel.Stops {
		r.Stops[i] = Node{ID: uint64(n.ID), Tags: cloneTags(n.Tags), Lon: n.Lon, Lat: n.Lat}
	}
	return r
}

func cloneTags(tags map[string]string) map[string]string {
	if tags == nil {
		return map[string]string{}
	}
	return maps.Clone(tags)
}
