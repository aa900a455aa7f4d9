package osmdata

import "github.com/paulmach/orb"

// Node is a tagged point member of a relation.
type Node struct {
	ID   int64
	Tags map[string]string
	Lon  float64
	Lat  float64
}

// Way is a way member of a relation resolved to coordinates. Points is nil
// when the way is referenced by the relation but missing from the extract.
// Node references whose node is missing are dropped from Points.
type Way struct {
	ID      int64
	Role    string
	NodeIDs []int64
	Points  orb.LineString
}

// Resolved reports whether the way carries enough coordinates to form a segment.
func (w Way) Resolved() bool { return len(w.Points) >= 2 }

// Relation is a selected relation with its members resolved against the
// extract. Stops and Ways keep the relation's membership order.
type Relation struct {
	ID           int64
	Tags         map[string]string
	Stops        []Node
	Ways         []Way
	MissingStops int
}

// Dataset is the immutable result of loading an extract. It is safe for
// concurrent readers.
type Dataset struct {
	path      string
	relations []Relation
	index     map[int64]int
}

// Relations returns the selected relations in document order. The slice is
// shared; callers must not modify it.
func (d *Dataset) Relations() []Relation { return d.relations }

// Relation looks a relation up by id.
func (d *Dataset) Relation(id int64) (Relation, bool) {
	i, ok := d.index[id]
	if !ok {
		return Relation{}, false
	}
	return d.relations[i], true
}

// Len returns the number of selected relations.
func (d *Dataset) Len() int { return len(d.relations) }

// Path returns the path the dataset was loaded from.
func (d *Dataset) Path() string { return d.path }
