package flatten

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"ptparser/internal/osmdata"
)

// Status codes reported alongside the flattened geometry.
const (
	CodeOK          uint64 = 0
	CodeNoWays      uint64 = 101
	CodeMissingWays uint64 = 102
	CodeDisjoint    uint64 = 201
)

var (
	// ErrNoGeometry is returned when a relation references ways but none of
	// them resolved to at least two coordinates.
	ErrNoGeometry = errors.New("no way geometry resolved")
	// ErrInvalidGap is returned for a negative or NaN gap.
	ErrInvalidGap = errors.New("invalid gap")
)

// Status describes how complete a flattened geometry is.
type Status struct {
	Code   uint64
	Detail string
}

// Options tune the flattening.
type Options struct {
	// Dedupe drops ways that repeat an already used way or segment, and
	// consecutive duplicate points inside a way.
	Dedupe bool
}

// Ways merges the ways of a relation into ordered polylines.
//
// Each way starts as its own polyline. The two polylines with the closest
// endpoints are joined, reversing either as needed, until no two endpoints
// lie within gap metres. Ties go to the pair earlier in membership order and
// the earlier polyline leads the joined one. Since the joins made for a
// smaller gap are always the first joins made for a larger one, the number of
// polylines never grows as gap grows.
func Ways(ways []osmdata.Way, gap float64, opts Options) ([]orb.LineString, Status, error) {
	if gap < 0 || math.IsNaN(gap) {
		return nil, Status{}, fmt.Errorf("%w: %v", ErrInvalidGap, gap)
	}
	if len(ways) == 0 {
		return nil, Status{Code: CodeNoWays, Detail: "relation has no ways"}, nil
	}

	segments, missing := prepare(ways, opts)
	if len(segments) == 0 {
		return nil, Status{}, fmt.Errorf("%w: %d ways referenced", ErrNoGeometry, len(ways))
	}

	lines := merge(segments, gap)

	switch {
	case missing > 0:
		return lines, Status{
			Code:   CodeMissingWays,
			Detail: fmt.Sprintf("%d of %d ways not found in extract, %d segments", missing, len(ways), len(lines)),
		}, nil
	case len(lines) > 1:
		return lines, Status{
			Code:   CodeDisjoint,
			Detail: fmt.Sprintf("geometry has %d disjoint segments", len(lines)),
		}, nil
	}
	return lines, Status{Code: CodeOK, Detail: "ok"}, nil
}

// prepare copies the resolved ways and counts the unresolved ones.
func prepare(ways []osmdata.Way, opts Options) ([]orb.LineString, int) {
	var (
		segments []orb.LineString
		missing  int
		seenWays = map[int64]bool{}
		seenGeom = map[string]bool{}
	)
	for _, w := range ways {
		if !w.Resolved() {
			missing++
			continue
		}
		pts := w.Points.Clone()
		if opts.Dedupe {
			if seenWays[w.ID] {
				continue
			}
			seenWays[w.ID] = true
			pts = compact(pts)
			if len(pts) < 2 {
				continue
			}
			key, rkey := geomKey(pts)
			if seenGeom[key] || seenGeom[rkey] {
				continue
			}
			seenGeom[key] = true
		}
		segments = append(segments, pts)
	}
	return segments, missing
}

const (
	tailHead = iota
	tailTail
	headTail
	headHead
)

// link is the closest endpoint connection from polyline a to polyline b.
type link struct {
	dist float64
	mode int
}

func connect(a, b orb.LineString) link {
	dists := [4]float64{
		tailHead: geo.Distance(a[len(a)-1], b[0]),
		tailTail: geo.Distance(a[len(a)-1], b[len(b)-1]),
		headTail: geo.Distance(a[0], b[len(b)-1]),
		headHead: geo.Distance(a[0], b[0]),
	}
	l := link{dist: dists[tailHead], mode: tailHead}
	for m := range dists {
		if dists[m] < l.dist {
			l = link{dist: dists[m], mode: m}
		}
	}
	return l
}

// merge joins polylines closest endpoints first until no pair is within gap.
// links[i][j] for i < j holds the connection from lines[i] to lines[j] and is
// recomputed only for the polyline that changed.
func merge(lines []orb.LineString, gap float64) []orb.LineString {
	n := len(lines)
	alive := make([]bool, n)
	links := make([][]link, n)
	for i := range lines {
		alive[i] = true
		links[i] = make([]link, n)
		for j := i + 1; j < n; j++ {
			links[i][j] = connect(lines[i], lines[j])
		}
	}

	for {
		bi, bj := -1, -1
		for i := 0; i < n; i++ {
			if !alive[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if alive[j] && (bi < 0 || links[i][j].dist < links[bi][bj].dist) {
					bi, bj = i, j
				}
			}
		}
		if bi < 0 || links[bi][bj].dist > gap {
			break
		}

		lines[bi] = joinLink(lines[bi], lines[bj], links[bi][bj].mode)
		alive[bj] = false
		for k := 0; k < n; k++ {
			switch {
			case !alive[k] || k == bi:
			case k < bi:
				links[k][bi] = connect(lines[k], lines[bi])
			default:
				links[bi][k] = connect(lines[bi], lines[k])
			}
		}
	}

	out := make([]orb.LineString, 0, n)
	for i, ls := range lines {
		if alive[i] {
			out = append(out, ls)
		}
	}
	return out
}

// joinLink orients a and b for mode and joins them with a first.
func joinLink(a, b orb.LineString, mode int) orb.LineString {
	switch mode {
	case tailTail:
		b.Reverse()
	case headTail:
		a.Reverse()
		b.Reverse()
	case headHead:
		a.Reverse()
	}
	return join(a, b)
}

// join concatenates b onto a, skipping b's first point when it repeats a's last.
func join(a, b orb.LineString) orb.LineString {
	if a[len(a)-1].Equal(b[0]) {
		b = b[1:]
	}
	out := make(orb.LineString, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// compact removes consecutive duplicate points.
func compact(ls orb.LineString) orb.LineString {
	out := ls[:0]
	for i, p := range ls {
		if i > 0 && p.Equal(out[len(out)-1]) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func geomKey(ls orb.LineString) (string, string) {
	var fwd, rev []byte
	for i := range ls {
		fwd = fmt.Appendf(fwd, "%v,%v;", ls[i][0], ls[i][1])
		p := ls[len(ls)-1-i]
		rev = fmt.Appendf(rev, "%v,%v;", p[0], p[1])
	}
	return string(fwd), string(rev)
}

// Length returns the geodesic length of the polylines in metres.
func Length(lines []orb.LineString) float64 {
	var total float64
	for _, ls := range lines {
		total += geo.Length(ls)
	}
	return total
}
