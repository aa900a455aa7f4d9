package osmdata

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/paulmach/osm/osmxml"
	"go.uber.org/zap"

	"ptparser/internal/filter"
)

var (
	// ErrOpen is returned when the extract cannot be opened or read.
	ErrOpen = errors.New("open extract")
	// ErrDecode is returned when the extract is malformed.
	ErrDecode = errors.New("decode extract")
	// ErrFilter is returned when the filter fails while evaluating a relation.
	ErrFilter = errors.New("apply filter")
)

// rawRelation is a selected relation before its members are resolved.
type rawRelation struct {
	id      int64
	tags    map[string]string
	members osm.Members
}

// Load reads the extract at path and keeps the relations matched by f.
//
// The extract is scanned three times: relations first, then the ways they
// reference, then the nodes of those ways and the stop members. Only the
// elements needed by selected relations are kept in memory. PBF extracts are
// decoded on procs goroutines; files ending in .osm or .xml are read as XML.
func Load(ctx context.Context, logger *zap.Logger, path string, f *filter.Filter, procs int) (*Dataset, error) {
	if procs < 1 {
		procs = 1
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrOpen, path, err)
	}
	if err := checkFormat(ctx, path, procs); err != nil {
		return nil, err
	}

	// Pass 1: relations
	var raws []rawRelation
	wantWays := map[osm.WayID][]osm.NodeID{}
	wantNodes := map[osm.NodeID]*Node{}
	err := scan(ctx, path, procs, osm.TypeRelation, func(o osm.Object) error {
		r, ok := o.(*osm.Relation)
		if !ok {
			return nil
		}
		tags := r.Tags.Map()
		match, err := f.Match(int64(r.ID), tags)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFilter, err)
		}
		if !match {
			return nil
		}
		for _, m := range r.Members {
			switch {
			case m.Type == osm.TypeWay && !isPlatform(m.Role):
				wantWays[osm.WayID(m.Ref)] = nil
			case m.Type == osm.TypeNode && isStop(m.Role):
				wantNodes[osm.NodeID(m.Ref)] = nil
			}
		}
		raws = append(raws, rawRelation{id: int64(r.ID), tags: tags, members: r.Members})
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("relations selected",
		zap.String("path", path),
		zap.Int("relations", len(raws)),
		zap.Int("ways", len(wantWays)),
		zap.String("filter", f.String()),
	)

	if len(raws) > 0 {
		// Pass 2: ways referenced by selected relations
		err = scan(ctx, path, procs, osm.TypeWay, func(o osm.Object) error {
			w, ok := o.(*osm.Way)
			if !ok {
				return nil
			}
			if _, want := wantWays[w.ID]; !want {
				return nil
			}
			ids := make([]osm.NodeID, len(w.Nodes))
			for i, wn := range w.Nodes {
				ids[i] = wn.ID
				if _, seen := wantNodes[wn.ID]; !seen {
					wantNodes[wn.ID] = nil
				}
			}
			wantWays[w.ID] = ids
			return nil
		})
		if err != nil {
			return nil, err
		}

		// Pass 3: nodes of those ways plus stop members
		err = scan(ctx, path, procs, osm.TypeNode, func(o osm.Object) error {
			n, ok := o.(*osm.Node)
			if !ok {
				return nil
			}
			if _, want := wantNodes[n.ID]; !want {
				return nil
			}
			wantNodes[n.ID] = &Node{ID: int64(n.ID), Tags: n.Tags.Map(), Lon: n.Lon, Lat: n.Lat}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	ds := &Dataset{
		path:      path,
		relations: make([]Relation, 0, len(raws)),
		index:     make(map[int64]int, len(raws)),
	}
	for _, raw := range raws {
		ds.index[raw.id] = len(ds.relations)
		ds.relations = append(ds.relations, resolve(raw, wantWays, wantNodes))
	}
	logger.Info("extract loaded",
		zap.String("path", path),
		zap.Int("relations", len(ds.relations)),
		zap.Int("nodes", len(wantNodes)),
	)
	return ds, nil
}

func resolve(raw rawRelation, ways map[osm.WayID][]osm.NodeID, nodes map[osm.NodeID]*Node) Relation {
	rel := Relation{ID: raw.id, Tags: raw.tags}
	for _, m := range raw.members {
		switch {
		case m.Type == osm.TypeWay && !isPlatform(m.Role):
			w := Way{ID: m.Ref, Role: m.Role}
			for _, id := range ways[osm.WayID(m.Ref)] {
				n := nodes[id]
				if n == nil {
					continue
				}
				w.NodeIDs = append(w.NodeIDs, n.ID)
				w.Points = append(w.Points, orb.Point{n.Lon, n.Lat})
			}
			rel.Ways = append(rel.Ways, w)
		case m.Type == osm.TypeNode && isStop(m.Role):
			n := nodes[osm.NodeID(m.Ref)]
			if n == nil {
				rel.MissingStops++
				continue
			}
			rel.Stops = append(rel.Stops, *n)
		}
	}
	return rel
}

// scan runs fn over every object of type want in the extract.
func scan(ctx context.Context, path string, procs int, want osm.Type, fn func(osm.Object) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w %s: %v", ErrOpen, path, err)
	}
	defer file.Close()

	var scanner osm.Scanner
	if isXML(path) {
		scanner = osmxml.New(ctx, file)
	} else {
		s := osmpbf.New(ctx, file, procs)
		s.SkipNodes = want != osm.TypeNode
		s.SkipWays = want != osm.TypeWay
		s.SkipRelations = want != osm.TypeRelation
		scanner = s
	}
	defer scanner.Close()

	for scanner.Scan() {
		o := scanner.Object()
		if o.ObjectID().Type() != want {
			continue
		}
		if err := fn(o); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w %s: %v", ErrDecode, path, err)
	}
	return ctx.Err()
}

// checkFormat rejects files that are not OSM data: an XML extract must have
// an <osm> or <osmChange> root and a PBF extract must start with an
// OSMHeader block. Both scanners would otherwise read such files as empty.
func checkFormat(ctx context.Context, path string, procs int) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w %s: %v", ErrOpen, path, err)
	}
	defer file.Close()

	if isXML(path) {
		root, err := xmlRoot(file)
		if err != nil {
			return fmt.Errorf("%w %s: %v", ErrDecode, path, err)
		}
		if root != "osm" && root != "osmChange" {
			return fmt.Errorf("%w %s: root element <%s>, want <osm>", ErrDecode, path, root)
		}
		return nil
	}

	s := osmpbf.New(ctx, file, procs)
	defer s.Close()
	header, err := s.Header()
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w %s: truncated or empty pbf", ErrDecode, path)
	case err != nil:
		return fmt.Errorf("%w %s: %v", ErrDecode, path, err)
	case header == nil:
		return fmt.Errorf("%w %s: missing OSMHeader block", ErrDecode, path)
	}
	return nil
}

// xmlRoot returns the local name of the document's first element.
func xmlRoot(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return "", errors.New("no root element")
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return t.Name.Local, nil
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return "", errors.New("text before root element")
			}
		}
	}
}

func isXML(path string) bool {
	p := strings.ToLower(path)
	return strings.HasSuffix(p, ".osm") || strings.HasSuffix(p, ".xml")
}

// isStop reports whether a node member role denotes a stop position or platform.
func isStop(role string) bool {
	return strings.HasPrefix(role, "stop") || strings.HasPrefix(role, "platform")
}

// isPlatform reports whether a way member is a platform area rather than track.
func isPlatform(role string) bool {
	return strings.HasPrefix(role, "platform")
}
