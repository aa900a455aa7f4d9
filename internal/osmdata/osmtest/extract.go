// Package osmtest builds small OSM XML extracts for tests.
package osmtest

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/osm"
)

// Extract accumulates elements in the order they are added.
type Extract struct {
	doc osm.OSM
}

// New returns an empty extract.
func New() *Extract {
	return &Extract{doc: osm.OSM{Version: "0.6", Generator: "osmtest"}}
}

// Node adds a node; tags are given as alternating keys and values.
func (e *Extract) Node(id int64, lon, lat float64, tags ...string) *Extract {
	e.doc.Nodes = append(e.doc.Nodes, &osm.Node{
		ID:      osm.NodeID(id),
		Lon:     lon,
		Lat:     lat,
		Tags:    pairs(tags),
		Visible: true,
	})
	return e
}

// Way adds a way over the given node ids.
func (e *Extract) Way(id int64, nodeIDs ...int64) *Extract {
	w := &osm.Way{ID: osm.WayID(id), Visible: true}
	for _, n := range nodeIDs {
		w.Nodes = append(w.Nodes, osm.WayNode{ID: osm.NodeID(n)})
	}
	e.doc.Ways = append(e.doc.Ways, w)
	return e
}

// Member is a relation member.
type Member = osm.Member

// WayMember references a way with a role.
func WayMember(id int64, role string) Member {
	return osm.Member{Type: osm.TypeWay, Ref: id, Role: role}
}

// NodeMember references a node with a role.
func NodeMember(id int64, role string) Member {
	return osm.Member{Type: osm.TypeNode, Ref: id, Role: role}
}

// Relation adds a relation with tags as alternating keys and values.
func (e *Extract) Relation(id int64, tags []string, members ...Member) *Extract {
	e.doc.Relations = append(e.doc.Relations, &osm.Relation{
		ID:      osm.RelationID(id),
		Tags:    pairs(tags),
		Members: members,
		Visible: true,
	})
	return e
}

// Route adds a public transport v2 route relation of the given mode.
func (e *Extract) Route(id int64, mode, name string, members ...Member) *Extract {
	return e.Relation(id, []string{
		"type", "route",
		"route", mode,
		"name", name,
		"public_transport:version", "2",
	}, members...)
}

// Write stores the extract as XML in a temporary directory and returns its path.
func (e *Extract) Write(tb testing.TB) string {
	tb.Helper()
	data, err := xml.MarshalIndent(e.doc, "", " ")
	if err != nil {
		tb.Fatalf("marshal extract: %v", err)
	}
	path := filepath.Join(tb.TempDir(), "extract.osm")
	if err := os.WriteFile(path, append([]byte(xml.Header), data...), 0o644); err != nil {
		tb.Fatalf("write extract: %v", err)
	}
	return path
}

// WriteRaw stores arbitrary content under name in a temporary directory.
func WriteRaw(tb testing.TB, name, content string) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		tb.Fatalf("write %s: %v", name, err)
	}
	return path
}

func pairs(kv []string) osm.Tags {
	var tags osm.Tags
	for i := 0; i+1 < len(kv); i += 2 {
		tags = append(tags, osm.Tag{Key: kv[i], Value: kv[i+1]})
	}
	return tags
}
