package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ptparser/internal/pt"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "routes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Ping(context.Background(), db))
	require.NoError(t, EnsureSchema(context.Background(), zaptest.NewLogger(t), db))
	return db
}

func sampleRoutes() []pt.Route {
	return []pt.Route{
		{
			ID:   10,
			Tags: map[string]string{"type": "route", "route": "bus", "name": "Line 10"},
			Info: map[string]string{"length_m": "222.4"},
			Stops: []pt.Node{
				{ID: 1, Tags: map[string]string{"name": "Central"}, Lon: 13.40, Lat: 52.52},
				{ID: 2, Tags: map[string]string{"name": "Zoo"}, Lon: 13.33, Lat: 52.50},
			},
			Geometry: [][][2]float64{{{13.40, 52.52}, {13.37, 52.51}, {13.33, 52.50}}},
			Status:   pt.ParseStatus{Code: pt.StatusOK, Detail: "ok"},
		},
		{
			ID:       11,
			Tags:     map[string]string{"type": "route", "route": "tram", "name": "M1"},
			Info:     map[string]string{},
			Geometry: [][][2]float64{{{1, 1}, {2, 2}}, {{3, 3}, {4, 4}}},
			Status:   pt.ParseStatus{Code: pt.StatusDisjoint, Detail: "geometry has 2 disjoint segments"},
		},
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	assert.Error(t, err)
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, EnsureSchema(context.Background(), nil, db))
}

func TestSaveRun(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	run, err := SaveRun(ctx, zaptest.NewLogger(t), db, Run{
		ID:      uuid.NewString(),
		Source:  "/data/berlin.osm.pbf",
		Filter:  "ptv2",
		Gap:     150,
		Threads: 4,
	}, sampleRoutes())
	require.NoError(t, err)
	assert.Equal(t, 2, run.Routes)
	assert.Equal(t, 1, run.Degraded)
	assert.False(t, run.ImportedAt.IsZero())

	routes, err := RoutesOf(ctx, db, run.ID)
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, StoredRoute{ID: 10, Name: "Line 10", Mode: "bus", StatusCode: 0, StatusDetail: "ok", Stops: 2, Segments: 1}, routes[0])
	assert.Equal(t, int64(201), routes[1].StatusCode)
	assert.Equal(t, 2, routes[1].Segments)

	mls, err := RouteGeometry(ctx, db, run.ID, 11)
	require.NoError(t, err)
	assert.Equal(t, orb.MultiLineString{{{1, 1}, {2, 2}}, {{3, 3}, {4, 4}}}, mls)

	_, err = RouteGeometry(ctx, db, run.ID, 99)
	assert.True(t, errors.Is(err, ErrNoRoute), "got %v", err)
}

func TestSaveRun_RollsBackOnConflict(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	rs := sampleRoutes()
	rs = append(rs, rs[0]) // duplicate primary key

	_, err := SaveRun(ctx, zaptest.NewLogger(t), db, Run{ID: "dup", Source: "x.osm"}, rs)
	require.Error(t, err)

	_, err = LatestRun(ctx, db, "x.osm")
	assert.True(t, errors.Is(err, ErrNoRun), "got %v", err)
}

func TestSaveRun_RequiresID(t *testing.T) {
	_, err := SaveRun(context.Background(), nil, openTestDB(t), Run{}, nil)
	assert.Error(t, err)
}

func TestLatestRun(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, src := range []string{"/data/berlin.osm.pbf", "/data/berlin.osm.pbf", "/data/hamburg.osm.pbf"} {
		_, err := SaveRun(ctx, zaptest.NewLogger(t), db, Run{
			ID:         []string{"a", "b", "c"}[i],
			Source:     src,
			ImportedAt: base.Add(time.Duration(i) * time.Hour),
		}, sampleRoutes()[:1])
		require.NoError(t, err)
	}

	run, err := LatestRun(ctx, db, "berlin")
	require.NoError(t, err)
	assert.Equal(t, "b", run.ID)
	assert.Equal(t, base.Add(time.Hour), run.ImportedAt)
	assert.Equal(t, 1, run.Routes)

	run, err = LatestRun(ctx, db, "")
	require.NoError(t, err)
	assert.Equal(t, "c", run.ID)

	_, err = LatestRun(ctx, db, "munich")
	assert.True(t, errors.Is(err, ErrNoRun))

	runs, err := Runs(ctx, db, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
}

func TestLatestRun_LiteralSource(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sources := []string{"/data/berlin_2026.osm.pbf", "/data/berlinX2026.osm.pbf", "/data/full.osm.pbf"}
	for i, src := range sources {
		_, err := SaveRun(ctx, zaptest.NewLogger(t), db, Run{
			ID:         []string{"a", "b", "c"}[i],
			Source:     src,
			ImportedAt: base.Add(time.Duration(i) * time.Hour),
		}, nil)
		require.NoError(t, err)
	}

	// "_" would match the X of the newer run if it were a wildcard
	run, err := LatestRun(ctx, db, "berlin_2026")
	require.NoError(t, err)
	assert.Equal(t, "a", run.ID)

	_, err = LatestRun(ctx, db, "100%")
	assert.True(t, errors.Is(err, ErrNoRun), "got %v", err)

	_, err = LatestRun(ctx, db, `data\full`)
	assert.True(t, errors.Is(err, ErrNoRun), "got %v", err)
}

func TestStatements(t *testing.T) {
	got := statements("CREATE TABLE a (x INT);\n\n CREATE INDEX b ON a (x);  \n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE INDEX b ON a (x)"}, got)
}

func TestSelectDatabase(t *testing.T) {
	tests := []struct {
		name   string
		driver string
		dsn    string
		db     string
		want   string
		err    bool
	}{
		{"url", DriverPgx, "postgres://u:p@host:5432/postgres?sslmode=disable", "osm_berlin",
			"postgres://u:p@host:5432/osm_berlin?sslmode=disable", false},
		{"no scheme", DriverPgx, "u@host:5432/postgres", "osm", "postgres://u@host:5432/osm", false},
		{"keywords", DriverPgx, "host=db user=u dbname=postgres sslmode=disable", "osm",
			"host=db user=u dbname=osm sslmode=disable", false},
		{"keywords without dbname", DriverPgx, "host=db user=u", "osm", "host=db user=u dbname=osm", false},
		{"foreign scheme", DriverPgx, "mysql://u@host/db", "osm", "", true},
		{"sqlite file", DriverSQLite, filepath.Join("data", "routes.db"), "berlin", filepath.Join("data", "berlin.db"), false},
		{"sqlite keeps extension", DriverSQLite, "routes.db", "berlin.sqlite", "berlin.sqlite", false},
		{"sqlite rejects url", DriverSQLite, "postgres://host/db", "osm", "", true},
		{"empty dsn", DriverPgx, "", "osm", "", true},
		{"path in name", DriverSQLite, "routes.db", "../x", "", true},
		{"unknown driver", "mysql", "x", "osm", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectDatabase(tt.driver, tt.dsn, tt.db)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
