package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"go.uber.org/zap"

	"ptparser/internal/pt"
)

// ErrNoRoute is returned when a stored route does not exist.
var ErrNoRoute = errors.New("route not found")

// SaveRun writes an import and its routes in one transaction. Run.Routes,
// Run.Degraded and a zero Run.ImportedAt are filled from routes.
func SaveRun(ctx context.Context, logger *zap.Logger, db *sqlx.DB, run Run, routes []pt.Route) (Run, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if run.ID == "" {
		return Run{}, errors.New("run id is required")
	}
	if run.ImportedAt.IsZero() {
		run.ImportedAt = time.Now().UTC()
	}
	run.Routes = len(routes)
	run.Degraded = 0
	for _, r := range routes {
		if !r.OK() {
			run.Degraded++
		}
	}

	start := time.Now()
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
INSERT INTO imports (id, source, filter, gap_m, threads, routes, degraded, imported_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.Source, run.Filter, run.Gap, run.Threads, run.Routes, run.Degraded, run.ImportedAt.UnixNano(),
	); err != nil {
		return Run{}, fmt.Errorf("insert import: %w", err)
	}

	insRoute := tx.Rebind(`
INSERT INTO routes (import_id, id, name, mode, status_code, status_detail, tags, info)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	insStop := tx.Rebind(`
INSERT INTO route_stops (import_id, route_id, seq, node_id, name, lon, lat)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	insGeom := tx.Rebind(`
INSERT INTO route_geometry (import_id, route_id, segments, length_m, wkt)
VALUES (?, ?, ?, ?, ?)`)

	for _, r := range routes {
		tags, err := json.Marshal(r.Tags)
		if err != nil {
			return Run{}, fmt.Errorf("route %d tags: %w", r.ID, err)
		}
		info, err := json.Marshal(r.Info)
		if err != nil {
			return Run{}, fmt.Errorf("route %d info: %w", r.ID, err)
		}
		id := int64(r.ID)
		if _, err := tx.ExecContext(ctx, insRoute,
			run.ID, id, r.Name(), r.Mode(), int64(r.Status.Code), r.Status.Detail, string(tags), string(info),
		); err != nil {
			return Run{}, fmt.Errorf("insert route %d: %w", r.ID, err)
		}
		for seq, s := range r.Stops {
			if _, err := tx.ExecContext(ctx, insStop,
				run.ID, id, seq, int64(s.ID), s.Tags["name"], s.Lon, s.Lat,
			); err != nil {
				return Run{}, fmt.Errorf("insert stop %d of route %d: %w", s.ID, r.ID, err)
			}
		}
		length, _ := strconv.ParseFloat(r.Info["length_m"], 64)
		if _, err := tx.ExecContext(ctx, insGeom,
			run.ID, id, len(r.Geometry), length, wkt.MarshalString(r.MultiLineString()),
		); err != nil {
			return Run{}, fmt.Errorf("insert geometry of route %d: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("commit: %w", err)
	}
	logger.Info("run stored",
		zap.String("run_id", run.ID),
		zap.String("source", run.Source),
		zap.Int("routes", run.Routes),
		zap.Int("degraded", run.Degraded),
		zap.Duration("took", time.Since(start)),
	)
	return run, nil
}

// StoredRoute is the summary row of a stored route.
type StoredRoute struct {
	ID           int64  `db:"id"`
	Name         string `db:"name"`
	Mode         string `db:"mode"`
	StatusCode   int64  `db:"status_code"`
	StatusDetail string `db:"status_detail"`
	Stops        int    `db:"stops"`
	Segments     int    `db:"segments"`
}

// RoutesOf lists the routes of an import ordered by id.
func RoutesOf(ctx context.Context, db *sqlx.DB, importID string) ([]StoredRoute, error) {
	q := db.Rebind(`
SELECT r.id, r.name, r.mode, r.status_code, r.status_detail,
       (SELECT COUNT(*) FROM route_stops s WHERE s.import_id = r.import_id AND s.route_id = r.id) AS stops,
       COALESCE(g.segments, 0) AS segments
FROM routes r
LEFT JOIN route_geometry g ON g.import_id = r.import_id AND g.route_id = r.id
WHERE r.import_id = ?
ORDER BY r.id`)
	var out []StoredRoute
	if err := db.SelectContext(ctx, &out, q, importID); err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	return out, nil
}

// RouteGeometry returns the stored geometry of one route.
func RouteGeometry(ctx context.Context, db *sqlx.DB, importID string, routeID uint64) (orb.MultiLineString, error) {
	q := db.Rebind(`SELECT wkt FROM route_geometry WHERE import_id = ? AND route_id = ?`)
	var text string
	if err := db.GetContext(ctx, &text, q, importID, int64(routeID)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d in import %s", ErrNoRoute, routeID, importID)
		}
		return nil, fmt.Errorf("query geometry: %w", err)
	}
	mls, err := wkt.UnmarshalMultiLineString(text)
	if err != nil {
		return nil, fmt.Errorf("decode geometry of route %d: %w", routeID, err)
	}
	return mls, nil
}
