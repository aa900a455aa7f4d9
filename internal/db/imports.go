package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNoRun is returned when no import matches.
var ErrNoRun = errors.New("no import found")

// Run describes one extraction written to the store.
type Run struct {
	ID         string
	Source     string
	Filter     string
	Gap        float64
	Threads    int
	Routes     int
	Degraded   int
	ImportedAt time.Time
}

type runRow struct {
	ID         string  `db:"id"`
	Source     string  `db:"source"`
	Filter     string  `db:"filter"`
	Gap        float64 `db:"gap_m"`
	Threads    int     `db:"threads"`
	Routes     int     `db:"routes"`
	Degraded   int     `db:"degraded"`
	ImportedAt int64   `db:"imported_at"`
}

func (r runRow) run() Run {
	return Run{
		ID:         r.ID,
		Source:     r.Source,
		Filter:     r.Filter,
		Gap:        r.Gap,
		Threads:    r.Threads,
		Routes:     r.Routes,
		Degraded:   r.Degraded,
		ImportedAt: time.Unix(0, r.ImportedAt).UTC(),
	}
}

// likeEscaper quotes LIKE wildcards so source matches literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// LatestRun returns the most recent import whose source contains source.
// An empty source matches every import.
func LatestRun(ctx context.Context, db *sqlx.DB, source string) (Run, error) {
	source = strings.TrimSpace(source)
	q := db.Rebind(`
SELECT id, source, filter, gap_m, threads, routes, degraded, imported_at
FROM imports
WHERE source LIKE ? ESCAPE '\'
ORDER BY imported_at DESC
LIMIT 1`)
	var row runRow
	if err := db.GetContext(ctx, &row, q, "%"+likeEscaper.Replace(source)+"%"); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, fmt.Errorf("%w for source like %q", ErrNoRun, source)
		}
		return Run{}, fmt.Errorf("query latest import: %w", err)
	}
	return row.run(), nil
}

// Runs lists imports, newest first.
func Runs(ctx context.Context, db *sqlx.DB, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	q := db.Rebind(`
SELECT id, source, filter, gap_m, threads, routes, degraded, imported_at
FROM imports
ORDER BY imported_at DESC
LIMIT ?`)
	var rows []runRow
	if err := db.SelectContext(ctx, &rows, q, limit); err != nil {
		return nil, fmt.Errorf("query imports: %w", err)
	}
	out := make([]Run, len(rows))
	for i, r := range rows {
		out[i] = r.run()
	}
	return out, nil
}
