package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverPgx    = "pgx"
	DriverSQLite = "sqlite"
)

//go:embed schema.sql
var schemaSQL string

func init() {
	// modernc registers as "sqlite", which sqlx does not map to a bind type
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Open opens a store. For sqlite the dsn is a file path.
func Open(driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case DriverPgx:
		db, err := sqlx.Open(DriverPgx, dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		return db, nil
	case DriverSQLite:
		db, err := sqlx.Open(DriverSQLite, dsn+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
		if err != nil {
			return nil, err
		}
		// single writer
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(time.Hour)
		return db, nil
	}
	return nil, fmt.Errorf("unsupported store driver %q", driver)
}

func Ping(ctx context.Context, db *sqlx.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// EnsureSchema creates the tables if they don't exist.
func EnsureSchema(ctx context.Context, logger *zap.Logger, db *sqlx.DB) error {
	for _, stmt := range statements(schemaSQL) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	if logger != nil {
		logger.Debug("schema ensured", zap.String("driver", db.DriverName()))
	}
	return nil
}

// statements splits a script on semicolons. The schema holds no string
// literals, so a plain split is enough.
func statements(script string) []string {
	var out []string
	for _, s := range strings.Split(script, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
