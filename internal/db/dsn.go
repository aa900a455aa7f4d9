package db

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

var dbnameKeyword = regexp.MustCompile(`(^|\s)dbname=\S*`)

// SelectDatabase returns dsn pointed at the database name on the same
// server. For pgx the URL path or the dbname keyword is replaced. For sqlite
// the file is swapped for name.db in the configured file's directory.
func SelectDatabase(driver, dsn, name string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("empty DSN")
	}
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid database name %q", name)
	}

	switch driver {
	case DriverSQLite:
		if strings.Contains(dsn, "://") {
			return "", fmt.Errorf("sqlite store expects a file path, got %q", dsn)
		}
		if filepath.Ext(name) == "" {
			name += ".db"
		}
		return filepath.Join(filepath.Dir(dsn), name), nil
	case DriverPgx:
		return postgresDatabase(dsn, name)
	}
	return "", fmt.Errorf("unknown driver %q", driver)
}

// postgresDatabase handles both URL and keyword/value connection strings.
func postgresDatabase(dsn, name string) (string, error) {
	if !strings.Contains(dsn, "://") {
		if strings.Contains(dsn, "=") {
			kv := "dbname=" + name
			if dbnameKeyword.MatchString(dsn) {
				return dbnameKeyword.ReplaceAllString(dsn, "${1}"+kv), nil
			}
			return dsn + " " + kv, nil
		}
		// allow missing scheme by prefixing postgres://
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("pgx store expects a postgres:// DSN, got scheme %q", u.Scheme)
	}
	u.Path = "/" + name
	return u.String(), nil
}
