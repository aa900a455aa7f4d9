package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"ptparser/internal/filter"
)

// DefaultGap is the gap in metres used when PT_GAP is unset.
const DefaultGap = 150.0

type Config struct {
	ExtractPath string  `validate:"omitempty"`
	Threads     int     `validate:"gte=0"`
	Filter      string  `validate:"omitempty"`
	Preset      string  `validate:"omitempty,oneof=ptv2 associated_street"`
	Gap         float64 `validate:"gte=0"`
	Dedupe      bool
	LogLevel    string `validate:"oneof=debug info warn error"`

	StoreDriver string `validate:"oneof=pgx sqlite"`
	DatabaseURL string
	SQLitePath  string `validate:"required_if=StoreDriver sqlite"`

	NATSURL           string `validate:"required"`
	NATSSubjectPrefix string `validate:"required"`
	LogNATSSubjects   bool

	MetricsAddr string
	HTTPAddr    string `validate:"required"`
	CORSOrigins []string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		ExtractPath: os.Getenv("PT_EXTRACT_PATH"),
		Filter:      strings.TrimSpace(os.Getenv("PT_FILTER")),
		Preset:      NormalizePreset(os.Getenv("PT_PRESET")),
		LogLevel:    strings.ToLower(getenvDefault("LOG_LEVEL", "info")),
		StoreDriver: strings.ToLower(getenvDefault("STORE_DRIVER", "pgx")),
		SQLitePath:  getenvDefault("SQLITE_PATH", "ptparser.db"),
		NATSURL:     getenvDefault("NATS_URL", "nats://127.0.0.1:4222"),
		// Subject prefix for published routes: <prefix>.<mode>.<id>
		NATSSubjectPrefix: getenvDefault("NATS_SUBJECT_PREFIX", "pt.routes"),
		// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
		MetricsAddr: os.Getenv("METRICS_ADDR"),
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8080"),
		CORSOrigins: splitList(getenvDefault("CORS_ORIGINS", "*")),
	}

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars.
	// Left empty when PGDATABASE is unset; only the pgx store needs it.
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		if db := os.Getenv("PGDATABASE"); db != "" {
			host := getenvDefault("PGHOST", "127.0.0.1")
			port := getenvDefault("PGPORT", "5432")
			user := getenvDefault("PGUSER", "postgres")
			pass := os.Getenv("PGPASSWORD")
			sslmode := getenvDefault("PGSSLMODE", "disable")
			if pass != "" {
				dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				dsn = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		}
	}
	cfg.DatabaseURL = dsn

	if v := os.Getenv("PT_THREADS"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid PT_THREADS: %q", v)
		}
		cfg.Threads = n
	}

	// Gap in metres bridged between way endpoints
	cfg.Gap = DefaultGap
	if v := os.Getenv("PT_GAP"); v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || f < 0 {
			return nil, fmt.Errorf("invalid PT_GAP: %q", v)
		}
		cfg.Gap = f
	}

	var err error
	if cfg.Dedupe, err = parseBool("PT_DEDUPE"); err != nil {
		return nil, err
	}
	// Debug logging for NATS publish subjects
	if cfg.LogNATSSubjects, err = parseBool("LOG_NATS_SUBJECTS"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints. Errors name the offending environment key.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: %q (%s)", envKey(fe.Field()), fmt.Sprint(fe.Value()), fe.Tag())
		}
		return err
	}
	if c.Filter != "" && c.Preset != "" {
		return errors.New("PT_FILTER and PT_PRESET are mutually exclusive")
	}
	return nil
}

// NormalizePreset folds case and dashes so "PTv2" and "associated-street"
// are accepted.
func NormalizePreset(s string) string {
	s = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	if s == "associatedstreet" {
		s = "associated_street"
	}
	return s
}

// FilterExpr returns the relation filter selected by PT_FILTER or PT_PRESET.
func (c *Config) FilterExpr() string {
	if c.Preset != "" {
		if expr, ok := filter.Preset(c.Preset); ok {
			return expr
		}
	}
	return c.Filter
}

// StoreDSN returns the data source for the configured store driver.
func (c *Config) StoreDSN() (string, error) {
	switch c.StoreDriver {
	case "sqlite":
		return c.SQLitePath, nil
	case "pgx":
		if c.DatabaseURL == "" {
			return "", errors.New("PGDATABASE or DATABASE_URL must be set for the pgx store")
		}
		return c.DatabaseURL, nil
	}
	return "", fmt.Errorf("invalid STORE_DRIVER: %q", c.StoreDriver)
}

var envKeys = map[string]string{
	"ExtractPath":       "PT_EXTRACT_PATH",
	"Threads":           "PT_THREADS",
	"Filter":            "PT_FILTER",
	"Preset":            "PT_PRESET",
	"Gap":               "PT_GAP",
	"LogLevel":          "LOG_LEVEL",
	"StoreDriver":       "STORE_DRIVER",
	"SQLitePath":        "SQLITE_PATH",
	"NATSURL":           "NATS_URL",
	"NATSSubjectPrefix": "NATS_SUBJECT_PREFIX",
	"HTTPAddr":          "HTTP_ADDR",
}

func envKey(field string) string {
	if k, ok := envKeys[field]; ok {
		return k
	}
	return field
}

func parseBool(key string) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid %s: %q", key, v)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
