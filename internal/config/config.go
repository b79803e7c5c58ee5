// Package config resolves a sqlxts run's settings from defaults, an
// optional TOML project file, and an environment snapshot. Load is a
// pure function: it never touches the filesystem or environment itself,
// so reading os.Getenv, a .env file, or sqlxts.toml is the caller's
// job (cmd/sqlxts/main.go).
package config

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/BurntSushi/toml"
)

// DatabaseKind identifies which SQL dialect a run targets.
type DatabaseKind string

const (
	KindMySQL    DatabaseKind = "mysql"
	KindPostgres DatabaseKind = "postgres"
)

// Valid reports whether k is one of the recognized dialects.
func (k DatabaseKind) Valid() bool {
	switch k {
	case KindMySQL, KindPostgres:
		return true
	}
	return false
}

// LogLevel gates the narration logger's verbosity, independent of
// diagnostic severity.
type LogLevel string

const (
	LogError LogLevel = "error"
	LogWarn  LogLevel = "warn"
	LogInfo  LogLevel = "info"
	LogDebug LogLevel = "debug"
)

// Config is the fully-resolved, immutable settings of a run. The
// Orchestrator holds it; the Analyzer, Emitter and Validator receive
// only the values they need from it (a type mapper, emitter Options, a
// DSN). Nothing in the core packages reads global state.
type Config struct {
	DatabaseKind DatabaseKind
	DatabaseURL  string

	// Discrete connection fields. ApplyDatabaseURL fills them from the
	// URL; DSN() always builds a MySQL DSN from them, and uses them for
	// Postgres only when DatabaseURL is empty.
	Host string
	Port string
	User string
	Pass string
	Name string

	// SearchPath sets a Postgres catalog's schema search order; empty
	// defaults to "public".
	SearchPath string

	// ImportAlias is the local binding name the Walker looks for when
	// recognizing a tagged template's tag expression (`sql` by default,
	// as in `` sql`SELECT ...` ``).
	ImportAlias string

	// ConvertToCamelCaseColumnName renders each emitted result field in
	// lowerCamelCase instead of the raw column name.
	ConvertToCamelCaseColumnName bool

	LogLevel LogLevel

	// MaxWorkers bounds the Orchestrator's file worker pool; 0 means
	// runtime.GOMAXPROCS(0).
	MaxWorkers int
}

// FileConfig is the shape of an sqlxts.toml project file. Every field
// is optional; a zero value means "not set in the file".
type FileConfig struct {
	DatabaseKind                 string `toml:"database_kind"`
	DatabaseURL                  string `toml:"database_url"`
	Host                         string `toml:"host"`
	Port                         string `toml:"port"`
	User                         string `toml:"user"`
	Pass                         string `toml:"pass"`
	Name                         string `toml:"name"`
	SearchPath                   string `toml:"search_path"`
	ImportAlias                  string `toml:"import_alias"`
	ConvertToCamelCaseColumnName bool   `toml:"convert_to_camel_case_column_name"`
	LogLevel                     string `toml:"log_level"`
	MaxWorkers                   int    `toml:"max_workers"`
}

// ParseFile decodes an sqlxts.toml project file.
func ParseFile(r io.Reader) (*FileConfig, error) {
	var fc FileConfig
	if _, err := toml.NewDecoder(r).Decode(&fc); err != nil {
		return nil, fmt.Errorf("config: decode project file: %w", err)
	}
	return &fc, nil
}

// defaults returns the built-in baseline every Load call starts from.
func defaults() Config {
	return Config{
		ImportAlias: "sql",
		SearchPath:  "public",
		LogLevel:    LogWarn,
	}
}

// Environment variables Load recognizes. DATABASE_URL wins outright
// over the discrete DB_* fields when both are present.
const (
	envDatabaseURL = "DATABASE_URL"
	envDBType      = "DB_TYPE"
	envDBHost      = "DB_HOST"
	envDBPort      = "DB_PORT"
	envDBUser      = "DB_USER"
	envDBPass      = "DB_PASS"
	envDBName      = "DB_NAME"
	envPGSearch    = "PG_SEARCH_PATH"
)

// Load resolves a Config by layering, lowest precedence first:
// built-in defaults, the project file (if any), then env. Each layer
// only overrides fields it actually sets.
func Load(env map[string]string, projectFile *FileConfig) (Config, error) {
	cfg := defaults()

	if projectFile != nil {
		applyFileConfig(&cfg, projectFile)
	}
	if err := applyEnv(&cfg, env); err != nil {
		return Config{}, err
	}

	if cfg.DatabaseURL != "" {
		if err := cfg.ApplyDatabaseURL(cfg.DatabaseURL); err != nil {
			return Config{}, err
		}
	}

	if cfg.DatabaseKind != "" && !cfg.DatabaseKind.Valid() {
		return Config{}, fmt.Errorf("config: unsupported database_kind %q", cfg.DatabaseKind)
	}
	return cfg, nil
}

// ApplyDatabaseURL parses a database URL and fills the kind and
// discrete connection fields from it. The URL wins over any previously
// set discrete fields, matching DATABASE_URL's precedence over DB_*.
func (c *Config) ApplyDatabaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("config: parse database URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		c.DatabaseKind = KindPostgres
	case "mysql", "mariadb":
		c.DatabaseKind = KindMySQL
	default:
		return fmt.Errorf("config: unsupported database URL scheme %q", u.Scheme)
	}
	c.DatabaseURL = raw
	c.Host = u.Hostname()
	c.Port = u.Port()
	if u.User != nil {
		c.User = u.User.Username()
		if pass, ok := u.User.Password(); ok {
			c.Pass = pass
		}
	}
	c.Name = strings.TrimPrefix(u.Path, "/")
	return nil
}

// DSN renders the driver-native connection string for the configured
// kind: a libpq-style URL for pgx, go-sql-driver's DSN syntax for
// MySQL (which does not accept URL form).
func (c Config) DSN() string {
	host := c.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := c.Port

	if c.DatabaseKind == KindPostgres {
		if c.DatabaseURL != "" {
			return c.DatabaseURL
		}
		if port == "" {
			port = "5432"
		}
		userInfo := ""
		if c.User != "" {
			userInfo = url.UserPassword(c.User, c.Pass).String() + "@"
		}
		return fmt.Sprintf("postgres://%s%s:%s/%s", userInfo, host, port, c.Name)
	}

	if port == "" {
		port = "3306"
	}
	cred := c.User
	if c.Pass != "" {
		cred += ":" + c.Pass
	}
	if cred != "" {
		cred += "@"
	}
	return fmt.Sprintf("%stcp(%s:%s)/%s", cred, host, port, c.Name)
}

func applyFileConfig(cfg *Config, fc *FileConfig) {
	if fc.DatabaseKind != "" {
		cfg.DatabaseKind = DatabaseKind(strings.ToLower(fc.DatabaseKind))
	}
	if fc.DatabaseURL != "" {
		cfg.DatabaseURL = fc.DatabaseURL
	}
	if fc.Host != "" {
		cfg.Host = fc.Host
	}
	if fc.Port != "" {
		cfg.Port = fc.Port
	}
	if fc.User != "" {
		cfg.User = fc.User
	}
	if fc.Pass != "" {
		cfg.Pass = fc.Pass
	}
	if fc.Name != "" {
		cfg.Name = fc.Name
	}
	if fc.SearchPath != "" {
		cfg.SearchPath = fc.SearchPath
	}
	if fc.ImportAlias != "" {
		cfg.ImportAlias = fc.ImportAlias
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = LogLevel(strings.ToLower(fc.LogLevel))
	}
	if fc.MaxWorkers != 0 {
		cfg.MaxWorkers = fc.MaxWorkers
	}
	cfg.ConvertToCamelCaseColumnName = fc.ConvertToCamelCaseColumnName
}

func applyEnv(cfg *Config, env map[string]string) error {
	if v, ok := env[envDatabaseURL]; ok && v != "" {
		cfg.DatabaseURL = v
	} else {
		if v, ok := env[envDBType]; ok && v != "" {
			cfg.DatabaseKind = DatabaseKind(strings.ToLower(v))
		}
		if v, ok := env[envDBHost]; ok && v != "" {
			cfg.Host = v
		}
		if v, ok := env[envDBPort]; ok && v != "" {
			cfg.Port = v
		}
		if v, ok := env[envDBUser]; ok && v != "" {
			cfg.User = v
		}
		if v, ok := env[envDBPass]; ok && v != "" {
			cfg.Pass = v
		}
		if v, ok := env[envDBName]; ok && v != "" {
			cfg.Name = v
		}
	}
	if v, ok := env[envPGSearch]; ok && v != "" {
		cfg.SearchPath = v
	}
	return nil
}
