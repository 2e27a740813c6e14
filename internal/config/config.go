// Package config handles parlapi configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/roach88/parlapi/internal/logging"
	"github.com/roach88/parlapi/internal/schema"
	"github.com/roach88/parlapi/internal/store"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "parlapi.toml"

// Config represents the parlapi configuration file.
type Config struct {
	// Catalog is a directory of CUE catalog files. Empty uses the built-in
	// parliament catalog.
	Catalog string `toml:"catalog"`

	Database DatabaseConfig `toml:"database"`
	HTTP     HTTPConfig     `toml:"http"`
	Log      logging.Config `toml:"log"`
}

// DatabaseConfig selects the backend.
type DatabaseConfig struct {
	// Driver is "sqlite3" or "pgx".
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`

	// Roles maps role names to their own connection strings.
	Roles map[string]RoleConfig `toml:"roles"`
}

// RoleConfig is one database role.
type RoleConfig struct {
	DSN string `toml:"dsn"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Listen string `toml:"listen"`

	// NullToken is the query parameter value decoded to NULL.
	NullToken string `toml:"null_token"`

	// Project is the first path segment accepted before the resource name.
	// Empty accepts any project.
	Project string `toml:"project"`

	// ReadRole runs GET requests as this role; writes use the default role.
	ReadRole string `toml:"read_role"`

	// Metrics exposes Prometheus metrics on /metrics.
	Metrics bool `toml:"metrics"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	log := logging.DefaultConfig()
	log.Output = nil
	return &Config{
		Database: DatabaseConfig{
			Driver: string(schema.DialectSQLite),
			DSN:    "parlapi.db",
		},
		HTTP: HTTPConfig{
			Listen:    ":8080",
			NullToken: `\N`,
			Metrics:   true,
		},
		Log: log,
	}
}

// Load reads path over the defaults. An empty path reads DefaultPath when it
// exists and returns the defaults otherwise.
func Load(path string) (*Config, error) {
	if path == "" {
		if _, err := os.Stat(DefaultPath); errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		path = DefaultPath
	}
	return LoadFrom(path)
}

// LoadFrom reads a specific file over the defaults. Unknown keys are
// rejected so that typos do not silently fall back to defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values the rest of the program relies on.
func (c *Config) Validate() error {
	switch schema.Dialect(c.Database.Driver) {
	case schema.DialectSQLite, schema.DialectPostgres:
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	for name, role := range c.Database.Roles {
		if name == "" || role.DSN == "" {
			return fmt.Errorf("database.roles.%s: dsn is required", name)
		}
	}
	if c.HTTP.NullToken == "" {
		return errors.New("http.null_token must not be empty")
	}
	if c.HTTP.ReadRole != "" {
		if _, ok := c.Database.Roles[c.HTTP.ReadRole]; !ok {
			return fmt.Errorf("http.read_role: role %q is not configured", c.HTTP.ReadRole)
		}
	}
	return nil
}

// Store returns the store configuration of c.
func (c *Config) Store() store.Config {
	roles := make(map[string]string, len(c.Database.Roles))
	for name, r := range c.Database.Roles {
		roles[name] = r.DSN
	}
	return store.Config{
		Driver: c.Database.Driver,
		DSN:    c.Database.DSN,
		Roles:  roles,
	}
}
