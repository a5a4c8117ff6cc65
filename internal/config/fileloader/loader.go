// Package fileloader loads migrator configuration from a YAML file, with
// environment variable overrides.
package fileloader

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	app "github.com/fieldsafe/fieldsafe/internal/app/migration"
	"github.com/fieldsafe/fieldsafe/internal/config"
)

// envPrefix namespaces the override variables, e.g.
// FIELDSAFE_DATABASE_DSN overrides database.dsn.
const envPrefix = "FIELDSAFE"

// FileLoader loads configuration from a file on disk. Environment variables
// prefixed with FIELDSAFE_ take precedence over file values. It implements
// the config.Loader interface.
type FileLoader struct {
	// path is the filesystem path to the configuration file. Empty means
	// environment-only configuration.
	path string
}

// NewFileLoader creates a new FileLoader that will load configuration from
// the specified file path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Load reads and parses the configuration, applies defaults and environment
// overrides, and validates the result.
func (l *FileLoader) Load(ctx context.Context) (*config.Config, error) {
	v := viper.New()

	v.SetDefault("database.max_conns", 10)
	v.SetDefault("migration.page_size", app.DefaultPageSize)
	v.SetDefault("migration.inline_threshold", app.DefaultPageSize)
	v.SetDefault("migration.pages_per_second", 0)
	v.SetDefault("telemetry.service_name", "fieldsafe-migrator")
	v.SetDefault("telemetry.sample_rate", 1.0)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets are commonly supplied via environment only. Unmarshal only
	// sees env values for keys viper already knows about, so bind them.
	for _, key := range []string{"database.dsn", "keys.current", "keys.previous"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if l.path != "" {
		v.SetConfigFile(l.path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
