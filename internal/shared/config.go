package shared

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Database   DatabaseConfig   `toml:"database"`
	Import     ImportConfig     `toml:"import"`
	Loader     LoaderConfig     `toml:"loader"`
	Protection ProtectionConfig `toml:"protection"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ImportConfig points at the directory the scrapers drop their JSON documents into.
type ImportConfig struct {
	Dir string `toml:"dir"`
}

// LoaderConfig tunes the bulk reference loader.
type LoaderConfig struct {
	BatchSize        int     `toml:"batch_size"`         // entities per committed batch
	BatchesPerSecond float64 `toml:"batches_per_second"` // commit pacing, 0 disables
	MaxRetries       int     `toml:"max_retries"`        // per-batch retry budget for transient errors
}

// ProtectionConfig declares which user tables the engine protects across reloads.
type ProtectionConfig struct {
	Tables []ProtectedTable `toml:"tables"`
}

// ProtectedTable describes one user-owned table holding a foreign key into
// reference data.
type ProtectedTable struct {
	Name          string  `toml:"name"`           // live table name
	FKColumn      string  `toml:"fk_column"`      // column referencing a reference table
	References    string  `toml:"references"`     // referenced reference table
	Nullable      bool    `toml:"nullable"`       // false means unresolved rows are deleted, not quarantined
	ContentColumn string  `toml:"content_column"` // free-text column for content matching, empty disables
	UserColumn    string  `toml:"user_column"`    // owning-user column for context matching, empty disables
	Weight        float64 `toml:"weight"`         // share of the overall health score
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the parts of the configuration the pipeline depends on.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", ErrInvalidConfig)
	}
	if c.Loader.BatchSize < 0 || c.Loader.MaxRetries < 0 {
		return fmt.Errorf("%w: loader settings must be non-negative", ErrInvalidConfig)
	}
	for i, t := range c.Protection.Tables {
		if t.Name == "" || t.FKColumn == "" || t.References == "" {
			return fmt.Errorf("%w: protection.tables[%d] needs name, fk_column and references", ErrInvalidConfig, i)
		}
		if t.Weight < 0 {
			return fmt.Errorf("%w: protection.tables[%d] weight must be non-negative", ErrInvalidConfig, i)
		}
	}
	return nil
}
