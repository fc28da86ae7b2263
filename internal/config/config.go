package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"statusdrift/internal/lattice"
	"statusdrift/internal/snapshot"
)

const (
	DefaultPath             = "statusdrift.yaml"
	DefaultDSN              = "sqlite://statusdrift.db"
	DefaultChunkSize        = 500
	MaxChunkSize            = 10000
	DefaultStatementTimeout = "30s"

	PolicyStatus  = "status"
	PolicyTracked = "tracked"
)

type ProjectConfig struct {
	Project  string              `yaml:"project" validate:"required"`
	Version  int                 `yaml:"version" validate:"eq=1"`
	Database DatabaseConfig      `yaml:"database"`
	Import   ImportConfig        `yaml:"import"`
	Logging  LoggingConfig       `yaml:"logging"`
	Lattice  []StageConfig       `yaml:"lattice,omitempty" validate:"omitempty,dive"`
	Columns  map[string][]string `yaml:"columns,omitempty"`
}

type DatabaseConfig struct {
	DSN              string `yaml:"dsn" validate:"required"`
	StatementTimeout string `yaml:"statement_timeout,omitempty"`
	MaxConns         int32  `yaml:"max_conns,omitempty" validate:"gte=0"`
}

// Timeout parses StatementTimeout. An empty or invalid value disables the
// timeout; validation reports invalid values before this is reached.
func (d DatabaseConfig) Timeout() time.Duration {
	if strings.TrimSpace(d.StatementTimeout) == "" {
		return 0
	}
	timeout, err := time.ParseDuration(d.StatementTimeout)
	if err != nil {
		return 0
	}
	return timeout
}

// Scheme is "postgres" or "sqlite", derived from the DSN prefix. The sqlite
// prefix must be exactly "sqlite://", as the sqlite store requires.
func (d DatabaseConfig) Scheme() string {
	dsn := strings.ToLower(strings.TrimSpace(d.DSN))
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(d.DSN, "sqlite://"):
		return "sqlite"
	default:
		return ""
	}
}

type ImportConfig struct {
	ChunkSize    int    `yaml:"chunk_size" validate:"gte=1,lte=10000"`
	ChangePolicy string `yaml:"change_policy" validate:"oneof=status tracked"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type StageConfig struct {
	Name    string   `yaml:"name" validate:"required"`
	Rank    int      `yaml:"rank" validate:"gte=1"`
	Aliases []string `yaml:"aliases,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default is the configuration used when no project file exists.
func Default() *ProjectConfig {
	cfg := &ProjectConfig{Project: "statusdrift", Version: 1}
	cfg.Database.DSN = DefaultDSN
	applyDefaults(cfg)
	return cfg
}

func LoadProjectConfig(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}
	applyDefaults(&cfg)

	if err := ApplyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	if err := validateProjectConfig(&cfg); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	return &cfg, nil
}

// Load reads path when it exists and otherwise starts from Default. Missing
// files are an error only when required is set.
func Load(path string, required bool) (*ProjectConfig, error) {
	if _, err := os.Stat(path); err == nil || required {
		return LoadProjectConfig(path)
	}
	cfg := Default()
	if err := ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}
	if err := validateProjectConfig(cfg); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *ProjectConfig) {
	if cfg.Database.StatementTimeout == "" {
		cfg.Database.StatementTimeout = DefaultStatementTimeout
	}
	if cfg.Import.ChunkSize == 0 {
		cfg.Import.ChunkSize = DefaultChunkSize
	}
	if cfg.Import.ChangePolicy == "" {
		cfg.Import.ChangePolicy = PolicyStatus
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func validateProjectConfig(cfg *ProjectConfig) error {
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("invalid %s: failed %q check", fe.Namespace(), fe.Tag())
		}
		return err
	}
	if strings.TrimSpace(cfg.Project) == "" {
		return fmt.Errorf("project name is required")
	}
	if cfg.Database.Scheme() == "" {
		return fmt.Errorf("database dsn must start with postgres:// or sqlite://")
	}
	if cfg.Database.StatementTimeout != "" {
		if _, err := time.ParseDuration(cfg.Database.StatementTimeout); err != nil {
			return fmt.Errorf("invalid database statement_timeout %q: %w", cfg.Database.StatementTimeout, err)
		}
	}
	if len(cfg.Lattice) > 0 {
		if _, err := cfg.StatusLattice(); err != nil {
			return err
		}
	}
	for field, aliases := range cfg.Columns {
		if strings.TrimSpace(field) == "" {
			return fmt.Errorf("column alias entry with empty field name")
		}
		for _, alias := range aliases {
			if strings.TrimSpace(alias) == "" {
				return fmt.Errorf("column %s has an empty alias", field)
			}
		}
	}
	return nil
}

// StatusLattice returns the configured lattice, or the default one when the
// file declares none. A configured lattice replaces the default entirely.
func (c *ProjectConfig) StatusLattice() (*lattice.Lattice, error) {
	if len(c.Lattice) == 0 {
		return lattice.Default(), nil
	}
	stages := make([]lattice.Stage, 0, len(c.Lattice))
	for _, s := range c.Lattice {
		stages = append(stages, lattice.Stage{Name: s.Name, Rank: s.Rank, Aliases: s.Aliases})
	}
	lat, err := lattice.New(stages)
	if err != nil {
		return nil, fmt.Errorf("invalid lattice: %w", err)
	}
	return lat, nil
}

// Aliases returns the default column aliases extended with the configured ones.
func (c *ProjectConfig) Aliases() snapshot.AliasTable {
	return snapshot.DefaultAliases().Merge(c.Columns)
}
