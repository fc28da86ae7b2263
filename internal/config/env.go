package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultEnvFiles are read in order; earlier files win because godotenv never
// overrides a variable that is already set.
var DefaultEnvFiles = []string{".env.local", ".env"}

type envOverrides struct {
	DatabaseDSN      string `env:"STATUSDRIFT_DATABASE_DSN"`
	StatementTimeout string `env:"STATUSDRIFT_STATEMENT_TIMEOUT"`
	LogLevel         string `env:"STATUSDRIFT_LOG_LEVEL"`
	LogFormat        string `env:"STATUSDRIFT_LOG_FORMAT"`
	ChunkSize        int    `env:"STATUSDRIFT_CHUNK_SIZE"`
	ChangePolicy     string `env:"STATUSDRIFT_CHANGE_POLICY"`
}

// LoadEnvFiles loads whichever of files exist and reports how many did.
func LoadEnvFiles(files []string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if info, err := os.Stat(file); err == nil && !info.IsDir() {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return 0, fmt.Errorf("loading env files: %w", err)
	}
	return len(existing), nil
}

// ApplyEnv overlays STATUSDRIFT_* variables onto cfg.
func ApplyEnv(cfg *ProjectConfig) error {
	o, err := env.ParseAs[envOverrides]()
	if err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	if o.DatabaseDSN != "" {
		cfg.Database.DSN = o.DatabaseDSN
	}
	if o.StatementTimeout != "" {
		cfg.Database.StatementTimeout = o.StatementTimeout
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Logging.Format = o.LogFormat
	}
	if o.ChunkSize != 0 {
		cfg.Import.ChunkSize = o.ChunkSize
	}
	if o.ChangePolicy != "" {
		cfg.Import.ChangePolicy = o.ChangePolicy
	}
	return nil
}
