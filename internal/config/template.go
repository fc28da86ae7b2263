package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"statusdrift/internal/lattice"
)

// Template renders a starter project file that spells out the default
// lattice so operators can edit it in place.
func Template(project string) ([]byte, error) {
	cfg := Default()
	cfg.Project = project
	for _, stage := range lattice.Default().Stages() {
		cfg.Lattice = append(cfg.Lattice, StageConfig{Name: stage.Name, Rank: stage.Rank, Aliases: stage.Aliases})
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("rendering config template: %w", err)
	}
	return out, nil
}
