package app

import (
	"fmt"

	"sprintsheet/internal/config"
)

// Plan sources reported by ResolvePlan.
const (
	SourceFlag      = "flag"
	SourceWorkspace = "workspace"
	SourceDefault   = "default"
)

// ResolvePlan picks the active plan. It prefers an explicit file, then
// sprintsheet.yml in the workspace, then the embedded default plan.
func ResolvePlan(workspace, planOverride string) (*config.Config, string, error) {
	if planOverride != "" {
		cfg, err := config.FromFile(planOverride)
		if err != nil {
			return nil, "", fmt.Errorf("load plan: %w", err)
		}
		return cfg, SourceFlag, nil
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, "", fmt.Errorf("load %s: %w", config.Path(workspace), err)
	}
	if cfg != nil {
		return cfg, SourceWorkspace, nil
	}
	return config.Default(), SourceDefault, nil
}
