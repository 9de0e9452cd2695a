package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"sprintsheet/internal/domain"
)

//go:embed default_plan.yml
var defaultPlan []byte

// FileName is the plan file looked up in a workspace.
const FileName = "sprintsheet.yml"

// Config models sprintsheet.yml.
type Config struct {
	Project struct {
		Name   string `yaml:"name"`
		Output string `yaml:"output"`
	} `yaml:"project"`
	Sprints []SprintEntry       `yaml:"sprints"`
	Tasks   []domain.TaskRecord `yaml:"tasks"`
}

// SprintEntry is a sprint as authored. Planned points and task count are
// optional; when absent they are derived from the sprint's tasks.
type SprintEntry struct {
	Number         int    `yaml:"number"`
	Name           string `yaml:"name"`
	CapacityPoints int    `yaml:"capacity_points"`
	PlannedPoints  *int   `yaml:"planned_points"`
	TaskCount      *int   `yaml:"task_count"`
}

// Load reads and validates the plan from a workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("plan %s not found; write one with sprintsheet plan default > %s", path, FileName)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the plan file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate checks field-level structure. Cross-references between tasks
// and sprints are checked by the engine before generation.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Project.Name) == "" {
		return fmt.Errorf("config.project.name is required")
	}
	if len(c.Sprints) == 0 {
		return fmt.Errorf("config.sprints is required")
	}
	if len(c.Tasks) == 0 {
		return fmt.Errorf("config.tasks is required")
	}
	for i, s := range c.Sprints {
		if s.Number <= 0 {
			return fmt.Errorf("sprint #%d: number must be positive", i+1)
		}
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("sprint %d: name is required", s.Number)
		}
		if s.CapacityPoints < 0 {
			return fmt.Errorf("sprint %d: capacity_points must not be negative", s.Number)
		}
		if s.PlannedPoints != nil && *s.PlannedPoints < 0 {
			return fmt.Errorf("sprint %d: planned_points must not be negative", s.Number)
		}
		if s.TaskCount != nil && *s.TaskCount < 0 {
			return fmt.Errorf("sprint %d: task_count must not be negative", s.Number)
		}
	}
	for i, t := range c.Tasks {
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("task #%d: id is required", i+1)
		}
		if t.SprintNumber <= 0 {
			return fmt.Errorf("task %s: sprint must be positive", t.ID)
		}
		if strings.TrimSpace(t.Title) == "" {
			return fmt.Errorf("task %s: title is required", t.ID)
		}
		if !slices.Contains(domain.TaskTypes, t.Type) {
			return fmt.Errorf("task %s: type %q must be one of %s", t.ID, t.Type, strings.Join(domain.TaskTypes, ", "))
		}
		if !slices.Contains(domain.AIFlags, t.AIFlag) {
			return fmt.Errorf("task %s: ai %q must be one of %s", t.ID, t.AIFlag, strings.Join(domain.AIFlags, ", "))
		}
		if !slices.Contains(domain.Risks, t.Risk) {
			return fmt.Errorf("task %s: risk %q must be one of %s", t.ID, t.Risk, strings.Join(domain.Risks, ", "))
		}
		if t.StoryPoints < 0 {
			return fmt.Errorf("task %s: points must not be negative", t.ID)
		}
	}
	return nil
}

// Registry converts the plan into the generator's read-only registry,
// filling omitted sprint totals from the tasks.
func (c *Config) Registry() domain.Registry {
	reg := domain.Registry{
		Project: c.Project.Name,
		Tasks:   slices.Clone(c.Tasks),
	}
	for _, s := range c.Sprints {
		sum := domain.SprintSummary{
			Number:         s.Number,
			Name:           s.Name,
			CapacityPoints: s.CapacityPoints,
		}
		var points, count int
		for _, t := range c.Tasks {
			if t.SprintNumber == s.Number {
				points += t.StoryPoints
				count++
			}
		}
		sum.PlannedPoints = points
		if s.PlannedPoints != nil {
			sum.PlannedPoints = *s.PlannedPoints
		}
		sum.TaskCount = count
		if s.TaskCount != nil {
			sum.TaskCount = *s.TaskCount
		}
		reg.Sprints = append(reg.Sprints, sum)
	}
	return reg
}

// OutputPath resolves where the workbook is written for a workspace.
func (c *Config) OutputPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	out := c.Project.Output
	if out == "" {
		name := strings.Join(strings.Fields(c.Project.Name), "_")
		out = filepath.Join("docs", "planning", name+"_Project_Tracking.xlsx")
	}
	if filepath.IsAbs(out) {
		return out
	}
	return filepath.Join(workspace, out)
}

// Path returns the plan file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// DefaultYAML returns the embedded default plan.
func DefaultYAML() []byte {
	return slices.Clone(defaultPlan)
}

// Default returns the embedded default plan parsed. It panics if the
// embedded plan does not parse.
func Default() *Config {
	return mustParse(defaultPlan)
}

func mustParse(data []byte) *Config {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		panic(fmt.Sprintf("embedded plan: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates a plan from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid plan yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads a YAML plan from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
