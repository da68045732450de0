package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"flowtrack/internal/domain"
)

// Config models flowtrack.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id" json:"id"`
		Kind string `yaml:"kind" json:"kind"`
	} `yaml:"project" json:"project"`
	Board struct {
		// WIPLimits maps a workflow status to the maximum number of
		// tasks allowed in that column. A status with no entry is
		// unlimited.
		WIPLimits map[string]int `yaml:"wip_limits" json:"wip_limits"`
		// DefaultPoints is the story-point value assumed for tasks
		// without an estimate when computing sprint scope and velocity.
		DefaultPoints int `yaml:"default_points" json:"default_points"`
	} `yaml:"board" json:"board"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with ft project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "delivery-board" {
		return fmt.Errorf("config.project.kind must be 'delivery-board'")
	}
	for status, limit := range c.Board.WIPLimits {
		if !domain.ValidStatus(status) {
			return fmt.Errorf("config.board.wip_limits references unknown status %s", status)
		}
		if limit < 1 {
			return fmt.Errorf("config.board.wip_limits.%s must be >= 1", status)
		}
	}
	if c.Board.DefaultPoints < 1 {
		return fmt.Errorf("config.board.default_points must be >= 1")
	}
	return nil
}

// WIPLimit returns the configured limit for a status, or 0 if the
// column is unlimited.
func (c *Config) WIPLimit(status string) int {
	if c == nil || c.Board.WIPLimits == nil {
		return 0
	}
	return c.Board.WIPLimits[status]
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "flowtrack.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
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

// Default returns the default Config struct for a project. The
// template is a compile-time constant, so a decode failure means the
// template itself is broken.
func Default(projectID string) *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, projectID)), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromYAMLForProject parses config YAML and pins it to a project,
// overriding any project id the document carries.
func FromYAMLForProject(data []byte, projectID string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.Project.ID = projectID
	if cfg.Project.Kind == "" {
		cfg.Project.Kind = "delivery-board"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  kind: delivery-board

board:
  # Work-in-progress limits per workflow column. Columns without an
  # entry (todo, completed) are unlimited.
  wip_limits:
    in_progress: 5
    review: 3

  # Story points assumed for unestimated tasks in burndown scope and
  # sprint velocity.
  default_points: 1
`
