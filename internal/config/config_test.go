package config

import (
	"testing"

	"flowtrack/internal/domain"
)

func TestDefaultParsesAndValidates(t *testing.T) {
	cfg := Default("proj-1")
	if cfg.Project.ID != "proj-1" {
		t.Fatalf("project id = %s", cfg.Project.ID)
	}
	if cfg.Project.Kind != "delivery-board" {
		t.Fatalf("project kind = %s", cfg.Project.Kind)
	}
	if got := cfg.WIPLimit(domain.StatusInProgress); got != 5 {
		t.Fatalf("in_progress limit = %d", got)
	}
	if got := cfg.WIPLimit(domain.StatusReview); got != 3 {
		t.Fatalf("review limit = %d", got)
	}
	if got := cfg.WIPLimit(domain.StatusTodo); got != 0 {
		t.Fatalf("todo should be unlimited, got %d", got)
	}
	if cfg.Board.DefaultPoints != 1 {
		t.Fatalf("default points = %d", cfg.Board.DefaultPoints)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}
}

func TestFromYAMLRejectsUnknownStatusLimit(t *testing.T) {
	_, err := FromYAML([]byte(`project:
  id: proj-1
  kind: delivery-board
board:
  wip_limits:
    blocked: 2
  default_points: 1
`))
	if err == nil {
		t.Fatal("expected validation error for unknown status")
	}
}
