package engine

import (
	"fmt"
	"strings"

	"flowtrack/internal/config"
	"flowtrack/internal/domain"
)

// MinCommentLen is the minimum trimmed length of a transition comment.
const MinCommentLen = 10

// ValidationError rejects a transition request before any state is
// touched: unknown status, self-transition, or a comment under the
// minimum length.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// CapacityError rejects a transition whose target column is at its
// WIP limit.
type CapacityError struct {
	Status string
	Limit  int
	Count  int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("column %s is at its WIP limit (%d/%d)", e.Status, e.Count, e.Limit)
}

// EvaluateTransition checks a proposed status change against the
// board rules. occupancy is the column count snapshot taken at
// evaluation time; passing the guard does not reserve a slot.
func EvaluateTransition(task domain.Task, target, comment string, occupancy map[string]int, cfg *config.Config) error {
	if !domain.ValidStatus(target) {
		return &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", target)}
	}
	if task.Status == target {
		return &ValidationError{Field: "status", Message: fmt.Sprintf("task is already %s", target)}
	}
	if len(strings.TrimSpace(comment)) < MinCommentLen {
		return &ValidationError{Field: "comment", Message: fmt.Sprintf("transition comment must be at least %d characters", MinCommentLen)}
	}
	if limit := cfg.WIPLimit(target); limit > 0 {
		if count := occupancy[target]; count >= limit {
			return &CapacityError{Status: target, Limit: limit, Count: count}
		}
	}
	return nil
}
