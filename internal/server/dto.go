package server

import (
	"flowtrack/internal/config"
	"flowtrack/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type CreateTaskRequest struct {
	ID          *string `json:"id,omitempty"`
	SprintID    *string `json:"sprint_id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	StoryPoints *int    `json:"story_points,omitempty" minimum:"0"`
	DueDate     *string `json:"due_date,omitempty" format:"date"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	StoryPoints *int    `json:"story_points,omitempty" minimum:"0"`
	DueDate     *string `json:"due_date,omitempty"`
	SprintID    *string `json:"sprint_id,omitempty"`
}

type MoveTaskRequest struct {
	Status  string `json:"status" enum:"todo,in_progress,review,completed"`
	Comment string `json:"comment"`
}

type AddCommentRequest struct {
	Text string `json:"text"`
}

type CreateSprintRequest struct {
	ID        *string `json:"id,omitempty"`
	Name      string  `json:"name"`
	StartDate string  `json:"start_date" format:"date"`
	EndDate   string  `json:"end_date" format:"date"`
}

type ImportConfigRequest struct {
	YAML string `json:"yaml"`
}

// Response payloads

type ProjectResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type TaskResponse struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	SprintID    *string `json:"sprint_id,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"todo,in_progress,review,completed"`
	Priority    string  `json:"priority" enum:"low,medium,high,urgent"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	StoryPoints *int    `json:"story_points,omitempty"`
	DueDate     *string `json:"due_date,omitempty" format:"date"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type SprintResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Status    string `json:"status" enum:"planning,active,completed,cancelled"`
	StartDate string `json:"start_date" format:"date"`
	EndDate   string `json:"end_date" format:"date"`
	Velocity  *int   `json:"velocity,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type HistoryEntryResponse struct {
	ID        int64   `json:"id"`
	TaskID    string  `json:"task_id"`
	ActorID   string  `json:"actor_id"`
	Action    string  `json:"action"`
	OldValue  *string `json:"old_value,omitempty"`
	NewValue  *string `json:"new_value,omitempty"`
	Comment   *string `json:"comment,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type ProjectConfigResponse struct {
	Project projectConfigSection `json:"project"`
	Board   boardConfigSection   `json:"board"`
}

type projectConfigSection struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

type boardConfigSection struct {
	WIPLimits     map[string]int `json:"wip_limits"`
	DefaultPoints int            `json:"default_points"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// Conversion helpers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse(p)
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse(t)
}

func sprintResponse(s domain.Sprint) SprintResponse {
	return SprintResponse(s)
}

func historyResponse(e domain.HistoryEntry) HistoryEntryResponse {
	return HistoryEntryResponse(e)
}

func configResponse(cfg *config.Config) ProjectConfigResponse {
	res := ProjectConfigResponse{
		Project: projectConfigSection{
			ID:   cfg.Project.ID,
			Kind: cfg.Project.Kind,
		},
		Board: boardConfigSection{
			WIPLimits:     map[string]int{},
			DefaultPoints: cfg.Board.DefaultPoints,
		},
	}
	for status, limit := range cfg.Board.WIPLimits {
		res.Board.WIPLimits[status] = limit
	}
	return res
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func mapSprints(items []domain.Sprint) []SprintResponse {
	res := make([]SprintResponse, 0, len(items))
	for _, s := range items {
		res = append(res, sprintResponse(s))
	}
	return res
}

func mapHistory(items []domain.HistoryEntry) []HistoryEntryResponse {
	res := make([]HistoryEntryResponse, 0, len(items))
	for _, e := range items {
		res = append(res, historyResponse(e))
	}
	return res
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
