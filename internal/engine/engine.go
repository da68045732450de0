package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"flowtrack/internal/config"
	"flowtrack/internal/domain"
	"flowtrack/internal/history"
	"flowtrack/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	History *history.Writer
	Config  *config.Config
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:      db,
		Repo:    r,
		History: history.New(r),
		Config:  cfg,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// InitProject creates a project with its default board config.
func (e Engine) InitProject(ctx context.Context, projectID, name, description string) (domain.Project, error) {
	if name == "" {
		name = projectID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p := domain.Project{
		ID:          projectID,
		Name:        name,
		Status:      "active",
		Description: description,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, config.Default(p.ID)); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// boardConfig returns the stored per-project board config, falling
// back to the engine-level config, then defaults.
func (e Engine) boardConfig(ctx context.Context, projectID string) *config.Config {
	if cfg, err := e.Repo.GetProjectConfig(ctx, projectID); err == nil {
		return cfg
	}
	if e.Config != nil {
		return e.Config
	}
	return config.Default(projectID)
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID          string
	ProjectID   string
	SprintID    string
	Title       string
	Description string
	Priority    string
	AssigneeID  string
	StoryPoints *int
	DueDate     string
	ActorID     string
}

// CreateTask inserts a new task in todo. The created history entry is
// appended after commit; if that append fails the task still exists.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.ProjectID == "" {
		return domain.Task{}, errors.New("project is required")
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !domain.ValidPriority(opts.Priority) {
		return domain.Task{}, fmt.Errorf("unknown priority %q", opts.Priority)
	}
	if opts.StoryPoints != nil && *opts.StoryPoints < 0 {
		return domain.Task{}, errors.New("story points must be >= 0")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Task{}, err
	}
	if opts.SprintID != "" {
		s, err := e.Repo.GetSprint(ctx, opts.SprintID)
		if err != nil {
			return domain.Task{}, err
		}
		if s.ProjectID != opts.ProjectID {
			return domain.Task{}, fmt.Errorf("sprint %s not in project %s", opts.SprintID, opts.ProjectID)
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.ProjectID+"|"+opts.Title+"|"+now)).String()
	}
	t := domain.Task{
		ID:          id,
		ProjectID:   opts.ProjectID,
		SprintID:    optionalString(opts.SprintID),
		Title:       opts.Title,
		Description: opts.Description,
		Status:      domain.StatusTodo,
		Priority:    opts.Priority,
		AssigneeID:  optionalString(opts.AssigneeID),
		StoryPoints: opts.StoryPoints,
		DueDate:     optionalString(opts.DueDate),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.History.Append(ctx, []domain.HistoryEntry{history.Created(t, opts.ActorID)})
	return t, nil
}

// TaskUpdateOptions encapsulates allowed field updates. Pointer fields
// distinguish "leave unchanged" (nil) from "set" and "clear" (empty).
type TaskUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	Priority    *string
	Assign      *string
	StoryPoints *int
	ClearPoints bool
	DueDate     *string
	SprintID    *string
	ActorID     string
}

// UpdateTask applies non-status field changes and records one history
// entry per changed tracked field.
func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	prev := t

	if opts.Title != nil {
		if *opts.Title == "" {
			return t, errors.New("title cannot be empty")
		}
		t.Title = *opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Priority != nil {
		if !domain.ValidPriority(*opts.Priority) {
			return t, fmt.Errorf("unknown priority %q", *opts.Priority)
		}
		t.Priority = *opts.Priority
	}
	if opts.Assign != nil {
		if *opts.Assign == "" {
			t.AssigneeID = nil
		} else {
			t.AssigneeID = opts.Assign
		}
	}
	if opts.ClearPoints {
		t.StoryPoints = nil
	} else if opts.StoryPoints != nil {
		if *opts.StoryPoints < 0 {
			return t, errors.New("story points must be >= 0")
		}
		t.StoryPoints = opts.StoryPoints
	}
	if opts.DueDate != nil {
		if *opts.DueDate == "" {
			t.DueDate = nil
		} else {
			if _, err := time.Parse("2006-01-02", *opts.DueDate); err != nil {
				return t, fmt.Errorf("due date must be YYYY-MM-DD: %w", err)
			}
			t.DueDate = opts.DueDate
		}
	}
	if opts.SprintID != nil {
		if *opts.SprintID == "" {
			t.SprintID = nil
		} else {
			s, err := e.Repo.GetSprint(ctx, *opts.SprintID)
			if err != nil {
				return t, err
			}
			if s.ProjectID != t.ProjectID {
				return t, fmt.Errorf("sprint %s not in project %s", *opts.SprintID, t.ProjectID)
			}
			t.SprintID = opts.SprintID
		}
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.History.Append(ctx, history.Diff(prev, t, opts.ActorID, ""))
	return t, nil
}

// MoveTask transitions a task between workflow columns. The guard
// checks run against a fresh occupancy snapshot before the write; the
// status_changed entry is appended after commit.
func (e Engine) MoveTask(ctx context.Context, taskID, target, comment, actorID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	occupancy, err := e.Repo.CountTasksByStatus(ctx, t.ProjectID)
	if err != nil {
		return t, err
	}
	cfg := e.boardConfig(ctx, t.ProjectID)
	if err := EvaluateTransition(t, target, comment, occupancy, cfg); err != nil {
		return t, err
	}

	prev := t
	t.Status = target
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.History.Append(ctx, history.Diff(prev, t, actorID, strings.TrimSpace(comment)))
	return t, nil
}

// AddComment records a standalone comment on a task. No minimum
// length applies outside transitions, but blank comments are rejected.
func (e Engine) AddComment(ctx context.Context, taskID, text, actorID string) (domain.HistoryEntry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.HistoryEntry{}, errors.New("comment text is required")
	}
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return domain.HistoryEntry{}, err
	}
	entry := history.Comment(taskID, actorID, text)
	entry.CreatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.AppendHistory(ctx, []domain.HistoryEntry{entry}); err != nil {
		return domain.HistoryEntry{}, err
	}
	return entry, nil
}

// DeleteTask removes a task row. History rows are kept and a deleted
// tombstone is appended after commit.
func (e Engine) DeleteTask(ctx context.Context, taskID, actorID string) error {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteTask(ctx, tx, taskID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.History.Append(ctx, []domain.HistoryEntry{history.Deleted(t, actorID)})
	return nil
}

// SprintCreateOptions are parameters for creating a sprint.
type SprintCreateOptions struct {
	ID        string
	ProjectID string
	Name      string
	StartDate string
	EndDate   string
}

// CreateSprint registers a sprint in planning.
func (e Engine) CreateSprint(ctx context.Context, opts SprintCreateOptions) (domain.Sprint, error) {
	if opts.Name == "" {
		return domain.Sprint{}, errors.New("name is required")
	}
	if opts.ProjectID == "" {
		return domain.Sprint{}, errors.New("project is required")
	}
	start, err := time.Parse("2006-01-02", opts.StartDate)
	if err != nil {
		return domain.Sprint{}, fmt.Errorf("start date must be YYYY-MM-DD: %w", err)
	}
	end, err := time.Parse("2006-01-02", opts.EndDate)
	if err != nil {
		return domain.Sprint{}, fmt.Errorf("end date must be YYYY-MM-DD: %w", err)
	}
	if !end.After(start) {
		return domain.Sprint{}, errors.New("end date must be after start date")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Sprint{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	s := domain.Sprint{
		ID:        id,
		ProjectID: opts.ProjectID,
		Name:      opts.Name,
		Status:    domain.SprintPlanning,
		StartDate: opts.StartDate,
		EndDate:   opts.EndDate,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertSprint(ctx, s); err != nil {
		return domain.Sprint{}, err
	}
	return s, nil
}

// StartSprint activates a sprint. A project has at most one active
// sprint, so any other active sprint is completed first with its
// velocity recorded.
func (e Engine) StartSprint(ctx context.Context, sprintID string) (domain.Sprint, error) {
	s, err := e.Repo.GetSprint(ctx, sprintID)
	if err != nil {
		return s, err
	}
	if s.Status == domain.SprintActive {
		return s, errors.New("sprint is already active")
	}
	if s.Status == domain.SprintCompleted || s.Status == domain.SprintCancelled {
		return s, fmt.Errorf("cannot start a %s sprint", s.Status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()

	if active, err := e.Repo.ActiveSprint(ctx, s.ProjectID); err != nil {
		return s, err
	} else if active != nil && active.ID != s.ID {
		velocity, err := e.sprintVelocity(ctx, *active)
		if err != nil {
			return s, err
		}
		if err := e.Repo.UpdateSprintStatus(ctx, tx, active.ID, domain.SprintCompleted); err != nil {
			return s, err
		}
		if err := e.Repo.SetSprintVelocity(ctx, tx, active.ID, velocity); err != nil {
			return s, err
		}
	}
	if err := e.Repo.UpdateSprintStatus(ctx, tx, s.ID, domain.SprintActive); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	s.Status = domain.SprintActive
	return s, nil
}

// CompleteSprint closes a sprint and records its velocity: the sum of
// story points of its completed tasks, unestimated tasks counting as
// the board's default.
func (e Engine) CompleteSprint(ctx context.Context, sprintID string) (domain.Sprint, error) {
	s, err := e.Repo.GetSprint(ctx, sprintID)
	if err != nil {
		return s, err
	}
	if s.Status != domain.SprintActive {
		return s, fmt.Errorf("only an active sprint can be completed, sprint is %s", s.Status)
	}
	velocity, err := e.sprintVelocity(ctx, s)
	if err != nil {
		return s, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateSprintStatus(ctx, tx, s.ID, domain.SprintCompleted); err != nil {
		return s, err
	}
	if err := e.Repo.SetSprintVelocity(ctx, tx, s.ID, velocity); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	s.Status = domain.SprintCompleted
	s.Velocity = &velocity
	return s, nil
}

// CancelSprint abandons a sprint without recording velocity. Tasks
// keep their sprint assignment for the audit trail.
func (e Engine) CancelSprint(ctx context.Context, sprintID string) (domain.Sprint, error) {
	s, err := e.Repo.GetSprint(ctx, sprintID)
	if err != nil {
		return s, err
	}
	if s.Status == domain.SprintCompleted || s.Status == domain.SprintCancelled {
		return s, fmt.Errorf("sprint is already %s", s.Status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateSprintStatus(ctx, tx, s.ID, domain.SprintCancelled); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	s.Status = domain.SprintCancelled
	return s, nil
}

func (e Engine) sprintVelocity(ctx context.Context, s domain.Sprint) (int, error) {
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{SprintID: s.ID, Status: domain.StatusCompleted})
	if err != nil {
		return 0, err
	}
	cfg := e.boardConfig(ctx, s.ProjectID)
	total := 0
	for _, t := range tasks {
		total += pointsOrDefault(t, cfg)
	}
	return total, nil
}

func pointsOrDefault(t domain.Task, cfg *config.Config) int {
	if t.StoryPoints != nil {
		return *t.StoryPoints
	}
	if cfg != nil && cfg.Board.DefaultPoints > 0 {
		return cfg.Board.DefaultPoints
	}
	return 1
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
