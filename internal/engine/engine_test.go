package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"flowtrack/internal/config"
	"flowtrack/internal/db"
	"flowtrack/internal/domain"
	"flowtrack/internal/engine"
	"flowtrack/internal/migrate"
	"flowtrack/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, "proj-1", "Test project", ""); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) setWIPLimits(t *testing.T, limits map[string]int) {
	t.Helper()
	cfg := config.Default("proj-1")
	cfg.Board.WIPLimits = limits
	if err := env.Engine.Repo.UpsertProjectConfig(env.Ctx, "proj-1", cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
}

func (env testEnv) historyFor(t *testing.T, taskID string) []domain.HistoryEntry {
	t.Helper()
	entries, err := env.Engine.Repo.ListHistory(env.Ctx, repo.HistoryFilters{TaskID: taskID})
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	return entries
}

func TestMoveTaskRecordsStatusChange(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "proj-1",
		Title:     "Do work",
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != domain.StatusTodo {
		t.Fatalf("new task status = %s", task.Status)
	}

	task, err = env.Engine.MoveTask(env.Ctx, task.ID, domain.StatusInProgress, "starting work this morning", "tester")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if task.Status != domain.StatusInProgress {
		t.Fatalf("status = %s", task.Status)
	}

	entries := env.historyFor(t, task.ID)
	if len(entries) != 2 {
		t.Fatalf("expected created + status_changed, got %d entries", len(entries))
	}
	if entries[0].Action != domain.ActionCreated {
		t.Fatalf("first entry = %s", entries[0].Action)
	}
	e := entries[1]
	if e.Action != domain.ActionStatusChanged {
		t.Fatalf("second entry = %s", e.Action)
	}
	if e.OldValue == nil || *e.OldValue != domain.StatusTodo || e.NewValue == nil || *e.NewValue != domain.StatusInProgress {
		t.Fatalf("entry values = %v -> %v", e.OldValue, e.NewValue)
	}
	if e.Comment == nil || *e.Comment != "starting work this morning" {
		t.Fatalf("comment = %v", e.Comment)
	}
}

func TestMoveTaskBackwardAllowed(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "proj-1", Title: "Rework", ActorID: "tester"})
	task, err := env.Engine.MoveTask(env.Ctx, task.ID, domain.StatusCompleted, "skipping straight to done here", "tester")
	if err != nil {
		t.Fatalf("todo -> completed: %v", err)
	}
	task, err = env.Engine.MoveTask(env.Ctx, task.ID, domain.StatusTodo, "reopening, the fix regressed", "tester")
	if err != nil {
		t.Fatalf("completed -> todo: %v", err)
	}
	if task.Status != domain.StatusTodo {
		t.Fatalf("status = %s", task.Status)
	}
}

func TestMoveTaskRejectedLeavesNoHistory(t *testing.T) {
	env := newTestEnv(t)
	env.setWIPLimits(t, map[string]int{domain.StatusInProgress: 1})

	first, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "proj-1", Title: "First", ActorID: "tester"})
	second, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "proj-1", Title: "Second", ActorID: "tester"})

	if _, err := env.Engine.MoveTask(env.Ctx, first.ID, domain.StatusInProgress, "taking the first slot here", "tester"); err != nil {
		t.Fatalf("first move: %v", err)
	}
	_, err := env.Engine.MoveTask(env.Ctx, second.ID, domain.StatusInProgress, "this should hit the limit", "tester")
	var cerr *engine.CapacityError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CapacityError, got %v", err)
	}

	got, err := env.Engine.Repo.GetTask(env.Ctx, second.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusTodo {
		t.Fatalf("rejected move changed status to %s", got.Status)
	}
	entries := env.historyFor(t, second.ID)
	if len(entries) != 1 || entries[0].Action != domain.ActionCreated {
		t.Fatalf("rejected move left history: %+v", entries)
	}
}

func TestMoveTaskShortCommentRejected(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "proj-1", Title: "Guarded", ActorID: "tester"})
	_, err := env.Engine.MoveTask(env.Ctx, task.ID, domain.StatusInProgress, "wip", "tester")
	var verr *engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestUpdateTaskDiffsFields(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "proj-1", Title: "Refine", ActorID: "tester"})

	high := domain.PriorityHigh
	bob := "bob"
	task, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID:       task.ID,
		Priority: &high,
		Assign:   &bob,
		ActorID:  "alice",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if task.Priority != domain.PriorityHigh || task.AssigneeID == nil || *task.AssigneeID != "bob" {
		t.Fatalf("task = %+v", task)
	}

	entries := env.historyFor(t, task.ID)
	// created + priority_changed + assigned
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	actions := map[string]bool{}
	for _, e := range entries {
		actions[e.Action] = true
	}
	if !actions[domain.ActionPriorityChanged] || !actions[domain.ActionAssigned] {
		t.Fatalf("actions = %v", actions)
	}
}

func TestDeleteTaskKeepsHistory(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "proj-1", Title: "Ephemeral", ActorID: "tester"})
	if _, err := env.Engine.MoveTask(env.Ctx, task.ID, domain.StatusInProgress, "starting before the delete", "tester"); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.Repo.GetTask(env.Ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	entries := env.historyFor(t, task.ID)
	if len(entries) != 3 {
		t.Fatalf("expected created + status_changed + deleted, got %d", len(entries))
	}
	if entries[2].Action != domain.ActionDeleted {
		t.Fatalf("last entry = %s", entries[2].Action)
	}
}

func TestStartSprintCompletesOtherActive(t *testing.T) {
	env := newTestEnv(t)
	s1, err := env.Engine.CreateSprint(env.Ctx, engine.SprintCreateOptions{
		ProjectID: "proj-1", Name: "Sprint 1", StartDate: "2024-01-01", EndDate: "2024-01-14",
	})
	if err != nil {
		t.Fatalf("create sprint: %v", err)
	}
	s2, err := env.Engine.CreateSprint(env.Ctx, engine.SprintCreateOptions{
		ProjectID: "proj-1", Name: "Sprint 2", StartDate: "2024-01-15", EndDate: "2024-01-28",
	})
	if err != nil {
		t.Fatalf("create sprint: %v", err)
	}
	if _, err := env.Engine.StartSprint(env.Ctx, s1.ID); err != nil {
		t.Fatalf("start s1: %v", err)
	}

	// a completed task in sprint 1 feeds its velocity
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "proj-1", Title: "Five pointer", SprintID: s1.ID, StoryPoints: intPtr(5), ActorID: "tester",
	})
	if _, err := env.Engine.MoveTask(env.Ctx, task.ID, domain.StatusCompleted, "finished inside sprint one", "tester"); err != nil {
		t.Fatalf("move: %v", err)
	}

	if _, err := env.Engine.StartSprint(env.Ctx, s2.ID); err != nil {
		t.Fatalf("start s2: %v", err)
	}

	got1, _ := env.Engine.Repo.GetSprint(env.Ctx, s1.ID)
	if got1.Status != domain.SprintCompleted {
		t.Fatalf("sprint 1 status = %s", got1.Status)
	}
	if got1.Velocity == nil || *got1.Velocity != 5 {
		t.Fatalf("sprint 1 velocity = %v", got1.Velocity)
	}
	got2, _ := env.Engine.Repo.GetSprint(env.Ctx, s2.ID)
	if got2.Status != domain.SprintActive {
		t.Fatalf("sprint 2 status = %s", got2.Status)
	}
}

func TestCompleteSprintVelocityUsesDefaultPoints(t *testing.T) {
	env := newTestEnv(t)
	s, _ := env.Engine.CreateSprint(env.Ctx, engine.SprintCreateOptions{
		ProjectID: "proj-1", Name: "Sprint 1", StartDate: "2024-01-01", EndDate: "2024-01-14",
	})
	if _, err := env.Engine.StartSprint(env.Ctx, s.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	estimated, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "proj-1", Title: "Estimated", SprintID: s.ID, StoryPoints: intPtr(3), ActorID: "tester",
	})
	unestimated, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "proj-1", Title: "Unestimated", SprintID: s.ID, ActorID: "tester",
	})
	leftBehind, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "proj-1", Title: "Not done", SprintID: s.ID, StoryPoints: intPtr(8), ActorID: "tester",
	})
	_ = leftBehind
	for _, id := range []string{estimated.ID, unestimated.ID} {
		if _, err := env.Engine.MoveTask(env.Ctx, id, domain.StatusCompleted, "done within the sprint window", "tester"); err != nil {
			t.Fatalf("move %s: %v", id, err)
		}
	}

	s, err := env.Engine.CompleteSprint(env.Ctx, s.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	// 3 estimated + 1 default for the unestimated task; the incomplete
	// 8-pointer does not count.
	if s.Velocity == nil || *s.Velocity != 4 {
		t.Fatalf("velocity = %v", s.Velocity)
	}
}

func TestCompleteSprintRequiresActive(t *testing.T) {
	env := newTestEnv(t)
	s, _ := env.Engine.CreateSprint(env.Ctx, engine.SprintCreateOptions{
		ProjectID: "proj-1", Name: "Sprint 1", StartDate: "2024-01-01", EndDate: "2024-01-14",
	})
	if _, err := env.Engine.CompleteSprint(env.Ctx, s.ID); err == nil {
		t.Fatalf("expected error completing a planning sprint")
	}
}

func TestAddComment(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "proj-1", Title: "Discussed", ActorID: "tester"})
	entry, err := env.Engine.AddComment(env.Ctx, task.ID, "short ok", "alice")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if entry.Action != domain.ActionCommentAdded || entry.Comment == nil || *entry.Comment != "short ok" {
		t.Fatalf("entry = %+v", entry)
	}
	if _, err := env.Engine.AddComment(env.Ctx, task.ID, "   ", "alice"); err == nil {
		t.Fatalf("expected blank comment rejection")
	}
}

func intPtr(v int) *int { return &v }
