// Package history records field-level task changes in an append-only
// log. Writes happen after the task mutation commits, in a separate
// statement: a failed append is logged and dropped, never retried, and
// never rolls back the task change.
package history

import (
	"context"
	"log"
	"time"

	"flowtrack/internal/domain"
	"flowtrack/internal/repo"
)

type Writer struct {
	Repo   repo.Repo
	Logger *log.Logger
	Now    func() time.Time
}

func New(r repo.Repo) *Writer {
	return &Writer{Repo: r, Logger: log.Default(), Now: time.Now}
}

// Append inserts entries best-effort. Errors are logged, not returned.
func (w *Writer) Append(ctx context.Context, entries []domain.HistoryEntry) {
	if len(entries) == 0 {
		return
	}
	now := w.Now().UTC().Format(time.RFC3339)
	for i := range entries {
		if entries[i].CreatedAt == "" {
			entries[i].CreatedAt = now
		}
	}
	if err := w.Repo.AppendHistory(ctx, entries); err != nil {
		w.Logger.Printf("history append failed for task %s: %v", entries[0].TaskID, err)
	}
}

// Created returns the single entry recorded when a task is created.
// The new value is the task title; old value stays empty.
func Created(task domain.Task, actorID string) domain.HistoryEntry {
	title := task.Title
	return domain.HistoryEntry{
		TaskID:   task.ID,
		ActorID:  actorID,
		Action:   domain.ActionCreated,
		NewValue: &title,
	}
}

// Deleted returns the tombstone entry for a removed task. History rows
// survive task deletion, so the audit trail keeps its tail.
func Deleted(task domain.Task, actorID string) domain.HistoryEntry {
	title := task.Title
	return domain.HistoryEntry{
		TaskID:   task.ID,
		ActorID:  actorID,
		Action:   domain.ActionDeleted,
		OldValue: &title,
	}
}

// Comment returns a standalone comment entry. Comments do not change
// any field, so old and new values stay empty.
func Comment(taskID, actorID, text string) domain.HistoryEntry {
	return domain.HistoryEntry{
		TaskID:  taskID,
		ActorID: actorID,
		Action:  domain.ActionCommentAdded,
		Comment: &text,
	}
}

// Diff compares two task snapshots and returns one entry per changed
// tracked field. A multi-field update yields multiple entries sharing
// the same actor and timestamp. The comment rides only on the
// status_changed entry.
func Diff(prev, next domain.Task, actorID, comment string) []domain.HistoryEntry {
	var entries []domain.HistoryEntry

	if prev.Status != next.Status {
		e := change(next.ID, actorID, domain.ActionStatusChanged, prev.Status, next.Status)
		if comment != "" {
			e.Comment = &comment
		}
		entries = append(entries, e)
	}
	if derefOr(prev.AssigneeID) != derefOr(next.AssigneeID) {
		action := domain.ActionAssigned
		if next.AssigneeID == nil {
			action = domain.ActionUnassigned
		}
		entries = append(entries, change(next.ID, actorID, action, derefOr(prev.AssigneeID), derefOr(next.AssigneeID)))
	}
	if prev.Priority != next.Priority {
		entries = append(entries, change(next.ID, actorID, domain.ActionPriorityChanged, prev.Priority, next.Priority))
	}
	if derefOr(prev.DueDate) != derefOr(next.DueDate) {
		entries = append(entries, change(next.ID, actorID, domain.ActionDueDateChanged, derefOr(prev.DueDate), derefOr(next.DueDate)))
	}
	if prev.Title != next.Title {
		entries = append(entries, change(next.ID, actorID, domain.ActionTitleChanged, prev.Title, next.Title))
	}
	if prev.Description != next.Description {
		entries = append(entries, change(next.ID, actorID, domain.ActionDescriptionChanged, prev.Description, next.Description))
	}
	return entries
}

func change(taskID, actorID, action, oldValue, newValue string) domain.HistoryEntry {
	e := domain.HistoryEntry{TaskID: taskID, ActorID: actorID, Action: action}
	if oldValue != "" {
		e.OldValue = &oldValue
	}
	if newValue != "" {
		e.NewValue = &newValue
	}
	return e
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
