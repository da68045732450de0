package history

import (
	"testing"

	"flowtrack/internal/domain"
)

func strPtr(s string) *string { return &s }

func TestDiffStatusChangeCarriesComment(t *testing.T) {
	prev := domain.Task{ID: "t1", Status: domain.StatusTodo, Priority: domain.PriorityMedium, Title: "Fix login"}
	next := prev
	next.Status = domain.StatusInProgress

	entries := Diff(prev, next, "alice", "picking this up for the sprint")
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Action != domain.ActionStatusChanged {
		t.Fatalf("action = %s", e.Action)
	}
	if e.OldValue == nil || *e.OldValue != domain.StatusTodo {
		t.Fatalf("old value = %v", e.OldValue)
	}
	if e.NewValue == nil || *e.NewValue != domain.StatusInProgress {
		t.Fatalf("new value = %v", e.NewValue)
	}
	if e.Comment == nil || *e.Comment != "picking this up for the sprint" {
		t.Fatalf("comment = %v", e.Comment)
	}
}

func TestDiffMultiFieldUpdateYieldsOneEntryPerField(t *testing.T) {
	prev := domain.Task{ID: "t1", Status: domain.StatusTodo, Priority: domain.PriorityMedium, Title: "Fix login"}
	next := prev
	next.Priority = domain.PriorityHigh
	next.AssigneeID = strPtr("bob")
	next.Title = "Fix login redirect"

	entries := Diff(prev, next, "alice", "")
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	actions := map[string]bool{}
	for _, e := range entries {
		actions[e.Action] = true
		if e.ActorID != "alice" {
			t.Fatalf("actor = %s", e.ActorID)
		}
		if e.Comment != nil {
			t.Fatalf("non-status entry carries comment: %s", e.Action)
		}
	}
	for _, want := range []string{domain.ActionPriorityChanged, domain.ActionAssigned, domain.ActionTitleChanged} {
		if !actions[want] {
			t.Fatalf("missing action %s", want)
		}
	}
}

func TestDiffNoChangesYieldsNoEntries(t *testing.T) {
	task := domain.Task{ID: "t1", Status: domain.StatusReview, Priority: domain.PriorityLow, Title: "Docs"}
	if entries := Diff(task, task, "alice", ""); len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func TestDiffUnassign(t *testing.T) {
	prev := domain.Task{ID: "t1", Status: domain.StatusTodo, Priority: domain.PriorityMedium, AssigneeID: strPtr("bob")}
	next := prev
	next.AssigneeID = nil

	entries := Diff(prev, next, "alice", "")
	if len(entries) != 1 || entries[0].Action != domain.ActionUnassigned {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].OldValue == nil || *entries[0].OldValue != "bob" {
		t.Fatalf("old value = %v", entries[0].OldValue)
	}
	if entries[0].NewValue != nil {
		t.Fatalf("new value should be empty, got %v", *entries[0].NewValue)
	}
}

func TestCreatedEntry(t *testing.T) {
	task := domain.Task{ID: "t1", Title: "Ship billing export"}
	e := Created(task, "carol")
	if e.Action != domain.ActionCreated {
		t.Fatalf("action = %s", e.Action)
	}
	if e.NewValue == nil || *e.NewValue != "Ship billing export" {
		t.Fatalf("new value = %v", e.NewValue)
	}
	if e.OldValue != nil {
		t.Fatalf("old value should be empty")
	}
}
