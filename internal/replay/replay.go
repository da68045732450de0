// Package replay reconstructs a task's status on any past date by
// folding its history. Granularity is one day: when several changes
// land on the same day, the last one wins for that day.
package replay

import (
	"context"
	"sort"
	"time"

	"flowtrack/internal/domain"
	"flowtrack/internal/repo"
)

const dayKey = "2006-01-02"

// Timeline maps day keys to the status the task held at the end of
// that day. It always contains the creation day.
type Timeline struct {
	days    map[string]string
	created string
}

// DayKey truncates an RFC3339 timestamp to its day key. Falls back to
// the raw prefix when the timestamp does not parse.
func DayKey(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		if len(ts) >= len(dayKey) {
			return ts[:len(dayKey)]
		}
		return ts
	}
	return t.UTC().Format(dayKey)
}

// Build folds a task's ordered history into a timeline. The creation
// day is seeded with todo; each status_changed entry overwrites its
// day's value, so the last change of a day wins.
func Build(task domain.Task, entries []domain.HistoryEntry) Timeline {
	tl := Timeline{
		days:    map[string]string{},
		created: DayKey(task.CreatedAt),
	}
	tl.days[tl.created] = domain.StatusTodo
	for _, e := range entries {
		if e.Action != domain.ActionStatusChanged || e.NewValue == nil {
			continue
		}
		tl.days[DayKey(e.CreatedAt)] = *e.NewValue
	}
	return tl
}

// At returns the status on the given day: the value of the latest
// timeline day at or before it. ok is false before the creation day.
func (tl Timeline) At(day string) (string, bool) {
	if day < tl.created {
		return "", false
	}
	if s, ok := tl.days[day]; ok {
		return s, true
	}
	best := ""
	for k := range tl.days {
		if k <= day && k > best {
			best = k
		}
	}
	if best == "" {
		return "", false
	}
	return tl.days[best], true
}

// Days returns the timeline's day keys in ascending order.
func (tl Timeline) Days() []string {
	keys := make([]string, 0, len(tl.days))
	for k := range tl.days {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CreatedDay returns the day the task entered the board.
func (tl Timeline) CreatedDay() string { return tl.created }

// Loader builds timelines from stored history.
type Loader struct {
	Repo repo.Repo
}

// TaskTimeline loads a task's status timeline.
func (l Loader) TaskTimeline(ctx context.Context, task domain.Task) (Timeline, error) {
	entries, err := l.Repo.ListHistory(ctx, repo.HistoryFilters{
		TaskID: task.ID,
		Action: domain.ActionStatusChanged,
	})
	if err != nil {
		return Timeline{}, err
	}
	return Build(task, entries), nil
}

// ProjectTimelines loads timelines for every task in the list with a
// single history query. The query is scoped to the tasks' project when
// they all share one; a mixed list reads history unscoped so no task's
// transitions are missed.
func (l Loader) ProjectTimelines(ctx context.Context, tasks []domain.Task) (map[string]Timeline, error) {
	if len(tasks) == 0 {
		return map[string]Timeline{}, nil
	}
	projectID := tasks[0].ProjectID
	for _, t := range tasks[1:] {
		if t.ProjectID != projectID {
			projectID = ""
			break
		}
	}
	byTask := map[string][]domain.HistoryEntry{}
	entries, err := l.Repo.ListHistory(ctx, repo.HistoryFilters{
		ProjectID: projectID,
		Action:    domain.ActionStatusChanged,
	})
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		byTask[e.TaskID] = append(byTask[e.TaskID], e)
	}
	res := make(map[string]Timeline, len(tasks))
	for _, t := range tasks {
		res[t.ID] = Build(t, byTask[t.ID])
	}
	return res, nil
}

// StatusOn reconstructs a single task's status on a date.
func (l Loader) StatusOn(ctx context.Context, task domain.Task, day string) (string, bool, error) {
	tl, err := l.TaskTimeline(ctx, task)
	if err != nil {
		return "", false, err
	}
	status, ok := tl.At(day)
	return status, ok, nil
}
