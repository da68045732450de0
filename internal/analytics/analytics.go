// Package analytics derives the five board views from the task,
// sprint, and history snapshots. Every view is recomputed in full on
// each request; nothing is cached or incrementally maintained.
package analytics

import (
	"context"
	"math"
	"sort"
	"time"

	"flowtrack/internal/config"
	"flowtrack/internal/domain"
	"flowtrack/internal/repo"
	"flowtrack/internal/replay"
)

const dayFormat = "2006-01-02"

// cfdWindowDays is the trailing window of the cumulative flow view.
const cfdWindowDays = 30

// cycleTimeKeep is how many recent completed tasks the cycle time
// view retains.
const cycleTimeKeep = 20

type Engine struct {
	Repo   repo.Repo
	Config *config.Config
	Now    func() time.Time
}

func New(r repo.Repo, cfg *config.Config) Engine {
	return Engine{Repo: r, Config: cfg, Now: time.Now}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) boardConfig(ctx context.Context, projectID string) *config.Config {
	if cfg, err := e.Repo.GetProjectConfig(ctx, projectID); err == nil {
		return cfg
	}
	if e.Config != nil {
		return e.Config
	}
	return config.Default(projectID)
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

// --- velocity ---

type VelocityPoint struct {
	SprintID       string  `json:"sprint_id"`
	SprintName     string  `json:"sprint_name"`
	Velocity       int     `json:"velocity"`
	RunningAverage float64 `json:"running_average"`
}

// VelocitySeries lists completed sprints with a recorded velocity in
// start-date order, each carrying the running mean so far.
func VelocitySeries(sprints []domain.Sprint) []VelocityPoint {
	var closed []domain.Sprint
	for _, s := range sprints {
		if s.Status == domain.SprintCompleted && s.Velocity != nil {
			closed = append(closed, s)
		}
	}
	sort.Slice(closed, func(i, j int) bool {
		if closed[i].StartDate != closed[j].StartDate {
			return closed[i].StartDate < closed[j].StartDate
		}
		return closed[i].ID < closed[j].ID
	})
	points := make([]VelocityPoint, 0, len(closed))
	sum := 0
	for i, s := range closed {
		sum += *s.Velocity
		points = append(points, VelocityPoint{
			SprintID:       s.ID,
			SprintName:     s.Name,
			Velocity:       *s.Velocity,
			RunningAverage: round1(float64(sum) / float64(i+1)),
		})
	}
	return points
}

func (e Engine) Velocity(ctx context.Context, projectID string) ([]VelocityPoint, error) {
	sprints, err := e.Repo.ListSprints(ctx, repo.SprintFilters{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	return VelocitySeries(sprints), nil
}

// --- burndown ---

type BurndownDay struct {
	Date   string  `json:"date"`
	Ideal  float64 `json:"ideal"`
	Actual int     `json:"actual"`
}

type Burndown struct {
	SprintID    string        `json:"sprint_id"`
	SprintName  string        `json:"sprint_name"`
	TotalPoints int           `json:"total_points"`
	Days        []BurndownDay `json:"days"`
}

// BurndownView charts a sprint's remaining scope per day, from sprint
// start up to today or the sprint end, whichever is earlier. Scope
// counts unestimated tasks at the board default. The actual line
// subtracts points of tasks completed by each day, bucketing each
// task's earliest completion entry by calendar day.
func BurndownView(sprint domain.Sprint, tasks []domain.Task, entries []domain.HistoryEntry, cfg *config.Config, today string) Burndown {
	bd := Burndown{SprintID: sprint.ID, SprintName: sprint.Name}
	points := map[string]int{}
	for _, t := range tasks {
		p := pointsOrDefault(t, cfg)
		points[t.ID] = p
		bd.TotalPoints += p
	}

	// earliest completion day per task
	completedDay := map[string]string{}
	for _, e := range entries {
		if e.Action != domain.ActionStatusChanged || e.NewValue == nil || *e.NewValue != domain.StatusCompleted {
			continue
		}
		if _, ok := points[e.TaskID]; !ok {
			continue
		}
		day := replay.DayKey(e.CreatedAt)
		if prev, ok := completedDay[e.TaskID]; !ok || day < prev {
			completedDay[e.TaskID] = day
		}
	}

	start, err := time.Parse(dayFormat, sprint.StartDate)
	if err != nil {
		return bd
	}
	end, err := time.Parse(dayFormat, sprint.EndDate)
	if err != nil {
		return bd
	}
	last := end
	if now, err := time.Parse(dayFormat, today); err == nil && now.Before(end) {
		last = now
	}
	totalDays := int(end.Sub(start).Hours() / 24)

	for d := start; !d.After(last); d = d.AddDate(0, 0, 1) {
		day := d.Format(dayFormat)
		elapsed := int(d.Sub(start).Hours() / 24)
		ideal := 0.0
		if totalDays > 0 {
			ideal = round1(float64(bd.TotalPoints) * float64(totalDays-elapsed) / float64(totalDays))
		}
		done := 0
		for taskID, completed := range completedDay {
			if completed <= day {
				done += points[taskID]
			}
		}
		bd.Days = append(bd.Days, BurndownDay{Date: day, Ideal: ideal, Actual: bd.TotalPoints - done})
	}
	return bd
}

func (e Engine) Burndown(ctx context.Context, sprintID string) (Burndown, error) {
	sprint, err := e.Repo.GetSprint(ctx, sprintID)
	if err != nil {
		return Burndown{}, err
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{SprintID: sprintID})
	if err != nil {
		return Burndown{}, err
	}
	entries, err := e.Repo.ListHistory(ctx, repo.HistoryFilters{
		ProjectID: sprint.ProjectID,
		Action:    domain.ActionStatusChanged,
	})
	if err != nil {
		return Burndown{}, err
	}
	cfg := e.boardConfig(ctx, sprint.ProjectID)
	today := e.now().UTC().Format(dayFormat)
	return BurndownView(sprint, tasks, entries, cfg, today), nil
}

// --- cumulative flow ---

type FlowDay struct {
	Date   string         `json:"date"`
	Counts map[string]int `json:"counts"`
}

// CumulativeFlow counts tasks per status for each day of a trailing
// window ending today. The window is 30 days, shortened to the
// earliest task creation when the board is younger. Every task that
// existed on a day lands in exactly one column.
func CumulativeFlow(tasks []domain.Task, timelines map[string]replay.Timeline, today string) []FlowDay {
	end, err := time.Parse(dayFormat, today)
	if err != nil {
		return nil
	}
	start := end.AddDate(0, 0, -(cfdWindowDays - 1))
	earliest := ""
	for _, t := range tasks {
		day := replay.DayKey(t.CreatedAt)
		if earliest == "" || day < earliest {
			earliest = day
		}
	}
	if earliest != "" {
		if e, err := time.Parse(dayFormat, earliest); err == nil && e.After(start) {
			start = e
		}
	}

	var res []FlowDay
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		day := d.Format(dayFormat)
		counts := map[string]int{}
		for _, s := range domain.Statuses {
			counts[s] = 0
		}
		for _, t := range tasks {
			tl, ok := timelines[t.ID]
			if !ok {
				continue
			}
			if status, ok := tl.At(day); ok {
				counts[status]++
			}
		}
		res = append(res, FlowDay{Date: day, Counts: counts})
	}
	return res
}

func (e Engine) CumulativeFlow(ctx context.Context, projectID string) ([]FlowDay, error) {
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	loader := replay.Loader{Repo: e.Repo}
	timelines, err := loader.ProjectTimelines(ctx, tasks)
	if err != nil {
		return nil, err
	}
	today := e.now().UTC().Format(dayFormat)
	return CumulativeFlow(tasks, timelines, today), nil
}

// --- cycle / lead time ---

type CycleTimeRecord struct {
	TaskID      string  `json:"task_id"`
	Title       string  `json:"title"`
	CompletedAt string  `json:"completed_at"`
	CycleDays   float64 `json:"cycle_days"`
	LeadDays    float64 `json:"lead_days"`
}

// CycleTimes measures completed tasks. Lead time runs from creation to
// last modification, floored at zero; cycle time runs from the first
// move into in_progress, falling back to lead time when the task
// skipped that column. The 20 most recently completed are kept.
func CycleTimes(tasks []domain.Task, entries []domain.HistoryEntry) []CycleTimeRecord {
	res := cycleTimesAll(tasks, entries)
	sort.Slice(res, func(i, j int) bool { return res[i].CompletedAt < res[j].CompletedAt })
	if len(res) > cycleTimeKeep {
		res = res[len(res)-cycleTimeKeep:]
	}
	return res
}

func (e Engine) CycleTimes(ctx context.Context, projectID string) ([]CycleTimeRecord, error) {
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	entries, err := e.Repo.ListHistory(ctx, repo.HistoryFilters{
		ProjectID: projectID,
		Action:    domain.ActionStatusChanged,
	})
	if err != nil {
		return nil, err
	}
	return CycleTimes(tasks, entries), nil
}

// --- team performance ---

type AssigneeStats struct {
	AssigneeID      string  `json:"assignee_id"`
	TaskCount       int     `json:"task_count"`
	CompletedCount  int     `json:"completed_count"`
	CompletionRate  int     `json:"completion_rate"`
	PointsDelivered int     `json:"points_delivered"`
	MeanCycleDays   float64 `json:"mean_cycle_days"`
}

// TeamPerformance aggregates per assignee: workload, completion rate,
// story points delivered on completed tasks, and mean cycle time.
// Unestimated completed tasks deliver the board default, matching how
// velocity and burndown count them. Sorted by points delivered,
// highest first.
func TeamPerformance(tasks []domain.Task, entries []domain.HistoryEntry, cfg *config.Config) []AssigneeStats {
	cycles := map[string]float64{}
	for _, c := range cycleTimesAll(tasks, entries) {
		cycles[c.TaskID] = c.CycleDays
	}

	stats := map[string]*AssigneeStats{}
	var cycleSum = map[string]float64{}
	for _, t := range tasks {
		if t.AssigneeID == nil {
			continue
		}
		a := *t.AssigneeID
		s, ok := stats[a]
		if !ok {
			s = &AssigneeStats{AssigneeID: a}
			stats[a] = s
		}
		s.TaskCount++
		if t.Status == domain.StatusCompleted {
			s.CompletedCount++
			s.PointsDelivered += pointsOrDefault(t, cfg)
			cycleSum[a] += cycles[t.ID]
		}
	}

	res := make([]AssigneeStats, 0, len(stats))
	for a, s := range stats {
		if s.TaskCount > 0 {
			s.CompletionRate = int(math.Round(float64(s.CompletedCount) / float64(s.TaskCount) * 100))
		}
		if s.CompletedCount > 0 {
			s.MeanCycleDays = round1(cycleSum[a] / float64(s.CompletedCount))
		}
		res = append(res, *s)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].PointsDelivered != res[j].PointsDelivered {
			return res[i].PointsDelivered > res[j].PointsDelivered
		}
		return res[i].AssigneeID < res[j].AssigneeID
	})
	return res
}

// cycleTimesAll measures every completed task, in task-list order.
func cycleTimesAll(tasks []domain.Task, entries []domain.HistoryEntry) []CycleTimeRecord {
	firstInProgress := map[string]string{}
	for _, e := range entries {
		if e.Action != domain.ActionStatusChanged || e.NewValue == nil || *e.NewValue != domain.StatusInProgress {
			continue
		}
		if _, ok := firstInProgress[e.TaskID]; !ok {
			firstInProgress[e.TaskID] = e.CreatedAt
		}
	}
	var res []CycleTimeRecord
	for _, t := range tasks {
		if t.Status != domain.StatusCompleted {
			continue
		}
		lead := daysBetween(t.CreatedAt, t.UpdatedAt)
		if lead < 0 {
			lead = 0
		}
		cycle := lead
		if started, ok := firstInProgress[t.ID]; ok {
			if c := daysBetween(started, t.UpdatedAt); c >= 0 {
				cycle = c
			}
		}
		res = append(res, CycleTimeRecord{
			TaskID:      t.ID,
			Title:       t.Title,
			CompletedAt: t.UpdatedAt,
			CycleDays:   round1(cycle),
			LeadDays:    round1(lead),
		})
	}
	return res
}

func (e Engine) TeamPerformance(ctx context.Context, projectID string) ([]AssigneeStats, error) {
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	entries, err := e.Repo.ListHistory(ctx, repo.HistoryFilters{
		ProjectID: projectID,
		Action:    domain.ActionStatusChanged,
	})
	if err != nil {
		return nil, err
	}
	return TeamPerformance(tasks, entries, e.boardConfig(ctx, projectID)), nil
}

func daysBetween(from, to string) float64 {
	a, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return 0
	}
	b, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return 0
	}
	return b.Sub(a).Hours() / 24
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
