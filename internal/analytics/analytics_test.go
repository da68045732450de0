package analytics

import (
	"fmt"
	"testing"

	"flowtrack/internal/config"
	"flowtrack/internal/domain"
	"flowtrack/internal/replay"
)

func strPtr(s string) *string { return &s }
func intPtr(v int) *int       { return &v }

func statusEntry(taskID, day, status string) domain.HistoryEntry {
	return domain.HistoryEntry{
		TaskID:    taskID,
		Action:    domain.ActionStatusChanged,
		NewValue:  strPtr(status),
		CreatedAt: day + "T12:00:00Z",
	}
}

func completedSprint(id, start string, velocity int) domain.Sprint {
	return domain.Sprint{
		ID: id, Name: "Sprint " + id, Status: domain.SprintCompleted,
		StartDate: start, EndDate: start, Velocity: &velocity,
	}
}

func TestVelocityRunningAverage(t *testing.T) {
	sprints := []domain.Sprint{
		completedSprint("s3", "2024-03-01", 13),
		completedSprint("s1", "2024-01-01", 10),
		completedSprint("s2", "2024-02-01", 7),
		{ID: "s4", Name: "planned", Status: domain.SprintPlanning, StartDate: "2024-04-01"},
		{ID: "s5", Name: "no velocity", Status: domain.SprintCompleted, StartDate: "2024-05-01"},
	}
	points := VelocitySeries(sprints)
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	wantAvg := []float64{10.0, 8.5, 10.0} // 10; (10+7)/2; (10+7+13)/3
	for i, want := range wantAvg {
		if points[i].RunningAverage != want {
			t.Fatalf("point %d running average = %v, want %v", i, points[i].RunningAverage, want)
		}
	}
	if points[0].SprintID != "s1" || points[2].SprintID != "s3" {
		t.Fatalf("points not sorted by start date: %+v", points)
	}
}

func TestBurndownIdealAndActual(t *testing.T) {
	sprint := domain.Sprint{ID: "s1", Name: "Sprint 1", StartDate: "2024-03-01", EndDate: "2024-03-11"}
	tasks := []domain.Task{
		{ID: "a", StoryPoints: intPtr(2), CreatedAt: "2024-03-01T00:00:00Z"},
		{ID: "b", StoryPoints: intPtr(5), CreatedAt: "2024-03-01T00:00:00Z"},
		{ID: "c", StoryPoints: intPtr(3), CreatedAt: "2024-03-01T00:00:00Z"},
	}
	// a (2 points) completes on day 3
	entries := []domain.HistoryEntry{statusEntry("a", "2024-03-04", domain.StatusCompleted)}
	cfg := config.Default("proj-1")

	bd := BurndownView(sprint, tasks, entries, cfg, "2024-03-11")
	if bd.TotalPoints != 10 {
		t.Fatalf("total = %d", bd.TotalPoints)
	}
	if len(bd.Days) != 11 {
		t.Fatalf("days = %d", len(bd.Days))
	}
	day3 := bd.Days[3]
	if day3.Actual != 8 {
		t.Fatalf("day 3 actual = %d, want 8", day3.Actual)
	}
	if day3.Ideal != 7.0 {
		t.Fatalf("day 3 ideal = %v, want 7.0", day3.Ideal)
	}
	// ideal line decreases to exactly 0 on the last day
	for i := 1; i < len(bd.Days); i++ {
		if bd.Days[i].Ideal >= bd.Days[i-1].Ideal {
			t.Fatalf("ideal not strictly decreasing at day %d", i)
		}
	}
	if last := bd.Days[len(bd.Days)-1].Ideal; last != 0 {
		t.Fatalf("final ideal = %v", last)
	}
}

func TestBurndownDefaultsUnestimatedToBoardDefault(t *testing.T) {
	sprint := domain.Sprint{ID: "s1", StartDate: "2024-03-01", EndDate: "2024-03-03"}
	tasks := []domain.Task{
		{ID: "a", StoryPoints: intPtr(4)},
		{ID: "b"}, // unestimated
	}
	cfg := config.Default("proj-1")
	bd := BurndownView(sprint, tasks, nil, cfg, "2024-03-03")
	if bd.TotalPoints != 5 {
		t.Fatalf("total = %d, want 4 + default 1", bd.TotalPoints)
	}
}

func TestBurndownClampsAtToday(t *testing.T) {
	sprint := domain.Sprint{ID: "s1", StartDate: "2024-03-01", EndDate: "2024-03-20"}
	bd := BurndownView(sprint, nil, nil, config.Default("p"), "2024-03-05")
	if len(bd.Days) != 5 {
		t.Fatalf("days = %d, want 5", len(bd.Days))
	}
}

func TestCumulativeFlowClassifiesEveryTask(t *testing.T) {
	tasks := []domain.Task{
		{ID: "a", CreatedAt: "2024-03-01T09:00:00Z"},
		{ID: "b", CreatedAt: "2024-03-03T09:00:00Z"},
	}
	entries := map[string][]domain.HistoryEntry{
		"a": {statusEntry("a", "2024-03-02", domain.StatusInProgress), statusEntry("a", "2024-03-04", domain.StatusCompleted)},
		"b": nil,
	}
	timelines := map[string]replay.Timeline{}
	for _, task := range tasks {
		timelines[task.ID] = replay.Build(task, entries[task.ID])
	}

	days := CumulativeFlow(tasks, timelines, "2024-03-05")
	if len(days) != 5 {
		t.Fatalf("window = %d days, want 5 (since earliest creation)", len(days))
	}
	if days[0].Date != "2024-03-01" {
		t.Fatalf("window starts %s", days[0].Date)
	}
	// day 1: only task a exists, in todo
	if got := days[0].Counts[domain.StatusTodo]; got != 1 {
		t.Fatalf("day 1 todo = %d", got)
	}
	// day 3: a in_progress, b todo
	if days[2].Counts[domain.StatusInProgress] != 1 || days[2].Counts[domain.StatusTodo] != 1 {
		t.Fatalf("day 3 counts = %v", days[2].Counts)
	}
	// every existing task lands in exactly one column each day
	for i, d := range days {
		total := 0
		for _, c := range d.Counts {
			total += c
		}
		want := 1
		if d.Date >= "2024-03-03" {
			want = 2
		}
		if total != want {
			t.Fatalf("day %d total = %d, want %d", i, total, want)
		}
	}
}

func TestCycleTimeFallsBackToLeadTime(t *testing.T) {
	tasks := []domain.Task{
		{ID: "a", Status: domain.StatusCompleted, CreatedAt: "2024-03-01T00:00:00Z", UpdatedAt: "2024-03-05T00:00:00Z"},
	}
	// no in_progress entry: cycle == lead
	res := CycleTimes(tasks, nil)
	if len(res) != 1 {
		t.Fatalf("records = %d", len(res))
	}
	if res[0].LeadDays != 4.0 || res[0].CycleDays != 4.0 {
		t.Fatalf("lead = %v cycle = %v", res[0].LeadDays, res[0].CycleDays)
	}
}

func TestCycleTimeAtMostLeadTime(t *testing.T) {
	tasks := []domain.Task{
		{ID: "a", Status: domain.StatusCompleted, CreatedAt: "2024-03-01T00:00:00Z", UpdatedAt: "2024-03-10T00:00:00Z"},
	}
	entries := []domain.HistoryEntry{statusEntry("a", "2024-03-04", domain.StatusInProgress)}
	res := CycleTimes(tasks, entries)
	if res[0].CycleDays > res[0].LeadDays {
		t.Fatalf("cycle %v > lead %v", res[0].CycleDays, res[0].LeadDays)
	}
	if res[0].LeadDays != 9.0 || res[0].CycleDays != 5.5 {
		t.Fatalf("lead = %v cycle = %v", res[0].LeadDays, res[0].CycleDays)
	}
}

func TestCycleTimeKeepsMostRecentTwenty(t *testing.T) {
	var tasks []domain.Task
	for i := 0; i < 25; i++ {
		tasks = append(tasks, domain.Task{
			ID:        fmt.Sprintf("t-%02d", i),
			Status:    domain.StatusCompleted,
			CreatedAt: "2024-03-01T00:00:00Z",
			UpdatedAt: timestampForDay(i),
		})
	}
	res := CycleTimes(tasks, nil)
	if len(res) != 20 {
		t.Fatalf("kept %d records, want 20", len(res))
	}
	// oldest five dropped
	if res[0].CompletedAt != timestampForDay(5) {
		t.Fatalf("first kept = %s", res[0].CompletedAt)
	}
}

func timestampForDay(i int) string {
	return fmt.Sprintf("2024-03-%02dT00:00:00Z", i+2)
}

func TestTeamPerformanceEndToEnd(t *testing.T) {
	// Task with 3 points moved todo -> in_progress, completed two days
	// later: cycle time 2 days, one delivered task worth 3 points.
	tasks := []domain.Task{
		{
			ID: "a", Status: domain.StatusCompleted, AssigneeID: strPtr("dana"),
			StoryPoints: intPtr(3),
			CreatedAt:   "2024-03-01T10:00:00Z", UpdatedAt: "2024-03-03T10:00:00Z",
		},
		{ID: "b", Status: domain.StatusTodo, AssigneeID: strPtr("dana")},
		{ID: "c", Status: domain.StatusCompleted, AssigneeID: strPtr("eve"), StoryPoints: intPtr(1), CreatedAt: "2024-03-01T00:00:00Z", UpdatedAt: "2024-03-02T00:00:00Z"},
		{ID: "d", Status: domain.StatusTodo}, // unassigned, excluded
		// unestimated but completed: delivers the board default of 1
		{ID: "e", Status: domain.StatusCompleted, AssigneeID: strPtr("eve"), CreatedAt: "2024-03-01T00:00:00Z", UpdatedAt: "2024-03-02T00:00:00Z"},
	}
	entries := []domain.HistoryEntry{
		{TaskID: "a", Action: domain.ActionStatusChanged, NewValue: strPtr(domain.StatusInProgress), CreatedAt: "2024-03-01T10:00:00Z"},
	}

	stats := TeamPerformance(tasks, entries, config.Default("proj-1"))
	if len(stats) != 2 {
		t.Fatalf("assignees = %d", len(stats))
	}
	dana := stats[0]
	if dana.AssigneeID != "dana" {
		t.Fatalf("sorted by points delivered, got %s first", dana.AssigneeID)
	}
	if dana.TaskCount != 2 || dana.CompletedCount != 1 {
		t.Fatalf("dana counts = %+v", dana)
	}
	if dana.CompletionRate != 50 {
		t.Fatalf("dana completion rate = %d", dana.CompletionRate)
	}
	if dana.PointsDelivered != 3 {
		t.Fatalf("dana points = %d", dana.PointsDelivered)
	}
	if dana.MeanCycleDays != 2.0 {
		t.Fatalf("dana mean cycle = %v", dana.MeanCycleDays)
	}
	eve := stats[1]
	if eve.PointsDelivered != 2 {
		t.Fatalf("eve points = %d, want 1 estimated + 1 default", eve.PointsDelivered)
	}
	if eve.CompletedCount != 2 {
		t.Fatalf("eve completed = %d", eve.CompletedCount)
	}
}

func TestRound1(t *testing.T) {
	cases := map[float64]float64{
		8.54: 8.5,
		8.56: 8.6,
		10.0: 10.0,
		2.0:  2.0,
	}
	for in, want := range cases {
		if got := round1(in); got != want {
			t.Fatalf("round1(%v) = %v, want %v", in, got, want)
		}
	}
}
