package domain

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status" enum:"active,paused,archived"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Task struct {
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

type Sprint struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Status    string `json:"status" enum:"planning,active,completed,cancelled"`
	StartDate string `json:"start_date" format:"date"`
	EndDate   string `json:"end_date" format:"date"`
	Velocity  *int   `json:"velocity,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// HistoryEntry is one field-level change in a task's append-only log.
// Rows are never mutated or deleted after insert.
type HistoryEntry struct {
	ID        int64   `json:"id"`
	TaskID    string  `json:"task_id"`
	ActorID   string  `json:"actor_id"`
	Action    string  `json:"action" enum:"created,status_changed,assigned,unassigned,priority_changed,due_date_changed,title_changed,description_changed,comment_added,deleted"`
	OldValue  *string `json:"old_value,omitempty"`
	NewValue  *string `json:"new_value,omitempty"`
	Comment   *string `json:"comment,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Task workflow statuses. Every ordered pair of distinct statuses is a
// legal transition; none is terminal.
const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusReview     = "review"
	StatusCompleted  = "completed"
)

// Statuses lists the workflow columns in board order.
var Statuses = []string{StatusTodo, StatusInProgress, StatusReview, StatusCompleted}

func ValidStatus(s string) bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// History actions.
const (
	ActionCreated            = "created"
	ActionStatusChanged      = "status_changed"
	ActionAssigned           = "assigned"
	ActionUnassigned         = "unassigned"
	ActionPriorityChanged    = "priority_changed"
	ActionDueDateChanged     = "due_date_changed"
	ActionTitleChanged       = "title_changed"
	ActionDescriptionChanged = "description_changed"
	ActionCommentAdded       = "comment_added"
	ActionDeleted            = "deleted"
)

// Sprint statuses.
const (
	SprintPlanning  = "planning"
	SprintActive    = "active"
	SprintCompleted = "completed"
	SprintCancelled = "cancelled"
)
