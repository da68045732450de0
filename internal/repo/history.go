package repo

import (
	"context"
	"database/sql"
	"strings"

	"flowtrack/internal/domain"
)

const historyColumns = `id,task_id,actor_id,action,old_value,new_value,comment,created_at`

func scanHistory(scan func(dest ...any) error) (domain.HistoryEntry, error) {
	var e domain.HistoryEntry
	var oldValue, newValue, comment sql.NullString
	err := scan(&e.ID, &e.TaskID, &e.ActorID, &e.Action, &oldValue, &newValue, &comment, &e.CreatedAt)
	if err != nil {
		return e, err
	}
	if oldValue.Valid {
		e.OldValue = &oldValue.String
	}
	if newValue.Valid {
		e.NewValue = &newValue.String
	}
	if comment.Valid {
		e.Comment = &comment.String
	}
	return e, nil
}

// AppendHistory inserts entries outside any task transaction. The id
// and created_at fields of each entry are assigned here.
func (r Repo) AppendHistory(ctx context.Context, entries []domain.HistoryEntry) error {
	for _, e := range entries {
		_, err := r.DB.ExecContext(ctx, `INSERT INTO task_history(task_id,actor_id,action,old_value,new_value,comment,created_at) VALUES (?,?,?,?,?,?,?)`,
			e.TaskID, e.ActorID, e.Action, nullableStringPtr(e.OldValue), nullableStringPtr(e.NewValue), nullableStringPtr(e.Comment), e.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

type HistoryFilters struct {
	TaskID    string
	ProjectID string
	Action    string
	Actions   []string
	Since     string
	Until     string
	Limit     int
}

// ListHistory returns entries in insertion order (created_at, then
// autoincrement id as the same-timestamp tie-breaker).
func (r Repo) ListHistory(ctx context.Context, f HistoryFilters) ([]domain.HistoryEntry, error) {
	var clauses []string
	var args []any
	join := ""
	if f.TaskID != "" {
		clauses = append(clauses, "h.task_id=?")
		args = append(args, f.TaskID)
	}
	if f.ProjectID != "" {
		join = "JOIN tasks t ON t.id = h.task_id"
		clauses = append(clauses, "t.project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Action != "" {
		clauses = append(clauses, "h.action=?")
		args = append(args, f.Action)
	}
	if len(f.Actions) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Actions)), ",")
		clauses = append(clauses, "h.action IN ("+placeholders+")")
		for _, a := range f.Actions {
			args = append(args, a)
		}
	}
	if f.Since != "" {
		clauses = append(clauses, "h.created_at >= ?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "h.created_at <= ?")
		args = append(args, f.Until)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT h.` + strings.ReplaceAll(historyColumns, ",", ",h.") + ` FROM task_history h ` + join + ` ` + where + ` ORDER BY h.created_at ASC, h.id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// TailHistory returns the most recent entries for a project, newest
// first.
func (r Repo) TailHistory(ctx context.Context, projectID string, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT h.` + strings.ReplaceAll(historyColumns, ",", ",h.") + ` FROM task_history h
JOIN tasks t ON t.id = h.task_id WHERE t.project_id=? ORDER BY h.created_at DESC, h.id DESC LIMIT ?`
	rows, err := r.DB.QueryContext(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
