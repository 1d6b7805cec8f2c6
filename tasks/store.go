package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Status values for a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// Priority values for a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// openTaskLimit caps how many open tasks are surfaced to an agent's prompt.
const openTaskLimit = 10

// Task is a unit of assigned work. This core only reads tasks; the dashboard
// owns their full lifecycle.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// Store provides read access to the tasks table.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore creates a Store.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "task_store").Logger(),
	}
}

// OpenForAgent returns the agent's non-done tasks, highest priority first,
// earliest due date next with undated tasks last, capped at 10.
func (s *Store) OpenForAgent(ctx context.Context, agentID string) ([]Task, error) {
	queryStr, args, err := sq.Select(
		"id", "title", "description", "status", "priority", "assigned_to", "due_date").
		From("tasks").
		Where(sq.Eq{"assigned_to": agentID}).
		Where(sq.NotEq{"status": string(StatusDone)}).
		OrderBy(
			"CASE priority WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC",
			"due_date IS NULL ASC",
			"due_date ASC",
		).
		Limit(openTaskLimit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query open tasks: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var out []Task
	for rows.Next() {
		var (
			t           Task
			description sql.NullString
			assignedTo  sql.NullString
			dueUnix     sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &t.Title, &description, &t.Status, &t.Priority, &assignedTo, &dueUnix); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Description = description.String
		t.AssignedTo = assignedTo.String
		if dueUnix.Valid {
			due := time.Unix(dueUnix.Int64, 0)
			t.DueDate = &due
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Create inserts a task row. Used by seeding and tests; the dashboard is the
// normal producer.
func (s *Store) Create(ctx context.Context, t *Task) error {
	if t == nil || t.Title == "" {
		return errors.New("title is required")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = StatusTodo
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}

	var dueVal interface{}
	if t.DueDate != nil {
		dueVal = t.DueDate.Unix()
	}

	nowUnix := time.Now().Unix()
	queryStr, args, err := sq.Insert("tasks").
		Columns("id", "title", "description", "status", "priority",
			"assigned_to", "due_date", "created_at", "updated_at").
		Values(t.ID, t.Title, t.Description, string(t.Status), string(t.Priority),
			t.AssignedTo, dueVal, nowUnix, nowUnix).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	s.logger.Debug().Str("task_id", t.ID).Str("assigned_to", t.AssignedTo).Msg("Task created")
	return nil
}
