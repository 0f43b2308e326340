package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailtasks/internal/model"
)

// CreateTask inserts a new extracted task and returns it with its ID,
// status and creation time filled in.
func (s *SQLiteStore) CreateTask(
	ctx context.Context,
	task model.Task,
) (model.Task, error) {
	return insertTask(ctx, s.db, task)
}

// insertTask fills defaults on task and inserts it through db, which may
// be the store's handle or an open transaction.
func insertTask(ctx context.Context, db sqlx.ExecerContext, task model.Task) (model.Task, error) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = model.TaskStatusOpen
	}
	if !task.Priority.Valid() {
		task.Priority = model.PriorityMedium
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	recipients, err := json.Marshal(task.Recipients)
	if err != nil {
		return model.Task{}, fmt.Errorf("marshaling recipients for task %s: %w", task.ID, err)
	}

	var due sql.NullTime
	if task.DueDate != nil {
		due = sql.NullTime{Time: task.DueDate.UTC(), Valid: true}
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, account_id, message_id,
			title, description, priority, due_date, status,
			sender, recipients, received_at, created_at
		) VALUES (
			?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?
		)`,
		task.ID, task.AccountID, task.MessageID,
		task.Title, task.Description, string(task.Priority), due, task.Status,
		task.Sender, string(recipients), task.ReceivedAt.UTC(), task.CreatedAt.UTC(),
	)
	if err != nil {
		return model.Task{}, fmt.Errorf("creating task %s: %w", task.ID, err)
	}

	return task, nil
}

// GetTasks retrieves tasks matching the provided filter options.
func (s *SQLiteStore) GetTasks(
	ctx context.Context,
	opts TaskFilter,
) ([]model.Task, error) {
	var conditions []string
	var args []interface{}

	if opts.AccountID != nil {
		conditions = append(conditions, "account_id = ?")
		args = append(args, *opts.AccountID)
	}
	if opts.MessageID != nil {
		conditions = append(conditions, "message_id = ?")
		args = append(args, *opts.MessageID)
	}
	if opts.Priority != nil {
		conditions = append(conditions, "priority = ?")
		args = append(args, string(*opts.Priority))
	}
	if opts.Query != nil && *opts.Query != "" {
		conditions = append(conditions, "(title LIKE ? OR description LIKE ?)")
		q := "%" + *opts.Query + "%"
		args = append(args, q, q)
	}

	query := "SELECT * FROM tasks"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	sortBy := "created_at"
	if opts.SortBy != "" {
		allowedSorts := map[string]string{
			"title":       "title",
			"due_date":    "due_date",
			"received_at": "received_at",
			"created_at":  "created_at",
			"priority": "CASE priority WHEN 'URGENT' THEN 4 WHEN 'HIGH' THEN 3 " +
				"WHEN 'MEDIUM' THEN 2 ELSE 1 END",
		}
		if col, ok := allowedSorts[opts.SortBy]; ok {
			sortBy = col
		}
	}

	direction := "ASC"
	if opts.SortDesc {
		direction = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, id ASC", sortBy, direction)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

// scanTask scans a task row from a sqlx.Rows result set.
func scanTask(rows *sqlx.Rows) (model.Task, error) {
	var (
		task       model.Task
		priority   string
		due        sql.NullTime
		recipients string
	)

	err := rows.Scan(
		&task.ID, &task.AccountID, &task.MessageID,
		&task.Title, &task.Description, &priority, &due, &task.Status,
		&task.Sender, &recipients, &task.ReceivedAt, &task.CreatedAt,
	)
	if err != nil {
		return model.Task{}, fmt.Errorf("scanning task row: %w", err)
	}

	task.Priority = model.Priority(priority)
	if due.Valid {
		d := due.Time
		task.DueDate = &d
	}

	if recipients != "" {
		if err := json.Unmarshal([]byte(recipients), &task.Recipients); err != nil {
			return model.Task{}, fmt.Errorf("unmarshaling recipients: %w", err)
		}
	}

	return task, nil
}
