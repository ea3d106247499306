package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skeind/showrunner/internal/domain"
	"github.com/skeind/showrunner/internal/platform/logger"
	"github.com/skeind/showrunner/internal/store"
)

// taskColumns is the column list shared by every task SELECT so scans
// stay in one shape.
const taskColumns = `id, kind, payload, priority, status, attempts, max_attempts,
	assigned_node_id, result, error_message, created_at, updated_at, started_at, completed_at`

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the TaskStore interface.
// It accepts a database connection or transaction that should be initialized and managed
// by the caller. If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// WithTx returns a copy of the store bound to the given transaction.
// Used with store.RunInTransaction to group writes atomically.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) *PostgresTaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// SaveTask implements store.TaskStore.SaveTask
// It persists a new task record.
// Returns store.ErrTaskExists if a task with the same ID is already stored.
func (s *PostgresTaskStore) SaveTask(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during save",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		task.ID,
		task.Kind,
		[]byte(task.Payload),
		task.Priority,
		task.Status,
		task.Attempts,
		task.MaxAttempts,
		nullString(task.AssignedNodeID),
		[]byte(task.Result),
		task.Error,
		task.CreatedAt,
		task.UpdatedAt,
		task.StartedAt,
		task.CompletedAt,
	)

	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %v", store.ErrTaskExists, err)
		}
		log.Error("failed to save task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()),
			slog.String("kind", task.Kind))
		return fmt.Errorf("failed to save task: %w", err)
	}

	log.Debug("task saved",
		slog.String("task_id", task.ID.String()),
		slog.String("kind", task.Kind),
		slog.Int("priority", task.Priority))
	return nil
}

// UpdateTask implements store.TaskStore.UpdateTask
// It overwrites the stored record for the task's ID in a single statement.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) UpdateTask(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during update",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		UPDATE tasks
		SET kind = $2, payload = $3, priority = $4, status = $5, attempts = $6,
			max_attempts = $7, assigned_node_id = $8, result = $9, error_message = $10,
			updated_at = $11, started_at = $12, completed_at = $13
		WHERE id = $1
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		task.ID,
		task.Kind,
		[]byte(task.Payload),
		task.Priority,
		task.Status,
		task.Attempts,
		task.MaxAttempts,
		nullString(task.AssignedNodeID),
		[]byte(task.Result),
		task.Error,
		task.UpdatedAt,
		task.StartedAt,
		task.CompletedAt,
	)

	if err != nil {
		log.Error("failed to update task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return fmt.Errorf("failed to update task: %w", err)
	}

	if err := CheckRowsAffected(result, "task"); err != nil {
		return fmt.Errorf("%w: %s", store.ErrTaskNotFound, task.ID)
	}

	log.Debug("task updated",
		slog.String("task_id", task.ID.String()),
		slog.String("status", string(task.Status)))
	return nil
}

// GetTask implements store.TaskStore.GetTask
// It retrieves a task by its unique ID.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("task not found", slog.String("task_id", id.String()))
			return nil, store.ErrTaskNotFound
		}
		log.Error("failed to get task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, err
	}

	return task, nil
}

// ListTasks implements store.TaskStore.ListTasks
// It returns all tasks matching the filter in no guaranteed order.
func (s *PostgresTaskStore) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + taskColumns + ` FROM tasks`
	var conditions []string
	var args []any

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			args = append(args, status)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	if len(filter.Kinds) > 0 {
		placeholders := make([]string, 0, len(filter.Kinds))
		for _, kind := range filter.Kinds {
			args = append(args, kind)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		conditions = append(conditions, "kind IN ("+strings.Join(placeholders, ", ")+")")
	}

	if filter.NodeID != "" {
		args = append(args, filter.NodeID)
		conditions = append(conditions, fmt.Sprintf("assigned_node_id = $%d", len(args)))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY created_at ASC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query tasks", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			log.Error("failed to scan task row", slog.String("error", err.Error()))
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		log.Error("error iterating task rows", slog.String("error", err.Error()))
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return tasks, nil
}

// RequeueInFlight implements store.TaskStore.RequeueInFlight
// It returns every assigned or running task to pending in one statement,
// recording the reason and leaving attempt counters untouched.
func (s *PostgresTaskStore) RequeueInFlight(ctx context.Context, reason string) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE tasks
		SET status = $1, assigned_node_id = NULL, started_at = NULL,
			error_message = $2, updated_at = $3
		WHERE status IN ($4, $5)
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		domain.TaskStatusPending,
		reason,
		time.Now().UTC(),
		domain.TaskStatusAssigned,
		domain.TaskStatusRunning,
	)
	if err != nil {
		log.Error("failed to requeue in-flight tasks", slog.String("error", err.Error()))
		return 0, fmt.Errorf("failed to requeue in-flight tasks: %w", err)
	}

	requeued, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if requeued > 0 {
		log.Info("requeued in-flight tasks", slog.Int64("count", requeued))
	}
	return requeued, nil
}

// DeleteTerminalBefore implements store.TaskStore.DeleteTerminalBefore
// It removes terminal tasks whose terminal timestamp is older than the cutoff.
func (s *PostgresTaskStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		DELETE FROM tasks
		WHERE status IN ($1, $2, $3) AND completed_at IS NOT NULL AND completed_at < $4
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		domain.TaskStatusCompleted,
		domain.TaskStatusFailed,
		domain.TaskStatusCancelled,
		cutoff,
	)
	if err != nil {
		log.Error("failed to delete terminal tasks", slog.String("error", err.Error()))
		return 0, fmt.Errorf("failed to delete terminal tasks: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if deleted > 0 {
		log.Debug("deleted terminal tasks", slog.Int64("count", deleted))
	}
	return deleted, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask reads one task row into a domain.Task.
func scanTask(row rowScanner) (*domain.Task, error) {
	var task domain.Task
	var payload, result []byte
	var assignedNodeID sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.Kind,
		&payload,
		&task.Priority,
		&task.Status,
		&task.Attempts,
		&task.MaxAttempts,
		&assignedNodeID,
		&result,
		&task.Error,
		&task.CreatedAt,
		&task.UpdatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Payload = payload
	task.Result = result
	task.AssignedNodeID = assignedNodeID.String
	if startedAt.Valid {
		started := startedAt.Time
		task.StartedAt = &started
	}
	if completedAt.Valid {
		completed := completedAt.Time
		task.CompletedAt = &completed
	}

	return &task, nil
}

// nullString maps an empty string to SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
