package db

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"taskmanager/internal/domain/errors"
	"taskmanager/internal/domain/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const queryTimeout = 15 * time.Second

const (
	taskColumns = `id, user_id, title, description, status, category, is_completed, completed_at, created_at, updated_at`
	userColumns = `id, email, name, password, created_at, updated_at`

	queryCreateTask = `INSERT INTO tasks (` + taskColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	queryGetTask    = `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 AND user_id = $2`
	queryLockTask   = queryGetTask + ` FOR UPDATE`
	queryUpdateTask = `UPDATE tasks
		SET title = $3, description = $4, status = $5, category = $6, is_completed = $7, completed_at = $8, updated_at = $9
		WHERE id = $1 AND user_id = $2`
	queryDeleteTask = `DELETE FROM tasks WHERE id = $1 AND user_id = $2 RETURNING ` + taskColumns
	queryCountTasks = `SELECT status, category, is_completed, COUNT(*)
		FROM tasks WHERE user_id = $1
		GROUP BY status, category, is_completed`

	queryCreateUser     = `INSERT INTO users (` + userColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
	queryGetUserByID    = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	queryGetUserByEmail = `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	uniqueViolation = "23505"
)

type Storage struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStorage connects a pool to connStr and verifies it with a ping.
func NewStorage(ctx context.Context, connStr string, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		logger.Error("failed to create database pool", slog.Any("error", err))
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		logger.Error("failed to connect to database", slog.Any("error", err))
		return nil, err
	}

	logger.Info("database connection established")
	return &Storage{pool: pool, logger: logger}, nil
}

func (s *Storage) Close() {
	s.pool.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return s.pool.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func validUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task     models.Task
		status   string
		category string
	)
	err := row.Scan(&task.ID, &task.OwnerID, &task.Title, &task.Description, &status, &category,
		&task.IsCompleted, &task.CompletedAt, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}
	task.Status = models.Status(status)
	task.Category = models.Category(category)
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()
	if task.CompletedAt != nil {
		stamp := task.CompletedAt.UTC()
		task.CompletedAt = &stamp
	}
	return &task, nil
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &user.Password, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return &user, nil
}

func (s *Storage) CreateTask(ctx context.Context, task *models.Task) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, queryCreateTask,
		task.ID, task.OwnerID, task.Title, task.Description, string(task.Status), string(task.Category),
		task.IsCompleted, task.CompletedAt, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: task id %s already exists", errors.ErrInternal, task.ID)
		}
		s.logger.ErrorContext(ctx, "failed to create task", slog.String("task_id", task.ID), slog.Any("error", err))
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *Storage) GetTask(ctx context.Context, ownerID, id string) (*models.Task, error) {
	if !validUUID(id) || !validUUID(ownerID) {
		return nil, errors.ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	task, err := scanTask(s.pool.QueryRow(ctx, queryGetTask, id, ownerID))
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.ErrNotFound
		}
		s.logger.ErrorContext(ctx, "failed to get task", slog.String("task_id", id), slog.Any("error", err))
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (s *Storage) ListTasks(ctx context.Context, ownerID string, filter models.TaskFilter) ([]models.Task, error) {
	tasks := []models.Task{}
	if !validUUID(ownerID) {
		return tasks, nil
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var sb strings.Builder
	sb.WriteString(`SELECT ` + taskColumns + ` FROM tasks WHERE user_id = $1`)
	args := []any{ownerID}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		sb.WriteString(` AND status = $` + strconv.Itoa(len(args)))
	}
	if filter.Category != nil {
		args = append(args, string(*filter.Category))
		sb.WriteString(` AND category = $` + strconv.Itoa(len(args)))
	}
	sb.WriteString(` ORDER BY created_at DESC, id DESC`)

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list tasks", slog.Any("error", err))
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTask locks the row with SELECT ... FOR UPDATE, so concurrent
// writers of the same task are applied one after another.
func (s *Storage) UpdateTask(ctx context.Context, ownerID, id string, mutate func(*models.Task) error) (*models.Task, error) {
	if !validUUID(id) || !validUUID(ownerID) {
		return nil, errors.ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	task, err := scanTask(tx.QueryRow(ctx, queryLockTask, id, ownerID))
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.ErrNotFound
		}
		return nil, fmt.Errorf("lock task: %w", err)
	}

	created := task.CreatedAt
	if err := mutate(task); err != nil {
		return nil, err
	}
	task.ID, task.OwnerID, task.CreatedAt = id, ownerID, created

	_, err = tx.Exec(ctx, queryUpdateTask, id, ownerID,
		task.Title, task.Description, string(task.Status), string(task.Category),
		task.IsCompleted, task.CompletedAt, task.UpdatedAt)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to update task", slog.String("task_id", id), slog.Any("error", err))
		return nil, fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit task update: %w", err)
	}
	return task, nil
}

func (s *Storage) DeleteTask(ctx context.Context, ownerID, id string) (*models.Task, error) {
	if !validUUID(id) || !validUUID(ownerID) {
		return nil, errors.ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	task, err := scanTask(s.pool.QueryRow(ctx, queryDeleteTask, id, ownerID))
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.ErrNotFound
		}
		s.logger.ErrorContext(ctx, "failed to delete task", slog.String("task_id", id), slog.Any("error", err))
		return nil, fmt.Errorf("delete task: %w", err)
	}
	return task, nil
}

func (s *Storage) CountTasks(ctx context.Context, ownerID string) ([]models.TaskCount, error) {
	counts := []models.TaskCount{}
	if !validUUID(ownerID) {
		return counts, nil
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, queryCountTasks, ownerID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to count tasks", slog.Any("error", err))
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status, category string
			completed        bool
			n                int64
		)
		if err := rows.Scan(&status, &category, &completed, &n); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		counts = append(counts, models.TaskCount{
			Status:      models.Status(status),
			Category:    models.Category(category),
			IsCompleted: completed,
			Count:       int(n),
		})
	}
	return counts, rows.Err()
}

func (s *Storage) CreateUser(ctx context.Context, user *models.User) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, queryCreateUser,
		user.ID, strings.ToLower(user.Email), user.Name, user.Password, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ErrConflict
		}
		s.logger.ErrorContext(ctx, "failed to create user", slog.Any("error", err))
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Storage) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	if !validUUID(id) {
		return nil, errors.ErrUserNotFound
	}
	return s.getUser(ctx, queryGetUserByID, id)
}

func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, queryGetUserByEmail, strings.ToLower(email))
}

func (s *Storage) getUser(ctx context.Context, query, arg string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	user, err := scanUser(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.ErrUserNotFound
		}
		s.logger.ErrorContext(ctx, "failed to get user", slog.Any("error", err))
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}
