// Package sqlite is a single-file SQLite implementation of the user and
// task stores.
package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"taskmanager/internal/domain/errors"
	"taskmanager/internal/domain/models"

	"github.com/jmoiron/sqlx"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const taskColumns = `id, user_id, title, description, status, category, is_completed, completed_at, created_at, updated_at`

type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage opens (or creates) the database at path, enables WAL and
// foreign keys, and applies pending migrations. All access goes through a
// single connection, which serialises writers.
func NewStorage(path string, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Storage{db: db, logger: logger}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Storage) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("closing sqlite db", slog.Any("error", err))
	}
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) runMigrations() error {
	current := 0

	var tables int
	err := s.db.Get(&tables, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tables > 0 {
		if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		s.logger.Info("sqlite migration applied", slog.Int("version", m.version))
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var serr *moderncsqlite.Error
	if !stderrors.As(err, &serr) {
		return false
	}
	switch serr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(serr.Error(), "UNIQUE")
	}
	return false
}

func (s *Storage) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, strings.ToLower(user.Email), user.Name, user.Password, user.CreatedAt.UTC(), user.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ErrConflict
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (s *Storage) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, email, name, password, created_at, updated_at FROM users WHERE id = ?`, id)
}

func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, email, name, password, created_at, updated_at FROM users WHERE email = ?`, strings.ToLower(email))
}

func (s *Storage) getUser(ctx context.Context, query string, arg string) (*models.User, error) {
	var user models.User
	if err := s.db.GetContext(ctx, &user, query, arg); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrUserNotFound
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &user, nil
}

func (s *Storage) CreateTask(ctx context.Context, task *models.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		taskArgs(task)...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: task id %s already exists", errors.ErrInternal, task.ID)
		}
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

func (s *Storage) GetTask(ctx context.Context, ownerID, id string) (*models.Task, error) {
	return getTask(ctx, s.db, ownerID, id)
}

func (s *Storage) ListTasks(ctx context.Context, ownerID string, filter models.TaskFilter) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ?`
	args := []any{ownerID}
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	if filter.Category != nil {
		query += ` AND category = ?`
		args = append(args, string(*filter.Category))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	tasks := []models.Task{}
	if err := s.db.SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return tasks, nil
}

func (s *Storage) UpdateTask(ctx context.Context, ownerID, id string, mutate func(*models.Task) error) (*models.Task, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	task, err := getTask(ctx, tx, ownerID, id)
	if err != nil {
		return nil, err
	}
	created := task.CreatedAt
	if err := mutate(task); err != nil {
		return nil, err
	}
	task.ID, task.OwnerID, task.CreatedAt = id, ownerID, created

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, status = ?, category = ?, is_completed = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		task.Title, task.Description, string(task.Status), string(task.Category), task.IsCompleted,
		utcPtr(task), task.UpdatedAt.UTC(), id, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("updating task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing task update: %w", err)
	}
	return task, nil
}

func (s *Storage) DeleteTask(ctx context.Context, ownerID, id string) (*models.Task, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	task, err := getTask(ctx, tx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, ownerID); err != nil {
		return nil, fmt.Errorf("deleting task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing task delete: %w", err)
	}
	return task, nil
}

func (s *Storage) CountTasks(ctx context.Context, ownerID string) ([]models.TaskCount, error) {
	counts := []models.TaskCount{}
	err := s.db.SelectContext(ctx, &counts,
		`SELECT status, category, is_completed, COUNT(*) AS count
		 FROM tasks WHERE user_id = ?
		 GROUP BY status, category, is_completed`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("counting tasks: %w", err)
	}
	return counts, nil
}

func getTask(ctx context.Context, q sqlx.QueryerContext, ownerID, id string) (*models.Task, error) {
	var task models.Task
	err := sqlx.GetContext(ctx, q, &task, `SELECT `+taskColumns+` FROM tasks WHERE id = ? AND user_id = ?`, id, ownerID)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrNotFound
		}
		return nil, fmt.Errorf("querying task: %w", err)
	}
	return &task, nil
}

func taskArgs(t *models.Task) []any {
	return []any{
		t.ID, t.OwnerID, t.Title, t.Description, string(t.Status), string(t.Category),
		t.IsCompleted, utcPtr(t), t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
	}
}

func utcPtr(t *models.Task) any {
	if t.CompletedAt == nil {
		return nil
	}
	return t.CompletedAt.UTC()
}
