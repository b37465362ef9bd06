// Package tasks implements the task lifecycle: ownership-scoped CRUD,
// status/completion coupling, filtering, statistics and suggestions.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"taskmanager/internal/domain/errors"
	"taskmanager/internal/domain/models"
)

// Store persists tasks. Every single-task method is scoped by owner and
// returns errors.ErrNotFound for tasks that are missing or belong to
// someone else.
type Store interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, ownerID, id string) (*models.Task, error)
	// ListTasks returns matching tasks newest first.
	ListTasks(ctx context.Context, ownerID string, filter models.TaskFilter) ([]models.Task, error)
	// UpdateTask runs mutate on the current row and persists the result
	// atomically with respect to other writers of the same task.
	UpdateTask(ctx context.Context, ownerID, id string, mutate func(*models.Task) error) (*models.Task, error)
	DeleteTask(ctx context.Context, ownerID, id string) (*models.Task, error)
	CountTasks(ctx context.Context, ownerID string) ([]models.TaskCount, error)
}

type Suggester interface {
	Suggest(ctx context.Context, topic string) ([]string, error)
}

type OperationRecorder interface {
	RecordTaskOperation(operation, result string)
}

type TaskInput struct {
	Title       string
	Description string
	Status      *models.Status
	Category    *models.Category
}

type Engine struct {
	store     Store
	suggester Suggester
	recorder  OperationRecorder
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithSuggester(s Suggester) Option {
	return func(e *Engine) { e.suggester = s }
}

func WithMetrics(r OperationRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) record(op string, err error) {
	if e.recorder == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	e.recorder.RecordTaskOperation(op, result)
}

func (e *Engine) Create(ctx context.Context, ownerID string, in TaskInput) (task *models.Task, err error) {
	defer func() { e.record("create", err) }()

	title, description, verr := cleanInput(&in.Title, &in.Description)
	validateEnums(verr, in.Status, in.Category)
	if err := verr.Err(); err != nil {
		return nil, err
	}

	now := e.now()
	task = &models.Task{
		ID:          newID(),
		OwnerID:     ownerID,
		Title:       *title,
		Description: *description,
		Status:      models.StatusPending,
		Category:    models.CategoryOther,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Status != nil {
		task.Status = *in.Status
	}
	if in.Category != nil {
		task.Category = *in.Category
	}
	task.ApplyCompletion(now)

	if err := e.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	e.logger.DebugContext(ctx, "task created", slog.String("task_id", task.ID), slog.String("user_id", ownerID))
	return task, nil
}

func (e *Engine) List(ctx context.Context, ownerID string, filter models.TaskFilter) (tasks []models.Task, err error) {
	defer func() { e.record("list", err) }()

	verr := &errors.ValidationError{}
	validateEnums(verr, filter.Status, filter.Category)
	if err := verr.Err(); err != nil {
		return nil, err
	}
	return e.store.ListTasks(ctx, ownerID, filter)
}

func (e *Engine) Get(ctx context.Context, ownerID, taskID string) (task *models.Task, err error) {
	defer func() { e.record("get", err) }()
	return e.store.GetTask(ctx, ownerID, taskID)
}

// Update validates the present fields of patch, merges them into the
// stored task and re-derives the completion fields in one atomic step.
func (e *Engine) Update(ctx context.Context, ownerID, taskID string, patch models.TaskPatch) (task *models.Task, err error) {
	defer func() { e.record("update", err) }()
	return e.update(ctx, ownerID, taskID, patch)
}

// UpdateStatus is Update restricted to status and the completion hint.
func (e *Engine) UpdateStatus(ctx context.Context, ownerID, taskID string, status models.Status, isCompleted *bool) (task *models.Task, err error) {
	defer func() { e.record("update_status", err) }()
	return e.update(ctx, ownerID, taskID, models.TaskPatch{Status: &status, IsCompleted: isCompleted})
}

func (e *Engine) update(ctx context.Context, ownerID, taskID string, patch models.TaskPatch) (*models.Task, error) {
	title, description, verr := cleanInput(patch.Title, patch.Description)
	validateEnums(verr, patch.Status, patch.Category)
	if err := verr.Err(); err != nil {
		return nil, err
	}
	patch.Title, patch.Description = title, description

	now := e.now()
	return e.store.UpdateTask(ctx, ownerID, taskID, func(t *models.Task) error {
		patch.Apply(t, now)
		return nil
	})
}

// Delete removes the task permanently and returns its last state.
func (e *Engine) Delete(ctx context.Context, ownerID, taskID string) (task *models.Task, err error) {
	defer func() { e.record("delete", err) }()

	task, err = e.store.DeleteTask(ctx, ownerID, taskID)
	if err != nil {
		return nil, err
	}
	e.logger.DebugContext(ctx, "task deleted", slog.String("task_id", task.ID), slog.String("user_id", ownerID))
	return task, nil
}

func (e *Engine) Stats(ctx context.Context, ownerID string) (stats *models.Stats, err error) {
	defer func() { e.record("stats", err) }()

	counts, err := e.store.CountTasks(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return models.NewStats(counts), nil
}

// Suggest asks the configured Suggester for up to five tasks about topic.
// Any failure of the suggester surfaces as errors.ErrCollaborator.
func (e *Engine) Suggest(ctx context.Context, topic string) (suggestions []string, err error) {
	defer func() { e.record("suggest", err) }()

	topic, verr := cleanTopic(topic)
	if verr != nil {
		return nil, verr
	}
	if e.suggester == nil {
		return nil, fmt.Errorf("%w: no suggester configured", errors.ErrCollaborator)
	}

	suggestions, err = e.suggester.Suggest(ctx, topic)
	if err != nil {
		e.logger.WarnContext(ctx, "suggestion request failed", slog.String("topic", topic), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %w", errors.ErrCollaborator, err)
	}
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return suggestions, nil
}
