package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"taskmanager/internal/domain/errors"
	"taskmanager/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "tasks.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func createUser(t *testing.T, s *Storage, id, email string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, s.CreateUser(context.Background(), &models.User{
		ID: id, Email: email, Name: id, Password: "hash", CreatedAt: now, UpdatedAt: now,
	}))
}

func newTask(id, owner string, status models.Status, created time.Time) *models.Task {
	task := &models.Task{
		ID:        id,
		OwnerID:   owner,
		Title:     "task " + id,
		Status:    status,
		Category:  models.CategoryEducation,
		CreatedAt: created,
		UpdatedAt: created,
	}
	task.ApplyCompletion(created)
	return task
}

func TestNewStorageIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	first, err := NewStorage(path, logger)
	require.NoError(t, err)
	first.Close()

	second, err := NewStorage(path, logger)
	require.NoError(t, err)
	defer second.Close()

	var version int
	require.NoError(t, second.db.Get(&version, "SELECT MAX(version) FROM schema_version"))
	assert.Equal(t, len(migrations), version)
	assert.NoError(t, second.Ping(context.Background()))
}

func TestStorageUsers(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	createUser(t, s, "u1", "alice@example.com")

	tests := []struct {
		name string
		user *models.User
		want struct {
			err error
		}
	}{
		{
			name: "new email",
			user: &models.User{ID: "u2", Email: "bob@example.com", Name: "Bob", Password: "x"},
		},
		{
			name: "taken email in other case",
			user: &models.User{ID: "u3", Email: "ALICE@example.com", Name: "Alice 2", Password: "x"},
			want: struct{ err error }{err: errors.ErrConflict},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.CreateUser(ctx, tt.user)
			if tt.want.err != nil {
				assert.ErrorIs(t, err, tt.want.err)
				return
			}
			assert.NoError(t, err)
		})
	}

	user, err := s.GetUserByEmail(ctx, "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	_, err = s.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrUserNotFound)
}

func TestStorageTaskRoundTrip(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	createUser(t, s, "alice", "alice@example.com")

	created := time.Date(2026, 2, 3, 4, 5, 6, 789000000, time.UTC)
	task := newTask("t1", "alice", models.StatusCompleted, created)
	require.NoError(t, s.CreateTask(ctx, task))

	got, err := s.GetTask(ctx, "alice", "t1")
	require.NoError(t, err)
	assert.Equal(t, "task t1", got.Title)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, models.CategoryEducation, got.Category)
	assert.True(t, got.IsCompleted)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, created.Equal(*got.CompletedAt))
	assert.True(t, created.Equal(got.CreatedAt))

	_, err = s.GetTask(ctx, "bob", "t1")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	err = s.CreateTask(ctx, newTask("t1", "alice", models.StatusPending, created))
	assert.ErrorIs(t, err, errors.ErrInternal, "a task id clash is not a user conflict")
	assert.NotErrorIs(t, err, errors.ErrConflict)
}

func TestStorageListOrderAndFilter(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	createUser(t, s, "alice", "alice@example.com")
	createUser(t, s, "bob", "bob@example.com")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateTask(ctx, newTask("a", "alice", models.StatusPending, base)))
	require.NoError(t, s.CreateTask(ctx, newTask("b", "alice", models.StatusInProgress, base.Add(1500*time.Millisecond))))
	require.NoError(t, s.CreateTask(ctx, newTask("c", "alice", models.StatusPending, base.Add(10*time.Second))))
	require.NoError(t, s.CreateTask(ctx, newTask("d", "bob", models.StatusPending, base)))

	all, err := s.ListTasks(ctx, "alice", models.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	pending := models.StatusPending
	education := models.CategoryEducation
	filtered, err := s.ListTasks(ctx, "alice", models.TaskFilter{Status: &pending, Category: &education})
	require.NoError(t, err)
	assert.Len(t, filtered, 2)

	work := models.CategoryWork
	none, err := s.ListTasks(ctx, "alice", models.TaskFilter{Category: &work})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStorageUpdateTask(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	createUser(t, s, "alice", "alice@example.com")
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateTask(ctx, newTask("t1", "alice", models.StatusPending, created)))

	later := created.Add(time.Hour)
	updated, err := s.UpdateTask(ctx, "alice", "t1", func(task *models.Task) error {
		models.TaskPatch{Status: ptr(models.StatusCompleted)}.Apply(task, later)
		task.OwnerID = "mallory"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", updated.OwnerID)
	assert.True(t, updated.IsCompleted)

	stored, err := s.GetTask(ctx, "alice", "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	assert.True(t, later.Equal(*stored.CompletedAt))

	_, err = s.UpdateTask(ctx, "bob", "t1", func(*models.Task) error { return nil })
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = s.UpdateTask(ctx, "alice", "t1", func(task *models.Task) error {
		task.Title = "never saved"
		return errors.ErrValidation
	})
	assert.ErrorIs(t, err, errors.ErrValidation)
	stored, err = s.GetTask(ctx, "alice", "t1")
	require.NoError(t, err)
	assert.Equal(t, "task t1", stored.Title)
}

func TestStorageConcurrentUpdates(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	createUser(t, s, "alice", "alice@example.com")
	require.NoError(t, s.CreateTask(ctx, newTask("t1", "alice", models.StatusPending, time.Now().UTC())))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateTask(ctx, "alice", "t1", func(task *models.Task) error {
				task.Description += "x"
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	task, err := s.GetTask(ctx, "alice", "t1")
	require.NoError(t, err)
	assert.Len(t, task.Description, 20)
}

func TestStorageDeleteAndCount(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	createUser(t, s, "alice", "alice@example.com")
	now := time.Now().UTC()
	require.NoError(t, s.CreateTask(ctx, newTask("t1", "alice", models.StatusPending, now)))
	require.NoError(t, s.CreateTask(ctx, newTask("t2", "alice", models.StatusCompleted, now)))
	require.NoError(t, s.CreateTask(ctx, newTask("t3", "alice", models.StatusCompleted, now)))

	_, err := s.DeleteTask(ctx, "bob", "t1")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	deleted, err := s.DeleteTask(ctx, "alice", "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", deleted.ID)

	counts, err := s.CountTasks(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []models.TaskCount{
		{Status: models.StatusCompleted, Category: models.CategoryEducation, IsCompleted: true, Count: 2},
	}, counts)

	empty, err := s.CountTasks(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func ptr[T any](v T) *T { return &v }
