package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"taskmanager/internal/domain/errors"
	"taskmanager/internal/domain/models"
)

// Storage keeps users and tasks in process memory. It is used in tests and
// as a fallback when no database is reachable.
type Storage struct {
	mu     sync.RWMutex
	users  map[string]models.User
	emails map[string]string
	tasks  map[string]models.Task
}

func NewStorage() *Storage {
	return &Storage{
		users:  make(map[string]models.User),
		emails: make(map[string]string),
		tasks:  make(map[string]models.Task),
	}
}

func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Storage) Close() {}

func (s *Storage) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[id]
	if !exists {
		return nil, errors.ErrUserNotFound
	}
	return &user, nil
}

func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.emails[strings.ToLower(email)]
	if !exists {
		return nil, errors.ErrUserNotFound
	}
	user := s.users[id]
	return &user, nil
}

func (s *Storage) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(user.Email)
	if _, taken := s.emails[key]; taken {
		return errors.ErrConflict
	}
	if _, taken := s.users[user.ID]; taken {
		return errors.ErrConflict
	}
	s.users[user.ID] = *user
	s.emails[key] = user.ID
	return nil
}

func (s *Storage) CreateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("%w: task id %s already exists", errors.ErrInternal, task.ID)
	}
	s.tasks[task.ID] = cloneTask(*task)
	return nil
}

func (s *Storage) GetTask(ctx context.Context, ownerID, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, err := s.ownedTask(ownerID, id)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *Storage) ListTasks(ctx context.Context, ownerID string, filter models.TaskFilter) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := []models.Task{}
	for _, t := range s.tasks {
		if t.OwnerID == ownerID && filter.Match(&t) {
			tasks = append(tasks, cloneTask(t))
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID > tasks[j].ID
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// UpdateTask applies mutate under the write lock. Identity fields are
// restored afterwards so mutate cannot move a task to another owner.
func (s *Storage) UpdateTask(ctx context.Context, ownerID, id string, mutate func(*models.Task) error) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.ownedTask(ownerID, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(&current); err != nil {
		return nil, err
	}
	stored := s.tasks[id]
	current.ID, current.OwnerID, current.CreatedAt = stored.ID, stored.OwnerID, stored.CreatedAt

	s.tasks[id] = cloneTask(current)
	return &current, nil
}

func (s *Storage) DeleteTask(ctx context.Context, ownerID, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.ownedTask(ownerID, id)
	if err != nil {
		return nil, err
	}
	delete(s.tasks, id)
	return &task, nil
}

func (s *Storage) CountTasks(ctx context.Context, ownerID string) ([]models.TaskCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct {
		status    models.Status
		category  models.Category
		completed bool
	}
	groups := make(map[key]int)
	for _, t := range s.tasks {
		if t.OwnerID == ownerID {
			groups[key{t.Status, t.Category, t.IsCompleted}]++
		}
	}

	counts := make([]models.TaskCount, 0, len(groups))
	for k, n := range groups {
		counts = append(counts, models.TaskCount{Status: k.status, Category: k.category, IsCompleted: k.completed, Count: n})
	}
	return counts, nil
}

// ownedTask must be called with the lock held.
func (s *Storage) ownedTask(ownerID, id string) (models.Task, error) {
	task, exists := s.tasks[id]
	if !exists || task.OwnerID != ownerID {
		return models.Task{}, errors.ErrNotFound
	}
	return cloneTask(task), nil
}

func cloneTask(t models.Task) models.Task {
	if t.CompletedAt != nil {
		stamp := *t.CompletedAt
		t.CompletedAt = &stamp
	}
	return t
}
