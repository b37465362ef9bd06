package models

import (
	"strings"
	"time"

	"taskmanager/internal/domain/errors"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

var Statuses = []Status{StatusPending, StatusInProgress, StatusCompleted}

func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", errors.Invalid("status", "must be one of "+joinValues(Statuses))
}

func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

func (s *Status) UnmarshalText(text []byte) error {
	v, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type Category string

const (
	CategoryPersonal  Category = "personal"
	CategoryWork      Category = "work"
	CategoryEducation Category = "education"
	CategoryHealth    Category = "health"
	CategoryOther     Category = "other"
)

var Categories = []Category{CategoryPersonal, CategoryWork, CategoryEducation, CategoryHealth, CategoryOther}

func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", errors.Invalid("category", "must be one of "+joinValues(Categories))
}

func (c Category) Valid() bool {
	_, err := ParseCategory(string(c))
	return err == nil
}

func (c *Category) UnmarshalText(text []byte) error {
	v, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func joinValues[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}

type Task struct {
	ID          string     `json:"id" db:"id"`
	OwnerID     string     `json:"userId" db:"user_id"`
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description" db:"description"`
	Status      Status     `json:"status" db:"status"`
	Category    Category   `json:"category" db:"category"`
	IsCompleted bool       `json:"isCompleted" db:"is_completed"`
	CompletedAt *time.Time `json:"completedAt" db:"completed_at"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt" db:"updated_at"`
}

// ApplyCompletion brings IsCompleted and CompletedAt in line with Status.
// An already stamped completion is kept; a missing one is stamped with now.
func (t *Task) ApplyCompletion(now time.Time) {
	if t.Status != StatusCompleted {
		t.IsCompleted = false
		t.CompletedAt = nil
		return
	}
	t.IsCompleted = true
	if t.CompletedAt == nil {
		stamp := now
		t.CompletedAt = &stamp
	}
}

// TaskPatch is a partial update. Nil fields are left untouched.
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *Status
	Category    *Category
	IsCompleted *bool
}

func (p TaskPatch) completes() bool {
	if p.Status != nil {
		return *p.Status == StatusCompleted
	}
	return p.IsCompleted != nil && *p.IsCompleted
}

// Apply merges the patch into t and re-derives the completion fields.
// Status wins over IsCompleted when both are present.
func (p TaskPatch) Apply(t *Task, now time.Time) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Category != nil {
		t.Category = *p.Category
	}

	switch {
	case p.Status != nil:
		t.Status = *p.Status
	case p.IsCompleted != nil && *p.IsCompleted:
		t.Status = StatusCompleted
	case p.IsCompleted != nil && t.Status == StatusCompleted:
		t.Status = StatusPending
	}

	if p.completes() {
		t.CompletedAt = nil
	}
	t.ApplyCompletion(now)
	t.UpdatedAt = now
}

type TaskFilter struct {
	Status   *Status
	Category *Category
}

func (f TaskFilter) Match(t *Task) bool {
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.Category != nil && t.Category != *f.Category {
		return false
	}
	return true
}

// TaskCount is one row of a per-owner aggregate grouped by status,
// category and completion flag.
type TaskCount struct {
	Status      Status   `db:"status"`
	Category    Category `db:"category"`
	IsCompleted bool     `db:"is_completed"`
	Count       int      `db:"count"`
}

type Stats struct {
	Total          int              `json:"total"`
	Completed      int              `json:"completed"`
	Pending        int              `json:"pending"`
	InProgress     int              `json:"inProgress"`
	ByCategory     map[Category]int `json:"byCategory"`
	CompletionRate float64          `json:"completionRate"`
}

func NewStats(counts []TaskCount) *Stats {
	st := &Stats{ByCategory: make(map[Category]int, len(Categories))}
	for _, c := range Categories {
		st.ByCategory[c] = 0
	}
	for _, c := range counts {
		st.Total += c.Count
		st.ByCategory[c.Category] += c.Count
		if c.IsCompleted {
			st.Completed += c.Count
		}
		switch c.Status {
		case StatusPending:
			st.Pending += c.Count
		case StatusInProgress:
			st.InProgress += c.Count
		}
	}
	if st.Total > 0 {
		st.CompletionRate = float64(st.Completed) / float64(st.Total) * 100
	}
	return st
}
