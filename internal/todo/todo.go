// Package todo holds the minimal TODO record the authorization layer needs
// for ownership checks.
package todo

import (
	"context"
	"errors"
	"sync"
	"time"

	"crmdesk.io/internal/auth"
)

// ErrNotFound is returned when no todo has the requested id.
var ErrNotFound = errors.New("todo: not found")

type Todo struct {
	ID                  string     `json:"id"`
	Title               string     `json:"title"`
	Status              string     `json:"status"`
	PrimaryAssigneeID   string     `json:"primaryAssigneeId"`
	SecondaryAssigneeID string     `json:"secondaryAssigneeId,omitempty"`
	DueAt               *time.Time `json:"dueAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
}

func (t Todo) Assignees() auth.Assignees {
	return auth.Assignees{PrimaryID: t.PrimaryAssigneeID, SecondaryID: t.SecondaryAssigneeID}
}

// Finder loads a todo by id.
type Finder interface {
	FindTodo(ctx context.Context, id string) (*Todo, error)
}

// InMemory is a Finder for tests and development.
type InMemory struct {
	mu    sync.RWMutex
	todos map[string]Todo
}

func NewInMemory(todos ...Todo) *InMemory {
	m := &InMemory{todos: make(map[string]Todo, len(todos))}
	for _, t := range todos {
		m.todos[t.ID] = t
	}
	return m
}

func (m *InMemory) Put(t Todo) {
	m.mu.Lock()
	m.todos[t.ID] = t
	m.mu.Unlock()
}

func (m *InMemory) FindTodo(_ context.Context, id string) (*Todo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.todos[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}
