package pg

import (
	"context"
	"database/sql"
	"errors"

	"crmdesk.io/internal/todo"
)

// Todos reads todo assignments for ownership checks.
type Todos struct {
	db *sql.DB
}

var _ todo.Finder = (*Todos)(nil)

func (s *Store) Todos() *Todos { return &Todos{db: s.db} }

func (t *Todos) FindTodo(ctx context.Context, id string) (*todo.Todo, error) {
	var (
		out       todo.Todo
		primary   sql.NullString
		secondary sql.NullString
		due       sql.NullTime
	)
	err := t.db.QueryRowContext(ctx, `
		select id, title, status, primary_assignee_id, secondary_assignee_id, due_at, created_at
		from todos
		where id = $1
	`, id).Scan(&out.ID, &out.Title, &out.Status, &primary, &secondary, &due, &out.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, todo.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out.PrimaryAssigneeID = primary.String
	out.SecondaryAssigneeID = secondary.String
	if due.Valid {
		d := due.Time
		out.DueAt = &d
	}
	return &out, nil
}
