package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"crmdesk.io/internal/auth"
	"crmdesk.io/internal/todo"
)

type todoResponse struct {
	Todo todo.Todo `json:"todo"`
}

func (a *API) handleGetTodo(w http.ResponseWriter, r *http.Request) {
	t, err := a.todos.FindTodo(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, todo.ErrNotFound) {
		writeError(w, r, auth.NotFound("Todo not found"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, todoResponse{Todo: *t})
}
