package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ayush/task-manager/internal/httpx"
	"github.com/ayush/task-manager/internal/middleware"
	"github.com/ayush/task-manager/internal/models"
	"github.com/ayush/task-manager/internal/store"
)

const (
	msgNotFound         = "Task not found"
	msgInvalidOperation = "Invalid operation"
)

// updatable is the allow-list of fields a PATCH may name. Create reads the
// same keys and ignores the rest.
var updatable = map[string]struct{}{
	"description": {},
	"completed":   {},
}

// TaskStore defines the interface for task persistence. Every method except
// Insert is scoped to an owner.
type TaskStore interface {
	Insert(ctx context.Context, task *models.Task) error
	List(ctx context.Context, owner string, q store.TaskQuery) ([]models.Task, error)
	FindOwned(ctx context.Context, id, owner string) (*models.Task, error)
	UpdateOwned(ctx context.Context, id, owner string, upd models.TaskUpdate) (*models.Task, error)
	DeleteOwned(ctx context.Context, id, owner string) (*models.Task, error)
}

// Handler holds task HTTP handlers. All routes sit behind RequireAuth.
type Handler struct {
	tasks TaskStore
}

func NewHandler(tasks TaskStore) *Handler {
	return &Handler{tasks: tasks}
}

// Routes mounts the task endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
}

// Create stores a new task owned by the caller.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var req models.CreateTaskRequest
	if err := httpx.DecodeKnown(w, r, updatable, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		httpx.WriteError(w, http.StatusBadRequest, "description is required")
		return
	}

	task := &models.Task{
		Description: desc,
		Completed:   req.Completed,
		Owner:       user.ID,
	}
	if err := h.tasks.Insert(r.Context(), task); err != nil {
		httpx.ServerError(w, r, http.StatusBadRequest, "failed to save task", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, task)
}

// List returns the caller's tasks filtered, sorted and paged by the query string.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	tasks, err := h.tasks.List(r.Context(), user.ID, ParseListQuery(r.URL.Query()))
	if err != nil {
		httpx.ServerError(w, r, http.StatusBadRequest, "failed to list tasks", err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	httpx.WriteJSON(w, http.StatusOK, tasks)
}

// Get returns one task. Tasks of other users are reported as missing.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	task, err := h.tasks.FindOwned(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteText(w, http.StatusNotFound, msgNotFound)
			return
		}
		httpx.ServerError(w, r, http.StatusBadRequest, "failed to fetch task", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, task)
}

// Update applies an allow-listed partial change. The field names are checked
// before the store is touched.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	fields, err := httpx.DecodeFields(w, r)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(httpx.UnknownFields(fields, updatable)) > 0 {
		httpx.WriteError(w, http.StatusBadRequest, msgInvalidOperation)
		return
	}

	upd, err := parseUpdate(fields)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := h.tasks.UpdateOwned(r.Context(), chi.URLParam(r, "id"), user.ID, upd)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteText(w, http.StatusNotFound, msgNotFound)
			return
		}
		httpx.ServerError(w, r, http.StatusBadRequest, "failed to update task", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, task)
}

// Delete removes one of the caller's tasks and returns it.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	task, err := h.tasks.DeleteOwned(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, msgNotFound)
			return
		}
		httpx.ServerError(w, r, http.StatusInternalServerError, "failed to delete task", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, task)
}

// parseUpdate validates the values of an allow-listed field set. Fields
// present in the body may not be null.
func parseUpdate(fields map[string]json.RawMessage) (models.TaskUpdate, error) {
	if nulls := httpx.NullFields(fields); len(nulls) > 0 {
		return models.TaskUpdate{}, errors.New(nulls[0] + " cannot be null")
	}

	var upd models.TaskUpdate
	if err := httpx.Remarshal(fields, &upd); err != nil {
		return models.TaskUpdate{}, err
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		if desc == "" {
			return models.TaskUpdate{}, errors.New("description is required")
		}
		upd.Description = &desc
	}
	return upd, nil
}
