package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ayush/task-manager/internal/httpx"
	"github.com/ayush/task-manager/internal/middleware"
	"github.com/ayush/task-manager/internal/models"
	"github.com/ayush/task-manager/internal/store"
)

const (
	msgUnableToLogin   = "Unable to login"
	msgInvalidUpdates  = "Invalid updates"
	msgTooManyAttempts = "Too many failed login attempts, try again later"
	msgUploadImage     = "Please upload an image"
	msgEmailTaken      = "Email is already in use"
	avatarField        = "avatar"
)

// updatable is the allow-list of fields PATCH /users/me may name. Signup
// reads the same keys and ignores the rest.
var updatable = map[string]struct{}{
	"name":     {},
	"email":    {},
	"password": {},
	"age":      {},
}

var credentials = map[string]struct{}{
	"email":    {},
	"password": {},
}

// UserStore defines the interface for user persistence.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	AddToken(ctx context.Context, id, token string) error
	RemoveToken(ctx context.Context, id, token string) error
	ClearTokens(ctx context.Context, id string) error
	Update(ctx context.Context, id string, upd models.UserUpdate) (*models.User, error)
	Delete(ctx context.Context, id string) error
}

// TaskRemover deletes every task of an owner.
type TaskRemover interface {
	DeleteByOwner(ctx context.Context, owner string) (int64, error)
}

// AvatarStore keeps one profile image per user.
type AvatarStore interface {
	Put(ctx context.Context, userID string, data []byte, contentType string) error
	Get(ctx context.Context, userID string) ([]byte, string, error)
	Remove(ctx context.Context, userID string) error
}

// Limiter throttles repeated failed logins for one email.
type Limiter interface {
	Allowed(ctx context.Context, email string) (bool, error)
	Failed(ctx context.Context, email string) error
	Reset(ctx context.Context, email string) error
}

// Notifier sends account emails.
type Notifier interface {
	SendWelcome(ctx context.Context, to, name string) error
	SendCancellation(ctx context.Context, to, name string) error
}

// Handler holds user-related HTTP handlers.
type Handler struct {
	users     UserStore
	tasks     TaskRemover
	avatars   AvatarStore
	tokens    *Tokens
	limiter   Limiter
	mailer    Notifier
	maxAvatar int64
}

// NewHandler builds the user handlers. limiter and mailer may be nil, which
// disables login throttling and account emails.
func NewHandler(users UserStore, tasks TaskRemover, avatars AvatarStore, tokens *Tokens, limiter Limiter, mailer Notifier, maxAvatar int64) *Handler {
	return &Handler{
		users:     users,
		tasks:     tasks,
		avatars:   avatars,
		tokens:    tokens,
		limiter:   limiter,
		mailer:    mailer,
		maxAvatar: maxAvatar,
	}
}

// Routes mounts the user endpoints on r. requireAuth guards everything except
// signup, login and the public avatar.
func (h *Handler) Routes(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.Post("/", h.Signup)
	r.Post("/login", h.Login)
	r.Get("/{id}/avatar", h.GetAvatar)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/logout", h.Logout)
		r.Post("/logoutAll", h.LogoutAll)
		r.Get("/me", h.Me)
		r.Patch("/me", h.UpdateMe)
		r.Delete("/me", h.DeleteMe)
		r.Post("/me/avatar", h.UploadAvatar)
		r.Delete("/me/avatar", h.DeleteAvatar)
	})
}

// Signup creates a user and logs it in.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req models.SignupRequest
	if err := httpx.DecodeKnown(w, r, updatable, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = NormalizeEmail(req.Email)
	req.Password = strings.TrimSpace(req.Password)
	if err := ValidateStruct(req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	hashed, err := HashPassword(req.Password)
	if err != nil {
		httpx.ServerError(w, r, http.StatusInternalServerError, "internal error", err)
		return
	}

	user := &models.User{
		Name:     req.Name,
		Email:    req.Email,
		Password: hashed,
		Age:      req.Age,
	}
	if err := h.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			httpx.WriteError(w, http.StatusBadRequest, msgEmailTaken)
			return
		}
		httpx.ServerError(w, r, http.StatusBadRequest, "failed to create user", err)
		return
	}

	token, err := h.startSession(r.Context(), user.ID)
	if err != nil {
		// Undo the signup; the account has no usable session.
		if delErr := h.users.Delete(context.WithoutCancel(r.Context()), user.ID); delErr != nil {
			slog.ErrorContext(r.Context(), "roll back signup", "error", delErr, "user_id", user.ID)
		}
		httpx.ServerError(w, r, http.StatusInternalServerError, "session creation failed", err)
		return
	}
	slog.InfoContext(r.Context(), "user signed up", "user_id", user.ID)
	h.sendMail(r.Context(), "welcome", func(ctx context.Context, n Notifier) error {
		return n.SendWelcome(ctx, user.Email, user.Name)
	})
	httpx.WriteJSON(w, http.StatusCreated, models.AuthResponse{User: user, Token: token})
}

// Login checks credentials and opens a new session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := httpx.DecodeKnown(w, r, credentials, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, msgUnableToLogin)
		return
	}
	email := NormalizeEmail(req.Email)
	ctx := r.Context()

	if h.limiter != nil {
		ok, err := h.limiter.Allowed(ctx, email)
		if err != nil {
			slog.WarnContext(ctx, "login limiter unavailable", "error", err)
		} else if !ok {
			httpx.WriteError(w, http.StatusTooManyRequests, msgTooManyAttempts)
			return
		}
	}

	user, err := h.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		httpx.ServerError(w, r, http.StatusBadRequest, msgUnableToLogin, err)
		return
	}
	if user == nil || !CheckPassword(user.Password, strings.TrimSpace(req.Password)) {
		h.recordFailure(ctx, email)
		httpx.WriteError(w, http.StatusBadRequest, msgUnableToLogin)
		return
	}

	if h.limiter != nil {
		if err := h.limiter.Reset(ctx, email); err != nil {
			slog.WarnContext(ctx, "reset login failures", "error", err)
		}
	}

	token, err := h.startSession(ctx, user.ID)
	if err != nil {
		httpx.ServerError(w, r, http.StatusInternalServerError, "session creation failed", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, models.AuthResponse{User: user, Token: token})
}

func (h *Handler) recordFailure(ctx context.Context, email string) {
	if h.limiter == nil {
		return
	}
	if err := h.limiter.Failed(ctx, email); err != nil {
		slog.WarnContext(ctx, "record login failure", "error", err)
	}
}

func (h *Handler) startSession(ctx context.Context, userID string) (string, error) {
	token, err := h.tokens.Issue(userID)
	if err != nil {
		return "", err
	}
	if err := h.users.AddToken(ctx, userID, token); err != nil {
		return "", err
	}
	return token, nil
}

// sendMail runs send in the background. Failures are only logged.
func (h *Handler) sendMail(ctx context.Context, kind string, send func(context.Context, Notifier) error) {
	if h.mailer == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := send(ctx, h.mailer); err != nil {
			slog.WarnContext(ctx, "send account email", "kind", kind, "error", err)
		}
	}()
}

// Logout ends the session the request authenticated with.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if err := h.users.RemoveToken(r.Context(), user.ID, middleware.TokenFromContext(r.Context())); err != nil {
		httpx.ServerError(w, r, http.StatusInternalServerError, "logout failed", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// LogoutAll ends every session of the caller.
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if err := h.users.ClearTokens(r.Context(), user.ID); err != nil {
		httpx.ServerError(w, r, http.StatusInternalServerError, "logout failed", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Me returns the currently authenticated user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, middleware.UserFromContext(r.Context()))
}

// UpdateMe applies an allow-listed partial profile change.
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	fields, err := httpx.DecodeFields(w, r)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(httpx.UnknownFields(fields, updatable)) > 0 {
		httpx.WriteError(w, http.StatusBadRequest, msgInvalidUpdates)
		return
	}
	if nulls := httpx.NullFields(fields); len(nulls) > 0 {
		httpx.WriteError(w, http.StatusBadRequest, nulls[0]+" cannot be null")
		return
	}

	var upd models.UserUpdate
	if err := httpx.Remarshal(fields, &upd); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	normalizeUpdate(&upd)
	if err := ValidateStruct(upd); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if upd.Password != nil {
		hashed, err := HashPassword(*upd.Password)
		if err != nil {
			httpx.ServerError(w, r, http.StatusInternalServerError, "internal error", err)
			return
		}
		upd.Password = &hashed
	}

	updated, err := h.users.Update(r.Context(), user.ID, upd)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			httpx.WriteError(w, http.StatusBadRequest, msgEmailTaken)
			return
		}
		httpx.ServerError(w, r, http.StatusBadRequest, "failed to update user", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, updated)
}

func normalizeUpdate(upd *models.UserUpdate) {
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		upd.Name = &name
	}
	if upd.Email != nil {
		email := NormalizeEmail(*upd.Email)
		upd.Email = &email
	}
	if upd.Password != nil {
		pw := strings.TrimSpace(*upd.Password)
		upd.Password = &pw
	}
}

// DeleteMe removes the caller's tasks, avatar and account, in that order.
func (h *Handler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.UserFromContext(ctx)

	n, err := h.tasks.DeleteByOwner(ctx, user.ID)
	if err != nil {
		httpx.ServerError(w, r, http.StatusInternalServerError, "failed to delete user", err)
		return
	}
	if err := h.avatars.Remove(ctx, user.ID); err != nil {
		httpx.ServerError(w, r, http.StatusInternalServerError, "failed to delete user", err)
		return
	}
	if err := h.users.Delete(ctx, user.ID); err != nil {
		httpx.ServerError(w, r, http.StatusInternalServerError, "failed to delete user", err)
		return
	}
	slog.InfoContext(ctx, "user deleted", "user_id", user.ID, "tasks_removed", n)
	h.sendMail(ctx, "cancellation", func(ctx context.Context, n Notifier) error {
		return n.SendCancellation(ctx, user.Email, user.Name)
	})
	httpx.WriteJSON(w, http.StatusOK, user)
}

// UploadAvatar stores a JPEG or PNG sent as the multipart field "avatar".
func (h *Handler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	// Room for the multipart envelope on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxAvatar+64<<10)
	if err := r.ParseMultipartForm(h.maxAvatar); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteError(w, http.StatusBadRequest, "File too large")
			return
		}
		httpx.WriteError(w, http.StatusBadRequest, msgUploadImage)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile(avatarField)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, msgUploadImage)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxAvatar+1))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, msgUploadImage)
		return
	}
	if int64(len(data)) > h.maxAvatar {
		httpx.WriteError(w, http.StatusBadRequest, "File too large")
		return
	}
	contentType := http.DetectContentType(data)
	if contentType != "image/jpeg" && contentType != "image/png" {
		httpx.WriteError(w, http.StatusBadRequest, msgUploadImage)
		return
	}

	user := middleware.UserFromContext(r.Context())
	if err := h.avatars.Put(r.Context(), user.ID, data, contentType); err != nil {
		httpx.ServerError(w, r, http.StatusInternalServerError, "failed to save avatar", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// DeleteAvatar removes the caller's avatar, if any.
func (h *Handler) DeleteAvatar(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if err := h.avatars.Remove(r.Context(), user.ID); err != nil {
		httpx.ServerError(w, r, http.StatusInternalServerError, "failed to delete avatar", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetAvatar serves any user's avatar without authentication.
func (h *Handler) GetAvatar(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := h.avatars.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		httpx.ServerError(w, r, http.StatusInternalServerError, "failed to fetch avatar", err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
