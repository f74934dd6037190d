package main

import (
	"context"
	"net/http"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ayush/task-manager/internal/auth"
	"github.com/ayush/task-manager/internal/config"
	"github.com/ayush/task-manager/internal/middleware"
	"github.com/ayush/task-manager/internal/notify"
	"github.com/ayush/task-manager/internal/store"
	"github.com/ayush/task-manager/internal/tasks"
)

type userStore interface {
	auth.UserStore
	middleware.UserLookup
}

type taskStore interface {
	tasks.TaskStore
	DeleteByOwner(ctx context.Context, owner string) (int64, error)
}

// dependencies are the backends the handlers run against.
type dependencies struct {
	users   userStore
	tasks   taskStore
	avatars auth.AvatarStore
	limiter auth.Limiter
	mailer  auth.Notifier
}

func newRouter(cfg *config.Config, deps *dependencies) http.Handler {
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTExpiry)
	requireAuth := middleware.RequireAuth(tokens, deps.users)

	userHandler := auth.NewHandler(deps.users, deps.tasks, deps.avatars, tokens, deps.limiter, deps.mailer, cfg.AvatarMaxBytes)
	taskHandler := tasks.NewHandler(deps.tasks)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/users", func(r chi.Router) {
		userHandler.Routes(r, requireAuth)
	})

	r.Route("/tasks", func(r chi.Router) {
		r.Use(requireAuth)
		taskHandler.Routes(r)
	})

	return r
}

var (
	_ userStore        = (*store.MongoUserStore)(nil)
	_ userStore        = (*store.PostgresUserStore)(nil)
	_ userStore        = (*store.MemoryStore)(nil)
	_ taskStore        = (*store.MongoTaskStore)(nil)
	_ taskStore        = (*store.MemoryStore)(nil)
	_ auth.AvatarStore = (*store.MinioAvatarStore)(nil)
	_ auth.AvatarStore = (*store.RecordAvatarStore)(nil)
	_ auth.Limiter     = (*auth.LoginLimiter)(nil)
	_ auth.Notifier    = (*notify.Mailer)(nil)
)
