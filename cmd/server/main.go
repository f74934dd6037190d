package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ayush/task-manager/internal/auth"
	"github.com/ayush/task-manager/internal/config"
	"github.com/ayush/task-manager/internal/logging"
	"github.com/ayush/task-manager/internal/notify"
	"github.com/ayush/task-manager/internal/store"
)

func main() {
	cfg, envErr := loadConfig()
	logging.Setup(cfg.LogLevel)
	if envErr != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	if err := run(cfg); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the .env files (./.env when none are named) into the
// environment and then builds the config. Variables already set win. A
// missing file is reported but the config is still returned.
func loadConfig(envFiles ...string) (*config.Config, error) {
	err := godotenv.Load(envFiles...)
	return config.Load(), err
}

func run(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	ctx := context.Background()

	// ── Sentry ───────────────────────────────────────────────
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      os.Getenv("APP_ENV"),
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	deps, cleanup, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// ── Server ───────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(cfg, deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "port", cfg.Port,
			"user_store", cfg.UserStore, "task_store", cfg.TaskStore, "avatar_store", cfg.AvatarStore,
			"login_limiter", deps.limiter != nil, "mail", deps.mailer != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-quit:
	}

	slog.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// openStores connects the configured backends. The returned cleanup closes
// every connection that was opened.
func openStores(ctx context.Context, cfg *config.Config) (*dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &dependencies{}
	mem := store.NewMemoryStore()

	// ── MongoDB ──────────────────────────────────────────────
	var mongoDB *mongo.Database
	if cfg.NeedsMongo() {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return fail(fmt.Errorf("mongo connect: %w", err))
		}
		closers = append(closers, func() { client.Disconnect(context.Background()) })

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx, nil); err != nil {
			return fail(fmt.Errorf("mongo ping: %w", err))
		}
		mongoDB = client.Database(cfg.MongoDB)
	}

	var records store.AvatarRecords
	switch cfg.UserStore {
	case config.BackendMongo:
		users := store.NewMongoUserStore(mongoDB)
		if err := users.EnsureIndexes(ctx); err != nil {
			return fail(fmt.Errorf("mongo user indexes: %w", err))
		}
		deps.users, records = users, users

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return fail(fmt.Errorf("postgres connect: %w", err))
		}
		closers = append(closers, pool.Close)
		users := store.NewPostgresUserStore(pool)
		if err := users.Migrate(ctx); err != nil {
			return fail(fmt.Errorf("postgres migrate: %w", err))
		}
		deps.users, records = users, users

	default:
		deps.users, records = mem, mem
	}

	switch cfg.TaskStore {
	case config.BackendMongo:
		tasks := store.NewMongoTaskStore(mongoDB)
		if err := tasks.EnsureIndexes(ctx); err != nil {
			return fail(fmt.Errorf("mongo task indexes: %w", err))
		}
		deps.tasks = tasks
	default:
		deps.tasks = mem
	}

	// ── MinIO ────────────────────────────────────────────────
	if cfg.AvatarStore == config.BackendMinio {
		avatars, err := store.NewMinioAvatarStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey,
			cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return fail(fmt.Errorf("minio connect: %w", err))
		}
		deps.avatars = avatars
	} else {
		deps.avatars = store.NewRecordAvatarStore(records)
	}

	// ── Redis ────────────────────────────────────────────────
	if cfg.RedisAddr != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return fail(fmt.Errorf("redis connect: %w", err))
		}
		closers = append(closers, func() { rdb.Close() })
		deps.limiter = auth.NewLoginLimiter(rdb, cfg.LoginMaxAttempts, cfg.LoginWindow)
	}

	// ── Mail ─────────────────────────────────────────────────
	if cfg.MailAPIKey != "" {
		deps.mailer = notify.NewMailer(cfg.MailAPIURL, cfg.MailAPIKey, cfg.MailFrom)
	}

	return deps, cleanup, nil
}
