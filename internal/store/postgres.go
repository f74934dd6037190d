package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayush/task-manager/internal/models"
)

// PostgresUserStore handles user CRUD against PostgreSQL. Session tokens live
// in a text[] column on the user row.
type PostgresUserStore struct {
	pool *pgxpool.Pool
}

func NewPostgresUserStore(pool *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{pool: pool}
}

const uniqueViolation = "23505"

const userColumns = `id::text, name, email, password, age, tokens, created_at, updated_at`

// Migrate creates the users table if it doesn't exist.
func (s *PostgresUserStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name        TEXT         NOT NULL,
			email       VARCHAR(255) UNIQUE NOT NULL,
			password    VARCHAR(255) NOT NULL,
			age         INTEGER      NOT NULL DEFAULT 0 CHECK (age >= 0),
			avatar      BYTEA,
			avatar_type TEXT,
			tokens      TEXT[]       NOT NULL DEFAULT '{}',
			created_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

func (s *PostgresUserStore) Create(ctx context.Context, u *models.User) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (name, email, password, age, tokens)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id::text, created_at, updated_at`,
		u.Name, u.Email, u.Password, u.Age, tokenStrings(u.Tokens),
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresUserStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	if !validUUID(id) {
		return nil, ErrNotFound
	}
	return s.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *PostgresUserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (s *PostgresUserStore) FindByIDAndToken(ctx context.Context, id, token string) (*models.User, error) {
	if !validUUID(id) {
		return nil, ErrNotFound
	}
	return s.queryUser(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND $2 = ANY(tokens)`, id, token)
}

func (s *PostgresUserStore) AddToken(ctx context.Context, id, token string) error {
	return s.exec(ctx,
		`UPDATE users SET tokens = array_append(tokens, $2), updated_at = NOW() WHERE id = $1`, id, token)
}

func (s *PostgresUserStore) RemoveToken(ctx context.Context, id, token string) error {
	return s.exec(ctx,
		`UPDATE users SET tokens = array_remove(tokens, $2), updated_at = NOW() WHERE id = $1`, id, token)
}

func (s *PostgresUserStore) ClearTokens(ctx context.Context, id string) error {
	return s.exec(ctx, `UPDATE users SET tokens = '{}', updated_at = NOW() WHERE id = $1`, id)
}

func (s *PostgresUserStore) Update(ctx context.Context, id string, upd models.UserUpdate) (*models.User, error) {
	if !validUUID(id) {
		return nil, ErrNotFound
	}
	u, err := s.queryUser(ctx,
		`UPDATE users SET
			name       = COALESCE($2, name),
			email      = COALESCE($3, email),
			password   = COALESCE($4, password),
			age        = COALESCE($5, age),
			updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, upd.Name, upd.Email, upd.Password, upd.Age,
	)
	if err != nil && isUniqueViolation(err) {
		return nil, ErrDuplicateEmail
	}
	return u, err
}

func (s *PostgresUserStore) SetAvatar(ctx context.Context, id string, data []byte, contentType string) error {
	if len(data) == 0 {
		data = nil
	}
	return s.exec(ctx,
		`UPDATE users SET avatar = $2, avatar_type = NULLIF($3, ''), updated_at = NOW() WHERE id = $1`,
		id, data, contentType)
}

func (s *PostgresUserStore) GetAvatar(ctx context.Context, id string) ([]byte, string, error) {
	if !validUUID(id) {
		return nil, "", ErrNotFound
	}
	var (
		data        []byte
		contentType string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT avatar, COALESCE(avatar_type, '') FROM users WHERE id = $1`, id,
	).Scan(&data, &contentType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("get avatar: %w", err)
	}
	if len(data) == 0 {
		return nil, "", ErrNotFound
	}
	return data, contentType, nil
}

func (s *PostgresUserStore) Delete(ctx context.Context, id string) error {
	return s.exec(ctx, `DELETE FROM users WHERE id = $1`, id)
}

func (s *PostgresUserStore) queryUser(ctx context.Context, sql string, args ...any) (*models.User, error) {
	var (
		u      models.User
		tokens []string
	)
	err := s.pool.QueryRow(ctx, sql, args...).Scan(
		&u.ID, &u.Name, &u.Email, &u.Password, &u.Age, &tokens, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.Tokens = sessionTokens(tokens)
	return &u, nil
}

func (s *PostgresUserStore) exec(ctx context.Context, sql string, id string, args ...any) error {
	if !validUUID(id) {
		return ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func validUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func tokenStrings(tokens []models.SessionToken) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, t.Token)
	}
	return out
}

func sessionTokens(tokens []string) []models.SessionToken {
	out := make([]models.SessionToken, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, models.SessionToken{Token: t})
	}
	return out
}
