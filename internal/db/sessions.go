package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justestif/syncmaster/internal/models"
)

// WebSession is a browser session of the local web API.
type WebSession struct {
	ID        string
	Auth      models.Session
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionRepository stores WebSessions in web_sessions.
type SessionRepository struct {
	pool *pgxpool.Pool
}

const webSessionColumns = `id, user_id, email, name, role, access_token, refresh_token,
	token_expiry, offline, created_at, expires_at`

// fields lists s's columns in webSessionColumns order. pgx binds and scans
// through the same pointers.
func (s *WebSession) fields() []any {
	return []any{
		&s.ID,
		&s.Auth.User.ID,
		&s.Auth.User.Email,
		&s.Auth.User.Metadata.Name,
		&s.Auth.User.Metadata.Role,
		&s.Auth.AccessToken,
		&s.Auth.RefreshToken,
		&s.Auth.ExpiresAt,
		&s.Auth.Offline,
		&s.CreatedAt,
		&s.ExpiresAt,
	}
}

func (r *SessionRepository) Create(ctx context.Context, s *WebSession) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO web_sessions (`+webSessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.fields()...)
	if err != nil {
		return fmt.Errorf("inserting web session: %w", err)
	}
	return nil
}

// Get returns the session with id, or ErrNotFound when it is missing or has
// expired.
func (r *SessionRepository) Get(ctx context.Context, id string) (*WebSession, error) {
	var s WebSession
	err := r.pool.QueryRow(ctx,
		`SELECT `+webSessionColumns+` FROM web_sessions WHERE id = $1 AND expires_at > NOW()`,
		id).Scan(s.fields()...)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("loading web session: %w", err)
	}
	return &s, nil
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM web_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting web session: %w", err)
	}
	return nil
}

// UpdateToken replaces the Supabase tokens held by session id.
func (r *SessionRepository) UpdateToken(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE web_sessions SET access_token = $2, refresh_token = $3, token_expiry = $4 WHERE id = $1`,
		id, accessToken, refreshToken, expiry)
	if err != nil {
		return fmt.Errorf("saving web session token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired prunes expired sessions and reports how many went.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM web_sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("pruning web sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
