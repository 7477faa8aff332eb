// Package db provides direct PostgreSQL access to the SyncMaster tables for
// self-hosted or service-role deployments.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justestif/syncmaster/internal/models"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")

	// ErrAlreadyApplied is returned when the unique (user, brief) index rejects
	// an application.
	ErrAlreadyApplied = models.ErrAlreadyApplied

	// ErrTrackNotOwned is returned when the (track, user) foreign key rejects
	// an application.
	ErrTrackNotOwned = models.ErrTrackNotOwned
)

// Postgres error codes mapped to domain errors.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Profiles returns a ProfileRepository.
func (db *DB) Profiles() *ProfileRepository {
	return &ProfileRepository{pool: db.pool}
}

// Briefs returns a BriefRepository.
func (db *DB) Briefs() *BriefRepository {
	return &BriefRepository{pool: db.pool}
}

// Tracks returns a TrackRepository.
func (db *DB) Tracks() *TrackRepository {
	return &TrackRepository{pool: db.pool}
}

// Applications returns an ApplicationRepository.
func (db *DB) Applications() *ApplicationRepository {
	return &ApplicationRepository{pool: db.pool}
}

// Agencies returns an AgencyRepository.
func (db *DB) Agencies() *AgencyRepository {
	return &AgencyRepository{pool: db.pool}
}

// Sessions returns a SessionRepository.
func (db *DB) Sessions() *SessionRepository {
	return &SessionRepository{pool: db.pool}
}

// pgCode returns the SQLSTATE of a Postgres error, or "".
func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
