package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justestif/syncmaster/internal/models"
)

// TrackRepository handles track database operations.
type TrackRepository struct {
	pool *pgxpool.Pool
}

const trackColumns = `id, user_id, title, artist_name, genre, bpm, tags, upload_date, duration, description, audio_url`

func scanTrack(row pgx.Row) (models.Track, error) {
	var t models.Track
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Title,
		&t.ArtistName,
		&t.Genre,
		&t.BPM,
		&t.Tags,
		&t.UploadDate,
		&t.Duration,
		&t.Description,
		&t.AudioURL,
	)
	t.Tags = models.NormalizeTags(t.Tags)
	return t, err
}

// Create inserts a track. An empty ID is replaced with a new UUID.
func (r *TrackRepository) Create(ctx context.Context, t models.Track) (*models.Track, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.UploadDate == "" {
		t.UploadDate = models.Today()
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}

	query := `
		INSERT INTO tracks (` + trackColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.pool.Exec(ctx, query,
		t.ID,
		t.UserID,
		t.Title,
		t.ArtistName,
		t.Genre,
		t.BPM,
		t.Tags,
		t.UploadDate,
		t.Duration,
		t.Description,
		t.AudioURL,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting track: %w", err)
	}
	return &t, nil
}

// Get retrieves a track by ID.
func (r *TrackRepository) Get(ctx context.Context, id string) (*models.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE id = $1`
	t, err := scanTrack(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying track: %w", err)
	}
	return &t, nil
}

// ListByOwner retrieves the tracks owned by a user, newest first.
func (r *TrackRepository) ListByOwner(ctx context.Context, userID string) ([]models.Track, error) {
	query := `
		SELECT ` + trackColumns + `
		FROM tracks
		WHERE user_id = $1
		ORDER BY upload_date DESC, created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying user tracks: %w", err)
	}

	tracks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Track, error) {
		return scanTrack(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scanning user tracks: %w", err)
	}
	return tracks, nil
}

// Update applies the editable fields of patch. Owner and audio URL are never
// touched.
func (r *TrackRepository) Update(ctx context.Context, id string, patch models.TrackPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}

	query := `
		UPDATE tracks SET
			title = COALESCE($2, title),
			genre = COALESCE($3, genre),
			bpm = CASE WHEN $7 THEN NULL ELSE COALESCE($4, bpm) END,
			tags = COALESCE($5, tags),
			description = COALESCE($6, description)
		WHERE id = $1
	`
	var tags any
	if patch.Tags != nil {
		tags = models.NormalizeTags(patch.Tags)
	}
	var title *string
	if patch.Title != nil {
		t := strings.TrimSpace(*patch.Title)
		title = &t
	}
	result, err := r.pool.Exec(ctx, query, id, title, patch.Genre, patch.BPM, tags, patch.Description, patch.ClearBPM)
	if err != nil {
		return fmt.Errorf("updating track: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
