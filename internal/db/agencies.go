package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justestif/syncmaster/internal/models"
)

// AgencyRepository handles directory database operations.
type AgencyRepository struct {
	pool *pgxpool.Pool
}

// List returns the directory ordered by name.
func (r *AgencyRepository) List(ctx context.Context) ([]models.Agency, error) {
	query := `
		SELECT id, name, type, location, contact_email, website, credits, logo_url,
			description, submission_policy, spotify_url, instagram_url
		FROM agencies
		ORDER BY name
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying agencies: %w", err)
	}

	agencies, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Agency, error) {
		var a models.Agency
		err := row.Scan(&a.ID, &a.Name, &a.Type, &a.Location, &a.ContactEmail, &a.Website, &a.Credits,
			&a.LogoURL, &a.Description, &a.SubmissionPolicy, &a.Socials.Spotify, &a.Socials.Instagram)
		a.Socials.Website = a.Website
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning agencies: %w", err)
	}
	return agencies, nil
}

// Seed inserts directory entries that do not exist yet.
func (r *AgencyRepository) Seed(ctx context.Context, agencies []models.Agency) error {
	batch := &pgx.Batch{}
	for _, a := range agencies {
		batch.Queue(`
			INSERT INTO agencies (id, name, type, location, contact_email, website, credits, logo_url,
				description, submission_policy, spotify_url, instagram_url)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO NOTHING
		`, a.ID, a.Name, a.Type, a.Location, a.ContactEmail, a.Website, a.Credits, a.LogoURL,
			a.Description, a.SubmissionPolicy, a.Socials.Spotify, a.Socials.Instagram)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("seeding agencies: %w", err)
	}
	return nil
}
