package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justestif/syncmaster/internal/models"
)

// BriefRepository handles brief database operations.
type BriefRepository struct {
	pool *pgxpool.Pool
}

// List returns every brief, newest first.
func (r *BriefRepository) List(ctx context.Context) ([]models.Brief, error) {
	query := `
		SELECT id, title, client_name, budget, genre, deadline, description, tags
		FROM briefs
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying briefs: %w", err)
	}

	briefs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Brief, error) {
		var b models.Brief
		err := row.Scan(&b.ID, &b.Title, &b.ClientName, &b.Budget, &b.Genre, &b.Deadline, &b.Description, &b.Tags)
		b.Tags = models.NormalizeTags(b.Tags)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning briefs: %w", err)
	}
	return briefs, nil
}

// Seed inserts briefs that do not exist yet.
func (r *BriefRepository) Seed(ctx context.Context, briefs []models.Brief) error {
	batch := &pgx.Batch{}
	for _, b := range briefs {
		batch.Queue(`
			INSERT INTO briefs (id, title, client_name, budget, genre, deadline, description, tags)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING
		`, b.ID, b.Title, b.ClientName, b.Budget, b.Genre, b.Deadline, b.Description, b.Tags)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("seeding briefs: %w", err)
	}
	return nil
}
