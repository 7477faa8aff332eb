package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justestif/syncmaster/internal/models"
)

// ProfileRepository handles profile database operations.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

// Create inserts a new profile. An existing profile with the same id is left
// as is.
func (r *ProfileRepository) Create(ctx context.Context, p models.Profile) error {
	query := `
		INSERT INTO profiles (id, email, name, role, spotify_url, apple_music_url, instagram_url,
			website_url, subscription_tier, credits, avatar_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`
	tier := p.Tier
	if tier == "" {
		tier = models.TierFree
	}
	_, err := r.pool.Exec(ctx, query,
		p.ID,
		p.Email,
		p.Name,
		p.Role,
		p.Socials.Spotify,
		p.Socials.AppleMusic,
		p.Socials.Instagram,
		p.Socials.Website,
		tier,
		p.Credits,
		p.AvatarURL,
	)
	if err != nil {
		return fmt.Errorf("inserting profile: %w", err)
	}
	return nil
}

// Get retrieves a profile by ID.
func (r *ProfileRepository) Get(ctx context.Context, id string) (*models.Profile, error) {
	query := `
		SELECT id, email, name, role, spotify_url, apple_music_url, instagram_url,
			website_url, subscription_tier, credits, avatar_url
		FROM profiles
		WHERE id = $1
	`
	var p models.Profile
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Email,
		&p.Name,
		&p.Role,
		&p.Socials.Spotify,
		&p.Socials.AppleMusic,
		&p.Socials.Instagram,
		&p.Socials.Website,
		&p.Tier,
		&p.Credits,
		&p.AvatarURL,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}
	return &p, nil
}

// Update applies the set fields of patch. Unset fields keep their value.
func (r *ProfileRepository) Update(ctx context.Context, id string, patch models.ProfilePatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}

	var spotify, apple, instagram, website *string
	if patch.Socials != nil {
		spotify = &patch.Socials.Spotify
		apple = &patch.Socials.AppleMusic
		instagram = &patch.Socials.Instagram
		website = &patch.Socials.Website
	}

	query := `
		UPDATE profiles SET
			name = COALESCE($2, name),
			spotify_url = COALESCE($3, spotify_url),
			apple_music_url = COALESCE($4, apple_music_url),
			instagram_url = COALESCE($5, instagram_url),
			website_url = COALESCE($6, website_url),
			avatar_url = COALESCE($7, avatar_url),
			subscription_tier = COALESCE($8, subscription_tier),
			credits = COALESCE($9, credits),
			updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, id,
		patch.Name, spotify, apple, instagram, website,
		patch.AvatarURL, patch.Tier, patch.Credits,
	)
	if err != nil {
		return fmt.Errorf("updating profile: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
