package db

import (
	"context"

	"github.com/justestif/syncmaster/internal/models"
)

// RowStore exposes the repositories with the same method set as the Supabase
// row API, so either can back the remote gateway.
type RowStore struct {
	db *DB
}

// RowStore returns the gateway-facing view of db.
func (db *DB) RowStore() *RowStore {
	return &RowStore{db: db}
}

func (s *RowStore) Briefs(ctx context.Context) ([]models.Brief, error) {
	return s.db.Briefs().List(ctx)
}

func (s *RowStore) Directory(ctx context.Context) ([]models.Agency, error) {
	return s.db.Agencies().List(ctx)
}

func (s *RowStore) Tracks(ctx context.Context, ownerID string) ([]models.Track, error) {
	return s.db.Tracks().ListByOwner(ctx, ownerID)
}

func (s *RowStore) Track(ctx context.Context, id string) (*models.Track, error) {
	return s.db.Tracks().Get(ctx, id)
}

func (s *RowStore) InsertTrack(ctx context.Context, t models.Track) (*models.Track, error) {
	return s.db.Tracks().Create(ctx, t)
}

func (s *RowStore) UpdateTrack(ctx context.Context, id string, patch models.TrackPatch) error {
	return s.db.Tracks().Update(ctx, id, patch)
}

func (s *RowStore) Applications(ctx context.Context, ownerID string) ([]models.Application, error) {
	return s.db.Applications().ListByOwner(ctx, ownerID)
}

func (s *RowStore) ApplicationsForBriefs(ctx context.Context, briefIDs []string) ([]models.Application, error) {
	return s.db.Applications().ListByBriefs(ctx, briefIDs)
}

func (s *RowStore) InsertApplication(ctx context.Context, a models.Application) (*models.Application, error) {
	return s.db.Applications().Create(ctx, a)
}

func (s *RowStore) UpdateApplicationStatus(ctx context.Context, id string, status models.Status) error {
	return s.db.Applications().UpdateStatus(ctx, id, status)
}

func (s *RowStore) Profile(ctx context.Context, id string) (*models.Profile, error) {
	return s.db.Profiles().Get(ctx, id)
}

func (s *RowStore) InsertProfile(ctx context.Context, p models.Profile) error {
	return s.db.Profiles().Create(ctx, p)
}

func (s *RowStore) UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch) error {
	return s.db.Profiles().Update(ctx, id, patch)
}

// Seed loads the static briefs and directory entries.
func (s *RowStore) Seed(ctx context.Context) error {
	if err := s.db.Briefs().Seed(ctx, models.SeedBriefs()); err != nil {
		return err
	}
	return s.db.Agencies().Seed(ctx, models.SeedDirectory())
}
