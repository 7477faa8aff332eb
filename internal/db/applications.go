package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justestif/syncmaster/internal/models"
)

// ApplicationRepository handles application database operations.
type ApplicationRepository struct {
	pool *pgxpool.Pool
}

const applicationColumns = `id, user_id, brief_id, track_id, status, submitted_date`

func collectApplications(rows pgx.Rows) ([]models.Application, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Application, error) {
		var a models.Application
		err := row.Scan(&a.ID, &a.UserID, &a.BriefID, &a.TrackID, &a.Status, &a.SubmittedDate)
		return a, err
	})
}

// Create inserts an application. The schema rejects a second pitch to the
// same brief and tracks the applicant does not own.
func (r *ApplicationRepository) Create(ctx context.Context, a models.Application) (*models.Application, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = models.StatusPending
	}
	if a.SubmittedDate == "" {
		a.SubmittedDate = models.Today()
	}

	query := `INSERT INTO applications (` + applicationColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, a.ID, a.UserID, a.BriefID, a.TrackID, a.Status, a.SubmittedDate)
	switch pgCode(err) {
	case "":
	case codeUniqueViolation:
		return nil, ErrAlreadyApplied
	case codeForeignKeyViolation:
		return nil, ErrTrackNotOwned
	}
	if err != nil {
		return nil, fmt.Errorf("inserting application: %w", err)
	}
	return &a, nil
}

// ListByOwner retrieves the applications submitted by a user, newest first.
func (r *ApplicationRepository) ListByOwner(ctx context.Context, userID string) ([]models.Application, error) {
	query := `
		SELECT ` + applicationColumns + `
		FROM applications
		WHERE user_id = $1
		ORDER BY submitted_date DESC, created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying user applications: %w", err)
	}
	apps, err := collectApplications(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning user applications: %w", err)
	}
	return apps, nil
}

// ListByBriefs retrieves every application against the given briefs.
func (r *ApplicationRepository) ListByBriefs(ctx context.Context, briefIDs []string) ([]models.Application, error) {
	if len(briefIDs) == 0 {
		return []models.Application{}, nil
	}
	query := `
		SELECT ` + applicationColumns + `
		FROM applications
		WHERE brief_id = ANY($1)
		ORDER BY submitted_date DESC, created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, briefIDs)
	if err != nil {
		return nil, fmt.Errorf("querying brief applications: %w", err)
	}
	apps, err := collectApplications(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning brief applications: %w", err)
	}
	return apps, nil
}

// UpdateStatus moves a pending application to a terminal status.
func (r *ApplicationRepository) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	if !models.StatusPending.CanTransition(status) {
		return models.Validationf("cannot move an application to %q", status)
	}

	query := `UPDATE applications SET status = $2 WHERE id = $1 AND status = 'pending'`
	result, err := r.pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("updating application status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.Validationf("application %s is not pending", id)
	}
	return nil
}
