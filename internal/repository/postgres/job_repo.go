// internal/repository/postgres/job_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/D-7J/beast-downloader-bot/internal/domain/download"
	xerrors "github.com/D-7J/beast-downloader-bot/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type JobRepository struct {
	db *pgxpool.Pool
}

func NewJobRepository(db *pgxpool.Pool) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *download.Job) error {
	query := `
		INSERT INTO download_jobs (
			id, user_id, url, format, tier_at_admission, requested_at,
			estimated_size_bytes, duration_seconds, state, cancel_requested,
			actual_bytes, fail_reason, local_path, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.db.Exec(ctx, query,
		job.ID, job.UserID, job.URL, job.Format, job.TierAtAdmission, job.RequestedAt,
		job.EstimatedSizeBytes, job.DurationSeconds, job.State, job.CancelRequested,
		job.ActualBytes, job.FailReason, job.LocalPath, job.CompletedAt,
	)
	if err != nil {
		return xerrors.StoreUnavailable(fmt.Errorf("failed to create job: %w", err))
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*download.Job, error) {
	query := `
		SELECT id, user_id, url, format, tier_at_admission, requested_at,
		       estimated_size_bytes, duration_seconds, state, cancel_requested,
		       actual_bytes, fail_reason, local_path, completed_at
		FROM download_jobs
		WHERE id = $1
	`

	var job download.Job
	err := r.db.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.UserID, &job.URL, &job.Format, &job.TierAtAdmission, &job.RequestedAt,
		&job.EstimatedSizeBytes, &job.DurationSeconds, &job.State, &job.CancelRequested,
		&job.ActualBytes, &job.FailReason, &job.LocalPath, &job.CompletedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, xerrors.StoreUnavailable(fmt.Errorf("failed to find job: %w", err))
	}

	return &job, nil
}

func (r *JobRepository) Update(ctx context.Context, job *download.Job) error {
	query := `
		UPDATE download_jobs
		SET cancel_requested = $2, actual_bytes = $3, fail_reason = $4,
		    local_path = $5, completed_at = $6
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query,
		job.ID, job.CancelRequested, job.ActualBytes, job.FailReason,
		job.LocalPath, job.CompletedAt,
	)
	if err != nil {
		return xerrors.StoreUnavailable(fmt.Errorf("failed to update job: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// CASState performs the conditional state transition the lifecycle's
// exactly-once side effects depend on. The WHERE clause is the compare; a
// zero row count means another transition won.
func (r *JobRepository) CASState(ctx context.Context, id string, from []download.State, to download.State) (bool, error) {
	query := `
		UPDATE download_jobs
		SET state = $2
		WHERE id = $1 AND state = ANY($3)
	`

	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}

	tag, err := r.db.Exec(ctx, query, id, to, states)
	if err != nil {
		return false, xerrors.StoreUnavailable(fmt.Errorf("failed to transition job state: %w", err))
	}
	if tag.RowsAffected() == 0 {
		// Distinguish "lost the race" from "no such job".
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM download_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, xerrors.StoreUnavailable(err)
		}
		if !exists {
			return false, xerrors.ErrNotFound
		}
		return false, nil
	}
	return true, nil
}
