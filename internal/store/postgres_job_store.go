package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lumenandco/restoreflow/internal/domain"
	_ "github.com/lib/pq"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	order_id TEXT UNIQUE,
	email TEXT NOT NULL,
	package_id TEXT NOT NULL,
	service_type TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS job_images (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	position INT NOT NULL,
	original_name TEXT NOT NULL,
	size BIGINT NOT NULL,
	mime_type TEXT NOT NULL,
	status TEXT NOT NULL,
	original_url TEXT NOT NULL,
	original_key TEXT NOT NULL,
	restored_url TEXT NOT NULL DEFAULT '',
	restored_key TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS job_images_job_id_idx ON job_images (job_id);
CREATE INDEX IF NOT EXISTS jobs_email_idx ON jobs (email);
`

// PostgresJobStore is the durable production job store. Status transitions
// are guarded UPDATEs so two workers can never drive the same job past each
// other and terminal states stay terminal.
type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchemaSQL); err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) CreateJob(ctx context.Context, job domain.Job) (domain.Job, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("begin create job: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO jobs (id, order_id, email, package_id, service_type, status, error_message, created_at, updated_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, '', $7, $8)
		 ON CONFLICT (order_id) DO NOTHING`,
		job.ID,
		job.OrderID,
		job.Email,
		job.PackageID,
		job.ServiceType,
		job.Status,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("insert job: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("insert job rows: %w", err)
	}
	if inserted == 0 {
		existing, ok, err := s.GetJobByOrderID(ctx, job.OrderID)
		if err != nil {
			return domain.Job{}, false, err
		}
		if !ok {
			return domain.Job{}, false, fmt.Errorf("job for order %s vanished during insert", job.OrderID)
		}
		return existing, false, nil
	}

	for i, img := range job.Images {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO job_images (id, job_id, position, original_name, size, mime_type, status, original_url, original_key)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			img.ID,
			job.ID,
			i,
			img.OriginalName,
			img.Size,
			img.MimeType,
			img.Status,
			img.OriginalURL,
			img.OriginalKey,
		); err != nil {
			return domain.Job{}, false, fmt.Errorf("insert job image: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Job{}, false, fmt.Errorf("commit create job: %w", err)
	}
	return job, true, nil
}

func (s *PostgresJobStore) GetJob(ctx context.Context, id string) (domain.Job, bool, error) {
	return s.getJobWhere(ctx, "id = $1", id)
}

func (s *PostgresJobStore) GetJobByOrderID(ctx context.Context, orderID string) (domain.Job, bool, error) {
	return s.getJobWhere(ctx, "order_id = $1", orderID)
}

func (s *PostgresJobStore) getJobWhere(ctx context.Context, where string, arg any) (domain.Job, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, COALESCE(order_id, ''), email, package_id, service_type, status, error_message, created_at, updated_at, completed_at
		 FROM jobs WHERE `+where,
		arg,
	)

	var (
		job         domain.Job
		completedAt sql.NullTime
	)
	if err := row.Scan(
		&job.ID,
		&job.OrderID,
		&job.Email,
		&job.PackageID,
		&job.ServiceType,
		&job.Status,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
		&completedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}
	if completedAt.Valid {
		done := completedAt.Time
		job.CompletedAt = &done
	}

	images, err := s.loadImages(ctx, job.ID)
	if err != nil {
		return domain.Job{}, false, err
	}
	job.Images = images
	return job, true, nil
}

func (s *PostgresJobStore) loadImages(ctx context.Context, jobID string) ([]domain.Image, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, original_name, size, mime_type, status, original_url, original_key, restored_url, restored_key, error
		 FROM job_images WHERE job_id = $1 ORDER BY position`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("query job images: %w", err)
	}
	defer rows.Close()

	var images []domain.Image
	for rows.Next() {
		var img domain.Image
		if err := rows.Scan(
			&img.ID,
			&img.OriginalName,
			&img.Size,
			&img.MimeType,
			&img.Status,
			&img.OriginalURL,
			&img.OriginalKey,
			&img.RestoredURL,
			&img.RestoredKey,
			&img.Error,
		); err != nil {
			return nil, fmt.Errorf("scan job image: %w", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job images: %w", err)
	}
	return images, nil
}

func (s *PostgresJobStore) ListJobsByEmail(ctx context.Context, email string) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id FROM jobs WHERE email = $1 ORDER BY created_at DESC`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("query jobs by email: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs by email: %w", err)
	}

	jobs := make([]domain.Job, 0, len(ids))
	for _, id := range ids {
		job, ok, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func (s *PostgresJobStore) ClaimProcessing(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = $1, updated_at = $2
		 WHERE id = $3 AND status IN ($4, $1)`,
		domain.JobStatusProcessing,
		time.Now().UTC(),
		id,
		domain.JobStatusPaid,
	)
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", id, err)
	}

	claimed, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim job %s rows: %w", id, err)
	}
	if claimed > 0 {
		return true, nil
	}

	if _, ok, err := s.GetJob(ctx, id); err != nil {
		return false, err
	} else if !ok {
		return false, fmt.Errorf("claim job %s: %w", id, ErrJobNotFound)
	}
	return false, nil
}

func (s *PostgresJobStore) CompleteJob(ctx context.Context, id string, completedAt time.Time) error {
	return s.finish(ctx, id, domain.JobStatusCompleted, "", completedAt)
}

func (s *PostgresJobStore) FailJob(ctx context.Context, id string, errorMessage string, completedAt time.Time) error {
	return s.finish(ctx, id, domain.JobStatusFailed, errorMessage, completedAt)
}

func (s *PostgresJobStore) finish(ctx context.Context, id, status, errorMessage string, completedAt time.Time) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = $1, error_message = $2, completed_at = $3, updated_at = $3
		 WHERE id = $4 AND status = $5`,
		status,
		errorMessage,
		completedAt.UTC(),
		id,
		domain.JobStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish job %s rows: %w", id, err)
	}
	if affected > 0 {
		return nil
	}

	job, ok, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("finish job %s: %w", id, ErrJobNotFound)
	}
	if job.Terminal() {
		return nil
	}
	return fmt.Errorf("finish job %s: unexpected status %s", id, job.Status)
}

func (s *PostgresJobStore) UpdateImageResult(ctx context.Context, jobID, imageID, restoredURL, restoredKey string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE job_images SET status = $1, restored_url = $2, restored_key = $3, error = ''
		 WHERE id = $4 AND job_id = $5`,
		domain.ImageStatusRestored,
		restoredURL,
		restoredKey,
		imageID,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("update image result: %w", err)
	}
	return requireRow(res, jobID, imageID)
}

func (s *PostgresJobStore) UpdateImageError(ctx context.Context, jobID, imageID, message string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE job_images SET status = $1, error = $2
		 WHERE id = $3 AND job_id = $4`,
		domain.ImageStatusFailed,
		message,
		imageID,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("update image error: %w", err)
	}
	return requireRow(res, jobID, imageID)
}

func requireRow(res sql.Result, jobID, imageID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update image rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("image %s not found on job %s", imageID, jobID)
	}
	return nil
}
