package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"listen_later/internal/domain"
)

type JobStore struct {
	db *sqlx.DB
}

func NewJobStore(db *sqlx.DB) *JobStore {
	return &JobStore{db: db}
}

// FindOrCreate returns the article's job, creating a pending one on first
// request. One row exists per article; later attempts reset it in place.
func (s *JobStore) FindOrCreate(ctx context.Context, articleID int64, voice string) (*domain.AudioJob, error) {
	query := `
		INSERT INTO audio_jobs (article_id, status, voice)
		VALUES ($1, $2, $3)
		ON CONFLICT (article_id) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, articleID, domain.JobPending, voice); err != nil {
		return nil, fmt.Errorf("create job for article %d: %w", articleID, err)
	}

	return s.GetByArticle(ctx, articleID)
}

func (s *JobStore) GetByArticle(ctx context.Context, articleID int64) (*domain.AudioJob, error) {
	var job domain.AudioJob
	err := s.db.GetContext(ctx, &job,
		`SELECT * FROM audio_jobs WHERE article_id = $1`, articleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job for article %d: %w", articleID, err)
	}
	return &job, nil
}

// AcquireLease claims the article's job for one run. The update succeeds
// only when no other worker holds an unexpired lease, which enforces the
// single-flight rule; the bounded lease keeps a crashed worker from wedging
// the article forever.
func (s *JobStore) AcquireLease(ctx context.Context, articleID int64, lease time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE audio_jobs
		SET locked_until = now() + $2 * interval '1 second', updated_at = now()
		WHERE article_id = $1
		  AND (locked_until IS NULL OR locked_until < now())`,
		articleID, int(lease.Seconds()))
	if err != nil {
		return false, fmt.Errorf("acquire lease for article %d: %w", articleID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseLease clears the run lease.
func (s *JobStore) ReleaseLease(ctx context.Context, articleID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE audio_jobs SET locked_until = NULL, updated_at = now()
		WHERE article_id = $1`, articleID)
	if err != nil {
		return fmt.Errorf("release lease for article %d: %w", articleID, err)
	}
	return nil
}

// ResetForRun puts the job back to pending for a fresh attempt: new content
// hash, cleared error and progress, new estimate.
func (s *JobStore) ResetForRun(ctx context.Context, jobID int64, contentHash string, contentLength int, estimatedMS int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE audio_jobs
		SET status = $2,
		    content_hash = $3,
		    content_length = $4,
		    estimated_duration_ms = $5,
		    error_code = NULL,
		    error_message = NULL,
		    progress_percent = 0,
		    total_chunks = 0,
		    completed_chunks = 0,
		    processing_started_at = NULL,
		    processing_completed_at = NULL,
		    updated_at = now()
		WHERE id = $1`,
		jobID, domain.JobPending, contentHash, contentLength, estimatedMS)
	if err != nil {
		return fmt.Errorf("reset job %d: %w", jobID, err)
	}
	return nil
}

// MarkProcessing transitions pending -> processing. ErrConflict when the job
// is not pending.
func (s *JobStore) MarkProcessing(ctx context.Context, jobID int64, totalChunks int) error {
	return s.transition(ctx, `
		UPDATE audio_jobs
		SET status = $2, total_chunks = $3, processing_started_at = now(), updated_at = now()
		WHERE id = $1 AND status = $4`,
		jobID, domain.JobProcessing, totalChunks, domain.JobPending)
}

// MarkDownloading transitions pending -> downloading for the video path.
func (s *JobStore) MarkDownloading(ctx context.Context, jobID int64) error {
	return s.transition(ctx, `
		UPDATE audio_jobs
		SET status = $2, processing_started_at = now(), updated_at = now()
		WHERE id = $1 AND status = $3`,
		jobID, domain.JobDownloading, domain.JobPending)
}

// UpdateProgress stores chunk counters after each synthesized chunk.
// Counters only move forward within a run.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID int64, completedChunks, progressPercent int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE audio_jobs
		SET completed_chunks = $2, progress_percent = $3, updated_at = now()
		WHERE id = $1 AND completed_chunks <= $2`,
		jobID, completedChunks, progressPercent)
	if err != nil {
		return fmt.Errorf("update progress for job %d: %w", jobID, err)
	}
	return nil
}

// MarkReady finishes a successful run.
func (s *JobStore) MarkReady(ctx context.Context, jobID int64, audioPath string, durationSeconds int) error {
	return s.transition(ctx, `
		UPDATE audio_jobs
		SET status = $2,
		    audio_path = $3,
		    duration_seconds = $4,
		    progress_percent = 100,
		    next_retry_at = NULL,
		    retry_count = 0,
		    processing_completed_at = now(),
		    updated_at = now()
		WHERE id = $1 AND status IN ($5, $6)`,
		jobID, domain.JobReady, audioPath, durationSeconds,
		domain.JobProcessing, domain.JobDownloading)
}

// MarkFailed records a classified failure. A non-nil nextRetryAt schedules a
// retry and increments the attempt counter; nil leaves the job terminally
// failed. The precondition keeps a late failure write from clobbering a
// concurrent success.
func (s *JobStore) MarkFailed(ctx context.Context, jobID int64, code domain.ErrorCode, message string, nextRetryAt *time.Time) error {
	var (
		res sql.Result
		err error
	)

	if nextRetryAt != nil {
		res, err = s.db.ExecContext(ctx, `
			UPDATE audio_jobs
			SET status = $2, error_code = $3, error_message = $4,
			    next_retry_at = $5, retry_count = retry_count + 1,
			    processing_completed_at = now(), updated_at = now()
			WHERE id = $1 AND status <> $6`,
			jobID, domain.JobFailed, code, message, nextRetryAt, domain.JobReady)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE audio_jobs
			SET status = $2, error_code = $3, error_message = $4,
			    next_retry_at = NULL,
			    processing_completed_at = now(), updated_at = now()
			WHERE id = $1 AND status <> $5`,
			jobID, domain.JobFailed, code, message, domain.JobReady)
	}
	if err != nil {
		return fmt.Errorf("mark job %d failed: %w", jobID, err)
	}

	return checkAffected(res)
}

// MarkPending transitions failed -> pending when the retry sweep resubmits a
// job.
func (s *JobStore) MarkPending(ctx context.Context, jobID int64) error {
	return s.transition(ctx, `
		UPDATE audio_jobs
		SET status = $2, next_retry_at = NULL, updated_at = now()
		WHERE id = $1 AND status = $3`,
		jobID, domain.JobPending, domain.JobFailed)
}

// DueForRetry lists failed jobs whose backoff window has elapsed and whose
// attempt count is under the cap.
func (s *JobStore) DueForRetry(ctx context.Context, now time.Time, maxRetries, limit int) ([]domain.AudioJob, error) {
	if limit <= 0 {
		limit = 20
	}

	var jobs []domain.AudioJob
	err := s.db.SelectContext(ctx, &jobs, `
		SELECT * FROM audio_jobs
		WHERE status = $1
		  AND next_retry_at IS NOT NULL
		  AND next_retry_at <= $2
		  AND retry_count < $3
		ORDER BY next_retry_at
		LIMIT $4`,
		domain.JobFailed, now, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs due for retry: %w", err)
	}
	return jobs, nil
}

// DeleteExpired removes ready jobs whose results have outlived the retention
// window and returns their audio paths so the caller can garbage-collect the
// blobs.
func (s *JobStore) DeleteExpired(ctx context.Context, completedBefore time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM audio_jobs
		WHERE status = $1
		  AND processing_completed_at IS NOT NULL
		  AND processing_completed_at < $2
		RETURNING audio_path`,
		domain.JobReady, completedBefore)
	if err != nil {
		return nil, fmt.Errorf("delete expired jobs: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path sql.NullString
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		if path.Valid && path.String != "" {
			paths = append(paths, path.String)
		}
	}
	return paths, rows.Err()
}

func (s *JobStore) transition(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("job transition: %w", err)
	}
	return checkAffected(res)
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrConflict
	}
	return nil
}
