package domain

import "time"

// JobStatus is the lifecycle state of an audio generation attempt.
type JobStatus string

const (
	JobPending     JobStatus = "pending"
	JobProcessing  JobStatus = "processing"
	JobDownloading JobStatus = "downloading"
	JobReady       JobStatus = "ready"
	JobFailed      JobStatus = "failed"
)

// AudioJob is the durable record of one audio-generation attempt for an
// article. One row per article; subsequent attempts reuse and reset it.
type AudioJob struct {
	ID                    int64      `db:"id"`
	ArticleID             int64      `db:"article_id"`
	Status                JobStatus  `db:"status"`
	Voice                 string     `db:"voice"`
	ContentHash           string     `db:"content_hash"`
	ContentLength         int        `db:"content_length"`
	AudioPath             *string    `db:"audio_path"`
	DurationSeconds       *int       `db:"duration_seconds"`
	ProgressPercent       int        `db:"progress_percent"`
	EstimatedDurationMS   int64      `db:"estimated_duration_ms"`
	TotalChunks           int        `db:"total_chunks"`
	CompletedChunks       int        `db:"completed_chunks"`
	RetryCount            int        `db:"retry_count"`
	NextRetryAt           *time.Time `db:"next_retry_at"`
	ErrorCode             *string    `db:"error_code"`
	ErrorMessage          *string    `db:"error_message"`
	ProcessingStartedAt   *time.Time `db:"processing_started_at"`
	ProcessingCompletedAt *time.Time `db:"processing_completed_at"`
	LockedUntil           *time.Time `db:"locked_until"`
	CreatedAt             time.Time  `db:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at"`
}

// InFlight reports whether a run is currently working on this job.
func (j *AudioJob) InFlight() bool {
	return j.Status == JobProcessing || j.Status == JobDownloading
}
