package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"listen_later/internal/domain"
	"listen_later/internal/extractor"
	"listen_later/internal/media"
	"listen_later/internal/queue"
)

type ArticleStore interface {
	CreateIfAbsent(ctx context.Context, article *domain.Article) (*domain.Article, bool, error)
	GetByID(ctx context.Context, id int64) (*domain.Article, error)
	UpdateExtraction(ctx context.Context, id int64, title string, body *string, status domain.ExtractionStatus) error
	UpdateAudioURL(ctx context.Context, id int64, audioURL string) error
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]domain.Article, error)
}

type JobStore interface {
	FindOrCreate(ctx context.Context, articleID int64, voice string) (*domain.AudioJob, error)
	GetByArticle(ctx context.Context, articleID int64) (*domain.AudioJob, error)
	AcquireLease(ctx context.Context, articleID int64, lease time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, articleID int64) error
	ResetForRun(ctx context.Context, jobID int64, contentHash string, contentLength int, estimatedMS int64) error
	MarkProcessing(ctx context.Context, jobID int64, totalChunks int) error
	MarkDownloading(ctx context.Context, jobID int64) error
	UpdateProgress(ctx context.Context, jobID int64, completedChunks, progressPercent int) error
	MarkReady(ctx context.Context, jobID int64, audioPath string, durationSeconds int) error
	MarkFailed(ctx context.Context, jobID int64, code domain.ErrorCode, message string, nextRetryAt *time.Time) error
	MarkPending(ctx context.Context, jobID int64) error
	DueForRetry(ctx context.Context, now time.Time, maxRetries, limit int) ([]domain.AudioJob, error)
	DeleteExpired(ctx context.Context, completedBefore time.Time) ([]string, error)
}

type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

type ContentExtractor interface {
	Extract(ctx context.Context, url string) (*extractor.Result, error)
	Clean(ctx context.Context, raw, providedTitle, url string) (*extractor.Result, error)
}

type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

type MediaDownloader interface {
	Extract(ctx context.Context, url, outputPath string) (*media.Info, error)
}

type TaskQueue interface {
	Enqueue(ctx context.Context, task queue.Task) error
}
