package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"listen_later/internal/audio"
	"listen_later/internal/domain"
	"listen_later/internal/media"
	"listen_later/internal/queue"
)

// ErrAudioNotReady is returned when audio is requested for a job that has not
// finished yet.
var ErrAudioNotReady = errors.New("audio not ready")

// SubmitService is the request-side entry point: it stores submitted
// articles, queues background work, and answers polling queries. The heavy
// lifting happens in the queue workers.
type SubmitService struct {
	articles ArticleStore
	jobs     JobStore
	blobs    BlobStore
	tasks    TaskQueue
	voice    string
	logger   *slog.Logger
}

func NewSubmitService(
	articles ArticleStore,
	jobs JobStore,
	blobs BlobStore,
	tasks TaskQueue,
	voice string,
	logger *slog.Logger,
) *SubmitService {
	return &SubmitService{
		articles: articles,
		jobs:     jobs,
		blobs:    blobs,
		tasks:    tasks,
		voice:    voice,
		logger:   logger.With(slog.String("component", "submit")),
	}
}

// Submit stores the article for the device and queues audio generation.
// Resubmitting the same URL returns the existing article and queues a fresh
// task; the job lease and content hash make the extra run harmless.
func (s *SubmitService) Submit(ctx context.Context, deviceID, url, title, body string) (*domain.Article, error) {
	source := domain.SourceWeb
	if canonical, ok := media.NormalizeURL(url); ok {
		source = domain.SourceYouTube
		url = canonical
	}

	article := &domain.Article{
		DeviceID:         deviceID,
		URL:              url,
		Source:           source,
		Title:            title,
		ExtractionStatus: domain.ExtractionPending,
	}
	if body != "" {
		// Raw client-supplied content; the worker cleans it before synthesis.
		article.Body = &body
	}

	stored, isNew, err := s.articles.CreateIfAbsent(ctx, article)
	if err != nil {
		return nil, fmt.Errorf("store article: %w", err)
	}

	task := queue.NewTask(stored.ID, stored.Source)
	if err := s.tasks.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueue audio task: %w", err)
	}

	s.logger.Info("article submitted",
		slog.Int64("article_id", stored.ID),
		slog.String("source", string(stored.Source)),
		slog.Bool("new", isNew),
		slog.String("task_id", task.TaskID),
	)
	return stored, nil
}

// RequestAudio triggers audio generation for an existing article. When a run
// is already in flight or the audio is current it reports that status without
// queueing anything.
func (s *SubmitService) RequestAudio(ctx context.Context, articleID int64) (domain.JobStatus, error) {
	article, err := s.articles.GetByID(ctx, articleID)
	if err != nil {
		return "", fmt.Errorf("load article %d: %w", articleID, err)
	}

	job, err := s.jobs.GetByArticle(ctx, articleID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("load job: %w", err)
	}
	if job != nil {
		if job.InFlight() {
			return job.Status, nil
		}
		current, err := audioCurrent(ctx, s.blobs, job, contentHash(article))
		if err == nil && current {
			return domain.JobReady, nil
		}
	}

	task := queue.NewTask(article.ID, article.Source)
	if err := s.tasks.Enqueue(ctx, task); err != nil {
		return "", fmt.Errorf("enqueue audio task: %w", err)
	}
	s.logger.Info("audio requested",
		slog.Int64("article_id", article.ID),
		slog.String("task_id", task.TaskID),
	)
	return domain.JobPending, nil
}

// Audio returns the stored audio bytes for a ready article.
func (s *SubmitService) Audio(ctx context.Context, articleID int64) ([]byte, *domain.AudioJob, error) {
	job, err := s.jobs.GetByArticle(ctx, articleID)
	if err != nil {
		return nil, nil, fmt.Errorf("load job: %w", err)
	}
	if job.Status != domain.JobReady || job.AudioPath == nil {
		return nil, job, ErrAudioNotReady
	}

	data, err := s.blobs.Get(ctx, *job.AudioPath)
	if err != nil {
		return nil, job, fmt.Errorf("read audio: %w", err)
	}
	return data, job, nil
}

// StatusView is what polling clients see for one article's audio job.
type StatusView struct {
	Status          domain.JobStatus
	ProgressPercent int
	ETASeconds      *float64
	PollIntervalMS  int
	ErrorCode       string
	ErrorMessage    string
	RetryInSeconds  *int
	AudioURL        string
	DurationSeconds *int
}

// Status assembles the polling view for the article's job. Articles with no
// job yet report pending so clients keep polling after Submit.
func (s *SubmitService) Status(ctx context.Context, articleID int64) (*StatusView, error) {
	if _, err := s.articles.GetByID(ctx, articleID); err != nil {
		return nil, fmt.Errorf("load article %d: %w", articleID, err)
	}

	job, err := s.jobs.GetByArticle(ctx, articleID)
	if errors.Is(err, domain.ErrNotFound) {
		return &StatusView{
			Status:         domain.JobPending,
			PollIntervalMS: audio.DefaultPollIntervalMS,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}

	view := &StatusView{
		Status:          job.Status,
		ProgressPercent: audio.ProgressPercent(job.TotalChunks, job.CompletedChunks, job.ProgressPercent),
		PollIntervalMS:  audio.DefaultPollIntervalMS,
	}

	switch job.Status {
	case domain.JobProcessing, domain.JobDownloading:
		now := time.Now().UTC()
		if eta, known := audio.ETASeconds(job.EstimatedDurationMS, job.ProcessingStartedAt, now); known {
			view.ETASeconds = &eta
			view.PollIntervalMS = audio.PollIntervalMS(eta, true)
		}
	case domain.JobReady:
		view.ProgressPercent = 100
		if job.AudioPath != nil {
			view.AudioURL = s.blobs.URL(*job.AudioPath)
		}
		view.DurationSeconds = job.DurationSeconds
	case domain.JobFailed:
		if job.ErrorCode != nil {
			view.ErrorCode = *job.ErrorCode
		}
		if job.ErrorMessage != nil {
			view.ErrorMessage = *job.ErrorMessage
		}
		if job.NextRetryAt != nil {
			seconds := int(time.Until(*job.NextRetryAt).Seconds())
			if seconds < 0 {
				seconds = 0
			}
			view.RetryInSeconds = &seconds
		}
	}
	return view, nil
}

// List returns the device's most recent articles.
func (s *SubmitService) List(ctx context.Context, deviceID string, limit int) ([]domain.Article, error) {
	return s.articles.ListByDevice(ctx, deviceID, limit)
}

func contentHash(article *domain.Article) string {
	if article.Source == domain.SourceYouTube {
		return domain.ContentHash(article.URL)
	}
	if article.HasBody() {
		return domain.ContentHash(*article.Body)
	}
	return ""
}
