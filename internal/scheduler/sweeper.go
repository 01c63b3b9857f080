// Package scheduler runs the periodic maintenance jobs: requeueing failed
// audio jobs whose backoff elapsed and deleting expired audio files.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"listen_later/internal/config"
	"listen_later/internal/queue"
	"listen_later/internal/service"
)

type Sweeper struct {
	articles   service.ArticleStore
	jobs       service.JobStore
	blobs      service.BlobStore
	tasks      service.TaskQueue
	cfg        config.SweepConfig
	maxRetries int
	cron       *cron.Cron
	logger     *slog.Logger
}

func NewSweeper(
	articles service.ArticleStore,
	jobs service.JobStore,
	blobs service.BlobStore,
	tasks service.TaskQueue,
	cfg config.SweepConfig,
	maxRetries int,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		articles:   articles,
		jobs:       jobs,
		blobs:      blobs,
		tasks:      tasks,
		cfg:        cfg,
		maxRetries: maxRetries,
		cron:       cron.New(),
		logger:     logger.With(slog.String("component", "sweeper")),
	}
}

// Start registers the sweep schedules and starts the cron runner.
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.RetrySchedule, func() { s.sweepRetries(ctx) }); err != nil {
		return fmt.Errorf("schedule retry sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.CleanupSchedule, func() { s.cleanupExpired(ctx) }); err != nil {
		return fmt.Errorf("schedule cleanup sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info("sweeper started",
		slog.String("retry_schedule", s.cfg.RetrySchedule),
		slog.String("cleanup_schedule", s.cfg.CleanupSchedule),
	)
	return nil
}

// Stop halts the cron runner and waits for running sweeps to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("sweeper stopped")
}

// sweepRetries requeues failed jobs whose backoff has elapsed. Enqueue comes
// before MarkPending: a failed enqueue leaves the job failed with its
// next_retry_at intact, so the next sweep sees it again. The lease and the
// per-run reset make a duplicate delivery harmless.
func (s *Sweeper) sweepRetries(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	due, err := s.jobs.DueForRetry(sweepCtx, time.Now().UTC(), s.maxRetries, s.cfg.RetryBatchSize)
	if err != nil {
		s.logger.Error("list jobs due for retry", slog.Any("error", err))
		return
	}

	for _, job := range due {
		if err := s.enqueue(sweepCtx, job.ArticleID); err != nil {
			s.logger.Error("enqueue retry task", slog.Int64("job_id", job.ID), slog.Any("error", err))
			continue
		}
		if err := s.jobs.MarkPending(sweepCtx, job.ID); err != nil {
			s.logger.Error("requeue job", slog.Int64("job_id", job.ID), slog.Any("error", err))
			continue
		}
		s.logger.Info("job requeued",
			slog.Int64("job_id", job.ID),
			slog.Int64("article_id", job.ArticleID),
			slog.Int("retry_count", job.RetryCount),
		)
	}
}

func (s *Sweeper) enqueue(ctx context.Context, articleID int64) error {
	article, err := s.articles.GetByID(ctx, articleID)
	if err != nil {
		return fmt.Errorf("load article %d: %w", articleID, err)
	}
	return s.tasks.Enqueue(ctx, queue.NewTask(article.ID, article.Source))
}

// cleanupExpired deletes jobs completed before the retention window along
// with their audio files.
func (s *Sweeper) cleanupExpired(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	paths, err := s.jobs.DeleteExpired(sweepCtx, cutoff)
	if err != nil {
		s.logger.Error("delete expired jobs", slog.Any("error", err))
		return
	}

	for _, path := range paths {
		if err := s.blobs.Delete(sweepCtx, path); err != nil {
			s.logger.Warn("delete expired audio", slog.String("path", path), slog.Any("error", err))
		}
	}

	if len(paths) > 0 {
		s.logger.Info("expired audio cleaned up", slog.Int("count", len(paths)))
	}
}
