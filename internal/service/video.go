package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"listen_later/internal/config"
	"listen_later/internal/domain"
)

// VideoPipeline produces audio for YouTube articles by pulling the video's
// audio track instead of synthesizing speech. It shares the job lifecycle
// with Pipeline so clients poll both kinds the same way.
type VideoPipeline struct {
	articles   ArticleStore
	jobs       JobStore
	blobs      BlobStore
	downloader MediaDownloader
	cfg        config.PipelineConfig
	logger     *slog.Logger
}

func NewVideoPipeline(
	articles ArticleStore,
	jobs JobStore,
	blobs BlobStore,
	downloader MediaDownloader,
	cfg config.PipelineConfig,
	logger *slog.Logger,
) *VideoPipeline {
	return &VideoPipeline{
		articles:   articles,
		jobs:       jobs,
		blobs:      blobs,
		downloader: downloader,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "video_pipeline")),
	}
}

// GenerateAudio downloads and stores the audio track for the article's video.
// A video's content never changes, so the canonical URL stands in for the
// content hash.
func (p *VideoPipeline) GenerateAudio(ctx context.Context, article *domain.Article) error {
	hash := domain.ContentHash(article.URL)

	job, err := p.jobs.FindOrCreate(ctx, article.ID, p.cfg.Voice)
	if err != nil {
		return fmt.Errorf("find or create job: %w", err)
	}

	current, err := audioCurrent(ctx, p.blobs, job, hash)
	if err != nil {
		return fmt.Errorf("check stored audio: %w", err)
	}
	if current {
		p.logger.Info("audio already current", slog.Int64("article_id", article.ID))
		return nil
	}

	acquired, err := p.jobs.AcquireLease(ctx, article.ID, p.cfg.Lease)
	if err != nil {
		return fmt.Errorf("acquire job lease: %w", err)
	}
	if !acquired {
		p.logger.Info("job leased by another worker", slog.Int64("article_id", article.ID))
		return nil
	}
	defer func() {
		if err := p.jobs.ReleaseLease(context.WithoutCancel(ctx), article.ID); err != nil {
			p.logger.Warn("release job lease", slog.Int64("article_id", article.ID), slog.Any("error", err))
		}
	}()

	if err := p.run(ctx, article, job, hash); err != nil {
		return failJob(ctx, p.jobs, job, p.cfg.MaxRetries, err, p.logger)
	}
	return nil
}

func (p *VideoPipeline) run(ctx context.Context, article *domain.Article, job *domain.AudioJob, hash string) error {
	if err := p.jobs.ResetForRun(ctx, job.ID, hash, 0, 0); err != nil {
		return fmt.Errorf("reset job: %w", err)
	}
	if err := p.jobs.MarkDownloading(ctx, job.ID); err != nil {
		return fmt.Errorf("mark downloading: %w", err)
	}

	p.logger.Info("video download started",
		slog.Int64("article_id", article.ID),
		slog.String("url", article.URL),
	)

	tmpPath := filepath.Join(p.cfg.TempDir, fmt.Sprintf("video-%d-%s.mp3", article.ID, uuid.NewString()))
	defer os.Remove(tmpPath)

	info, err := p.downloader.Extract(ctx, article.URL, tmpPath)
	if err != nil {
		return fmt.Errorf("download video audio: %w", err)
	}

	data, err := os.ReadFile(info.AudioPath)
	if err != nil {
		return domain.NewPipelineError(domain.ErrStorageFailed, fmt.Errorf("read downloaded audio: %w", err))
	}

	key := audioKey(article.ID)
	if err := p.blobs.Put(ctx, key, data); err != nil {
		return domain.NewPipelineError(domain.ErrStorageFailed, fmt.Errorf("store audio: %w", err))
	}

	if err := p.jobs.MarkReady(ctx, job.ID, key, info.DurationSeconds); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}

	if article.Title == "" && info.Title != "" {
		if err := p.articles.UpdateExtraction(ctx, article.ID, info.Title, article.Body, domain.ExtractionReady); err != nil {
			p.logger.Warn("update video title", slog.Int64("article_id", article.ID), slog.Any("error", err))
		}
	}
	if err := p.articles.UpdateAudioURL(ctx, article.ID, p.blobs.URL(key)); err != nil {
		return fmt.Errorf("update article audio url: %w", err)
	}

	p.logger.Info("video download complete",
		slog.Int64("article_id", article.ID),
		slog.Int("duration_seconds", info.DurationSeconds),
		slog.Int("bytes", len(data)),
	)
	return nil
}
