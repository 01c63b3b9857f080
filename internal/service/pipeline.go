package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"listen_later/internal/audio"
	"listen_later/internal/config"
	"listen_later/internal/domain"
	"listen_later/internal/textchunk"
)

// Pipeline turns an extracted article body into a single stored audio file:
// chunk, synthesize each chunk, concatenate, persist. All state lives on the
// article's audio job so polling clients and the retry sweep see every step.
type Pipeline struct {
	articles ArticleStore
	jobs     JobStore
	blobs    BlobStore
	synth    SpeechSynthesizer
	cfg      config.PipelineConfig
	logger   *slog.Logger
}

func NewPipeline(
	articles ArticleStore,
	jobs JobStore,
	blobs BlobStore,
	synth SpeechSynthesizer,
	cfg config.PipelineConfig,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		articles: articles,
		jobs:     jobs,
		blobs:    blobs,
		synth:    synth,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "pipeline")),
	}
}

// GenerateAudio runs the synthesis pipeline for the article. It is a no-op
// when the article has no body yet, when audio for the current content
// already exists, or when another worker holds the job lease.
func (p *Pipeline) GenerateAudio(ctx context.Context, article *domain.Article) error {
	if !article.HasBody() {
		p.logger.Info("skipping article without body", slog.Int64("article_id", article.ID))
		return nil
	}

	body := *article.Body
	hash := domain.ContentHash(body)

	job, err := p.jobs.FindOrCreate(ctx, article.ID, p.cfg.Voice)
	if err != nil {
		return fmt.Errorf("find or create job: %w", err)
	}

	current, err := audioCurrent(ctx, p.blobs, job, hash)
	if err != nil {
		return fmt.Errorf("check stored audio: %w", err)
	}
	if current {
		p.logger.Info("audio already current",
			slog.Int64("article_id", article.ID),
			slog.String("content_hash", hash),
		)
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

	if err := p.run(ctx, article, job, body, hash); err != nil {
		return failJob(ctx, p.jobs, job, p.cfg.MaxRetries, err, p.logger)
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, article *domain.Article, job *domain.AudioJob, body, hash string) error {
	estimatedMS := audio.EstimateDurationMS(len(body))
	if err := p.jobs.ResetForRun(ctx, job.ID, hash, len(body), estimatedMS); err != nil {
		return fmt.Errorf("reset job: %w", err)
	}

	chunks := textchunk.Split(body)
	if len(chunks) == 0 {
		return domain.NewPipelineError(domain.ErrInvalidContent, errors.New("no synthesizable text"))
	}

	if err := p.jobs.MarkProcessing(ctx, job.ID, len(chunks)); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	p.logger.Info("synthesis started",
		slog.Int64("article_id", article.ID),
		slog.Int("chunks", len(chunks)),
		slog.Int("content_length", len(body)),
	)

	voice := job.Voice
	if voice == "" {
		voice = p.cfg.Voice
	}

	buffers := make([][]byte, 0, len(chunks))
	for i, chunk := range chunks {
		data, err := p.synth.Synthesize(ctx, chunk, voice)
		if err != nil {
			return fmt.Errorf("synthesize chunk %d of %d: %w", i+1, len(chunks), err)
		}
		buffers = append(buffers, data)

		// Progress is advisory; a failed update never aborts the run.
		percent := (i + 1) * 100 / len(chunks)
		if err := p.jobs.UpdateProgress(ctx, job.ID, i+1, percent); err != nil {
			p.logger.Warn("update progress", slog.Int64("job_id", job.ID), slog.Any("error", err))
		}
	}

	final := audio.Assemble(buffers)
	key := audioKey(article.ID)
	if err := p.blobs.Put(ctx, key, final); err != nil {
		return domain.NewPipelineError(domain.ErrStorageFailed, fmt.Errorf("store audio: %w", err))
	}

	durationSeconds := int(estimatedMS / 1000)
	if err := p.jobs.MarkReady(ctx, job.ID, key, durationSeconds); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	if err := p.articles.UpdateAudioURL(ctx, article.ID, p.blobs.URL(key)); err != nil {
		return fmt.Errorf("update article audio url: %w", err)
	}

	p.logger.Info("synthesis complete",
		slog.Int64("article_id", article.ID),
		slog.Int("chunks", len(chunks)),
		slog.Int("bytes", len(final)),
	)
	return nil
}

func audioKey(articleID int64) string {
	return fmt.Sprintf("articles/%d.mp3", articleID)
}

// audioCurrent reports whether the job's stored audio already matches the
// given content hash and the file is still present.
func audioCurrent(ctx context.Context, blobs BlobStore, job *domain.AudioJob, hash string) (bool, error) {
	if job.Status != domain.JobReady || job.ContentHash != hash || job.AudioPath == nil {
		return false, nil
	}
	return blobs.Exists(ctx, *job.AudioPath)
}

// failJob classifies the cause, records it on the job together with the next
// retry time when policy allows one, and returns the original cause so the
// queue layer can discard the delivery.
func failJob(ctx context.Context, jobs JobStore, job *domain.AudioJob, maxRetries int, cause error, logger *slog.Logger) error {
	code := domain.Classify(cause)

	var nextRetryAt *time.Time
	if code.Retryable() && job.RetryCount < maxRetries {
		at := time.Now().UTC().Add(code.RetryDelay())
		nextRetryAt = &at
	}

	if err := jobs.MarkFailed(context.WithoutCancel(ctx), job.ID, code, code.UserMessage(), nextRetryAt); err != nil {
		logger.Error("persist job failure",
			slog.Int64("job_id", job.ID),
			slog.Any("error", err),
		)
	}

	logger.Error("pipeline run failed",
		slog.Int64("job_id", job.ID),
		slog.Int64("article_id", job.ArticleID),
		slog.String("code", string(code)),
		slog.Bool("retryable", nextRetryAt != nil),
		slog.Any("error", cause),
	)
	return cause
}
