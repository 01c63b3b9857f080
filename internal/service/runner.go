package service

import (
	"context"
	"fmt"
	"log/slog"

	"listen_later/internal/domain"
	"listen_later/internal/extractor"
	"listen_later/internal/queue"
)

// Runner handles queued audio tasks. It fills in the article's title and body
// first when extraction has not happened yet, then hands off to the pipeline
// matching the article's source.
type Runner struct {
	articles   ArticleStore
	jobs       JobStore
	extractor  ContentExtractor
	pipeline   *Pipeline
	video      *VideoPipeline
	voice      string
	maxRetries int
	logger     *slog.Logger
}

func NewRunner(
	articles ArticleStore,
	jobs JobStore,
	contentExtractor ContentExtractor,
	pipeline *Pipeline,
	video *VideoPipeline,
	voice string,
	maxRetries int,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		articles:   articles,
		jobs:       jobs,
		extractor:  contentExtractor,
		pipeline:   pipeline,
		video:      video,
		voice:      voice,
		maxRetries: maxRetries,
		logger:     logger.With(slog.String("component", "runner")),
	}
}

// Handle processes one queued task end to end.
func (r *Runner) Handle(ctx context.Context, task queue.Task) error {
	article, err := r.articles.GetByID(ctx, task.ArticleID)
	if err != nil {
		return fmt.Errorf("load article %d: %w", task.ArticleID, err)
	}

	r.logger.Info("task received",
		slog.String("task_id", task.TaskID),
		slog.Int64("article_id", article.ID),
		slog.String("source", string(article.Source)),
	)

	if article.Source == domain.SourceYouTube {
		return r.video.GenerateAudio(ctx, article)
	}

	if article.ExtractionStatus != domain.ExtractionReady || !article.HasBody() {
		if err := r.extract(ctx, article); err != nil {
			return err
		}
	}
	return r.pipeline.GenerateAudio(ctx, article)
}

// extract resolves the article's title and body, either by fetching the URL
// or by cleaning client-supplied raw content, and persists the result.
func (r *Runner) extract(ctx context.Context, article *domain.Article) error {
	var (
		result *extractor.Result
		err    error
	)
	if article.HasBody() {
		result, err = r.extractor.Clean(ctx, *article.Body, article.Title, article.URL)
	} else {
		result, err = r.extractor.Extract(ctx, article.URL)
	}
	if err != nil {
		if markErr := r.articles.UpdateExtraction(ctx, article.ID, article.Title, article.Body, domain.ExtractionFailed); markErr != nil {
			r.logger.Error("mark extraction failed", slog.Int64("article_id", article.ID), slog.Any("error", markErr))
		}

		// Record the failure on the job so polling clients see it.
		job, jobErr := r.jobs.FindOrCreate(ctx, article.ID, r.voice)
		if jobErr != nil {
			r.logger.Error("find job for failed extraction", slog.Int64("article_id", article.ID), slog.Any("error", jobErr))
			return fmt.Errorf("extract content: %w", err)
		}
		return failJob(ctx, r.jobs, job, r.maxRetries, fmt.Errorf("extract content: %w", err), r.logger)
	}

	body := result.Body
	if err := r.articles.UpdateExtraction(ctx, article.ID, result.Title, &body, domain.ExtractionReady); err != nil {
		return fmt.Errorf("store extraction: %w", err)
	}

	article.Title = result.Title
	article.Body = &body
	article.ExtractionStatus = domain.ExtractionReady
	return nil
}
