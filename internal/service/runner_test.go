package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"listen_later/internal/config"
	"listen_later/internal/domain"
	"listen_later/internal/extractor"
	"listen_later/internal/media"
	"listen_later/internal/queue"
	"listen_later/internal/service/mocks"
)

type RunnerTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	articles   *mocks.MockArticleStore
	jobs       *mocks.MockJobStore
	blobs      *mocks.MockBlobStore
	synth      *mocks.MockSpeechSynthesizer
	downloader *mocks.MockMediaDownloader
	content    *mocks.MockContentExtractor

	runner *Runner
	cfg    config.PipelineConfig
}

func (s *RunnerTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.articles = mocks.NewMockArticleStore(s.ctrl)
	s.jobs = mocks.NewMockJobStore(s.ctrl)
	s.blobs = mocks.NewMockBlobStore(s.ctrl)
	s.synth = mocks.NewMockSpeechSynthesizer(s.ctrl)
	s.downloader = mocks.NewMockMediaDownloader(s.ctrl)
	s.content = mocks.NewMockContentExtractor(s.ctrl)

	s.cfg = config.PipelineConfig{
		Voice:      "alloy",
		MaxRetries: 3,
		Lease:      10 * time.Minute,
		TempDir:    s.T().TempDir(),
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	pipeline := NewPipeline(s.articles, s.jobs, s.blobs, s.synth, s.cfg, logger)
	video := NewVideoPipeline(s.articles, s.jobs, s.blobs, s.downloader, s.cfg, logger)
	s.runner = NewRunner(s.articles, s.jobs, s.content, pipeline, video, s.cfg.Voice, s.cfg.MaxRetries, logger)
}

func (s *RunnerTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestRunnerTestSuite(t *testing.T) {
	suite.Run(t, new(RunnerTestSuite))
}

func (s *RunnerTestSuite) expectSynthesisRun(ctx context.Context, articleID int64, body string) {
	job := &domain.AudioJob{ID: 9, ArticleID: articleID, Status: domain.JobPending, Voice: "alloy"}

	s.jobs.EXPECT().FindOrCreate(ctx, articleID, "alloy").Return(job, nil)
	s.jobs.EXPECT().AcquireLease(ctx, articleID, s.cfg.Lease).Return(true, nil)
	s.jobs.EXPECT().ResetForRun(ctx, job.ID, gomock.Any(), len(body), gomock.Any()).Return(nil)
	s.jobs.EXPECT().MarkProcessing(ctx, job.ID, 1).Return(nil)
	s.synth.EXPECT().Synthesize(ctx, body, "alloy").Return([]byte("audio"), nil)
	s.jobs.EXPECT().UpdateProgress(ctx, job.ID, 1, 100).Return(nil)
	s.blobs.EXPECT().Put(ctx, gomock.Any(), []byte("audio")).Return(nil)
	s.jobs.EXPECT().MarkReady(ctx, job.ID, gomock.Any(), gomock.Any()).Return(nil)
	s.blobs.EXPECT().URL(gomock.Any()).Return("/audio/some.mp3")
	s.articles.EXPECT().UpdateAudioURL(ctx, articleID, "/audio/some.mp3").Return(nil)
	s.jobs.EXPECT().ReleaseLease(gomock.Any(), articleID).Return(nil)
}

func (s *RunnerTestSuite) TestHandle_ExtractsThenSynthesizes() {
	ctx := context.Background()
	article := &domain.Article{
		ID:               3,
		URL:              "https://example.com/post",
		Source:           domain.SourceWeb,
		ExtractionStatus: domain.ExtractionPending,
	}
	body := "Extracted readable text."

	s.articles.EXPECT().GetByID(ctx, int64(3)).Return(article, nil)
	s.content.EXPECT().Extract(ctx, article.URL).Return(&extractor.Result{Title: "A Post", Body: body}, nil)
	s.articles.EXPECT().
		UpdateExtraction(ctx, int64(3), "A Post", gomock.Any(), domain.ExtractionReady).
		Return(nil)
	s.expectSynthesisRun(ctx, 3, body)

	s.NoError(s.runner.Handle(ctx, queue.Task{TaskID: "t1", ArticleID: 3, Kind: domain.SourceWeb}))
}

func (s *RunnerTestSuite) TestHandle_CleansClientSuppliedContent() {
	ctx := context.Background()
	raw := "<p>Raw pasted content</p>"
	article := &domain.Article{
		ID:               3,
		URL:              "https://example.com/post",
		Source:           domain.SourceWeb,
		Title:            "Given Title",
		Body:             &raw,
		ExtractionStatus: domain.ExtractionPending,
	}
	body := "Raw pasted content"

	s.articles.EXPECT().GetByID(ctx, int64(3)).Return(article, nil)
	s.content.EXPECT().Clean(ctx, raw, "Given Title", article.URL).Return(&extractor.Result{Title: "Given Title", Body: body}, nil)
	s.articles.EXPECT().
		UpdateExtraction(ctx, int64(3), "Given Title", gomock.Any(), domain.ExtractionReady).
		Return(nil)
	s.expectSynthesisRun(ctx, 3, body)

	s.NoError(s.runner.Handle(ctx, queue.Task{TaskID: "t1", ArticleID: 3, Kind: domain.SourceWeb}))
}

func (s *RunnerTestSuite) TestHandle_SkipsExtractionWhenBodyReady() {
	ctx := context.Background()
	body := "Already extracted."
	article := &domain.Article{
		ID:               3,
		URL:              "https://example.com/post",
		Source:           domain.SourceWeb,
		Body:             &body,
		ExtractionStatus: domain.ExtractionReady,
	}

	s.articles.EXPECT().GetByID(ctx, int64(3)).Return(article, nil)
	s.expectSynthesisRun(ctx, 3, body)

	s.NoError(s.runner.Handle(ctx, queue.Task{TaskID: "t1", ArticleID: 3, Kind: domain.SourceWeb}))
}

func (s *RunnerTestSuite) TestHandle_ExtractionFailureRecordedOnJob() {
	ctx := context.Background()
	article := &domain.Article{
		ID:               3,
		URL:              "https://example.com/post",
		Source:           domain.SourceWeb,
		ExtractionStatus: domain.ExtractionPending,
	}
	job := &domain.AudioJob{ID: 9, ArticleID: 3, Status: domain.JobPending}

	s.articles.EXPECT().GetByID(ctx, int64(3)).Return(article, nil)
	s.content.EXPECT().Extract(ctx, article.URL).Return(nil, errors.New("fetch url: request timed out"))
	s.articles.EXPECT().
		UpdateExtraction(ctx, int64(3), "", gomock.Nil(), domain.ExtractionFailed).
		Return(nil)
	s.jobs.EXPECT().FindOrCreate(ctx, int64(3), "alloy").Return(job, nil)
	s.jobs.EXPECT().
		MarkFailed(gomock.Any(), job.ID, domain.ErrNetworkTimeout, gomock.Any(), gomock.Not(gomock.Nil())).
		Return(nil)

	s.Error(s.runner.Handle(ctx, queue.Task{TaskID: "t1", ArticleID: 3, Kind: domain.SourceWeb}))
}

func (s *RunnerTestSuite) TestHandle_YouTubeGoesToVideoPipeline() {
	ctx := context.Background()
	article := &domain.Article{
		ID:     5,
		URL:    "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Source: domain.SourceYouTube,
	}
	path := "articles/5.mp3"
	job := &domain.AudioJob{
		ID:          11,
		ArticleID:   5,
		Status:      domain.JobReady,
		ContentHash: domain.ContentHash(article.URL),
		AudioPath:   &path,
	}

	s.articles.EXPECT().GetByID(ctx, int64(5)).Return(article, nil)
	s.jobs.EXPECT().FindOrCreate(ctx, int64(5), "alloy").Return(job, nil)
	s.blobs.EXPECT().Exists(ctx, path).Return(true, nil)

	s.NoError(s.runner.Handle(ctx, queue.Task{TaskID: "t2", ArticleID: 5, Kind: domain.SourceYouTube}))
}

func (s *RunnerTestSuite) TestHandle_VideoDownloadFailureClassified() {
	ctx := context.Background()
	article := &domain.Article{
		ID:     5,
		URL:    "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Source: domain.SourceYouTube,
	}
	job := &domain.AudioJob{ID: 11, ArticleID: 5, Status: domain.JobPending}

	s.articles.EXPECT().GetByID(ctx, int64(5)).Return(article, nil)
	s.jobs.EXPECT().FindOrCreate(ctx, int64(5), "alloy").Return(job, nil)
	s.jobs.EXPECT().AcquireLease(ctx, int64(5), s.cfg.Lease).Return(true, nil)
	s.jobs.EXPECT().ResetForRun(ctx, job.ID, gomock.Any(), 0, int64(0)).Return(nil)
	s.jobs.EXPECT().MarkDownloading(ctx, job.ID).Return(nil)
	s.downloader.EXPECT().
		Extract(ctx, article.URL, gomock.Any()).
		Return(nil, domain.NewPipelineError(domain.ErrPrivateVideo, errors.New("private video")))
	s.jobs.EXPECT().
		MarkFailed(gomock.Any(), job.ID, domain.ErrPrivateVideo, gomock.Any(), gomock.Nil()).
		Return(nil)
	s.jobs.EXPECT().ReleaseLease(gomock.Any(), int64(5)).Return(nil)

	s.Error(s.runner.Handle(ctx, queue.Task{TaskID: "t2", ArticleID: 5, Kind: domain.SourceYouTube}))
}

func (s *RunnerTestSuite) TestHandle_VideoSuccessStoresDownloadedAudio() {
	ctx := context.Background()
	article := &domain.Article{
		ID:     5,
		URL:    "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Source: domain.SourceYouTube,
	}
	job := &domain.AudioJob{ID: 11, ArticleID: 5, Status: domain.JobPending}

	downloaded := s.cfg.TempDir + "/downloaded.mp3"
	s.Require().NoError(os.WriteFile(downloaded, []byte("video-audio"), 0o644))

	s.articles.EXPECT().GetByID(ctx, int64(5)).Return(article, nil)
	s.jobs.EXPECT().FindOrCreate(ctx, int64(5), "alloy").Return(job, nil)
	s.jobs.EXPECT().AcquireLease(ctx, int64(5), s.cfg.Lease).Return(true, nil)
	s.jobs.EXPECT().ResetForRun(ctx, job.ID, gomock.Any(), 0, int64(0)).Return(nil)
	s.jobs.EXPECT().MarkDownloading(ctx, job.ID).Return(nil)
	s.downloader.EXPECT().
		Extract(ctx, article.URL, gomock.Any()).
		Return(&media.Info{Title: "A Video", DurationSeconds: 212, AudioPath: downloaded}, nil)
	s.blobs.EXPECT().Put(ctx, "articles/5.mp3", []byte("video-audio")).Return(nil)
	s.jobs.EXPECT().MarkReady(ctx, job.ID, "articles/5.mp3", 212).Return(nil)
	s.articles.EXPECT().
		UpdateExtraction(ctx, int64(5), "A Video", gomock.Nil(), domain.ExtractionReady).
		Return(nil)
	s.blobs.EXPECT().URL("articles/5.mp3").Return("/audio/articles/5.mp3")
	s.articles.EXPECT().UpdateAudioURL(ctx, int64(5), "/audio/articles/5.mp3").Return(nil)
	s.jobs.EXPECT().ReleaseLease(gomock.Any(), int64(5)).Return(nil)

	s.NoError(s.runner.Handle(ctx, queue.Task{TaskID: "t2", ArticleID: 5, Kind: domain.SourceYouTube}))
}
