package service

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"listen_later/internal/domain"
	"listen_later/internal/queue"
	"listen_later/internal/service/mocks"
)

type SubmitServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	articles *mocks.MockArticleStore
	jobs     *mocks.MockJobStore
	blobs    *mocks.MockBlobStore
	tasks    *mocks.MockTaskQueue

	service *SubmitService
}

func (s *SubmitServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.articles = mocks.NewMockArticleStore(s.ctrl)
	s.jobs = mocks.NewMockJobStore(s.ctrl)
	s.blobs = mocks.NewMockBlobStore(s.ctrl)
	s.tasks = mocks.NewMockTaskQueue(s.ctrl)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.service = NewSubmitService(s.articles, s.jobs, s.blobs, s.tasks, "alloy", logger)
}

func (s *SubmitServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestSubmitServiceTestSuite(t *testing.T) {
	suite.Run(t, new(SubmitServiceTestSuite))
}

func (s *SubmitServiceTestSuite) TestSubmit_WebArticle() {
	ctx := context.Background()
	stored := &domain.Article{ID: 1, DeviceID: "device-1", URL: "https://example.com/post", Source: domain.SourceWeb}

	s.articles.EXPECT().
		CreateIfAbsent(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, article *domain.Article) (*domain.Article, bool, error) {
			s.Equal(domain.SourceWeb, article.Source)
			s.Equal("https://example.com/post", article.URL)
			s.Nil(article.Body)
			return stored, true, nil
		})
	s.tasks.EXPECT().
		Enqueue(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, task queue.Task) error {
			s.Equal(int64(1), task.ArticleID)
			s.Equal(domain.SourceWeb, task.Kind)
			s.NotEmpty(task.TaskID)
			return nil
		})

	got, err := s.service.Submit(ctx, "device-1", "https://example.com/post", "", "")
	s.NoError(err)
	s.Equal(stored, got)
}

func (s *SubmitServiceTestSuite) TestSubmit_YouTubeURLCanonicalized() {
	ctx := context.Background()
	stored := &domain.Article{ID: 2, Source: domain.SourceYouTube}

	s.articles.EXPECT().
		CreateIfAbsent(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, article *domain.Article) (*domain.Article, bool, error) {
			s.Equal(domain.SourceYouTube, article.Source)
			s.Equal("https://www.youtube.com/watch?v=dQw4w9WgXcQ", article.URL)
			return stored, true, nil
		})
	s.tasks.EXPECT().Enqueue(ctx, gomock.Any()).Return(nil)

	_, err := s.service.Submit(ctx, "device-1", "https://youtu.be/dQw4w9WgXcQ?t=42", "", "")
	s.NoError(err)
}

func (s *SubmitServiceTestSuite) TestSubmit_RawContentKept() {
	ctx := context.Background()
	stored := &domain.Article{ID: 3}

	s.articles.EXPECT().
		CreateIfAbsent(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, article *domain.Article) (*domain.Article, bool, error) {
			s.Require().NotNil(article.Body)
			s.Equal("pasted text", *article.Body)
			s.Equal("My Title", article.Title)
			return stored, true, nil
		})
	s.tasks.EXPECT().Enqueue(ctx, gomock.Any()).Return(nil)

	_, err := s.service.Submit(ctx, "device-1", "https://example.com/post", "My Title", "pasted text")
	s.NoError(err)
}

func (s *SubmitServiceTestSuite) TestRequestAudio_CoalescesInFlightJob() {
	ctx := context.Background()
	body := "text"
	article := &domain.Article{ID: 4, Source: domain.SourceWeb, Body: &body}
	job := &domain.AudioJob{ID: 8, ArticleID: 4, Status: domain.JobProcessing}

	s.articles.EXPECT().GetByID(ctx, int64(4)).Return(article, nil)
	s.jobs.EXPECT().GetByArticle(ctx, int64(4)).Return(job, nil)

	status, err := s.service.RequestAudio(ctx, 4)
	s.NoError(err)
	s.Equal(domain.JobProcessing, status)
}

func (s *SubmitServiceTestSuite) TestRequestAudio_ReadyAndCurrent() {
	ctx := context.Background()
	body := "text"
	article := &domain.Article{ID: 4, Source: domain.SourceWeb, Body: &body}
	path := "articles/4.mp3"
	job := &domain.AudioJob{
		ID:          8,
		ArticleID:   4,
		Status:      domain.JobReady,
		ContentHash: domain.ContentHash(body),
		AudioPath:   &path,
	}

	s.articles.EXPECT().GetByID(ctx, int64(4)).Return(article, nil)
	s.jobs.EXPECT().GetByArticle(ctx, int64(4)).Return(job, nil)
	s.blobs.EXPECT().Exists(ctx, path).Return(true, nil)

	status, err := s.service.RequestAudio(ctx, 4)
	s.NoError(err)
	s.Equal(domain.JobReady, status)
}

func (s *SubmitServiceTestSuite) TestRequestAudio_MissingBlobTriggersRerun() {
	ctx := context.Background()
	body := "text"
	article := &domain.Article{ID: 4, Source: domain.SourceWeb, Body: &body}
	path := "articles/4.mp3"
	job := &domain.AudioJob{
		ID:          8,
		ArticleID:   4,
		Status:      domain.JobReady,
		ContentHash: domain.ContentHash(body),
		AudioPath:   &path,
	}

	s.articles.EXPECT().GetByID(ctx, int64(4)).Return(article, nil)
	s.jobs.EXPECT().GetByArticle(ctx, int64(4)).Return(job, nil)
	s.blobs.EXPECT().Exists(ctx, path).Return(false, nil)
	s.tasks.EXPECT().Enqueue(ctx, gomock.Any()).Return(nil)

	status, err := s.service.RequestAudio(ctx, 4)
	s.NoError(err)
	s.Equal(domain.JobPending, status)
}

func (s *SubmitServiceTestSuite) TestRequestAudio_NoJobYetEnqueues() {
	ctx := context.Background()
	article := &domain.Article{ID: 4, Source: domain.SourceWeb}

	s.articles.EXPECT().GetByID(ctx, int64(4)).Return(article, nil)
	s.jobs.EXPECT().GetByArticle(ctx, int64(4)).Return(nil, domain.ErrNotFound)
	s.tasks.EXPECT().Enqueue(ctx, gomock.Any()).Return(nil)

	status, err := s.service.RequestAudio(ctx, 4)
	s.NoError(err)
	s.Equal(domain.JobPending, status)
}

func (s *SubmitServiceTestSuite) TestAudio_NotReady() {
	ctx := context.Background()
	job := &domain.AudioJob{ID: 8, ArticleID: 4, Status: domain.JobProcessing}

	s.jobs.EXPECT().GetByArticle(ctx, int64(4)).Return(job, nil)

	_, got, err := s.service.Audio(ctx, 4)
	s.ErrorIs(err, ErrAudioNotReady)
	s.Equal(job, got)
}

func (s *SubmitServiceTestSuite) TestAudio_Ready() {
	ctx := context.Background()
	path := "articles/4.mp3"
	job := &domain.AudioJob{ID: 8, ArticleID: 4, Status: domain.JobReady, AudioPath: &path}

	s.jobs.EXPECT().GetByArticle(ctx, int64(4)).Return(job, nil)
	s.blobs.EXPECT().Get(ctx, path).Return([]byte("mp3"), nil)

	data, _, err := s.service.Audio(ctx, 4)
	s.NoError(err)
	s.Equal([]byte("mp3"), data)
}

func (s *SubmitServiceTestSuite) TestStatus_NoJobReportsPending() {
	ctx := context.Background()

	s.articles.EXPECT().GetByID(ctx, int64(4)).Return(&domain.Article{ID: 4}, nil)
	s.jobs.EXPECT().GetByArticle(ctx, int64(4)).Return(nil, domain.ErrNotFound)

	view, err := s.service.Status(ctx, 4)
	s.NoError(err)
	s.Equal(domain.JobPending, view.Status)
	s.Equal(3000, view.PollIntervalMS)
}

func (s *SubmitServiceTestSuite) TestStatus_ProcessingIncludesETA() {
	ctx := context.Background()
	started := time.Now().UTC().Add(-10 * time.Second)
	job := &domain.AudioJob{
		ID:                  8,
		ArticleID:           4,
		Status:              domain.JobProcessing,
		TotalChunks:         4,
		CompletedChunks:     2,
		EstimatedDurationMS: 60000,
		ProcessingStartedAt: &started,
	}

	s.articles.EXPECT().GetByID(ctx, int64(4)).Return(&domain.Article{ID: 4}, nil)
	s.jobs.EXPECT().GetByArticle(ctx, int64(4)).Return(job, nil)

	view, err := s.service.Status(ctx, 4)
	s.NoError(err)
	s.Equal(domain.JobProcessing, view.Status)
	s.Equal(50, view.ProgressPercent)
	s.Require().NotNil(view.ETASeconds)
	s.InDelta(50, *view.ETASeconds, 2)
	s.Equal(5000, view.PollIntervalMS)
}

func (s *SubmitServiceTestSuite) TestStatus_FailedIncludesErrorAndRetryCountdown() {
	ctx := context.Background()
	code := string(domain.ErrAPIRateLimit)
	message := domain.ErrAPIRateLimit.UserMessage()
	next := time.Now().UTC().Add(25 * time.Second)
	job := &domain.AudioJob{
		ID:           8,
		ArticleID:    4,
		Status:       domain.JobFailed,
		ErrorCode:    &code,
		ErrorMessage: &message,
		NextRetryAt:  &next,
	}

	s.articles.EXPECT().GetByID(ctx, int64(4)).Return(&domain.Article{ID: 4}, nil)
	s.jobs.EXPECT().GetByArticle(ctx, int64(4)).Return(job, nil)

	view, err := s.service.Status(ctx, 4)
	s.NoError(err)
	s.Equal(domain.JobFailed, view.Status)
	s.Equal(code, view.ErrorCode)
	s.Equal(message, view.ErrorMessage)
	s.Require().NotNil(view.RetryInSeconds)
	s.InDelta(25, float64(*view.RetryInSeconds), 2)
}

func (s *SubmitServiceTestSuite) TestStatus_ReadyIncludesAudioURL() {
	ctx := context.Background()
	path := "articles/4.mp3"
	duration := 180
	job := &domain.AudioJob{
		ID:              8,
		ArticleID:       4,
		Status:          domain.JobReady,
		AudioPath:       &path,
		DurationSeconds: &duration,
	}

	s.articles.EXPECT().GetByID(ctx, int64(4)).Return(&domain.Article{ID: 4}, nil)
	s.jobs.EXPECT().GetByArticle(ctx, int64(4)).Return(job, nil)
	s.blobs.EXPECT().URL(path).Return("/audio/articles/4.mp3")

	view, err := s.service.Status(ctx, 4)
	s.NoError(err)
	s.Equal(domain.JobReady, view.Status)
	s.Equal(100, view.ProgressPercent)
	s.Equal("/audio/articles/4.mp3", view.AudioURL)
	s.Require().NotNil(view.DurationSeconds)
	s.Equal(180, *view.DurationSeconds)
}
