package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"listen_later/internal/domain"
	"listen_later/internal/service"
	"listen_later/internal/service/mocks"
)

type HandlerTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	articles *mocks.MockArticleStore
	jobs     *mocks.MockJobStore
	blobs    *mocks.MockBlobStore
	tasks    *mocks.MockTaskQueue

	router *gin.Engine
}

func (s *HandlerTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	s.ctrl = gomock.NewController(s.T())

	s.articles = mocks.NewMockArticleStore(s.ctrl)
	s.jobs = mocks.NewMockJobStore(s.ctrl)
	s.blobs = mocks.NewMockBlobStore(s.ctrl)
	s.tasks = mocks.NewMockTaskQueue(s.ctrl)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	submit := service.NewSubmitService(s.articles, s.jobs, s.blobs, s.tasks, "alloy", logger)

	s.router = gin.New()
	NewHandler(submit, logger).RegisterRoutes(s.router)
}

func (s *HandlerTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(HandlerTestSuite))
}

func (s *HandlerTestSuite) do(method, path, deviceID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if deviceID != "" {
		req.Header.Set("X-Device-ID", deviceID)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerTestSuite) TestSubmitArticle_Accepted() {
	stored := &domain.Article{ID: 1, URL: "https://example.com/post", Source: domain.SourceWeb, ExtractionStatus: domain.ExtractionPending}

	s.articles.EXPECT().CreateIfAbsent(gomock.Any(), gomock.Any()).Return(stored, true, nil)
	s.tasks.EXPECT().Enqueue(gomock.Any(), gomock.Any()).Return(nil)

	rec := s.do(http.MethodPost, "/api/articles", "device-1", `{"url":"https://example.com/post"}`)

	s.Equal(http.StatusAccepted, rec.Code)

	var resp map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.EqualValues(1, resp["id"])
	s.Equal("web", resp["source"])
}

func (s *HandlerTestSuite) TestSubmitArticle_MissingDeviceID() {
	rec := s.do(http.MethodPost, "/api/articles", "", `{"url":"https://example.com/post"}`)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerTestSuite) TestSubmitArticle_MissingURL() {
	rec := s.do(http.MethodPost, "/api/articles", "device-1", `{"title":"no url"}`)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerTestSuite) TestGetAudio_ConflictWhileProcessing() {
	job := &domain.AudioJob{ID: 8, ArticleID: 4, Status: domain.JobProcessing}

	s.jobs.EXPECT().GetByArticle(gomock.Any(), int64(4)).Return(job, nil)

	rec := s.do(http.MethodGet, "/api/articles/4/audio", "device-1", "")

	s.Equal(http.StatusConflict, rec.Code)

	var resp map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal("processing", resp["status"])
}

func (s *HandlerTestSuite) TestGetAudio_ServesBytes() {
	path := "articles/4.mp3"
	job := &domain.AudioJob{ID: 8, ArticleID: 4, Status: domain.JobReady, AudioPath: &path}

	s.jobs.EXPECT().GetByArticle(gomock.Any(), int64(4)).Return(job, nil)
	s.blobs.EXPECT().Get(gomock.Any(), path).Return([]byte("mp3-bytes"), nil)

	rec := s.do(http.MethodGet, "/api/articles/4/audio", "device-1", "")

	s.Equal(http.StatusOK, rec.Code)
	s.Equal("audio/mpeg", rec.Header().Get("Content-Type"))
	s.Equal("mp3-bytes", rec.Body.String())
}

func (s *HandlerTestSuite) TestGetAudio_NoJob() {
	s.jobs.EXPECT().GetByArticle(gomock.Any(), int64(4)).Return(nil, domain.ErrNotFound)

	rec := s.do(http.MethodGet, "/api/articles/4/audio", "device-1", "")
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerTestSuite) TestGetStatus_Failed() {
	code := string(domain.ErrAPIRateLimit)
	message := domain.ErrAPIRateLimit.UserMessage()
	job := &domain.AudioJob{
		ID:           8,
		ArticleID:    4,
		Status:       domain.JobFailed,
		ErrorCode:    &code,
		ErrorMessage: &message,
	}

	s.articles.EXPECT().GetByID(gomock.Any(), int64(4)).Return(&domain.Article{ID: 4}, nil)
	s.jobs.EXPECT().GetByArticle(gomock.Any(), int64(4)).Return(job, nil)

	rec := s.do(http.MethodGet, "/api/articles/4/status", "device-1", "")

	s.Equal(http.StatusOK, rec.Code)

	var resp map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal("failed", resp["status"])
	s.Equal(code, resp["error_code"])
	s.Equal(message, resp["error_message"])
}

func (s *HandlerTestSuite) TestGetStatus_UnknownArticle() {
	s.articles.EXPECT().GetByID(gomock.Any(), int64(99)).Return(nil, domain.ErrNotFound)

	rec := s.do(http.MethodGet, "/api/articles/99/status", "device-1", "")
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerTestSuite) TestRequestAudio_ReportsInFlight() {
	body := "text"
	article := &domain.Article{ID: 4, Source: domain.SourceWeb, Body: &body}
	job := &domain.AudioJob{ID: 8, ArticleID: 4, Status: domain.JobDownloading}

	s.articles.EXPECT().GetByID(gomock.Any(), int64(4)).Return(article, nil)
	s.jobs.EXPECT().GetByArticle(gomock.Any(), int64(4)).Return(job, nil)

	rec := s.do(http.MethodPost, "/api/articles/4/audio", "device-1", "")

	s.Equal(http.StatusAccepted, rec.Code)

	var resp map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal("downloading", resp["status"])
}

func (s *HandlerTestSuite) TestListArticles() {
	url := "/audio/articles/1.mp3"
	articles := []domain.Article{
		{ID: 1, URL: "https://example.com/a", Source: domain.SourceWeb, Title: "A", ExtractionStatus: domain.ExtractionReady, AudioURL: &url},
		{ID: 2, URL: "https://example.com/b", Source: domain.SourceWeb, Title: "B", ExtractionStatus: domain.ExtractionPending},
	}

	s.articles.EXPECT().ListByDevice(gomock.Any(), "device-1", 50).Return(articles, nil)

	rec := s.do(http.MethodGet, "/api/articles", "device-1", "")

	s.Equal(http.StatusOK, rec.Code)

	var resp []map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Len(resp, 2)
	s.Equal("/audio/articles/1.mp3", resp[0]["audio_url"])
	s.NotContains(resp[1], "audio_url")
}
