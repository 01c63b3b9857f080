// Package server exposes the HTTP API for submitting articles and polling
// audio generation.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"listen_later/internal/domain"
	"listen_later/internal/service"
)

const defaultListLimit = 50

type Handler struct {
	submit *service.SubmitService
	logger *slog.Logger
}

func NewHandler(submit *service.SubmitService, logger *slog.Logger) *Handler {
	return &Handler{
		submit: submit,
		logger: logger.With(slog.String("component", "http")),
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.POST("/articles", h.SubmitArticle)
		api.GET("/articles", h.ListArticles)
		api.POST("/articles/:id/audio", h.RequestAudio)
		api.GET("/articles/:id/audio", h.GetAudio)
		api.GET("/articles/:id/status", h.GetStatus)
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

type submitRequest struct {
	URL   string `json:"url" binding:"required"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

type articleResponse struct {
	ID               int64  `json:"id"`
	URL              string `json:"url"`
	Source           string `json:"source"`
	Title            string `json:"title"`
	ExtractionStatus string `json:"extraction_status"`
	AudioURL         string `json:"audio_url,omitempty"`
}

func toArticleResponse(article *domain.Article) articleResponse {
	resp := articleResponse{
		ID:               article.ID,
		URL:              article.URL,
		Source:           string(article.Source),
		Title:            article.Title,
		ExtractionStatus: string(article.ExtractionStatus),
	}
	if article.AudioURL != nil {
		resp.AudioURL = *article.AudioURL
	}
	return resp
}

func (h *Handler) SubmitArticle(c *gin.Context) {
	deviceID := c.GetHeader("X-Device-ID")
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing X-Device-ID header"})
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	article, err := h.submit.Submit(c.Request.Context(), deviceID, req.URL, req.Title, req.Body)
	if err != nil {
		h.logger.Error("submit article", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit article"})
		return
	}

	c.JSON(http.StatusAccepted, toArticleResponse(article))
}

func (h *Handler) ListArticles(c *gin.Context) {
	deviceID := c.GetHeader("X-Device-ID")
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing X-Device-ID header"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if limit <= 0 || limit > 200 {
		limit = defaultListLimit
	}

	articles, err := h.submit.List(c.Request.Context(), deviceID, limit)
	if err != nil {
		h.logger.Error("list articles", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list articles"})
		return
	}

	resp := make([]articleResponse, 0, len(articles))
	for i := range articles {
		resp = append(resp, toArticleResponse(&articles[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) RequestAudio(c *gin.Context) {
	id, ok := h.articleID(c)
	if !ok {
		return
	}

	status, err := h.submit.RequestAudio(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
			return
		}
		h.logger.Error("request audio", slog.Int64("article_id", id), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to request audio"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": string(status)})
}

func (h *Handler) GetAudio(c *gin.Context) {
	id, ok := h.articleID(c)
	if !ok {
		return
	}

	data, job, err := h.submit.Audio(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "no audio job for article"})
		case errors.Is(err, service.ErrAudioNotReady):
			c.JSON(http.StatusConflict, gin.H{"status": string(job.Status)})
		default:
			h.logger.Error("get audio", slog.Int64("article_id", id), slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read audio"})
		}
		return
	}

	c.Data(http.StatusOK, "audio/mpeg", data)
}

func (h *Handler) GetStatus(c *gin.Context) {
	id, ok := h.articleID(c)
	if !ok {
		return
	}

	view, err := h.submit.Status(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
			return
		}
		h.logger.Error("get status", slog.Int64("article_id", id), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read status"})
		return
	}

	resp := gin.H{
		"status":           string(view.Status),
		"progress_percent": view.ProgressPercent,
		"poll_interval_ms": view.PollIntervalMS,
	}
	if view.ETASeconds != nil {
		resp["eta_seconds"] = *view.ETASeconds
	}
	if view.ErrorCode != "" {
		resp["error_code"] = view.ErrorCode
		resp["error_message"] = view.ErrorMessage
	}
	if view.RetryInSeconds != nil {
		resp["retry_in_seconds"] = *view.RetryInSeconds
	}
	if view.AudioURL != "" {
		resp["audio_url"] = view.AudioURL
	}
	if view.DurationSeconds != nil {
		resp["duration_seconds"] = *view.DurationSeconds
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) articleID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid article id"})
		return 0, false
	}
	return id, true
}
