package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"listen_later/internal/domain"
)

type ArticleStore struct {
	db *sqlx.DB
}

func NewArticleStore(db *sqlx.DB) *ArticleStore {
	return &ArticleStore{db: db}
}

// CreateIfAbsent inserts the article unless one already exists for the same
// (device_id, url). It returns the stored article and whether it was newly
// created.
func (s *ArticleStore) CreateIfAbsent(ctx context.Context, article *domain.Article) (*domain.Article, bool, error) {
	query := `
		INSERT INTO articles (device_id, url, source, title, body, extraction_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (device_id, url) DO NOTHING
		RETURNING id, device_id, url, source, title, body, extraction_status, audio_url, created_at, updated_at`

	var stored domain.Article
	err := s.db.QueryRowxContext(ctx, query,
		article.DeviceID,
		article.URL,
		article.Source,
		article.Title,
		article.Body,
		article.ExtractionStatus,
	).StructScan(&stored)

	if err == nil {
		return &stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("insert article: %w", err)
	}

	existing, err := s.GetByDeviceAndURL(ctx, article.DeviceID, article.URL)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *ArticleStore) GetByID(ctx context.Context, id int64) (*domain.Article, error) {
	var article domain.Article
	err := s.db.GetContext(ctx, &article,
		`SELECT * FROM articles WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get article %d: %w", id, err)
	}
	return &article, nil
}

func (s *ArticleStore) GetByDeviceAndURL(ctx context.Context, deviceID, url string) (*domain.Article, error) {
	var article domain.Article
	err := s.db.GetContext(ctx, &article,
		`SELECT * FROM articles WHERE device_id = $1 AND url = $2`, deviceID, url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get article by url: %w", err)
	}
	return &article, nil
}

// UpdateExtraction stores the extracted title/body and the extraction status.
func (s *ArticleStore) UpdateExtraction(ctx context.Context, id int64, title string, body *string, status domain.ExtractionStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE articles
		SET title = $2, body = $3, extraction_status = $4, updated_at = now()
		WHERE id = $1`,
		id, title, body, status)
	if err != nil {
		return fmt.Errorf("update extraction for article %d: %w", id, err)
	}
	return nil
}

// UpdateAudioURL records where the finished narration can be fetched.
func (s *ArticleStore) UpdateAudioURL(ctx context.Context, id int64, audioURL string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE articles SET audio_url = $2, updated_at = now() WHERE id = $1`,
		id, audioURL)
	if err != nil {
		return fmt.Errorf("update audio url for article %d: %w", id, err)
	}
	return nil
}

// ListByDevice returns the device's library, newest first.
func (s *ArticleStore) ListByDevice(ctx context.Context, deviceID string, limit int) ([]domain.Article, error) {
	if limit <= 0 {
		limit = 50
	}

	var articles []domain.Article
	err := s.db.SelectContext(ctx, &articles, `
		SELECT * FROM articles
		WHERE device_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	return articles, nil
}
