package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SourceKind identifies where an article's content comes from.
type SourceKind string

const (
	SourceWeb     SourceKind = "web"
	SourceYouTube SourceKind = "youtube"
)

// ExtractionStatus tracks whether readable text has been produced for an article.
type ExtractionStatus string

const (
	ExtractionPending ExtractionStatus = "pending"
	ExtractionReady   ExtractionStatus = "ready"
	ExtractionFailed  ExtractionStatus = "failed"
)

// Article is a saved web page or video owned by a device identity.
// At most one article exists per (device_id, url).
type Article struct {
	ID               int64            `db:"id"`
	DeviceID         string           `db:"device_id"`
	URL              string           `db:"url"`
	Source           SourceKind       `db:"source"`
	Title            string           `db:"title"`
	Body             *string          `db:"body"`
	ExtractionStatus ExtractionStatus `db:"extraction_status"`
	AudioURL         *string          `db:"audio_url"`
	CreatedAt        time.Time        `db:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at"`
}

// HasBody reports whether extraction has produced non-empty text.
func (a *Article) HasBody() bool {
	return a.Body != nil && *a.Body != ""
}

// ContentHash returns the hex SHA-256 of the source text. Ready jobs whose
// stored hash matches the current body need no re-synthesis.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
