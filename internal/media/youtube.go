// Package media resolves YouTube URLs and downloads their audio through
// yt-dlp, classifying tool failures into pipeline error codes.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"listen_later/internal/domain"
)

// ErrInvalidURL is returned when no known YouTube URL shape matches.
var ErrInvalidURL = errors.New("unrecognized youtube url")

var (
	videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

	// Known URL shapes, each capturing the 11-character video id.
	urlPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:www\.|m\.|music\.)?youtube\.com/watch\?(?:[^#]*&)?v=([A-Za-z0-9_-]{11})`),
		regexp.MustCompile(`youtu\.be/([A-Za-z0-9_-]{11})`),
		regexp.MustCompile(`(?:www\.|m\.)?youtube\.com/shorts/([A-Za-z0-9_-]{11})`),
		regexp.MustCompile(`(?:www\.|m\.)?youtube\.com/embed/([A-Za-z0-9_-]{11})`),
		regexp.MustCompile(`(?:www\.|m\.)?youtube\.com/v/([A-Za-z0-9_-]{11})`),
		regexp.MustCompile(`(?:www\.|m\.)?youtube\.com/live/([A-Za-z0-9_-]{11})`),
	}
)

// NormalizeURL resolves a bare video id or any common YouTube URL shape to
// the canonical watch URL. The second return is false when nothing matches.
func NormalizeURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	if videoIDPattern.MatchString(raw) {
		return canonical(raw), true
	}

	for _, p := range urlPatterns {
		if m := p.FindStringSubmatch(raw); m != nil {
			return canonical(m[1]), true
		}
	}

	return "", false
}

// IsYouTubeURL reports whether raw points at a YouTube video.
func IsYouTubeURL(raw string) bool {
	_, ok := NormalizeURL(raw)
	return ok
}

func canonical(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// Info describes a downloaded video.
type Info struct {
	Title           string
	DurationSeconds int
	AudioPath       string
}

// Config holds downloader settings.
type Config struct {
	BinPath            string // yt-dlp binary, default "yt-dlp"
	MaxDurationSeconds int
	AudioQuality       string // yt-dlp --audio-quality value
	CookieFile         string // optional; ignored when absent on disk
	Timeout            time.Duration
}

// Downloader fetches YouTube audio as MP3 files.
type Downloader struct {
	cfg    Config
	logger *slog.Logger
}

// NewDownloader creates a Downloader.
func NewDownloader(cfg Config, logger *slog.Logger) *Downloader {
	if cfg.BinPath == "" {
		cfg.BinPath = "yt-dlp"
	}
	if cfg.MaxDurationSeconds <= 0 {
		cfg.MaxDurationSeconds = 7200
	}
	if cfg.AudioQuality == "" {
		cfg.AudioQuality = "5"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}

	return &Downloader{
		cfg:    cfg,
		logger: logger.With("component", "media"),
	}
}

// Extract normalizes url, validates duration against the configured cap,
// downloads the audio track to outputPath and transcodes it to MP3.
func (d *Downloader) Extract(ctx context.Context, url, outputPath string) (*Info, error) {
	canonicalURL, ok := NormalizeURL(url)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, url)
	}

	title, duration, err := d.probe(ctx, canonicalURL)
	if err != nil {
		return nil, err
	}

	if duration > d.cfg.MaxDurationSeconds {
		return nil, domain.NewPipelineError(domain.ErrExceedsDuration,
			fmt.Errorf("video exceeds maximum duration of %ds", d.cfg.MaxDurationSeconds))
	}

	d.logger.Info("downloading audio",
		"url", canonicalURL,
		"title", title,
		"duration_seconds", duration,
	)

	if err := d.download(ctx, canonicalURL, outputPath); err != nil {
		return nil, err
	}

	stat, statErr := os.Stat(outputPath)
	if statErr != nil || stat.Size() == 0 {
		return nil, domain.NewPipelineError(domain.ErrDownloadFailed,
			fmt.Errorf("downloaded file missing or empty: %s", outputPath))
	}

	return &Info{
		Title:           title,
		DurationSeconds: duration,
		AudioPath:       outputPath,
	}, nil
}

// probe fetches title and duration without downloading.
func (d *Downloader) probe(ctx context.Context, url string) (string, int, error) {
	args := append(d.commonArgs(),
		"--skip-download",
		"--print", "title",
		"--print", "duration",
		url,
	)

	out, err := d.run(ctx, args)
	if err != nil {
		return "", 0, err
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return "", 0, domain.NewPipelineError(domain.ErrDownloadFailed,
			fmt.Errorf("unexpected metadata output: %q", out))
	}

	title := strings.TrimSpace(lines[0])
	duration, convErr := strconv.Atoi(strings.TrimSpace(lines[len(lines)-1]))
	if convErr != nil {
		// Live streams report no duration; treat as zero rather than failing.
		duration = 0
	}

	return title, duration, nil
}

func (d *Downloader) download(ctx context.Context, url, outputPath string) error {
	args := append(d.commonArgs(),
		"--extract-audio",
		"--audio-format", "mp3",
		"--audio-quality", d.cfg.AudioQuality,
		"--output", outputPath,
		url,
	)

	_, err := d.run(ctx, args)
	return err
}

func (d *Downloader) commonArgs() []string {
	args := []string{"--no-playlist", "--no-progress", "--quiet"}
	if d.cfg.CookieFile != "" {
		if _, err := os.Stat(d.cfg.CookieFile); err == nil {
			args = append(args, "--cookies", d.cfg.CookieFile)
		} else {
			d.logger.Warn("cookie file not found, proceeding without it", "path", d.cfg.CookieFile)
		}
	}
	return args
}

func (d *Downloader) run(ctx context.Context, args []string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, d.cfg.BinPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return "", domain.NewPipelineError(domain.ErrMediaTimeout,
			fmt.Errorf("yt-dlp timed out after %s", d.cfg.Timeout))
	}

	code := ClassifyOutput(stderr.String())
	return "", domain.NewPipelineError(code,
		fmt.Errorf("yt-dlp failed: %s", firstLine(stderr.String())))
}

// outputRule maps case-insensitive yt-dlp output substrings to error codes.
type outputRule struct {
	substrings []string
	code       domain.ErrorCode
}

var outputRules = []outputRule{
	{[]string{"private video"}, domain.ErrPrivateVideo},
	{[]string{"video unavailable", "not available"}, domain.ErrVideoUnavailable},
	{[]string{"age-restricted", "sign in to confirm your age"}, domain.ErrAgeRestricted},
	{[]string{"copyright"}, domain.ErrCopyright},
	{[]string{"sign in", "login required", "authentication"}, domain.ErrAPIAuthFailed},
	{[]string{"timeout", "timed out"}, domain.ErrMediaTimeout},
}

// ClassifyOutput maps yt-dlp stderr to an error code. Anything unmatched is
// a generic download failure, which stays retryable.
func ClassifyOutput(output string) domain.ErrorCode {
	msg := strings.ToLower(output)
	for _, rule := range outputRules {
		for _, sub := range rule.substrings {
			if strings.Contains(msg, sub) {
				return rule.code
			}
		}
	}
	return domain.ErrDownloadFailed
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
