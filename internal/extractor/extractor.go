// Package extractor turns a web page into readable {title, body} text using
// an LLM with heuristic HTML fallbacks.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	openai "github.com/openai/openai-go/v3"
)

const (
	// browserUserAgent avoids the trivial bot blocks that a default Go
	// user agent triggers.
	browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	llmRetryDelay = 500 * time.Millisecond
)

// ErrFetch marks network fetch failures and non-2xx responses.
var ErrFetch = errors.New("fetch failed")

// ErrNoContent is returned when neither the LLM nor the heuristics produced
// usable text.
var ErrNoContent = errors.New("no readable content")

const extractionSystemPrompt = `You extract the readable article from web page text.
Respond with strict JSON: {"title": "...", "body": "..."} and nothing else.
Remove ads, navigation links, bylines, dates, reading-time badges, share
counts, cookie banners and source attributions. Keep the article text
verbatim otherwise. Both fields must be non-empty.`

// Config holds extractor settings, assembled once at startup.
type Config struct {
	Model             string
	MaxRetries        int
	FetchTimeout      time.Duration
	MaxContentChars   int
	FallbackBodyChars int
}

// Extractor fetches pages and produces {title, body} results.
type Extractor struct {
	httpClient *http.Client
	llm        openai.Client
	cfg        Config
	logger     *slog.Logger
}

// New creates an Extractor around a shared OpenAI client.
func New(cfg Config, llm openai.Client, logger *slog.Logger) *Extractor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 20 * time.Second
	}
	if cfg.MaxContentChars == 0 {
		cfg.MaxContentChars = 20000
	}
	if cfg.FallbackBodyChars == 0 {
		cfg.FallbackBodyChars = 5000
	}

	return &Extractor{
		httpClient: &http.Client{Timeout: cfg.FetchTimeout},
		llm:        llm,
		cfg:        cfg,
		logger:     logger.With("component", "extractor"),
	}
}

// Extract fetches url and returns its readable content. LLM extraction is
// attempted first; on failure the heuristic HTML fallback engages, so the
// only hard failures are fetch errors and fully unreadable pages.
func (e *Extractor) Extract(ctx context.Context, url string) (*Result, error) {
	e.logger.Info("fetching page", "url", url)

	html, err := e.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	e.logger.Info("fetched page", "url", url, "bytes", len(html))

	text := HTMLToText(html, e.cfg.MaxContentChars)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoContent, url)
	}

	result, llmErr := e.extractWithLLM(ctx, text)
	if llmErr == nil {
		return result, nil
	}
	e.logger.Warn("llm extraction failed, engaging heuristic fallback", "url", url, "error", llmErr)

	return e.heuristicResult(html, url, text), nil
}

// Clean produces {title, body} from content the client already supplied,
// skipping the network fetch. HTML input is converted to text first.
func (e *Extractor) Clean(ctx context.Context, raw, providedTitle, url string) (*Result, error) {
	var text string
	isHTML := LooksLikeHTML(raw)
	if isHTML {
		text = HTMLToText(raw, e.cfg.MaxContentChars)
	} else {
		text = truncate(collapseWhitespace(raw), e.cfg.MaxContentChars)
	}

	if strings.TrimSpace(text) == "" {
		return nil, ErrNoContent
	}

	result, llmErr := e.extractWithLLM(ctx, text)
	if llmErr == nil {
		if strings.TrimSpace(providedTitle) != "" {
			result.Title = strings.TrimSpace(providedTitle)
		}
		return result, nil
	}
	e.logger.Warn("llm clean failed, engaging heuristic fallback", "url", url, "error", llmErr)

	title := strings.TrimSpace(providedTitle)
	if title == "" && isHTML {
		title = HTMLTitle(raw, url)
	}
	if title == "" {
		title = humanizeURL(url)
	}

	return &Result{Title: title, Body: truncate(text, e.cfg.FallbackBodyChars)}, nil
}

func (e *Extractor) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: unexpected status %d", ErrFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}

	return string(body), nil
}

// extractWithLLM asks the model for strict JSON and parses it defensively.
// Non-retryable API failures (auth, rate limit, quota) abort the attempt
// loop immediately.
func (e *Extractor) extractWithLLM(ctx context.Context, text string) (*Result, error) {
	var result *Result

	attempt := 0
	err := retry.Do(
		func() error {
			attempt++
			e.logger.Debug("llm extraction attempt", "attempt", attempt)

			r, err := e.llmOnce(ctx, text)
			if err != nil {
				if isNonRetryableAPIError(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}

			result = r
			return nil
		},
		retry.Attempts(uint(e.cfg.MaxRetries)),
		retry.Delay(llmRetryDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (e *Extractor) llmOnce(ctx context.Context, text string) (*Result, error) {
	completion, err := e.llm.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(e.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(extractionSystemPrompt),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("empty completion")
	}

	result := ParseResponse(completion.Choices[0].Message.Content)
	if result == nil {
		return nil, errors.New("response is not parseable {title, body} JSON")
	}

	return result, nil
}

// heuristicResult builds the fallback result from raw HTML: title heuristics
// plus the first FallbackBodyChars characters of the plain-text conversion.
func (e *Extractor) heuristicResult(html, url, text string) *Result {
	return &Result{
		Title: HTMLTitle(html, url),
		Body:  truncate(text, e.cfg.FallbackBodyChars),
	}
}

var nonRetryablePatterns = []string{
	"401", "403", "429", "rate limit", "invalid api key",
	"unauthorized", "authentication", "quota exceeded",
}

func isNonRetryableAPIError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range nonRetryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
