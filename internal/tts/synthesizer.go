// Package tts renders text chunks to MP3 audio through the OpenAI speech
// endpoint.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	openai "github.com/openai/openai-go/v3"
)

// APIError carries the upstream status and message of a failed synthesis
// call so the orchestrator can classify it.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tts api error: status %d: %s", e.StatusCode, e.Message)
}

// Config holds synthesizer settings.
type Config struct {
	Model   string
	Speed   float64
	Timeout time.Duration
}

// Synthesizer performs one speech API call per chunk. Retry policy lives in
// the orchestrator, not here.
type Synthesizer struct {
	client openai.Client
	cfg    Config
	logger *slog.Logger
}

// New creates a Synthesizer around a shared OpenAI client.
func New(cfg Config, client openai.Client, logger *slog.Logger) *Synthesizer {
	if cfg.Model == "" {
		cfg.Model = openai.SpeechModelTTS1
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	return &Synthesizer{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "tts"),
	}
}

// Synthesize renders text with the given voice and returns raw MP3 bytes.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()

	resp, err := s.client.Audio.Speech.New(callCtx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(s.cfg.Model),
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
		Speed:          openai.Float(s.cfg.Speed),
	})
	if err != nil {
		return nil, mapAPIError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech response: %w", err)
	}

	s.logger.Debug("synthesized chunk",
		"chars", len(text),
		"bytes", len(data),
		"took", time.Since(start),
	)

	return data, nil
}

func mapAPIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &APIError{StatusCode: apiErr.StatusCode, Message: apiErr.Message}
	}
	return fmt.Errorf("speech request: %w", err)
}
