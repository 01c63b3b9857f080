package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by stores when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a status transition's precondition did not
	// hold, meaning a concurrent writer got there first.
	ErrConflict = errors.New("conflicting update")
)

// ErrorCode classifies a pipeline failure for persistence and retry policy.
type ErrorCode string

const (
	ErrNetworkTimeout   ErrorCode = "network_timeout"
	ErrAPIRateLimit     ErrorCode = "api_rate_limit"
	ErrAPIQuotaExceeded ErrorCode = "api_quota_exceeded"
	ErrAPIAuthFailed    ErrorCode = "api_auth_failed"
	ErrContentTooLong   ErrorCode = "content_too_long"
	ErrInvalidContent   ErrorCode = "invalid_content"
	ErrStorageFailed    ErrorCode = "storage_failed"
	ErrVideoUnavailable ErrorCode = "video_unavailable"
	ErrPrivateVideo     ErrorCode = "private_video"
	ErrAgeRestricted    ErrorCode = "age_restricted"
	ErrCopyright        ErrorCode = "copyright"
	ErrExceedsDuration  ErrorCode = "exceeds_duration"
	ErrMediaTimeout     ErrorCode = "media_timeout"
	ErrDownloadFailed   ErrorCode = "download_failed"
	ErrUnknown          ErrorCode = "unknown"
)

// Retryable reports whether a failure with this code should be rescheduled.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrNetworkTimeout, ErrAPIRateLimit, ErrStorageFailed, ErrMediaTimeout, ErrDownloadFailed, ErrUnknown:
		return true
	default:
		return false
	}
}

// RetryDelay returns the backoff before the next attempt. Zero for
// non-retryable codes.
func (c ErrorCode) RetryDelay() time.Duration {
	switch c {
	case ErrNetworkTimeout:
		return 10 * time.Second
	case ErrAPIRateLimit:
		return 30 * time.Second
	case ErrStorageFailed:
		return 5 * time.Second
	case ErrMediaTimeout:
		return 20 * time.Second
	case ErrDownloadFailed, ErrUnknown:
		return 15 * time.Second
	default:
		return 0
	}
}

// UserMessage returns the short plain-language message shown to polling
// clients alongside the failed status.
func (c ErrorCode) UserMessage() string {
	switch c {
	case ErrNetworkTimeout:
		return "The site took too long to respond. Retrying shortly."
	case ErrAPIRateLimit:
		return "Too many requests right now. Retrying shortly."
	case ErrAPIQuotaExceeded:
		return "Daily limit reached. Try again tomorrow."
	case ErrAPIAuthFailed:
		return "Audio service credentials were rejected."
	case ErrContentTooLong:
		return "This article is too long to convert to audio."
	case ErrInvalidContent:
		return "No readable text could be found on this page."
	case ErrStorageFailed:
		return "Saving the audio file failed. Retrying shortly."
	case ErrVideoUnavailable:
		return "This video is unavailable."
	case ErrPrivateVideo:
		return "This video is private and cannot be converted."
	case ErrAgeRestricted:
		return "This video is age-restricted and cannot be converted."
	case ErrCopyright:
		return "This video was removed for copyright reasons."
	case ErrExceedsDuration:
		return "This video is longer than the maximum supported duration."
	case ErrMediaTimeout:
		return "Downloading the video took too long. Retrying shortly."
	case ErrDownloadFailed:
		return "Downloading the audio failed. Retrying shortly."
	default:
		return "Something went wrong. Retrying shortly."
	}
}

// PipelineError attaches a classification to a stage failure. Stages that
// know their failure mode wrap it here; everything else goes through the
// substring table in Classify.
type PipelineError struct {
	Code ErrorCode
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Err.Error()
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewPipelineError wraps err with an explicit classification.
func NewPipelineError(code ErrorCode, err error) *PipelineError {
	return &PipelineError{Code: code, Err: err}
}

// classificationRule maps case-insensitive message substrings to a code.
// First match wins, so specific patterns come before generic ones.
type classificationRule struct {
	substrings []string
	code       ErrorCode
}

var classificationRules = []classificationRule{
	{[]string{"private video"}, ErrPrivateVideo},
	{[]string{"video unavailable", "not available"}, ErrVideoUnavailable},
	{[]string{"age-restricted", "sign in to confirm your age"}, ErrAgeRestricted},
	{[]string{"copyright"}, ErrCopyright},
	{[]string{"exceeds maximum duration"}, ErrExceedsDuration},
	{[]string{"quota"}, ErrAPIQuotaExceeded},
	{[]string{"429", "rate limit"}, ErrAPIRateLimit},
	{[]string{"401", "403", "invalid api key", "unauthorized", "authentication"}, ErrAPIAuthFailed},
	{[]string{"too long", "too large"}, ErrContentTooLong},
	{[]string{"timeout", "timed out", "deadline exceeded"}, ErrNetworkTimeout},
}

// Classify derives an ErrorCode from err. A wrapped PipelineError keeps its
// explicit code; otherwise the message is matched against the substring
// table. Unmatched errors classify as Unknown, which stays retryable as the
// conservative default.
func Classify(err error) ErrorCode {
	if err == nil {
		return ErrUnknown
	}

	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr.Code
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range classificationRules {
		for _, sub := range rule.substrings {
			if strings.Contains(msg, sub) {
				return rule.code
			}
		}
	}

	return ErrUnknown
}
