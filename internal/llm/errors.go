package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrContextLengthExceeded marks a request rejected because its input does not
// fit the model's context window.
var ErrContextLengthExceeded = errors.New("context length exceeded")

// provider phrasings for a context-window overflow
var contextMarkers = []string{
	"context_length_exceeded",
	"context length",
	"context window",
	"maximum context",
	"prompt is too long",
	"input is too long",
	"too many tokens",
	"token limit",
	"tokens exceeds",
	"reduce the length",
	"string_above_max_length",
}

// IsContextLengthExceeded classifies err as a context-window overflow, either by
// sentinel or by the provider's message text.
func IsContextLengthExceeded(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrContextLengthExceeded) {
		return true
	}
	return hasContextMarker(err.Error())
}

func hasContextMarker(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range contextMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// APIError is a non-2xx response from a chat completions endpoint
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("llm api error (status %d, code %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("llm api error (status %d): %s", e.StatusCode, e.Message)
}

// Is reports overflow responses as ErrContextLengthExceeded
func (e *APIError) Is(target error) bool {
	if target != ErrContextLengthExceeded {
		return false
	}
	return e.Code == "context_length_exceeded" || hasContextMarker(e.Message)
}

// Retryable reports whether resending the same request may succeed
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// StructuredOutputError is returned when no attempt produced a document that
// parses and validates against the requested schema.
type StructuredOutputError struct {
	Schema   string
	Attempts int
	Err      error
}

func (e *StructuredOutputError) Error() string {
	return fmt.Sprintf("structured output %q unattainable after %d attempts: %v", e.Schema, e.Attempts, e.Err)
}

func (e *StructuredOutputError) Unwrap() error { return e.Err }

// IsStructuredOutputError reports whether err is, or wraps, a StructuredOutputError
func IsStructuredOutputError(err error) bool {
	var so *StructuredOutputError
	return errors.As(err, &so)
}
