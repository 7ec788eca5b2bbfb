package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPClient sends requests through a breaker. 5xx and 429 responses count
// as failures; other 4xx responses are the caller's problem and do not.
type HTTPClient struct {
	client  *http.Client
	breaker *Breaker
}

// NewHTTPClient wraps client with a breaker configured for kind
func NewHTTPClient(client *http.Client, name, kind string, logger *zap.Logger) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	s := SettingsFor(kind)
	prev := s.IsFailure
	s.IsFailure = func(err error) bool {
		var se *statusError
		if errors.As(err, &se) {
			return se.code >= 500 || se.code == http.StatusTooManyRequests
		}
		if prev != nil {
			return prev(err)
		}
		return true
	}
	return &HTTPClient{client: client, breaker: New(name, s, logger)}
}

// Breaker exposes the underlying breaker
func (h *HTTPClient) Breaker() *Breaker { return h.breaker }

// Do executes req. Non-2xx responses are returned to the caller with a nil
// error so it can read the body; only the breaker sees them as outcomes.
func (h *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := h.breaker.Execute(req.Context(), func(context.Context) error {
		var err error
		resp, err = h.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 400 {
			return &statusError{code: resp.StatusCode}
		}
		return nil
	})
	var se *statusError
	if errors.As(err, &se) {
		return resp, nil
	}
	return resp, err
}

type statusError struct{ code int }

func (e *statusError) Error() string { return http.StatusText(e.code) }
