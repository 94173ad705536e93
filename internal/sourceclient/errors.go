package sourceclient

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRateLimited marks an HTTP 429 from a provider.
	ErrRateLimited = errors.New("source: rate limited")
	// ErrAuthFailed marks a rejected or exhausted API key.
	ErrAuthFailed = errors.New("source: authentication failed")
	// ErrNotFound marks an unknown symbol or endpoint.
	ErrNotFound = errors.New("source: not found")
	// ErrNetwork marks transport-level and unclassified provider failures.
	ErrNetwork = errors.New("source: network error")
)

// StatusError classifies a non-2xx provider response into the retry taxonomy.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("provider returned status %d", e.Status)
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("provider returned status %d: %s", e.Status, body)
}

func (e *StatusError) Unwrap() error {
	switch e.Status {
	case 429:
		return ErrRateLimited
	case 401, 403:
		return ErrAuthFailed
	case 404:
		return ErrNotFound
	default:
		return ErrNetwork
	}
}

// keyWorthRotating reports whether an error should burn the API key that
// produced it, rather than just retrying with the next one.
func keyWorthRotating(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrAuthFailed)
}
