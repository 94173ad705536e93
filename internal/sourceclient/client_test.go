package sourceclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type reading struct {
	Symbol string `json:"symbol"`
	Value  int64  `json:"value"`
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestClientServesFreshCacheWithoutFetching(t *testing.T) {
	client := New[reading](Options{
		Keys:     []string{"k1"},
		CacheTTL: time.Minute,
	}, NewMemoryCache(), noopLogger())

	calls := 0
	fetch := func(_ context.Context, _ string) (reading, error) {
		calls++
		return reading{Symbol: "BTC", Value: 50000}, nil
	}

	first, err := client.Do(context.Background(), "price:BTC", fetch)
	if err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	second, err := client.Do(context.Background(), "price:BTC", fetch)
	if err != nil {
		t.Fatalf("cached fetch failed: %v", err)
	}

	if calls != 1 {
		t.Fatalf("expected exactly one network call, got %d", calls)
	}
	if first != second {
		t.Fatalf("cached reading differs: %+v vs %+v", first, second)
	}
}

func TestClientRotatesKeyOnRateLimit(t *testing.T) {
	client := New[reading](Options{
		Keys:         []string{"bad", "good"},
		CacheTTL:     time.Minute,
		RetryBackoff: time.Millisecond,
	}, NewMemoryCache(), noopLogger())

	var used []string
	fetch := func(_ context.Context, apiKey string) (reading, error) {
		used = append(used, apiKey)
		if apiKey == "bad" {
			return reading{}, &StatusError{Status: 429}
		}
		return reading{Symbol: "ETH", Value: 3000}, nil
	}

	got, err := client.Do(context.Background(), "price:ETH", fetch)
	if err != nil {
		t.Fatalf("rotation should have recovered: %v", err)
	}
	if got.Value != 3000 {
		t.Fatalf("wrong reading: %+v", got)
	}
	if len(used) != 2 || used[0] != "bad" || used[1] != "good" {
		t.Fatalf("key order %v", used)
	}
	if client.Pool().FailedCount() != 1 {
		t.Fatalf("rate-limited key should be marked failed")
	}
}

func TestClientDoesNotBurnKeyOnNetworkError(t *testing.T) {
	client := New[reading](Options{
		Keys:         []string{"k1", "k2"},
		CacheTTL:     time.Minute,
		RetryBackoff: time.Millisecond,
	}, NewMemoryCache(), noopLogger())

	fetch := func(_ context.Context, _ string) (reading, error) {
		return reading{}, &StatusError{Status: 500}
	}

	if _, err := client.Do(context.Background(), "price:BTC", fetch); err == nil {
		t.Fatal("all attempts failed, expected an error")
	}
	if client.Pool().FailedCount() != 0 {
		t.Fatal("5xx responses must not mark keys failed")
	}
}

func TestClientStaleOnError(t *testing.T) {
	cache := NewMemoryCache()
	client := New[reading](Options{
		Keys:         []string{"k1"},
		CacheTTL:     time.Millisecond,
		RetryBackoff: time.Millisecond,
	}, cache, noopLogger())

	healthy := func(_ context.Context, _ string) (reading, error) {
		return reading{Symbol: "BTC", Value: 50000}, nil
	}
	if _, err := client.Do(context.Background(), "price:BTC", healthy); err != nil {
		t.Fatalf("seed fetch failed: %v", err)
	}

	time.Sleep(5 * time.Millisecond) // let the entry expire

	broken := func(_ context.Context, _ string) (reading, error) {
		return reading{}, &StatusError{Status: 429}
	}
	got, err := client.Do(context.Background(), "price:BTC", broken)
	if err != nil {
		t.Fatalf("stale entry should have been substituted: %v", err)
	}
	if got.Value != 50000 {
		t.Fatalf("stale reading corrupted: %+v", got)
	}
}

func TestClientZeroKeysStillFetches(t *testing.T) {
	client := New[reading](Options{CacheTTL: time.Minute}, NewMemoryCache(), noopLogger())

	calls := 0
	fetch := func(_ context.Context, apiKey string) (reading, error) {
		calls++
		if apiKey != "" {
			t.Fatalf("keyless client passed key %q", apiKey)
		}
		return reading{Symbol: "FNG", Value: 42}, nil
	}

	if _, err := client.Do(context.Background(), "fng", fetch); err != nil {
		t.Fatalf("keyless fetch failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one attempt, got %d", calls)
	}
}

func TestClientErrorTaxonomy(t *testing.T) {
	cases := map[int]error{
		429: ErrRateLimited,
		401: ErrAuthFailed,
		403: ErrAuthFailed,
		404: ErrNotFound,
		502: ErrNetwork,
	}
	for status, sentinel := range cases {
		err := &StatusError{Status: status}
		if !errors.Is(err, sentinel) {
			t.Fatalf("status %d should unwrap to %v", status, sentinel)
		}
	}
}
