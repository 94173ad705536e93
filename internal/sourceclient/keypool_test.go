package sourceclient

import (
	"testing"
	"time"
)

func TestKeyPoolRoundRobin(t *testing.T) {
	pool := NewKeyPool([]string{"a", "b", "c"}, time.Minute)

	var got []string
	for i := 0; i < 4; i++ {
		key, _ := pool.Next()
		got = append(got, key)
	}
	want := []string{"a", "b", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation order %v, want %v", got, want)
		}
	}
}

func TestKeyPoolSkipsFailedKeys(t *testing.T) {
	pool := NewKeyPool([]string{"a", "b", "c"}, time.Minute)

	_, idx := pool.Next() // a
	pool.MarkFailed(idx)

	key, _ := pool.Next()
	if key != "b" {
		t.Fatalf("expected b after a failed, got %s", key)
	}
	key, _ = pool.Next()
	if key != "c" {
		t.Fatalf("expected c, got %s", key)
	}
	key, _ = pool.Next()
	if key != "b" {
		t.Fatalf("failed key a should stay skipped, got %s", key)
	}
}

func TestKeyPoolAllFailedFallsBackAndClears(t *testing.T) {
	pool := NewKeyPool([]string{"a", "b"}, time.Hour)
	pool.MarkFailed(0)
	pool.MarkFailed(1)

	key, idx := pool.Next()
	if key != "a" || idx != 0 {
		t.Fatalf("all-failed pool must hand out index 0, got %s/%d", key, idx)
	}
	if pool.FailedCount() != 0 {
		t.Fatalf("failed set should be cleared, still %d entries", pool.FailedCount())
	}
}

func TestKeyPoolRotationIntervalClearsFailures(t *testing.T) {
	pool := NewKeyPool([]string{"a", "b"}, time.Millisecond)
	pool.MarkFailed(0)

	time.Sleep(5 * time.Millisecond)
	key, _ := pool.Next()
	if key != "a" {
		t.Fatalf("expired failure should be forgiven, got %s", key)
	}
}

func TestKeyPoolEmpty(t *testing.T) {
	pool := NewKeyPool(nil, time.Minute)
	key, idx := pool.Next()
	if key != "" || idx != -1 {
		t.Fatalf("empty pool must return empty key, got %q/%d", key, idx)
	}
	if pool.Size() != 0 {
		t.Fatalf("empty pool size %d", pool.Size())
	}
}
