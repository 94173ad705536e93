package sourceclient

import (
	"sync"
	"time"
)

// KeyPool rotates through a fixed set of API keys, remembering which ones
// recently failed. The failed set is cleared on a fixed interval so a key is
// never starved permanently. A pool may hold zero keys; selection then
// degenerates to the empty key on every call.
type KeyPool struct {
	mu           sync.Mutex
	keys         []string
	current      int
	failed       map[int]struct{}
	lastRotation time.Time
	rotateEvery  time.Duration
}

// NewKeyPool builds a pool over the given keys. rotateEvery bounds how long a
// key stays in the failed set.
func NewKeyPool(keys []string, rotateEvery time.Duration) *KeyPool {
	if rotateEvery <= 0 {
		rotateEvery = 5 * time.Minute
	}
	return &KeyPool{
		keys:         append([]string(nil), keys...),
		failed:       make(map[int]struct{}),
		lastRotation: time.Now(),
		rotateEvery:  rotateEvery,
	}
}

// Size returns the number of configured keys.
func (p *KeyPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Next selects the next usable key and advances the cursor. It returns the
// key and its index, or ("", -1) for an empty pool. When every key is marked
// failed, the pool falls back to index 0 and clears the failures rather than
// blocking.
func (p *KeyPool) Next() (string, int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) == 0 {
		return "", -1
	}

	if time.Since(p.lastRotation) >= p.rotateEvery {
		p.failed = make(map[int]struct{})
		p.lastRotation = time.Now()
	}

	n := len(p.keys)
	for i := 0; i < n; i++ {
		idx := (p.current + i) % n
		if _, bad := p.failed[idx]; bad {
			continue
		}
		p.current = (idx + 1) % n
		return p.keys[idx], idx
	}

	// Every key failed recently. Reset and hand out index 0; the caller's
	// retry budget bounds how often this can loop.
	p.failed = make(map[int]struct{})
	p.lastRotation = time.Now()
	p.current = 1 % n
	return p.keys[0], 0
}

// MarkFailed records that the key at idx was rejected.
func (p *KeyPool) MarkFailed(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.keys) {
		return
	}
	p.failed[idx] = struct{}{}
}

// FailedCount reports how many keys are currently marked failed.
func (p *KeyPool) FailedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.failed)
}
