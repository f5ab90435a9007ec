package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter applies per-identity token buckets: capacity C, refill R
// tokens/second. Idle buckets are evicted after a TTL so identity
// cardinality never grows memory without bound; an evicted identity
// simply starts over with a full bucket.
type Limiter struct {
	capacity int
	refill   rate.Limit
	idleTTL  time.Duration

	mu      sync.Mutex
	buckets map[string]*bucketState

	stop chan struct{}
	once sync.Once
}

type bucketState struct {
	limiter *rate.Limiter
	lastHit time.Time
}

// NewLimiter creates a Limiter with the given bucket capacity, refill
// rate in tokens per second, and idle eviction TTL.
func NewLimiter(capacity int, refillPerSecond float64, idleTTL time.Duration) *Limiter {
	if capacity <= 0 {
		capacity = 10
	}
	if refillPerSecond <= 0 {
		refillPerSecond = 1
	}
	if idleTTL <= 0 {
		idleTTL = 5 * time.Minute
	}
	l := &Limiter{
		capacity: capacity,
		refill:   rate.Limit(refillPerSecond),
		idleTTL:  idleTTL,
		buckets:  make(map[string]*bucketState),
		stop:     make(chan struct{}),
	}
	go l.sweep()
	return l
}

// TryAcquire deducts one token from the identity's bucket. It reports
// false when the bucket is exhausted. Never blocks.
func (l *Limiter) TryAcquire(identity string, now time.Time) bool {
	l.mu.Lock()
	state, ok := l.buckets[identity]
	if !ok {
		state = &bucketState{limiter: rate.NewLimiter(l.refill, l.capacity)}
		l.buckets[identity] = state
	}
	state.lastHit = now
	l.mu.Unlock()

	return state.limiter.AllowN(now, 1)
}

// Close stops the background sweeper.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

// sweep periodically drops buckets that have been idle past the TTL.
func (l *Limiter) sweep() {
	interval := l.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for id, state := range l.buckets {
				if now.Sub(state.lastHit) > l.idleTTL {
					delete(l.buckets, id)
				}
			}
			l.mu.Unlock()
		}
	}
}
