// Package ratelimit caps throughput on response-body streaming during
// downloads, shared across every concurrent transfer via one Limiter.
package ratelimit

import (
	"io"
	"sync"
	"time"
)

// Limiter is a shared token bucket that caps the combined throughput of
// every download Reader wrapping it. Safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	bytesPerSec int64
	tokens      int64
	lastRefill  time.Time
}

// NewLimiter creates a Limiter that allows bytesPerSec of combined
// throughput across every Reader built from it.
func NewLimiter(bytesPerSec int64) *Limiter {
	return &Limiter{
		bytesPerSec: bytesPerSec,
		tokens:      bytesPerSec, // start with a full bucket
		lastRefill:  time.Now(),
	}
}

// throttle blocks until n bytes of downloaded data are covered by the
// bucket, then debits them.
func (l *Limiter) throttle(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// refill tokens for the time elapsed since the last debit
	now := time.Now()
	elapsed := now.Sub(l.lastRefill)
	l.lastRefill = now
	l.tokens += int64(elapsed.Seconds() * float64(l.bytesPerSec))
	if l.tokens > l.bytesPerSec {
		l.tokens = l.bytesPerSec
	}

	l.tokens -= int64(n)
	if l.tokens >= 0 {
		return
	}

	// the bucket went negative; sleep off the deficit before letting the
	// next chunk through
	deficit := -l.tokens
	sleepTime := time.Duration(float64(deficit) / float64(l.bytesPerSec) * float64(time.Second))
	l.mu.Unlock()
	time.Sleep(sleepTime)
	l.mu.Lock()
	l.lastRefill = time.Now()
	l.tokens = 0
}

// Reader wraps a download's response body, throttling Read calls against
// a shared Limiter.
type Reader struct {
	body    io.Reader
	limiter *Limiter
}

// NewReader wraps body so its reads are throttled by limiter.
func NewReader(body io.Reader, limiter *Limiter) *Reader {
	return &Reader{body: body, limiter: limiter}
}

func (r *Reader) Read(p []byte) (int, error) {
	// cap the chunk size so one Read can't hold the bucket for too long
	const maxChunk = 64 * 1024
	if len(p) > maxChunk {
		p = p[:maxChunk]
	}

	n, err := r.body.Read(p)
	if n > 0 {
		r.limiter.throttle(n)
	}
	return n, err
}
