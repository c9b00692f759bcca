package amqp

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures = 5
	openTimeout = 30 * time.Second

	baseBackoff = time.Second
	maxBackoff  = 30 * time.Second
)

// breaker stops publish attempts after repeated broker failures so that
// request handlers fall back to local delivery without waiting on timeouts.
type breaker struct {
	state        int32
	failureCount int64

	mu          sync.Mutex
	lastFailure time.Time
}

// isCircuitOpen reports whether a call must be refused. Once the open timeout
// has passed exactly one caller is let through as the trial; the others are
// refused until it records its outcome.
func (b *breaker) isCircuitOpen() bool {
	switch atomic.LoadInt32(&b.state) {
	case StateClosed:
		return false
	case StateHalfOpen:
		return true
	}
	b.mu.Lock()
	last := b.lastFailure
	b.mu.Unlock()

	if time.Since(last) > openTimeout {
		return !atomic.CompareAndSwapInt32(&b.state, StateOpen, StateHalfOpen)
	}
	return true
}

func (b *breaker) recordSuccess() {
	atomic.StoreInt64(&b.failureCount, 0)
	atomic.StoreInt32(&b.state, StateClosed)
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	b.lastFailure = time.Now()
	b.mu.Unlock()

	failures := atomic.AddInt64(&b.failureCount, 1)
	if failures >= maxFailures || atomic.LoadInt32(&b.state) == StateHalfOpen {
		atomic.StoreInt32(&b.state, StateOpen)
	}
}

// exponentialBackoff returns the reconnect delay for attempt, capped at maxBackoff.
func exponentialBackoff(attempt int) time.Duration {
	if attempt >= 5 {
		return maxBackoff
	}
	d := baseBackoff << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

var connectionErrorMarkers = []string{
	"connection refused",
	"connection closed",
	"connection reset",
	"channel/connection is not open",
	"EOF",
	"broken pipe",
	"use of closed network connection",
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range connectionErrorMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
