package throttle

import (
	"context"
	"sync"
	"time"

	"gitpress/internal/constants"
)

// Limiter is a counter-with-expiry over login attempt sources. Allow reports
// whether the attempt from key may proceed to credential verification.
// This is best-effort abuse mitigation, not a security boundary.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps fixed attempt windows in process memory. State is lost
// on restart and not shared across instances.
type MemoryLimiter struct {
	mu          sync.Mutex
	windows     map[string]*window
	maxAttempts int
	windowSize  time.Duration
	done        chan struct{}
	closeOnce   sync.Once
}

func NewMemoryLimiter(maxAttempts int, windowSize time.Duration) *MemoryLimiter {
	l := &MemoryLimiter{
		windows:     make(map[string]*window),
		maxAttempts: maxAttempts,
		windowSize:  windowSize,
		done:        make(chan struct{}),
	}
	go l.sweep()
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(l.windowSize)}
		return true, nil
	}

	if w.count >= l.maxAttempts {
		return false, nil
	}

	w.count++
	return true, nil
}

func (l *MemoryLimiter) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

func (l *MemoryLimiter) sweep() {
	ticker := time.NewTicker(constants.ThrottleSweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			now := time.Now()
			l.mu.Lock()
			for key, w := range l.windows {
				if now.After(w.resetAt) {
					delete(l.windows, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
