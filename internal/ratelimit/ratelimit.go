// Package ratelimit limits requests per client key over a fixed window
// length, either in process or shared through Redis.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultMax    = 100
	DefaultWindow = 15 * time.Minute
)

type Config struct {
	// Max requests allowed per Window for one key.
	Max    int
	Window time.Duration
	// CleanupInterval controls how often idle in-memory keys are dropped.
	CleanupInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Max <= 0 {
		c.Max = DefaultMax
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	return c
}

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// MemoryLimiter is a per-key token bucket refilled at Max/Window with a
// burst of Max.
type MemoryLimiter struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	limiters map[string]*keyLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	cfg = cfg.withDefaults()
	l := &MemoryLimiter{
		cfg:      cfg,
		now:      time.Now,
		limiters: make(map[string]*keyLimiter),
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func (l *MemoryLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := l.now()
	lim := l.limiterFor(key, now)
	res := Result{Limit: l.cfg.Max}

	r := lim.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		res.RetryAfter = delay
		return res, nil
	}
	res.Allowed = true
	if remaining := int(lim.TokensAt(now)); remaining > 0 {
		res.Remaining = remaining
	}
	return res, nil
}

// Len reports how many keys are currently tracked.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *MemoryLimiter) limiterFor(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if kl, ok := l.limiters[key]; ok {
		kl.lastAccess = now
		return kl.limiter
	}
	every := rate.Every(l.cfg.Window / time.Duration(l.cfg.Max))
	kl := &keyLimiter{limiter: rate.NewLimiter(every, l.cfg.Max), lastAccess: now}
	l.limiters[key] = kl
	return kl.limiter
}

func (l *MemoryLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

// cleanup drops keys idle for longer than a full window; their bucket
// would be full again anyway.
func (l *MemoryLimiter) cleanup() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, kl := range l.limiters {
		if now.Sub(kl.lastAccess) > l.cfg.Window {
			delete(l.limiters, key)
		}
	}
}
