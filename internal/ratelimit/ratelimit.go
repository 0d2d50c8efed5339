// Package ratelimit is a process-local fixed-window counter. Counters are not
// shared between replicas.
package ratelimit

import (
	"sync"
	"time"
)

const (
	ClassIP      = "ip"
	ClassDisplay = "display"
)

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type window struct {
	start time.Time
	count int
}

type key struct {
	class    string
	identity string
}

type Limiter struct {
	mu        sync.Mutex
	size      time.Duration
	limits    map[string]int
	windows   map[key]*window
	now       func() time.Time
	lastSweep time.Time
}

// New builds a limiter with one window size shared by every class. A class
// without a positive limit is never throttled.
func New(size time.Duration, limits map[string]int) *Limiter {
	if size <= 0 {
		size = time.Minute
	}
	copied := make(map[string]int, len(limits))
	for class, limit := range limits {
		copied[class] = limit
	}
	return &Limiter{
		size:    size,
		limits:  copied,
		windows: make(map[key]*window),
		now:     time.Now,
	}
}

func (l *Limiter) Allow(class, identity string) Decision {
	limit := l.limits[class]
	if limit <= 0 || identity == "" {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	k := key{class: class, identity: identity}
	w, ok := l.windows[k]
	if !ok || now.Sub(w.start) >= l.size {
		w = &window{start: now.Truncate(l.size)}
		l.windows[k] = w
	}
	if w.count >= limit {
		retry := w.start.Add(l.size).Sub(now)
		if retry < time.Second {
			retry = time.Second
		}
		return Decision{Allowed: false, RetryAfter: retry}
	}
	w.count++
	return Decision{Allowed: true}
}

// sweep drops expired windows at most once per window length.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.size {
		return
	}
	for k, w := range l.windows {
		if now.Sub(w.start) >= l.size {
			delete(l.windows, k)
		}
	}
	l.lastSweep = now
}

func (l *Limiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
