package service

import (
	"sync"
	"time"
)

type loginAttempt struct {
	failures    int
	lastAttempt time.Time
	lockedUntil time.Time
}

// LoginLimiter locks a key (username or client IP) after too many failed
// logins.
type LoginLimiter struct {
	mu           sync.Mutex
	attempts     map[string]*loginAttempt
	maxAttempts  int
	lockDuration time.Duration
	resetAfter   time.Duration
	// decay makes a success forgive one failure instead of all of them.
	decay bool
	now   func() time.Time
}

func NewLoginLimiter(maxAttempts int, lockDuration, resetAfter time.Duration) *LoginLimiter {
	return &LoginLimiter{
		attempts:     make(map[string]*loginAttempt),
		maxAttempts:  maxAttempts,
		lockDuration: lockDuration,
		resetAfter:   resetAfter,
		now:          time.Now,
	}
}

// NewIPLoginLimiter guards against one address guessing many accounts.
func NewIPLoginLimiter(maxAttempts int, lockDuration, resetAfter time.Duration) *LoginLimiter {
	l := NewLoginLimiter(maxAttempts, lockDuration, resetAfter)
	l.decay = true
	return l
}

// IsLocked reports whether key is locked and for how long.
func (l *LoginLimiter) IsLocked(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.attempts[key]
	if !ok {
		return false, 0
	}
	if now := l.now(); now.Before(a.lockedUntil) {
		return true, a.lockedUntil.Sub(now)
	}
	return false, 0
}

// RecordFailure counts a failure and reports whether it triggered a lock.
func (l *LoginLimiter) RecordFailure(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	a, ok := l.attempts[key]
	if !ok {
		a = &loginAttempt{}
		l.attempts[key] = a
	}
	if now.Sub(a.lastAttempt) > l.resetAfter {
		a.failures = 0
	}

	a.failures++
	a.lastAttempt = now
	if a.failures >= l.maxAttempts {
		a.lockedUntil = now.Add(l.lockDuration)
		return true, l.lockDuration
	}
	return false, 0
}

func (l *LoginLimiter) RecordSuccess(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.attempts[key]
	if !ok {
		return
	}
	if l.decay {
		a.failures--
		if a.failures > 0 {
			return
		}
	}
	delete(l.attempts, key)
}

// Cleanup drops entries that are neither locked nor recent.
func (l *LoginLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, a := range l.attempts {
		if now.After(a.lockedUntil) && now.Sub(a.lastAttempt) > l.resetAfter {
			delete(l.attempts, key)
		}
	}
}

// RunCleanup calls Cleanup every interval until stop is closed.
func (l *LoginLimiter) RunCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Cleanup()
		case <-stop:
			return
		}
	}
}
