// Package ratelimit guards sensitive operation classes with a fixed
// attempt budget per window followed by a cooldown lockout.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
)

// Operation classes with built-in rules.
const (
	ClassExportKey   = "export-key"
	ClassWithdraw    = "withdraw"
	ClassMarketplace = "marketplace"
)

// SweepInterval is how often Run evicts expired entries.
const SweepInterval = 10 * time.Minute

// ErrRateLimited is matched by every *LimitError.
var ErrRateLimited = errors.New("ratelimit: too many attempts")

// Rule parameterizes one operation class.
type Rule struct {
	MaxAttempts int
	Window      time.Duration
	Cooldown    time.Duration
}

// DefaultRules returns the built-in rules, scaled by risk.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		ClassExportKey:   {MaxAttempts: 3, Window: time.Minute, Cooldown: 5 * time.Minute},
		ClassWithdraw:    {MaxAttempts: 5, Window: time.Minute, Cooldown: 10 * time.Minute},
		ClassMarketplace: {MaxAttempts: 10, Window: time.Minute, Cooldown: 3 * time.Minute},
	}
}

// LimitError rejects a call and says how long to wait.
type LimitError struct {
	Class      string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("ratelimit: %s limit reached, retry in %s", e.Class, e.RetryAfter.Round(time.Second))
}

// Unwrap lets errors.Is match ErrRateLimited.
func (e *LimitError) Unwrap() error {
	return ErrRateLimited
}

type entry struct {
	count        int
	firstAttempt time.Time
	lastAttempt  time.Time
}

type key struct {
	class string
	actor string
}

// Limiter holds process-local attempt counters. It is safe for
// concurrent use.
type Limiter struct {
	mu      sync.Mutex
	rules   map[string]Rule
	entries map[key]*entry
	now     func() time.Time
}

// New returns a Limiter with the given rules. Classes without a rule are
// never limited.
func New(rules map[string]Rule) *Limiter {
	copied := make(map[string]Rule, len(rules))
	for class, r := range rules {
		copied[class] = r
	}
	return &Limiter{
		rules:   copied,
		entries: make(map[key]*entry),
		now:     time.Now,
	}
}

// Rule returns the rule for class.
func (l *Limiter) Rule(class string) (Rule, bool) {
	r, ok := l.rules[class]
	return r, ok
}

// Allow records an attempt by actor in class. It returns a *LimitError
// when the actor has used up the window and the cooldown since its last
// accepted attempt has not passed. Rejected calls do not extend the
// cooldown.
func (l *Limiter) Allow(class, actor string) error {
	rule, ok := l.rules[class]
	if !ok || rule.MaxAttempts <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := key{class: class, actor: actor}
	e, ok := l.entries[k]
	if !ok {
		l.entries[k] = &entry{count: 1, firstAttempt: now, lastAttempt: now}
		return nil
	}

	if e.count >= rule.MaxAttempts {
		if elapsed := now.Sub(e.lastAttempt); elapsed < rule.Cooldown {
			return &LimitError{Class: class, RetryAfter: rule.Cooldown - elapsed}
		}
		*e = entry{count: 1, firstAttempt: now, lastAttempt: now}
		return nil
	}

	if now.Sub(e.firstAttempt) >= rule.Window {
		*e = entry{count: 1, firstAttempt: now, lastAttempt: now}
		return nil
	}

	e.count++
	e.lastAttempt = now
	return nil
}

// Sweep evicts entries whose window and cooldown have both passed and
// returns how many were removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for k, e := range l.entries {
		rule := l.rules[k.class]
		if now.Sub(e.lastAttempt) >= rule.Window+rule.Cooldown {
			delete(l.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked entries.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Run sweeps every SweepInterval until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				logx.WithContext(ctx).Infof("rate limiter evicted %d expired entries, %d still tracked", n, l.Len())
			}
		}
	}
}
