package automod

import (
	"sync"
	"time"
)

// Guard enforces the per-requester cooldown and the repeat-submission spam
// window. The two rules are deliberately asymmetric: every attempt that
// reaches the guard is recorded for the spam counter even if it is rejected
// further down the pipeline, while the cooldown clock advances only on a
// successful admission. A burst of rejected attempts therefore cannot extend
// a user's cooldown, but it can still trip the spam threshold.
type Guard struct {
	mu        sync.Mutex
	cooldown  time.Duration
	window    time.Duration
	threshold int
	lastAdmit map[string]time.Time
	recent    map[string][]attempt
}

type attempt struct {
	id string
	at time.Time
}

// RateResult is the guard's verdict for one attempt.
type RateResult struct {
	OnCooldown bool
	Remaining  time.Duration // whole-second remainder when OnCooldown
	Spam       bool
}

// Allowed reports whether the attempt passed both rules.
func (r RateResult) Allowed() bool { return !r.OnCooldown && !r.Spam }

// NewGuard constructs a Guard. Zero values fall back to the defaults of
// 60s cooldown, 5m window, 3 strikes.
func NewGuard(cooldown, window time.Duration, threshold int) *Guard {
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	if threshold <= 0 {
		threshold = 3
	}
	return &Guard{
		cooldown:  cooldown,
		window:    window,
		threshold: threshold,
		lastAdmit: make(map[string]time.Time),
		recent:    make(map[string][]attempt),
	}
}

// Check records the attempt and evaluates both rules. The spam verdict wins
// when both would apply: a user hammering the same ID while on cooldown is
// reported as spamming, not merely as too fast.
func (g *Guard) Check(key, id string, now time.Time) RateResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Prune the trailing window, then record this attempt.
	kept := g.recent[key][:0]
	for _, a := range g.recent[key] {
		if now.Sub(a.at) < g.window {
			kept = append(kept, a)
		}
	}
	kept = append(kept, attempt{id: id, at: now})
	g.recent[key] = kept

	same := 0
	for _, a := range kept {
		if a.id == id {
			same++
		}
	}
	if same >= g.threshold {
		return RateResult{Spam: true}
	}

	if last, ok := g.lastAdmit[key]; ok {
		if elapsed := now.Sub(last); elapsed < g.cooldown {
			remaining := g.cooldown - elapsed
			// round up to whole seconds for user messaging
			remaining = ((remaining + time.Second - 1) / time.Second) * time.Second
			return RateResult{OnCooldown: true, Remaining: remaining}
		}
	}
	return RateResult{}
}

// RecordAdmission advances the cooldown clock. Called only after a successful
// queue commit.
func (g *Guard) RecordAdmission(key string, now time.Time) {
	g.mu.Lock()
	g.lastAdmit[key] = now
	g.mu.Unlock()
}
