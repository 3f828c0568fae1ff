package automod

import (
	"testing"
	"time"
)

func TestGuardCooldownBlocksAfterAdmission(t *testing.T) {
	g := NewGuard(60*time.Second, 5*time.Minute, 3)
	now := time.Now()

	res := g.Check("alice@twitch", "100", now)
	if !res.Allowed() {
		t.Fatalf("first attempt should be allowed, got %+v", res)
	}
	g.RecordAdmission("alice@twitch", now)

	res = g.Check("alice@twitch", "200", now.Add(30*time.Second))
	if !res.OnCooldown {
		t.Fatalf("expected cooldown, got %+v", res)
	}
	if res.Remaining != 30*time.Second {
		t.Errorf("remaining = %v, want 30s", res.Remaining)
	}

	res = g.Check("alice@twitch", "300", now.Add(61*time.Second))
	if !res.Allowed() {
		t.Errorf("attempt after cooldown expiry should be allowed, got %+v", res)
	}
}

func TestGuardCooldownRemainingRoundsUp(t *testing.T) {
	g := NewGuard(60*time.Second, 5*time.Minute, 3)
	now := time.Now()
	g.RecordAdmission("bob@twitch", now)

	res := g.Check("bob@twitch", "1", now.Add(30*time.Second+500*time.Millisecond))
	if !res.OnCooldown {
		t.Fatalf("expected cooldown, got %+v", res)
	}
	if res.Remaining != 30*time.Second {
		t.Errorf("remaining = %v, want whole-second 30s", res.Remaining)
	}
}

func TestGuardRejectedAttemptsDoNotExtendCooldown(t *testing.T) {
	g := NewGuard(60*time.Second, 5*time.Minute, 10)
	now := time.Now()
	g.RecordAdmission("carol@twitch", now)

	// Hammering during cooldown must not push the expiry out.
	for i := 1; i <= 5; i++ {
		res := g.Check("carol@twitch", "42", now.Add(time.Duration(i)*10*time.Second))
		if !res.OnCooldown {
			t.Fatalf("attempt %d: expected cooldown, got %+v", i, res)
		}
	}
	res := g.Check("carol@twitch", "42", now.Add(61*time.Second))
	if !res.Allowed() {
		t.Errorf("cooldown should expire 60s after the admission, got %+v", res)
	}
}

func TestGuardSpamThreshold(t *testing.T) {
	g := NewGuard(60*time.Second, 5*time.Minute, 3)
	now := time.Now()

	for i := 0; i < 2; i++ {
		res := g.Check("dave@twitch", "777", now.Add(time.Duration(i)*time.Second))
		if res.Spam {
			t.Fatalf("attempt %d should not be spam yet", i+1)
		}
	}
	res := g.Check("dave@twitch", "777", now.Add(2*time.Second))
	if !res.Spam {
		t.Fatalf("third attempt at same ID should be spam, got %+v", res)
	}
}

func TestGuardSpamCountsRejectedAttempts(t *testing.T) {
	g := NewGuard(60*time.Second, 5*time.Minute, 3)
	now := time.Now()
	g.RecordAdmission("erin@twitch", now)

	// Both attempts land on cooldown, but they still count toward spam.
	g.Check("erin@twitch", "5", now.Add(1*time.Second))
	g.Check("erin@twitch", "5", now.Add(2*time.Second))
	res := g.Check("erin@twitch", "5", now.Add(3*time.Second))
	if !res.Spam {
		t.Fatalf("expected spam verdict to win over cooldown, got %+v", res)
	}
	if res.OnCooldown {
		t.Errorf("spam verdict should not also report cooldown")
	}
}

func TestGuardSpamWindowSlides(t *testing.T) {
	g := NewGuard(time.Second, 10*time.Second, 3)
	now := time.Now()

	g.Check("frank@twitch", "9", now)
	g.Check("frank@twitch", "9", now.Add(time.Second))
	// The first two attempts age out of the window before the third.
	res := g.Check("frank@twitch", "9", now.Add(12*time.Second))
	if res.Spam {
		t.Errorf("attempts outside the window should not count, got %+v", res)
	}
}

func TestGuardDistinctIDsAreNotSpam(t *testing.T) {
	g := NewGuard(time.Second, 5*time.Minute, 3)
	now := time.Now()

	for i, id := range []string{"1", "2", "3", "4", "5"} {
		res := g.Check("gail@twitch", id, now.Add(time.Duration(i)*2*time.Second))
		if res.Spam {
			t.Fatalf("distinct IDs should never trip spam, got %+v at %d", res, i)
		}
	}
}

func TestGuardKeysAreIndependent(t *testing.T) {
	g := NewGuard(60*time.Second, 5*time.Minute, 3)
	now := time.Now()
	g.RecordAdmission("alice@twitch", now)

	if res := g.Check("bob@twitch", "1", now.Add(time.Second)); !res.Allowed() {
		t.Errorf("bob should not inherit alice's cooldown, got %+v", res)
	}
	if res := g.Check("alice@youtube", "1", now.Add(time.Second)); !res.Allowed() {
		t.Errorf("same name on another platform is a distinct key, got %+v", res)
	}
}

func TestNewGuardDefaults(t *testing.T) {
	g := NewGuard(0, 0, 0)
	if g.cooldown != 60*time.Second || g.window != 5*time.Minute || g.threshold != 3 {
		t.Errorf("defaults = (%v, %v, %d), want (60s, 5m, 3)", g.cooldown, g.window, g.threshold)
	}
}
