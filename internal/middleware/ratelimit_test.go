package middleware

import (
	"context"
	"testing"
	"time"
)

func newTestRateLimiter(t *testing.T, maxPerMinute int) *RateLimiter {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	rl := NewRateLimiter(ctx, maxPerMinute)
	t.Cleanup(rl.Stop)
	return rl
}

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := newTestRateLimiter(t, 3)

	for i := 0; i < 3; i++ {
		if !rl.RecordFailureAndAllow("203.0.113.7") {
			t.Fatalf("attempt %d blocked, want the full burst of 3 allowed", i+1)
		}
	}
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	rl := newTestRateLimiter(t, 3)

	for i := 0; i < 3; i++ {
		rl.RecordFailureAndAllow("203.0.113.7")
	}
	if rl.RecordFailureAndAllow("203.0.113.7") {
		t.Fatal("attempt past the burst allowed, want blocked")
	}
}

func TestRateLimiterTracksIPsIndependently(t *testing.T) {
	rl := newTestRateLimiter(t, 2)

	for i := 0; i < 3; i++ {
		rl.RecordFailureAndAllow("203.0.113.7")
	}
	if rl.RecordFailureAndAllow("203.0.113.7") {
		t.Fatal("exhausted IP allowed, want blocked")
	}
	if !rl.RecordFailureAndAllow("203.0.113.8") {
		t.Fatal("fresh IP blocked, want allowed")
	}
}

func TestRateLimiterDefaultLimit(t *testing.T) {
	rl := newTestRateLimiter(t, 0)

	for i := 0; i < DefaultMaxAttemptsPerMinute; i++ {
		if !rl.RecordFailureAndAllow("203.0.113.7") {
			t.Fatalf("attempt %d blocked, want %d allowed by default", i+1, DefaultMaxAttemptsPerMinute)
		}
	}
	if rl.RecordFailureAndAllow("203.0.113.7") {
		t.Fatal("attempt past the default limit allowed, want blocked")
	}
}

func TestRateLimiterEvictsWhenFull(t *testing.T) {
	rl := newTestRateLimiter(t, 5)
	rl.maxTrackedIPs = 3

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		rl.RecordFailureAndAllow(ip)
	}
	rl.mu.Lock()
	rl.entries["10.0.0.1"].lastSeen = time.Now().Add(-time.Minute)
	rl.mu.Unlock()

	rl.RecordFailureAndAllow("10.0.0.4")

	rl.mu.Lock()
	count := len(rl.entries)
	_, oldest := rl.entries["10.0.0.1"]
	rl.mu.Unlock()
	if count > 3 {
		t.Fatalf("tracked IPs = %d, want at most 3", count)
	}
	if oldest {
		t.Fatal("oldest entry still tracked, want evicted")
	}
}

func TestRateLimiterDropsStaleEntries(t *testing.T) {
	rl := newTestRateLimiter(t, 5)

	rl.RecordFailureAndAllow("203.0.113.7")
	rl.mu.Lock()
	rl.entries["203.0.113.7"].lastSeen = time.Now().Add(-2 * staleThreshold)
	rl.mu.Unlock()

	rl.dropStale()

	rl.mu.Lock()
	_, exists := rl.entries["203.0.113.7"]
	rl.mu.Unlock()
	if exists {
		t.Fatal("stale entry still tracked, want dropped")
	}
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"203.0.113.7:52814", "203.0.113.7"},
		{"[::1]:52814", "::1"},
		{"203.0.113.7", "203.0.113.7"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExtractIP(tt.input); got != tt.want {
			t.Errorf("ExtractIP(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
