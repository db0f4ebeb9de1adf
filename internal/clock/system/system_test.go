// Package system exercises the real-time clock adapter.
package system

import (
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestClockAfterFires checks the timer channel delivers once the delay elapses.
func TestClockAfterFires(t *testing.T) {
	t.Parallel()

	clk := New()
	start := time.Now()
	select {
	case <-clk.After(10 * time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("expected After to fire within a second")
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Fatalf("After fired early: %v", elapsed)
	}
}
