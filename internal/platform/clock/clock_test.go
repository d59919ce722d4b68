package clock

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSystemClockAdvancesWithWallTime(t *testing.T) {
	c := SystemClock()
	first := c.Now()
	time.Sleep(time.Millisecond)
	second := c.Now()
	if !second.After(first) {
		t.Fatalf("expected SystemClock.Now to advance with wall time")
	}
	if c.NewID() == uuid.Nil {
		t.Fatalf("expected SystemClock.NewID to mint a non-nil uuid")
	}
}

func TestFakeClockOnlyMovesOnSetOrAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now = %v, want %v", got, start)
	}
	time.Sleep(time.Millisecond)
	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now = %v, want unchanged %v (fake clock must not drift with wall time)", got, start)
	}

	c.Advance(5 * time.Minute)
	want := start.Add(5 * time.Minute)
	if got := c.Now(); !got.Equal(want) {
		t.Fatalf("Now after Advance = %v, want %v", got, want)
	}

	c.Set(start)
	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now after Set = %v, want %v", got, start)
	}
}

func TestFakeClockNewIDDrawsFromSeedThenFallsBack(t *testing.T) {
	first := uuid.New()
	second := uuid.New()
	c := NewFakeClock(time.Now(), first, second)

	if got := c.NewID(); got != first {
		t.Fatalf("NewID() = %v, want seeded %v", got, first)
	}
	if got := c.NewID(); got != second {
		t.Fatalf("NewID() = %v, want seeded %v", got, second)
	}
	if got := c.NewID(); got == uuid.Nil {
		t.Fatalf("expected a fallback uuid once the seed list is exhausted")
	}
}
