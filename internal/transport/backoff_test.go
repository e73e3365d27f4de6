package transport

import (
	"testing"
	"time"
)

func TestBackoffDoublesUpToCap(t *testing.T) {
	b := Backoff{Base: time.Second, Cap: 30 * time.Second}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("attempt %d: delay = %v, want %v", i, got, w)
		}
	}
	if b.Attempt() != len(want) {
		t.Errorf("attempt counter = %d, want %d", b.Attempt(), len(want))
	}
}

func TestBackoffReset(t *testing.T) {
	b := Backoff{Base: time.Second, Cap: 30 * time.Second}
	b.Next()
	b.Next()
	b.Reset()

	if b.Attempt() != 0 {
		t.Errorf("attempt after reset = %d, want 0", b.Attempt())
	}
	if got := b.Next(); got != time.Second {
		t.Errorf("first delay after reset = %v, want 1s", got)
	}
}

// Many consecutive failures must never overflow past the cap.
func TestBackoffLargeAttemptCount(t *testing.T) {
	b := Backoff{Base: time.Second, Cap: 30 * time.Second}
	var got time.Duration
	for i := 0; i < 100; i++ {
		got = b.Next()
	}
	if got != 30*time.Second {
		t.Errorf("delay after 100 failures = %v, want cap 30s", got)
	}
}
