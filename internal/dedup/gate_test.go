package dedup

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestGateInFlightRejectsSecondSend(t *testing.T) {
	g := New(0, 0, 0)
	token, err := g.Admit("voice_data", []byte(`{"turn":1}`), t0)
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if token == "" {
		t.Fatalf("expected correlation token")
	}

	_, err = g.Admit("voice_data", []byte(`{"turn":2}`), t0.Add(100*time.Millisecond))
	if reason, ok := ReasonOf(err); !ok || reason != ReasonInFlight {
		t.Fatalf("Admit() error = %v, want in_flight rejection", err)
	}
}

func TestGateReleaseUnblocksKind(t *testing.T) {
	g := New(0, 0, 0)
	token, err := g.Admit("voice_data", []byte(`{"turn":1}`), t0)
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if !g.Release(token) {
		t.Fatalf("Release() = false, want true")
	}
	if g.Release(token) {
		t.Fatalf("second Release() = true, want false")
	}

	if _, err := g.Admit("voice_data", []byte(`{"turn":2}`), t0.Add(3*time.Second)); err != nil {
		t.Fatalf("Admit() after release error = %v", err)
	}
}

func TestGateLockExpiresAtDeadline(t *testing.T) {
	g := New(time.Second, 5*time.Second, 0)
	if _, err := g.Admit("voice_data", []byte(`{"turn":1}`), t0); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if !g.InFlight("voice_data", t0.Add(4*time.Second)) {
		t.Fatalf("lock should still be held before the deadline")
	}
	// The lost-response net: the lock stops blocking once its deadline passes.
	if _, err := g.Admit("voice_data", []byte(`{"turn":2}`), t0.Add(5*time.Second)); err != nil {
		t.Fatalf("Admit() after deadline error = %v", err)
	}
}

func TestGateRejectsExactDuplicate(t *testing.T) {
	g := New(0, 0, 0)
	content := []byte(`{"transcript":"our product saves two hours a day"}`)
	token, err := g.Admit("voice_data", content, t0)
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	g.Release(token)

	// Same content inside the same one-second bucket.
	_, err = g.Admit("voice_data", content, t0.Add(300*time.Millisecond))
	if reason, ok := ReasonOf(err); !ok || reason != ReasonDuplicate {
		t.Fatalf("Admit() error = %v, want duplicate rejection", err)
	}
}

func TestGateCooldownCatchesTimestampJitter(t *testing.T) {
	g := New(2500*time.Millisecond, 0, 0)
	content := []byte(`{"transcript":"let me repeat the pricing"}`)
	token, err := g.Admit("voice_data", content, t0)
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	g.Release(token)

	// Next second bucket, so the fingerprint differs, but identical content
	// inside the cooldown window.
	_, err = g.Admit("voice_data", content, t0.Add(1200*time.Millisecond))
	if reason, ok := ReasonOf(err); !ok || reason != ReasonCooldown {
		t.Fatalf("Admit() error = %v, want cooldown rejection", err)
	}
}

func TestGateAcceptsSameContentAfterCooldown(t *testing.T) {
	g := New(2500*time.Millisecond, 0, 0)
	content := []byte(`{"transcript":"closing line"}`)
	token, err := g.Admit("voice_data", content, t0)
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	g.Release(token)

	if _, err := g.Admit("voice_data", content, t0.Add(3*time.Second)); err != nil {
		t.Fatalf("Admit() after cooldown error = %v", err)
	}
}

func TestGateEvictsOldestFingerprint(t *testing.T) {
	g := New(time.Millisecond, 0, 2)
	contents := [][]byte{
		[]byte(`{"turn":"a"}`),
		[]byte(`{"turn":"b"}`),
		[]byte(`{"turn":"c"}`),
	}
	for i, c := range contents {
		token, err := g.Admit("voice_data", c, t0.Add(time.Duration(i)*5*time.Second))
		if err != nil {
			t.Fatalf("Admit(%d) error = %v", i, err)
		}
		g.Release(token)
	}
	if got := g.CachedFingerprints(); got != 2 {
		t.Fatalf("CachedFingerprints() = %d, want 2", got)
	}

	// The first fingerprint was evicted, so replaying it at its original
	// bucket is admissible again.
	if _, err := g.Admit("voice_data", contents[0], t0); err != nil {
		t.Fatalf("Admit() of evicted fingerprint error = %v", err)
	}
}

func TestGateResetClearsEverything(t *testing.T) {
	g := New(0, 0, 0)
	content := []byte(`{"turn":1}`)
	if _, err := g.Admit("voice_data", content, t0); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	g.Reset()

	if g.CachedFingerprints() != 0 {
		t.Fatalf("CachedFingerprints() after reset = %d, want 0", g.CachedFingerprints())
	}
	if _, err := g.Admit("voice_data", content, t0); err != nil {
		t.Fatalf("Admit() after reset error = %v", err)
	}
}

func TestGateKindsAreIndependent(t *testing.T) {
	g := New(0, 0, 0)
	if _, err := g.Admit("voice_data", []byte(`{"turn":1}`), t0); err != nil {
		t.Fatalf("Admit(voice_data) error = %v", err)
	}
	if _, err := g.Admit("ping", []byte(`{}`), t0); err != nil {
		t.Fatalf("Admit(ping) error = %v", err)
	}
}

func TestReasonOfForeignError(t *testing.T) {
	if _, ok := ReasonOf(errors.New("boom")); ok {
		t.Fatalf("ReasonOf should ignore foreign errors")
	}
	wrapped := fmt.Errorf("send: %w", &RejectError{Kind: "voice_data", Reason: ReasonCooldown})
	if reason, ok := ReasonOf(wrapped); !ok || reason != ReasonCooldown {
		t.Fatalf("ReasonOf(wrapped) = %v, %v", reason, ok)
	}
}
