// Package dedup guards the outbound voice path against repeated sends. Every
// payload passes three ordered checks: a per-kind in-flight lock, a bounded
// exact-fingerprint cache, and a cooldown on identical serialized content.
package dedup

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Reason string

const (
	ReasonInFlight  Reason = "in_flight"
	ReasonDuplicate Reason = "duplicate"
	ReasonCooldown  Reason = "cooldown"
)

const (
	DefaultCooldown     = 2500 * time.Millisecond
	DefaultReleaseAfter = 10 * time.Second
	DefaultCapacity     = 10
)

// RejectError reports which check turned a payload away.
type RejectError struct {
	Kind   string
	Reason Reason
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s send rejected: %s", e.Kind, e.Reason)
}

// ReasonOf unwraps the rejection reason, if err came from a gate.
func ReasonOf(err error) (Reason, bool) {
	var reject *RejectError
	if errors.As(err, &reject) {
		return reject.Reason, true
	}
	return "", false
}

type inflightEntry struct {
	token    string
	deadline time.Time
}

type contentStamp struct {
	content []byte
	at      time.Time
}

// Gate applies the three checks and hands out a correlation token on accept.
// The token is released by the correlated backend response; the deadline is
// the self-healing net when that response never comes. Callers pass now
// explicitly so tests never sleep.
type Gate struct {
	mu           sync.Mutex
	cooldown     time.Duration
	releaseAfter time.Duration
	capacity     int

	inflight     map[string]inflightEntry
	fingerprints []string
	fpSet        map[string]struct{}
	lastContent  map[string]contentStamp
}

func New(cooldown, releaseAfter time.Duration, capacity int) *Gate {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if releaseAfter <= 0 {
		releaseAfter = DefaultReleaseAfter
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Gate{
		cooldown:     cooldown,
		releaseAfter: releaseAfter,
		capacity:     capacity,
		inflight:     make(map[string]inflightEntry),
		fpSet:        make(map[string]struct{}),
		lastContent:  make(map[string]contentStamp),
	}
}

// ReleaseAfter reports the safety window callers should arm a timer for.
func (g *Gate) ReleaseAfter() time.Duration {
	return g.releaseAfter
}

// Admit runs the ordered checks. On accept it marks the in-flight lock,
// records the fingerprint and content stamp, and returns the correlation
// token the caller must Release when the response arrives.
func (g *Gate) Admit(kind string, content []byte, now time.Time) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if entry, ok := g.inflight[kind]; ok && now.Before(entry.deadline) {
		return "", &RejectError{Kind: kind, Reason: ReasonInFlight}
	}

	fp := Fingerprint(kind, content, now)
	if _, ok := g.fpSet[fp]; ok {
		return "", &RejectError{Kind: kind, Reason: ReasonDuplicate}
	}

	if last, ok := g.lastContent[kind]; ok {
		if now.Sub(last.at) < g.cooldown && bytes.Equal(last.content, content) {
			return "", &RejectError{Kind: kind, Reason: ReasonCooldown}
		}
	}

	token := uuid.NewString()
	g.inflight[kind] = inflightEntry{token: token, deadline: now.Add(g.releaseAfter)}
	g.rememberLocked(fp)
	g.lastContent[kind] = contentStamp{content: append([]byte(nil), content...), at: now}
	return token, nil
}

// Release clears the in-flight lock held under token. It reports false when
// the token no longer holds a lock, which is normal after a safety release.
func (g *Gate) Release(token string) bool {
	if token == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for kind, entry := range g.inflight {
		if entry.token == token {
			delete(g.inflight, kind)
			return true
		}
	}
	return false
}

// InFlight reports whether kind currently holds an unexpired lock.
func (g *Gate) InFlight(kind string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.inflight[kind]
	return ok && now.Before(entry.deadline)
}

// CachedFingerprints reports how many fingerprints the cache holds.
func (g *Gate) CachedFingerprints() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.fingerprints)
}

// Reset drops all locks, fingerprints and cooldown stamps.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inflight = make(map[string]inflightEntry)
	g.fingerprints = g.fingerprints[:0]
	g.fpSet = make(map[string]struct{})
	g.lastContent = make(map[string]contentStamp)
}

func (g *Gate) rememberLocked(fp string) {
	if _, ok := g.fpSet[fp]; ok {
		return
	}
	if len(g.fingerprints) >= g.capacity {
		oldest := g.fingerprints[0]
		g.fingerprints = g.fingerprints[1:]
		delete(g.fpSet, oldest)
	}
	g.fingerprints = append(g.fingerprints, fp)
	g.fpSet[fp] = struct{}{}
}

// Fingerprint summarizes a payload as kind, byte length, a leading excerpt
// and a one-second time bucket. Rapid repeats collide on purpose; distinct
// content does not.
func Fingerprint(kind string, content []byte, now time.Time) string {
	excerpt := content
	if len(excerpt) > 48 {
		excerpt = excerpt[:48]
	}
	return fmt.Sprintf("%s:%d:%x:%d", kind, len(content), excerpt, now.Unix())
}
