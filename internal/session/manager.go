package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoSession     = errors.New("no active session")
	ErrBadTransition = errors.New("illegal state transition")
)

// legalTransitions is the full lifecycle table. Anything absent is rejected.
var legalTransitions = map[State][]State{
	StateIdle:         {StateConnecting},
	StateConnecting:   {StateConnected, StateReconnecting, StateOffline, StateIdle},
	StateConnected:    {StateReconnecting, StateOffline, StateIdle},
	StateReconnecting: {StateConnecting, StateOffline, StateIdle},
	StateOffline:      {StateConnecting, StateIdle},
}

func transitionAllowed(from, to State) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Manager owns the single live session record. Every mutation goes through a
// validated transition; callers only ever see clones.
type Manager struct {
	mu      sync.RWMutex
	current *Session
}

func NewManager() *Manager {
	return &Manager{}
}

// Begin replaces any previous record with a fresh Idle session.
func (m *Manager) Begin(req StartRequest) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		ConversationID: uuid.NewString(),
		UserID:         req.UserID,
		Customer:       req.Customer,
		Scenario:       req.Scenario,
		State:          StateIdle,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = s
	return clone(s)
}

// Current returns a snapshot of the live session.
func (m *Manager) Current() (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, ErrNoSession
	}
	return clone(m.current), nil
}

// State reports the lifecycle state, StateIdle when no session exists.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return StateIdle
	}
	return m.current.State
}

// StartAttempt moves the session into Connecting and rotates the connection
// identity for the new dial.
func (m *Manager) StartAttempt() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNoSession
	}
	if err := m.transitionLocked(StateConnecting); err != nil {
		return nil, err
	}
	m.current.ConnectionID = uuid.NewString()
	return clone(m.current), nil
}

// MarkConnected records a successful handshake and resets the retry budget.
func (m *Manager) MarkConnected() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNoSession
	}
	if err := m.transitionLocked(StateConnected); err != nil {
		return nil, err
	}
	m.current.ConnectedAt = time.Now().UTC()
	m.current.ReconnectAttempts = 0
	return clone(m.current), nil
}

// MarkReconnecting bumps the attempt counter and enters Reconnecting.
func (m *Manager) MarkReconnecting() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNoSession
	}
	if err := m.transitionLocked(StateReconnecting); err != nil {
		return nil, err
	}
	m.current.ReconnectAttempts++
	return clone(m.current), nil
}

// MarkOffline parks the session after the retry budget is spent.
func (m *Manager) MarkOffline() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNoSession
	}
	if err := m.transitionLocked(StateOffline); err != nil {
		return nil, err
	}
	return clone(m.current), nil
}

// End returns the session to Idle and drops the record. The final snapshot
// comes back for summaries. Ending twice is not an error.
func (m *Manager) End() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNoSession
	}
	m.current.State = StateIdle
	m.current.LastActivityAt = time.Now().UTC()
	final := clone(m.current)
	m.current = nil
	return final, nil
}

// Touch refreshes the activity stamp.
func (m *Manager) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.LastActivityAt = time.Now().UTC()
	}
}

// RecordTurn counts an accepted outbound voice turn.
func (m *Manager) RecordTurn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return
	}
	m.current.TurnsSent++
	m.current.LastActivityAt = time.Now().UTC()
}

// RecordFeedback counts inbound coaching feedback and folds in its score.
func (m *Manager) RecordFeedback(score *int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return
	}
	m.current.FeedbackCount++
	if score != nil {
		m.current.ScoreSum += *score
		m.current.ScoredTurns++
	}
	m.current.LastActivityAt = time.Now().UTC()
}

// SetServerSession adopts the backend's session identifier from its ack.
func (m *Manager) SetServerSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && id != "" {
		m.current.ServerSessionID = id
	}
}

func (m *Manager) transitionLocked(to State) error {
	from := m.current.State
	if from == to {
		return fmt.Errorf("%w: already %s", ErrBadTransition, to)
	}
	if !transitionAllowed(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, from, to)
	}
	m.current.State = to
	m.current.LastActivityAt = time.Now().UTC()
	return nil
}

func clone(s *Session) *Session {
	copied := *s
	return &copied
}
