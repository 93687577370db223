package session

import "time"

// State tracks where the connection lifecycle currently sits.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateOffline      State = "offline_fallback"
)

// Session is the one live coaching conversation. ConnectionID rotates on
// every dial attempt; ID survives reconnects within the same conversation.
type Session struct {
	ID                string    `json:"session_id"`
	ConversationID    string    `json:"conversation_id"`
	UserID            string    `json:"user_id"`
	ConnectionID      string    `json:"connection_id"`
	ServerSessionID   string    `json:"server_session_id,omitempty"`
	State             State     `json:"state"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	Customer          string    `json:"customer,omitempty"`
	Scenario          string    `json:"scenario,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	ConnectedAt       time.Time `json:"connected_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	TurnsSent         int       `json:"turns_sent"`
	FeedbackCount     int       `json:"feedback_count"`
	ScoreSum          int       `json:"-"`
	ScoredTurns       int       `json:"scored_turns"`
}

// AverageScore is 0 until at least one scored feedback arrives.
func (s *Session) AverageScore() float64 {
	if s.ScoredTurns == 0 {
		return 0
	}
	return float64(s.ScoreSum) / float64(s.ScoredTurns)
}

// StartRequest defines the payload for beginning a coaching session.
type StartRequest struct {
	UserID   string `json:"user_id"`
	Customer string `json:"customer"`
	Scenario string `json:"scenario"`
}
