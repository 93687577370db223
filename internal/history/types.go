// Package history persists coaching conversations: what the user said, what
// the coach answered, and how each session wrapped up. Drivers cover an
// in-process map, badger for single-node disk persistence and postgres for
// shared deployments.
package history

import (
	"context"
	"time"
)

// TranscriptRecord is one line of the conversation, either side.
type TranscriptRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Final     bool      `json:"final"`
	Redacted  bool      `json:"redacted"`
	CreatedAt time.Time `json:"created_at"`
}

// FeedbackRecord is one scored coach reply.
type FeedbackRecord struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	Text         string    `json:"text"`
	Score        *int      `json:"score,omitempty"`
	Achievements []string  `json:"achievements,omitempty"`
	Improvements []string  `json:"improvements,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SessionSummary is the rollup written when a session ends. Saving the same
// session again replaces the earlier rollup.
type SessionSummary struct {
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id"`
	Customer      string    `json:"customer,omitempty"`
	Scenario      string    `json:"scenario,omitempty"`
	OverallScore  int       `json:"overall_score"`
	AverageScore  float64   `json:"average_score"`
	TurnsSent     int       `json:"turns_sent"`
	FeedbackCount int       `json:"feedback_count"`
	Strengths     []string  `json:"strengths,omitempty"`
	Improvements  []string  `json:"improvements,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
}

// Store persists and retrieves coaching history. Recent* methods return the
// most recent records in chronological order; Summaries returns newest
// first.
type Store interface {
	SaveTranscript(ctx context.Context, rec TranscriptRecord) error
	SaveFeedback(ctx context.Context, rec FeedbackRecord) error
	SaveSummary(ctx context.Context, sum SessionSummary) error
	RecentTranscripts(ctx context.Context, sessionID string, limit int) ([]TranscriptRecord, error)
	RecentFeedback(ctx context.Context, sessionID string, limit int) ([]FeedbackRecord, error)
	Summaries(ctx context.Context, userID string, limit int) ([]SessionSummary, error)
	Close() error
}
