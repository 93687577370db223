package event

import (
	"time"

	"github.com/pitchlab/coachlink/internal/audio"
	"github.com/pitchlab/coachlink/internal/protocol"
	"github.com/pitchlab/coachlink/internal/session"
)

// Kind enumerates every event the client can emit. The set is closed;
// consumers switch over it exhaustively.
type Kind string

const (
	KindConnected        Kind = "connected"
	KindStateChanged     Kind = "state_changed"
	KindConnectionFailed Kind = "connection_failed"
	KindTextFeedback     Kind = "text_feedback"
	KindTranscription    Kind = "transcription"
	KindAudioStarted     Kind = "audio_started"
	KindAudioEnded       Kind = "audio_ended"
	KindAudioResponse    Kind = "audio_response"
	KindAudioError       Kind = "audio_error"
	KindSessionComplete  Kind = "session_complete"
	KindSendRejected     Kind = "send_rejected"
	KindSystemText       Kind = "system_text"
	KindError            Kind = "error"
)

// AllKinds lists the closed event set, useful for subscription filters.
func AllKinds() []Kind {
	return []Kind{
		KindConnected, KindStateChanged, KindConnectionFailed,
		KindTextFeedback, KindTranscription,
		KindAudioStarted, KindAudioEnded, KindAudioResponse, KindAudioError,
		KindSessionComplete, KindSendRejected, KindSystemText, KindError,
	}
}

// KnownKind reports whether k names an event in the closed set.
func KnownKind(k Kind) bool {
	for _, known := range AllKinds() {
		if known == k {
			return true
		}
	}
	return false
}

// Event is the single payload shape for every kind. Unused fields stay zero;
// the Kind decides which ones matter.
type Event struct {
	Kind         Kind      `json:"kind"`
	Seq          uint64    `json:"seq"`
	At           time.Time `json:"at"`
	SessionID    string    `json:"session_id,omitempty"`
	ConnectionID string    `json:"connection_id,omitempty"`

	// StateChanged.
	From session.State `json:"from,omitempty"`
	To   session.State `json:"to,omitempty"`

	// Text-bearing kinds. Partial marks streamed deltas.
	Text            string                   `json:"text,omitempty"`
	Partial         bool                     `json:"partial,omitempty"`
	Final           bool                     `json:"final,omitempty"`
	Sender          string                   `json:"sender,omitempty"`
	Score           *int                     `json:"score,omitempty"`
	Achievements    []string                 `json:"achievements,omitempty"`
	Improvements    []string                 `json:"improvements,omitempty"`
	ProgressPercent int                      `json:"progress_percent,omitempty"`
	Results         *protocol.SessionResults `json:"results,omitempty"`
	Severity        string                   `json:"severity,omitempty"`

	// Audio kinds. Clip is never serialized; DurationMS travels instead.
	Clip       *audio.Clip `json:"-"`
	MimeType   string      `json:"mime_type,omitempty"`
	DurationMS int64       `json:"duration_ms,omitempty"`

	// ConnectionFailed.
	Attempts int    `json:"attempts,omitempty"`
	Reason   string `json:"reason,omitempty"`

	// SendRejected.
	RejectKind   string `json:"reject_kind,omitempty"`
	RejectReason string `json:"reject_reason,omitempty"`
}

// Senders for text-bearing events.
const (
	SenderAI     = "ai"
	SenderUser   = "user"
	SenderSystem = "system"
)
