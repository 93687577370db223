package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Client to backend.
	TypeStartSession MessageType = "start_pitch_session"
	TypeVoiceData    MessageType = "voice_data"

	// Backend to client.
	TypeConnected         MessageType = "connected"
	TypeSessionStarted    MessageType = "sessionStarted"
	TypeProcessingStarted MessageType = "processingStarted"
	TypeTextFeedback      MessageType = "textFeedback"
	TypeStreamResponse    MessageType = "streamResponse"
	TypeAudioResponse     MessageType = "audioResponse"
	TypeTranscription     MessageType = "transcription"
	TypeError             MessageType = "error"
	TypeSessionComplete   MessageType = "sessionComplete"

	// Both directions: either side may probe the other.
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// DefaultSampleRate is the backend's PCM output rate when a frame omits it.
const DefaultSampleRate = 24000

// DefaultAudioMime matches the backend's synthesized audio format.
const DefaultAudioMime = "audio/pcm;rate=24000"

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// StartSession opens a coaching conversation. Field casing mirrors the
// backend contract, which mixes camelCase and snake_case.
type StartSession struct {
	Type           MessageType `json:"type"`
	Timestamp      int64       `json:"timestamp"`
	ConnectionID   string      `json:"connectionId"`
	ConversationID string      `json:"conversation_id,omitempty"`
	UserID         string      `json:"user_id,omitempty"`
	Customer       string      `json:"customer,omitempty"`
	Scenario       string      `json:"scenario,omitempty"`
}

type VoiceData struct {
	Type            MessageType `json:"type"`
	Timestamp       int64       `json:"timestamp"`
	ConnectionID    string      `json:"connectionId"`
	VoiceData       string      `json:"voice_data,omitempty"`
	TranscribedText string      `json:"transcribedText,omitempty"`
	AudioSize       int         `json:"audioSize,omitempty"`
	MimeType        string      `json:"mimeType,omitempty"`
	ConversationID  string      `json:"conversation_id,omitempty"`
	UserID          string      `json:"user_id,omitempty"`
}

type Ping struct {
	Type         MessageType `json:"type"`
	Timestamp    int64       `json:"timestamp"`
	ConnectionID string      `json:"connectionId"`
}

func NewStartSession(connectionID, conversationID, userID, customer, scenario string) StartSession {
	return StartSession{
		Type:           TypeStartSession,
		Timestamp:      nowMillis(),
		ConnectionID:   connectionID,
		ConversationID: conversationID,
		UserID:         userID,
		Customer:       customer,
		Scenario:       scenario,
	}
}

func NewVoiceData(connectionID, audioBase64, transcript, mimeType, conversationID, userID string) VoiceData {
	return VoiceData{
		Type:            TypeVoiceData,
		Timestamp:       nowMillis(),
		ConnectionID:    connectionID,
		VoiceData:       audioBase64,
		TranscribedText: transcript,
		AudioSize:       len(audioBase64),
		MimeType:        mimeType,
		ConversationID:  conversationID,
		UserID:          userID,
	}
}

func NewPing(connectionID string) Ping {
	return Ping{Type: TypePing, Timestamp: nowMillis(), ConnectionID: connectionID}
}

// NewPong answers a backend-initiated ping.
func NewPong(connectionID string) Ping {
	return Ping{Type: TypePong, Timestamp: nowMillis(), ConnectionID: connectionID}
}

// KindOf reports the wire type of an outbound payload, or "" for values the
// protocol does not send. Ping values carry their own type so that pong
// answers report as pongs.
func KindOf(msg any) MessageType {
	switch m := msg.(type) {
	case StartSession, *StartSession:
		return TypeStartSession
	case VoiceData, *VoiceData:
		return TypeVoiceData
	case Ping:
		return m.Type
	case *Ping:
		return m.Type
	default:
		return ""
	}
}

func EncodeOutbound(msg any) ([]byte, error) {
	if KindOf(msg) == "" {
		return nil, ErrUnsupportedType
	}
	return json.Marshal(msg)
}

// SessionResults carries the backend's end-of-session aggregate.
type SessionResults struct {
	OverallScore int      `json:"overallScore"`
	Strengths    []string `json:"strengths,omitempty"`
	Improvements []string `json:"improvements,omitempty"`
	DurationSec  int      `json:"durationSec,omitempty"`
	TotalTurns   int      `json:"totalTurns,omitempty"`
}

// ServerMessage is the generation-neutral form of an inbound frame. Both
// parsers produce it so downstream code never sees wire-shape differences.
type ServerMessage struct {
	Type            MessageType
	Message         string
	Score           *int
	Achievements    []string
	Improvements    []string
	ProgressPercent int
	SessionResults  *SessionResults
	Severity        string
	SessionID       string
	AudioData       string
	MimeType        string
	SampleRate      int
	Channels        int
	Size            int
	IsFinal         bool
	Timestamp       int64
	Generation      int
}

// payload holds every field either generation may carry. Generation 1 frames
// put these at the top level, generation 2 inside a "data" object.
type payload struct {
	Message         string          `json:"message"`
	Text            string          `json:"text"`
	Score           *int            `json:"score"`
	Achievements    []string        `json:"achievements"`
	Improvements    []string        `json:"improvements"`
	ProgressPercent int             `json:"progressPercent"`
	SessionResults  *SessionResults `json:"sessionResults"`
	Severity        string          `json:"severity"`
	SessionID       string          `json:"sessionId"`
	AudioData       string          `json:"audioData"`
	MimeType        string          `json:"mimeType"`
	SampleRate      int             `json:"sampleRate"`
	Channels        int             `json:"channels"`
	Size            int             `json:"size"`
	IsFinal         bool            `json:"isFinal"`
	Timestamp       int64           `json:"timestamp"`
}

// DetectGeneration reports which wire generation an inbound frame uses.
// Generation 2 wraps payload fields in a top-level "data" object, generation 1
// carries them flat. Only the top level is inspected.
func DetectGeneration(raw []byte) (int, error) {
	var probe struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return 0, fmt.Errorf("invalid envelope: %w", err)
	}
	if len(probe.Data) > 0 && bytes.HasPrefix(bytes.TrimSpace(probe.Data), []byte("{")) {
		return 2, nil
	}
	return 1, nil
}

// ParseServerMessage decodes an inbound frame with the parser matching its
// generation. Frames of an unknown type come back with ErrUnsupportedType and
// whatever fields still decoded, so callers can degrade instead of drop.
func ParseServerMessage(raw []byte) (ServerMessage, error) {
	gen, err := DetectGeneration(raw)
	if err != nil {
		return ServerMessage{}, err
	}
	if gen == 2 {
		return parseGen2(raw)
	}
	return parseGen1(raw)
}

func parseGen1(raw []byte) (ServerMessage, error) {
	var frame struct {
		Type MessageType `json:"type"`
		payload
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return ServerMessage{}, fmt.Errorf("invalid frame: %w", err)
	}
	return normalize(frame.Type, frame.payload, frame.payload.Timestamp, 1)
}

func parseGen2(raw []byte) (ServerMessage, error) {
	var frame struct {
		Type      MessageType     `json:"type"`
		Data      json.RawMessage `json:"data"`
		Timestamp int64           `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return ServerMessage{}, fmt.Errorf("invalid frame: %w", err)
	}
	var body payload
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &body); err != nil {
			return ServerMessage{}, fmt.Errorf("invalid data object: %w", err)
		}
	}
	ts := frame.Timestamp
	if body.Timestamp != 0 {
		ts = body.Timestamp
	}
	return normalize(frame.Type, body, ts, 2)
}

func normalize(t MessageType, body payload, ts int64, gen int) (ServerMessage, error) {
	// Older backend builds announce themselves as "connection".
	if t == "connection" {
		t = TypeConnected
	}
	msg := ServerMessage{
		Type:            t,
		Message:         body.Message,
		Achievements:    body.Achievements,
		Improvements:    body.Improvements,
		ProgressPercent: body.ProgressPercent,
		SessionResults:  body.SessionResults,
		Severity:        body.Severity,
		SessionID:       body.SessionID,
		AudioData:       body.AudioData,
		MimeType:        body.MimeType,
		SampleRate:      body.SampleRate,
		Channels:        body.Channels,
		Size:            body.Size,
		IsFinal:         body.IsFinal,
		Timestamp:       ts,
		Generation:      gen,
	}
	if msg.Message == "" {
		msg.Message = body.Text
	}
	if body.Score != nil {
		s := ClampScore(*body.Score)
		msg.Score = &s
	}

	switch t {
	case TypeConnected, TypeSessionStarted, TypeProcessingStarted, TypePing, TypePong, TypeSessionComplete:
		return msg, nil
	case TypeTextFeedback, TypeStreamResponse:
		if msg.Message == "" {
			return ServerMessage{}, fmt.Errorf("%s frame without text", t)
		}
		return msg, nil
	case TypeAudioResponse:
		if msg.AudioData == "" {
			return ServerMessage{}, errors.New("audioResponse frame without audioData")
		}
		if msg.SampleRate <= 0 {
			msg.SampleRate = DefaultSampleRate
		}
		if msg.Channels <= 0 {
			msg.Channels = 1
		}
		if msg.MimeType == "" {
			msg.MimeType = DefaultAudioMime
		}
		return msg, nil
	case TypeTranscription:
		if msg.Message == "" {
			return ServerMessage{}, errors.New("transcription frame without text")
		}
		return msg, nil
	case TypeError:
		if msg.Message == "" {
			msg.Message = "unspecified backend error"
		}
		if msg.Severity == "" {
			msg.Severity = SeverityError
		}
		return msg, nil
	default:
		return msg, ErrUnsupportedType
	}
}

// TextFromUnknown pulls a readable string out of a frame whose type the
// protocol does not know. Field candidates cover the shapes older backend
// builds have been seen to emit.
func TextFromUnknown(raw []byte) (string, bool) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}
	if s, ok := pickStringField(obj, "message", "text", "detail", "content", "reply"); ok {
		return s, true
	}
	if data, ok := obj["data"].(map[string]any); ok {
		return pickStringField(data, "message", "text", "detail", "content", "reply")
	}
	return "", false
}

func pickStringField(obj map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		v, ok := obj[key]
		if !ok {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
