// Package capture defines the microphone-side boundary. The client core only
// ever sees this surface; real platforms plug their own recorder in, local
// runs use the scripted source.
package capture

import "context"

type EventType string

const (
	EventLevel      EventType = "level"
	EventTranscript EventType = "transcript"
	EventBlob       EventType = "blob"
	EventError      EventType = "error"
)

// Transcript is a speech-to-text result from the capture pipeline.
type Transcript struct {
	Text       string  `json:"text"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence"`
	Timestamp  int64   `json:"timestamp"`
}

// Blob is an encoded microphone segment ready for upload.
type Blob struct {
	AudioBase64 string `json:"audio_base64"`
	MimeType    string `json:"mime_type"`
	SampleRate  int    `json:"sample_rate"`
	DurationMS  int64  `json:"duration_ms"`
}

// Event is the single stream a source emits. Level is the input volume in
// [0, 1]; Transcript and Blob are set for their respective types.
type Event struct {
	Type       EventType
	Level      float64
	Transcript Transcript
	Blob       Blob
	Detail     string
}

// Source produces microphone activity. Start hands back the event channel;
// it closes when the source runs dry or Stop is called.
type Source interface {
	Start(ctx context.Context) (<-chan Event, error)
	Stop() error
}
