package protocol

import (
	"errors"
	"testing"
)

func TestParseServerMessageFlatTextFeedback(t *testing.T) {
	raw := []byte(`{"type":"textFeedback","message":"Strong opener","score":72,"achievements":["clear value prop"],"improvements":["slow down"],"progressPercent":40,"timestamp":1700000000123}`)
	msg, err := ParseServerMessage(raw)
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}
	if msg.Type != TypeTextFeedback {
		t.Fatalf("Type = %q, want %q", msg.Type, TypeTextFeedback)
	}
	if msg.Generation != 1 {
		t.Fatalf("Generation = %d, want 1", msg.Generation)
	}
	if msg.Message != "Strong opener" {
		t.Fatalf("Message = %q, want %q", msg.Message, "Strong opener")
	}
	if msg.Score == nil || *msg.Score != 72 {
		t.Fatalf("Score = %v, want 72", msg.Score)
	}
	if len(msg.Achievements) != 1 || msg.Achievements[0] != "clear value prop" {
		t.Fatalf("unexpected achievements: %+v", msg.Achievements)
	}
	if msg.Timestamp != 1700000000123 {
		t.Fatalf("Timestamp = %d, want 1700000000123", msg.Timestamp)
	}
}

func TestParseServerMessageNestedTextFeedback(t *testing.T) {
	raw := []byte(`{"type":"textFeedback","data":{"message":"Good recovery","score":85,"improvements":["tighten the ask"]},"timestamp":1700000000456}`)
	msg, err := ParseServerMessage(raw)
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}
	if msg.Generation != 2 {
		t.Fatalf("Generation = %d, want 2", msg.Generation)
	}
	if msg.Score == nil || *msg.Score != 85 {
		t.Fatalf("Score = %v, want 85", msg.Score)
	}
	if msg.Message != "Good recovery" {
		t.Fatalf("Message = %q, want %q", msg.Message, "Good recovery")
	}
	if msg.Timestamp != 1700000000456 {
		t.Fatalf("Timestamp = %d, want outer envelope value", msg.Timestamp)
	}
}

func TestParseServerMessageAudioResponseDefaults(t *testing.T) {
	raw := []byte(`{"type":"audioResponse","data":{"audioData":"AAAB","size":4}}`)
	msg, err := ParseServerMessage(raw)
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}
	if msg.SampleRate != DefaultSampleRate {
		t.Fatalf("SampleRate = %d, want %d", msg.SampleRate, DefaultSampleRate)
	}
	if msg.Channels != 1 {
		t.Fatalf("Channels = %d, want 1", msg.Channels)
	}
	if msg.MimeType != DefaultAudioMime {
		t.Fatalf("MimeType = %q, want %q", msg.MimeType, DefaultAudioMime)
	}
}

func TestParseServerMessageConnectionAlias(t *testing.T) {
	msg, err := ParseServerMessage([]byte(`{"type":"connection","message":"Connected to coach"}`))
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}
	if msg.Type != TypeConnected {
		t.Fatalf("Type = %q, want %q", msg.Type, TypeConnected)
	}
}

func TestParseServerMessageClampsScore(t *testing.T) {
	msg, err := ParseServerMessage([]byte(`{"type":"textFeedback","message":"hm","score":150}`))
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}
	if msg.Score == nil || *msg.Score != 100 {
		t.Fatalf("Score = %v, want clamped 100", msg.Score)
	}
}

func TestParseServerMessageUnknownTypeKeepsText(t *testing.T) {
	msg, err := ParseServerMessage([]byte(`{"type":"coachNote","message":"keep eye contact"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
	if msg.Message != "keep eye contact" {
		t.Fatalf("Message = %q, want text preserved for degradation", msg.Message)
	}
}

func TestParseServerMessageRejectsEmptyFeedback(t *testing.T) {
	if _, err := ParseServerMessage([]byte(`{"type":"textFeedback","score":50}`)); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseServerMessageErrorDefaults(t *testing.T) {
	msg, err := ParseServerMessage([]byte(`{"type":"error"}`))
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}
	if msg.Severity != SeverityError {
		t.Fatalf("Severity = %q, want %q", msg.Severity, SeverityError)
	}
	if msg.Message == "" {
		t.Fatalf("expected placeholder message for bare error frame")
	}
}

func TestDetectGeneration(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want int
	}{
		{"flat", `{"type":"textFeedback","message":"x"}`, 1},
		{"nested", `{"type":"textFeedback","data":{"message":"x"}}`, 2},
		{"data_not_object", `{"type":"textFeedback","data":"x","message":"x"}`, 1},
		{"empty_data", `{"type":"pong","data":{}}`, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DetectGeneration([]byte(tc.raw))
			if err != nil {
				t.Fatalf("DetectGeneration() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("DetectGeneration() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestTextFromUnknown(t *testing.T) {
	if text, ok := TextFromUnknown([]byte(`{"type":"hint","data":{"reply":"breathe"}}`)); !ok || text != "breathe" {
		t.Fatalf("TextFromUnknown() = %q, %v", text, ok)
	}
	if _, ok := TextFromUnknown([]byte(`{"type":"hint","count":3}`)); ok {
		t.Fatalf("expected no text for numeric frame")
	}
	if _, ok := TextFromUnknown([]byte(`not json`)); ok {
		t.Fatalf("expected no text for invalid json")
	}
}

func TestEncodeOutboundRejectsUnknownValue(t *testing.T) {
	if _, err := EncodeOutbound(42); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestNewVoiceDataFillsEnvelope(t *testing.T) {
	msg := NewVoiceData("conn-1", "AQID", "our product saves time", DefaultAudioMime, "conv-1", "u-1")
	if msg.Type != TypeVoiceData {
		t.Fatalf("Type = %q, want %q", msg.Type, TypeVoiceData)
	}
	if msg.AudioSize != 4 {
		t.Fatalf("AudioSize = %d, want 4", msg.AudioSize)
	}
	if msg.Timestamp == 0 {
		t.Fatalf("expected timestamp to be set")
	}
	if KindOf(msg) != TypeVoiceData {
		t.Fatalf("KindOf() = %q, want %q", KindOf(msg), TypeVoiceData)
	}
}

func BenchmarkParseServerMessageNested(b *testing.B) {
	raw := []byte(`{"type":"textFeedback","data":{"message":"Solid framing, quantify the impact next","score":81,"achievements":["concrete numbers"],"improvements":["shorter close"]},"timestamp":1700000000789}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseServerMessage(raw)
		if err != nil {
			b.Fatalf("ParseServerMessage() error = %v", err)
		}
		if msg.Type != TypeTextFeedback {
			b.Fatalf("Type = %q, want %q", msg.Type, TypeTextFeedback)
		}
	}
}
