package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/pitchlab/coachlink/internal/audio"
)

// Line is one utterance a scripted source will speak.
type Line struct {
	Text    string `json:"text" yaml:"text"`
	PauseMS int    `json:"pause_ms" yaml:"pause_ms"`
}

// Scripted replays a fixed set of utterances as if a speaker were at the
// microphone: volume levels and progressive partials per word, then a final
// transcript with a synthesized PCM blob. Drives demos, probes and tests.
type Scripted struct {
	lines      []Line
	interval   time.Duration
	sampleRate int

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

func NewScripted(lines []Line, interval time.Duration, sampleRate int) *Scripted {
	if interval <= 0 {
		interval = 60 * time.Millisecond
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Scripted{lines: lines, interval: interval, sampleRate: sampleRate}
}

func (s *Scripted) Start(ctx context.Context) (<-chan Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, errors.New("scripted capture already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	ch := make(chan Event, 64)
	go s.run(runCtx, ch)
	return ch, nil
}

// Stop ends the replay early. Safe to call twice or after natural finish.
func (s *Scripted) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.cancel()
	return nil
}

func (s *Scripted) run(ctx context.Context, ch chan<- Event) {
	defer close(ch)
	defer s.finish()

	for _, line := range s.lines {
		words := strings.Fields(line.Text)
		if len(words) == 0 {
			continue
		}
		started := time.Now()
		for i := range words {
			if !sleepCtx(ctx, s.interval) {
				return
			}
			level := 0.35 + 0.45*math.Abs(math.Sin(float64(i+1)))
			if !send(ctx, ch, Event{Type: EventLevel, Level: level}) {
				return
			}
			partial := strings.Join(words[:i+1], " ")
			ev := Event{Type: EventTranscript, Transcript: Transcript{
				Text:       partial,
				Confidence: 0.55,
				Timestamp:  time.Now().UnixMilli(),
			}}
			if !send(ctx, ch, ev) {
				return
			}
		}

		if hint, ok := EndpointHint(line.Text, time.Since(started)); ok {
			if !sleepCtx(ctx, hint.Hold) {
				return
			}
		}
		final := Event{Type: EventTranscript, Transcript: Transcript{
			Text:       line.Text,
			Final:      true,
			Confidence: 0.92,
			Timestamp:  time.Now().UnixMilli(),
		}}
		if !send(ctx, ch, final) {
			return
		}
		if !send(ctx, ch, Event{Type: EventBlob, Blob: s.blobFor(line.Text)}) {
			return
		}
		if !send(ctx, ch, Event{Type: EventLevel, Level: 0}) {
			return
		}
		if line.PauseMS > 0 {
			if !sleepCtx(ctx, time.Duration(line.PauseMS)*time.Millisecond) {
				return
			}
		}
	}
}

func (s *Scripted) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

func (s *Scripted) blobFor(text string) Blob {
	return SynthBlob(text, s.sampleRate)
}

// SynthBlob synthesizes a 440Hz tone sized to the utterance length, standing
// in for real microphone audio.
func SynthBlob(text string, sampleRate int) Blob {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	durMS := int64(words) * 120
	frames := int(durMS) * sampleRate / 1000
	samples := make([]float32, frames)
	for i := range samples {
		samples[i] = 0.3 * float32(math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}
	return Blob{
		AudioBase64: base64.StdEncoding.EncodeToString(audio.EncodePCM16(samples)),
		MimeType:    fmt.Sprintf("audio/pcm;rate=%d", sampleRate),
		SampleRate:  sampleRate,
		DurationMS:  durMS,
	}
}

func send(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
