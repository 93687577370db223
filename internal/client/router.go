package client

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/pitchlab/coachlink/internal/audio"
	"github.com/pitchlab/coachlink/internal/event"
	"github.com/pitchlab/coachlink/internal/observability"
	"github.com/pitchlab/coachlink/internal/protocol"
	"github.com/pitchlab/coachlink/internal/session"
)

// route turns one inbound frame into bus events. Unknown envelope types
// degrade to system text when any readable message can be mined out of them;
// only truly unreadable frames are dropped. It returns the frame type so the
// run loop can correlate pongs with its heartbeat.
func (c *Client) route(raw []byte, s *session.Session) protocol.MessageType {
	msg, err := protocol.ParseServerMessage(raw)
	if err != nil {
		if errors.Is(err, protocol.ErrUnsupportedType) {
			c.metrics.WSFrames.WithLabelValues("in", "unknown").Inc()
			text := msg.Message
			if text == "" {
				text, _ = protocol.TextFromUnknown(raw)
			}
			if strings.TrimSpace(text) != "" {
				c.bus.Publish(event.Event{
					Kind:         event.KindSystemText,
					Text:         text,
					Sender:       event.SenderSystem,
					SessionID:    s.ID,
					ConnectionID: s.ConnectionID,
				})
			} else {
				log.Printf("client: dropping frame with unknown type and no text")
			}
			return msg.Type
		}
		c.metrics.WSFrames.WithLabelValues("in", "malformed").Inc()
		log.Printf("client: malformed backend frame: %v", err)
		c.bus.Publish(event.Event{
			Kind:         event.KindError,
			Text:         "unreadable backend frame",
			Severity:     protocol.SeverityWarning,
			SessionID:    s.ID,
			ConnectionID: s.ConnectionID,
		})
		return ""
	}

	c.metrics.WSFrames.WithLabelValues("in", string(msg.Type)).Inc()
	c.sessions.Touch()
	base := event.Event{SessionID: s.ID, ConnectionID: s.ConnectionID}

	switch msg.Type {
	case protocol.TypeConnected:
		// Handshake hellos never reach here; this is a backend re-announcement.
		ev := base
		ev.Kind = event.KindConnected
		ev.Text = msg.Message
		c.bus.Publish(ev)

	case protocol.TypeSessionStarted:
		c.sessions.SetServerSession(msg.SessionID)
		ev := base
		ev.Kind = event.KindSystemText
		ev.Sender = event.SenderSystem
		ev.Text = msg.Message
		if ev.Text == "" {
			ev.Text = "coaching session started"
		}
		c.bus.Publish(ev)

	case protocol.TypeProcessingStarted:
		ev := base
		ev.Kind = event.KindSystemText
		ev.Sender = event.SenderSystem
		ev.Text = msg.Message
		if ev.Text == "" {
			ev.Text = "coach is reviewing your pitch"
		}
		ev.ProgressPercent = msg.ProgressPercent
		c.bus.Publish(ev)

	case protocol.TypeStreamResponse:
		ev := base
		ev.Kind = event.KindTextFeedback
		ev.Sender = event.SenderAI
		ev.Text = msg.Message
		ev.Partial = true
		c.bus.Publish(ev)

	case protocol.TypeTextFeedback:
		c.resolveTurn(observability.StageFeedback)
		c.sessions.RecordFeedback(msg.Score)
		ev := base
		ev.Kind = event.KindTextFeedback
		ev.Sender = event.SenderAI
		ev.Text = msg.Message
		ev.Final = true
		ev.Score = msg.Score
		ev.Achievements = msg.Achievements
		ev.Improvements = msg.Improvements
		ev.ProgressPercent = msg.ProgressPercent
		ev.Results = msg.SessionResults
		c.bus.Publish(ev)

	case protocol.TypeAudioResponse:
		c.handleAudio(msg, base)

	case protocol.TypeTranscription:
		ev := base
		ev.Kind = event.KindTranscription
		ev.Sender = event.SenderUser
		ev.Text = msg.Message
		ev.Final = msg.IsFinal
		c.bus.Publish(ev)

	case protocol.TypePing, protocol.TypePong:
		// The run loop answers pings and correlates pongs with its heartbeat.

	case protocol.TypeError:
		c.resolveTurn("")
		ev := base
		ev.Kind = event.KindError
		ev.Text = msg.Message
		ev.Severity = msg.Severity
		c.bus.Publish(ev)

	case protocol.TypeSessionComplete:
		c.resolveTurn("")
		ev := base
		ev.Kind = event.KindSessionComplete
		ev.Text = msg.Message
		ev.Results = msg.SessionResults
		c.bus.Publish(ev)
	}
	return msg.Type
}

// handleAudio decodes the payload up front so listeners get playable samples,
// then brackets the clip with started and ended markers. The ended marker
// fires on a timer sized to the clip because playback happens downstream.
func (c *Client) handleAudio(msg protocol.ServerMessage, base event.Event) {
	decodeStart := time.Now()
	clip, err := audio.DecodeResponse(msg.MimeType, msg.AudioData, msg.SampleRate, c.decoder)
	if err != nil {
		c.metrics.DecodeErrors.Inc()
		log.Printf("client: audio decode: %v", err)
		c.resolveTurn("")
		ev := base
		ev.Kind = event.KindAudioError
		ev.Text = err.Error()
		ev.MimeType = msg.MimeType
		ev.Severity = protocol.SeverityWarning
		c.bus.Publish(ev)
		return
	}
	c.latency.ObserveDuration(observability.StageAudioDecode, time.Since(decodeStart))
	c.resolveTurn(observability.StageAudioStart)

	base.MimeType = msg.MimeType
	base.DurationMS = clip.Duration().Milliseconds()

	started := base
	started.Kind = event.KindAudioStarted
	c.bus.Publish(started)

	resp := base
	resp.Kind = event.KindAudioResponse
	resp.Clip = &clip
	c.bus.Publish(resp)

	ended := base
	ended.Kind = event.KindAudioEnded
	time.AfterFunc(clip.Duration(), func() {
		c.bus.Publish(ended)
	})
}
