// Package coachsim is a stand-in coach backend for local development, the
// probe CLI and tests. It speaks both envelope generations and produces
// deterministic feedback so repeated runs are comparable.
package coachsim

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pitchlab/coachlink/internal/audio"
	"github.com/pitchlab/coachlink/internal/protocol"
)

// Options shapes the simulated backend's behavior. The failure knobs exist
// so the probe CLI and tests can exercise the client's retry ladder.
type Options struct {
	Generation    int           // envelope framing: 1 flat, 2 data-wrapped
	ReplyDelay    time.Duration // thinking time before feedback
	StreamChunks  int           // >1 streams the feedback in chunks first
	AudioReplies  bool          // attach a synthesized clip to each feedback
	SampleRate    int
	CloseAfter    int // drop the link after this many voice turns
	CloseCode     int // close code used by CloseAfter
	CompleteAfter int // send sessionComplete after this many turns
	SilentPings   bool
	FailFirst     int // refuse this many connection attempts before serving
}

func (o Options) withDefaults() Options {
	if o.Generation <= 0 {
		o.Generation = 1
	}
	if o.SampleRate <= 0 {
		o.SampleRate = protocol.DefaultSampleRate
	}
	if o.CloseCode == 0 {
		o.CloseCode = websocket.CloseInternalServerErr
	}
	return o
}

type Server struct {
	opts     Options
	upgrader websocket.Upgrader

	mu    sync.Mutex
	dials int
}

func New(opts Options) *Server {
	return &Server{
		opts: opts.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleWS)
}

// Dials reports how many websocket connections reached the simulator.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Start serves the simulator on addr (use port 0 to pick one) and returns
// the ws URL plus a stop function.
func (s *Server) Start(addr string) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("coachsim listen: %w", err)
	}
	srv := &http.Server{Handler: s.Handler()}
	go func() {
		_ = srv.Serve(ln)
	}()
	url := "ws://" + ln.Addr().String()
	log.Printf("coachsim: listening on %s", url)
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return url, stop, nil
}

// clientFrame covers every outbound envelope field the simulator reads.
type clientFrame struct {
	Type            string `json:"type"`
	ConnectionID    string `json:"connectionId"`
	ConversationID  string `json:"conversation_id"`
	UserID          string `json:"user_id"`
	TranscribedText string `json:"transcribedText"`
	VoiceData       string `json:"voice_data"`
	Customer        string `json:"customer"`
	Scenario        string `json:"scenario"`
}

type connState struct {
	sessionID string
	customer  string
	scenario  string
	turns     int
	scoreSum  int
	startedAt time.Time
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.dials++
	n := s.dials
	s.mu.Unlock()
	if n <= s.opts.FailFirst {
		_ = conn.Close()
		return
	}
	s.serve(r.Context(), conn)
}

func (s *Server) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	outbound := make(chan map[string]any, 64)
	inbound := make(chan clientFrame, 64)
	cs := &connState{sessionID: uuid.NewString(), startedAt: time.Now()}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-inbound:
				if !ok {
					return
				}
				s.handleFrame(ctx, conn, cs, f, outbound)
			}
		}
	}()

	s.send(ctx, outbound, s.envelope(protocol.TypeConnected, map[string]any{
		"message": "coach backend ready",
	}))

	conn.SetReadLimit(2 << 20)
readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var f clientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.send(ctx, outbound, s.envelope(protocol.TypeError, map[string]any{
				"message":  "unreadable frame",
				"severity": "warning",
			}))
			continue
		}
		// Pings bypass the worker so a slow review never stalls the
		// heartbeat.
		if f.Type == string(protocol.TypePing) {
			if !s.opts.SilentPings {
				s.send(ctx, outbound, s.envelope(protocol.TypePong, map[string]any{}))
			}
			continue
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- f:
		}
	}

	cancel()
	close(inbound)
	<-workerDone
	<-writerDone
}

func (s *Server) handleFrame(ctx context.Context, conn *websocket.Conn, cs *connState, f clientFrame, outbound chan<- map[string]any) {
	switch f.Type {
	case string(protocol.TypeStartSession):
		cs.customer = f.Customer
		cs.scenario = f.Scenario
		s.send(ctx, outbound, s.envelope(protocol.TypeSessionStarted, map[string]any{
			"sessionId": cs.sessionID,
			"message":   greetingFor(f.Customer, f.Scenario),
		}))
	case string(protocol.TypeVoiceData):
		s.handleTurn(ctx, conn, cs, f, outbound)
	}
}

func (s *Server) handleTurn(ctx context.Context, conn *websocket.Conn, cs *connState, f clientFrame, outbound chan<- map[string]any) {
	cs.turns++
	if s.opts.CloseAfter > 0 && cs.turns >= s.opts.CloseAfter {
		msg := websocket.FormatCloseMessage(s.opts.CloseCode, "simulated drop")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	s.send(ctx, outbound, s.envelope(protocol.TypeProcessingStarted, map[string]any{
		"message":         "coach is reviewing your pitch",
		"progressPercent": 10,
	}))

	if s.opts.ReplyDelay > 0 {
		t := time.NewTimer(s.opts.ReplyDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return
		}
	}

	rv := reviewPitch(f.TranscribedText)
	cs.scoreSum += rv.Score

	if s.opts.StreamChunks > 1 {
		for _, part := range splitChunks(rv.Message, s.opts.StreamChunks) {
			s.send(ctx, outbound, s.envelope(protocol.TypeStreamResponse, map[string]any{
				"message": part,
			}))
		}
	}

	s.send(ctx, outbound, s.envelope(protocol.TypeTextFeedback, map[string]any{
		"message":         rv.Message,
		"score":           rv.Score,
		"achievements":    rv.Achievements,
		"improvements":    rv.Improvements,
		"progressPercent": 100,
	}))

	if s.opts.AudioReplies {
		clip := coachTone(s.opts.SampleRate, rv.Score)
		s.send(ctx, outbound, s.envelope(protocol.TypeAudioResponse, map[string]any{
			"audioData":  base64.StdEncoding.EncodeToString(audio.EncodePCM16(clip)),
			"mimeType":   fmt.Sprintf("audio/pcm;rate=%d", s.opts.SampleRate),
			"sampleRate": s.opts.SampleRate,
		}))
	}

	if s.opts.CompleteAfter > 0 && cs.turns >= s.opts.CompleteAfter {
		s.send(ctx, outbound, s.envelope(protocol.TypeSessionComplete, map[string]any{
			"message": "session complete, strong work today",
			"sessionResults": map[string]any{
				"overallScore": cs.scoreSum / cs.turns,
				"strengths":    rv.Achievements,
				"improvements": rv.Improvements,
				"durationSec":  int(time.Since(cs.startedAt).Seconds()),
				"totalTurns":   cs.turns,
			},
		}))
	}
}

func (s *Server) send(ctx context.Context, outbound chan<- map[string]any, msg map[string]any) {
	select {
	case outbound <- msg:
	case <-ctx.Done():
	}
}

func (s *Server) envelope(typ protocol.MessageType, data map[string]any) map[string]any {
	if s.opts.Generation >= 2 {
		return map[string]any{
			"type":      string(typ),
			"data":      data,
			"timestamp": time.Now().UnixMilli(),
		}
	}
	flat := map[string]any{
		"type":      string(typ),
		"timestamp": time.Now().UnixMilli(),
	}
	for k, v := range data {
		flat[k] = v
	}
	return flat
}

func greetingFor(customer, scenario string) string {
	if customer == "" {
		customer = "your customer"
	}
	if scenario == "" {
		scenario = "your pitch"
	}
	return fmt.Sprintf("%s is listening, make %s count", customer, scenario)
}
