// Package client maintains the long-lived websocket link to the coach
// backend: one session at a time, bounded reconnects with backoff, an
// outbound queue that replays on recovery, and a duplicate gate in front of
// every voice turn. Everything observable leaves through the event bus.
package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pitchlab/coachlink/internal/audio"
	"github.com/pitchlab/coachlink/internal/capture"
	"github.com/pitchlab/coachlink/internal/dedup"
	"github.com/pitchlab/coachlink/internal/event"
	"github.com/pitchlab/coachlink/internal/observability"
	"github.com/pitchlab/coachlink/internal/protocol"
	"github.com/pitchlab/coachlink/internal/reliability"
	"github.com/pitchlab/coachlink/internal/session"
)

var ErrNotConnected = errors.New("not connected to coach backend")

// Options tunes one Client. Zero values take the defaults below.
type Options struct {
	URL                 string
	ConnectTimeout      time.Duration
	WriteTimeout        time.Duration
	MaxReconnects       int
	BackoffBase         time.Duration
	BackoffCap          time.Duration
	HeartbeatInterval   time.Duration
	HeartbeatTimeout    time.Duration
	QueueCapacity       int
	Cooldown            time.Duration
	ReleaseAfter        time.Duration
	FingerprintCapacity int
	Decoder             audio.Decoder
}

func (o Options) withDefaults() Options {
	if o.URL == "" {
		o.URL = DefaultBackendURL
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 6 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 4 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 10 * time.Second
	}
	return o
}

type pendingTurn struct {
	token  string
	timer  *time.Timer
	sentAt time.Time
}

// Client owns the connection lifecycle. The run loop goroutine is the only
// writer on the socket; callers hand it frames through writeCh.
type Client struct {
	opts     Options
	bus      *event.Bus
	sessions *session.Manager
	gate     *dedup.Gate
	queue    *sendQueue
	metrics  *observability.Metrics
	latency  *observability.LatencyWindow
	decoder  audio.Decoder

	writeCh   chan []byte
	startFlag atomic.Bool

	mu         sync.Mutex
	cancelLoop context.CancelFunc
	loopDone   chan struct{}

	pendingMu sync.Mutex
	pending   *pendingTurn
}

func New(opts Options, bus *event.Bus, sessions *session.Manager, metrics *observability.Metrics, latency *observability.LatencyWindow) *Client {
	opts = opts.withDefaults()
	return &Client{
		opts:     opts,
		bus:      bus,
		sessions: sessions,
		metrics:  metrics,
		latency:  latency,
		gate:     dedup.New(opts.Cooldown, opts.ReleaseAfter, opts.FingerprintCapacity),
		queue:    newSendQueue(opts.QueueCapacity),
		writeCh:  make(chan []byte, 64),
		decoder:  opts.Decoder,
	}
}

// Connect brings the link up. Calling it while a connection is live or in
// progress is a no-op; the link signals progress through events, not the
// return value.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Client) connectLocked() error {
	switch c.sessions.State() {
	case session.StateConnecting, session.StateConnected, session.StateReconnecting:
		return nil
	}
	if c.loopDone != nil {
		select {
		case <-c.loopDone:
		default:
			// A previous loop is still winding down.
			return nil
		}
	}
	if _, err := c.sessions.Current(); err != nil {
		c.sessions.Begin(session.StartRequest{})
	}
	prev := c.sessions.State()
	s, err := c.sessions.StartAttempt()
	if err != nil {
		return fmt.Errorf("start connection attempt: %w", err)
	}
	c.publishState(prev, session.StateConnecting, s)

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancelLoop = cancel
	done := make(chan struct{})
	c.loopDone = done
	go func() {
		defer close(done)
		c.runLoop(loopCtx, s)
	}()
	log.Printf("client: connecting to %s (connection=%s)", c.opts.URL, s.ConnectionID)
	return nil
}

// StartSession begins a fresh coaching conversation and connects. The
// backend gets a start envelope on every successful (re)connect until
// Disconnect.
func (c *Client) StartSession(ctx context.Context, req session.StartRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch state := c.sessions.State(); state {
	case session.StateConnecting, session.StateConnected, session.StateReconnecting:
		return fmt.Errorf("session already active (%s)", state)
	}
	c.sessions.Begin(req)
	c.startFlag.Store(true)
	return c.connectLocked()
}

// Disconnect tears the link down, returns the session to Idle and clears the
// queue, the duplicate gate and any pending turn. Safe to call repeatedly.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	cancel := c.cancelLoop
	done := c.loopDone
	c.cancelLoop = nil
	c.loopDone = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	prev := c.sessions.State()
	final, err := c.sessions.End()
	if errors.Is(err, session.ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	c.cleanupAfterEnd()
	c.publishState(prev, session.StateIdle, final)
	log.Printf("client: disconnected (session=%s)", final.ID)
	return nil
}

// SendTranscript sends a text-only voice turn.
func (c *Client) SendTranscript(transcript string) error {
	return c.SendVoice(transcript, nil)
}

// SendVoice submits one voice turn through the duplicate gate. While the
// link is reconnecting the turn is queued; while Idle or Offline it is
// rejected outright.
func (c *Client) SendVoice(transcript string, blob *capture.Blob) error {
	s, err := c.sessions.Current()
	if err != nil {
		c.rejectSend(string(protocol.TypeVoiceData), "not_connected")
		return ErrNotConnected
	}
	if s.State == session.StateIdle || s.State == session.StateOffline {
		c.rejectSend(string(protocol.TypeVoiceData), "not_connected")
		return ErrNotConnected
	}

	var audioB64, mimeType string
	if blob != nil {
		audioB64 = blob.AudioBase64
		mimeType = blob.MimeType
	}
	if strings.TrimSpace(transcript) == "" && audioB64 == "" {
		return errors.New("empty voice turn")
	}

	token, err := c.gate.Admit(string(protocol.TypeVoiceData), voiceContent(transcript, audioB64), time.Now())
	if err != nil {
		if reason, ok := dedup.ReasonOf(err); ok {
			c.rejectSend(string(protocol.TypeVoiceData), string(reason))
		}
		return err
	}
	c.armPending(token)

	msg := protocol.NewVoiceData(s.ConnectionID, audioB64, transcript, mimeType, s.ConversationID, s.UserID)
	raw, err := protocol.EncodeOutbound(msg)
	if err != nil {
		c.resolveTurn("")
		return err
	}
	c.sessions.RecordTurn()
	c.dispatch(raw, string(protocol.TypeVoiceData), s.State)
	if strings.TrimSpace(transcript) != "" {
		// Local echo: subscribers render and persist the user's line
		// without waiting for the backend to repeat it.
		c.bus.Publish(event.Event{
			Kind:         event.KindTranscription,
			SessionID:    s.ID,
			ConnectionID: s.ConnectionID,
			Text:         transcript,
			Sender:       event.SenderUser,
			Final:        true,
		})
	}
	return nil
}

// SendPing sends an application-level ping. The run loop heartbeats on its
// own; this exists for the control plane.
func (c *Client) SendPing() error {
	s, err := c.sessions.Current()
	if err != nil || s.State != session.StateConnected {
		return ErrNotConnected
	}
	raw, err := protocol.EncodeOutbound(protocol.NewPing(s.ConnectionID))
	if err != nil {
		return err
	}
	c.dispatch(raw, string(protocol.TypePing), s.State)
	return nil
}

func (c *Client) State() session.State {
	return c.sessions.State()
}

func (c *Client) Session() (*session.Session, error) {
	return c.sessions.Current()
}

// Status is the control-plane snapshot.
type Status struct {
	State         session.State    `json:"state"`
	Session       *session.Session `json:"session,omitempty"`
	BackendURL    string           `json:"backend_url"`
	QueueDepth    int              `json:"queue_depth"`
	Fingerprints  int              `json:"fingerprints_cached"`
	EventsDropped uint64           `json:"events_dropped"`
}

func (c *Client) Status() Status {
	st := Status{
		State:         c.sessions.State(),
		BackendURL:    c.opts.URL,
		QueueDepth:    c.queue.len(),
		Fingerprints:  c.gate.CachedFingerprints(),
		EventsDropped: c.bus.Dropped(),
	}
	if s, err := c.sessions.Current(); err == nil {
		st.Session = s
	}
	return st
}

func (c *Client) runLoop(ctx context.Context, s *session.Session) {
	for {
		started := time.Now()
		attemptCtx, cancelAttempt := context.WithTimeout(ctx, c.opts.ConnectTimeout)
		sock, hello, pending, err := c.establish(attemptCtx)
		cancelAttempt()

		clean := false
		if err == nil {
			c.latency.ObserveDuration(observability.StageConnect, time.Since(started))
			_, clean = c.serveConn(ctx, sock, hello, pending)
		} else if ctx.Err() == nil {
			if reliability.IsTransientNetErr(err) {
				log.Printf("client: transient connect failure (connection=%s): %v", s.ConnectionID, err)
			} else {
				log.Printf("client: connect attempt failed (connection=%s): %v", s.ConnectionID, err)
			}
		}

		if ctx.Err() != nil {
			// Disconnect owns the state cleanup.
			return
		}
		if clean {
			c.finishNormalClose()
			return
		}
		c.spillWrites()
		next, ok := c.scheduleRetry(ctx)
		if !ok {
			return
		}
		s = next
	}
}

func (c *Client) establish(ctx context.Context) (*socket, protocol.ServerMessage, [][]byte, error) {
	sock, err := dialSocket(ctx, c.opts.URL, c.opts.ConnectTimeout)
	if err != nil {
		return nil, protocol.ServerMessage{}, nil, err
	}
	hello, pending, err := sock.awaitConnected(ctx)
	if err != nil {
		sock.close(websocket.CloseNormalClosure, "handshake aborted")
		return nil, protocol.ServerMessage{}, nil, err
	}
	return sock, hello, pending, nil
}

// serveConn runs one established connection until it drops or the context
// ends. It reports the close code and whether the closure was clean.
func (c *Client) serveConn(ctx context.Context, sock *socket, hello protocol.ServerMessage, pending [][]byte) (int, bool) {
	s, err := c.sessions.MarkConnected()
	if err != nil {
		log.Printf("client: mark connected: %v", err)
		sock.close(websocket.CloseNormalClosure, "state error")
		return websocket.CloseAbnormalClosure, false
	}
	c.metrics.ConnectionUp.Set(1)
	defer c.metrics.ConnectionUp.Set(0)
	c.publishState(session.StateConnecting, session.StateConnected, s)
	c.metrics.WSFrames.WithLabelValues("in", string(protocol.TypeConnected)).Inc()
	c.bus.Publish(event.Event{
		Kind:         event.KindConnected,
		Text:         hello.Message,
		SessionID:    s.ID,
		ConnectionID: s.ConnectionID,
	})
	log.Printf("client: connected (connection=%s)", s.ConnectionID)

	for _, raw := range pending {
		if c.route(raw, s) == protocol.TypePing {
			if err := c.answerPing(sock, s); err != nil {
				log.Printf("client: pong write: %v", err)
				sock.teardown()
				return websocket.CloseAbnormalClosure, false
			}
		}
	}

	if err := c.flushQueue(sock); err != nil {
		log.Printf("client: %v", err)
		sock.teardown()
		return websocket.CloseAbnormalClosure, false
	}

	if c.startFlag.Load() {
		frame := protocol.NewStartSession(s.ConnectionID, s.ConversationID, s.UserID, s.Customer, s.Scenario)
		if err := sock.writeJSON(frame, c.opts.WriteTimeout); err != nil {
			log.Printf("client: send session start: %v", err)
			sock.teardown()
			return websocket.CloseAbnormalClosure, false
		}
		c.metrics.WSFrames.WithLabelValues("out", string(protocol.TypeStartSession)).Inc()
	}

	heartbeat := time.NewTicker(c.opts.HeartbeatInterval)
	defer heartbeat.Stop()
	drain := time.NewTicker(2 * time.Second)
	defer drain.Stop()

	var (
		pongTimer    *time.Timer
		pongDeadline <-chan time.Time
		pingSentAt   time.Time
	)
	defer func() {
		if pongTimer != nil {
			pongTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			sock.close(websocket.CloseNormalClosure, "client disconnect")
			return websocket.CloseNormalClosure, true

		case data, ok := <-sock.msgs:
			if !ok {
				return c.connLost(sock, nil)
			}
			typ := c.route(data, s)
			if typ == protocol.TypePong && pongTimer != nil {
				pongTimer.Stop()
				pongTimer = nil
				pongDeadline = nil
				c.latency.ObserveDuration(observability.StageHeartbeat, time.Since(pingSentAt))
			}
			if typ == protocol.TypePing {
				if err := c.answerPing(sock, s); err != nil {
					log.Printf("client: pong write: %v", err)
					sock.teardown()
					return websocket.CloseAbnormalClosure, false
				}
			}

		case err := <-sock.errs:
			return c.connLost(sock, err)

		case out := <-c.writeCh:
			if err := sock.writeRaw(out, c.opts.WriteTimeout); err != nil {
				c.queue.pushFront(out)
				log.Printf("client: write failed: %v", err)
				sock.teardown()
				return websocket.CloseAbnormalClosure, false
			}

		case <-drain.C:
			if c.queue.len() > 0 {
				if err := c.flushQueue(sock); err != nil {
					log.Printf("client: %v", err)
					sock.teardown()
					return websocket.CloseAbnormalClosure, false
				}
			}

		case <-heartbeat.C:
			if err := sock.writeJSON(protocol.NewPing(s.ConnectionID), c.opts.WriteTimeout); err != nil {
				log.Printf("client: heartbeat write: %v", err)
				sock.teardown()
				return websocket.CloseAbnormalClosure, false
			}
			c.metrics.WSFrames.WithLabelValues("out", string(protocol.TypePing)).Inc()
			pingSentAt = time.Now()
			if pongTimer == nil {
				pongTimer = time.NewTimer(c.opts.HeartbeatTimeout)
				pongDeadline = pongTimer.C
			}

		case <-pongDeadline:
			// Missing pong is a reconnect signal, not a hard failure.
			log.Printf("client: pong timeout, cycling connection")
			c.latency.ObserveIndicator("pong_timeout")
			sock.teardown()
			return websocket.CloseAbnormalClosure, false
		}
	}
}

// answerPing replies to a backend-initiated JSON ping.
func (c *Client) answerPing(sock *socket, s *session.Session) error {
	if err := sock.writeJSON(protocol.NewPong(s.ConnectionID), c.opts.WriteTimeout); err != nil {
		return err
	}
	c.metrics.WSFrames.WithLabelValues("out", string(protocol.TypePong)).Inc()
	return nil
}

func (c *Client) connLost(sock *socket, err error) (int, bool) {
	if err == nil {
		select {
		case err = <-sock.errs:
		default:
		}
	}
	sock.teardown()
	code := reliability.CloseCodeFromError(err)
	if code == websocket.CloseNormalClosure {
		log.Printf("client: backend closed normally")
		return code, true
	}
	log.Printf("client: connection lost (code=%d): %v", code, err)
	return code, false
}

// scheduleRetry burns one attempt from the budget, waits out the backoff and
// opens the next attempt. It reports false when the loop should stop, either
// because the budget is spent or the context ended.
func (c *Client) scheduleRetry(ctx context.Context) (*session.Session, bool) {
	cur, err := c.sessions.Current()
	if err != nil {
		return nil, false
	}
	if cur.ReconnectAttempts >= c.opts.MaxReconnects {
		c.goOffline(cur.State)
		return nil, false
	}

	prev := cur.State
	s, err := c.sessions.MarkReconnecting()
	if err != nil {
		log.Printf("client: mark reconnecting: %v", err)
		return nil, false
	}
	c.metrics.Reconnects.Inc()
	c.publishState(prev, session.StateReconnecting, s)

	delay := reliability.ExponentialBackoff(s.ReconnectAttempts-1, c.opts.BackoffBase, c.opts.BackoffCap)
	log.Printf("client: reconnecting in %s (attempt %d/%d)", delay, s.ReconnectAttempts, c.opts.MaxReconnects)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, false
	}

	next, err := c.sessions.StartAttempt()
	if err != nil {
		log.Printf("client: start attempt: %v", err)
		return nil, false
	}
	c.publishState(session.StateReconnecting, session.StateConnecting, next)
	return next, true
}

// goOffline is the single place the failure event leaves from, so it fires
// exactly once per session.
func (c *Client) goOffline(prev session.State) {
	s, err := c.sessions.MarkOffline()
	if err != nil {
		log.Printf("client: mark offline: %v", err)
		return
	}
	c.metrics.ConnectionFailures.Inc()
	c.bus.Publish(event.Event{
		Kind:         event.KindConnectionFailed,
		SessionID:    s.ID,
		ConnectionID: s.ConnectionID,
		Attempts:     s.ReconnectAttempts,
		Reason:       "reconnect budget exhausted",
	})
	c.publishState(prev, session.StateOffline, s)
	log.Printf("client: offline fallback after %d reconnect attempts", s.ReconnectAttempts)
}

func (c *Client) finishNormalClose() {
	prev := c.sessions.State()
	final, err := c.sessions.End()
	if err != nil {
		return
	}
	c.cleanupAfterEnd()
	c.publishState(prev, session.StateIdle, final)
}

func (c *Client) cleanupAfterEnd() {
	c.startFlag.Store(false)
	c.resolveTurn("")
	c.gate.Reset()
	c.queue.clear()
	c.metrics.QueueDepth.Set(0)
	for {
		select {
		case <-c.writeCh:
		default:
			return
		}
	}
}

// flushQueue replays buffered envelopes in FIFO order. On a write error the
// unsent remainder goes back in order.
func (c *Client) flushQueue(sock *socket) error {
	items := c.queue.drain()
	if len(items) == 0 {
		c.metrics.QueueDepth.Set(0)
		return nil
	}
	started := time.Now()
	for i, raw := range items {
		if err := sock.writeRaw(raw, c.opts.WriteTimeout); err != nil {
			for j := len(items) - 1; j >= i; j-- {
				c.queue.pushFront(items[j])
			}
			c.metrics.QueueDepth.Set(float64(c.queue.len()))
			return fmt.Errorf("flush queued envelopes: %w", err)
		}
		c.metrics.WSFrames.WithLabelValues("out", "queued").Inc()
	}
	c.metrics.QueueDepth.Set(0)
	c.latency.ObserveDuration(observability.StageQueueFlush, time.Since(started))
	log.Printf("client: flushed %d queued envelopes", len(items))
	return nil
}

// dispatch hands a frame to the run loop, or buffers it while the link is
// down. A full buffer evicts the oldest envelope.
func (c *Client) dispatch(raw []byte, kind string, state session.State) {
	if state == session.StateConnected {
		select {
		case c.writeCh <- raw:
			c.metrics.WSFrames.WithLabelValues("out", kind).Inc()
			return
		default:
		}
	}
	if evicted := c.queue.push(raw); evicted != nil {
		c.metrics.QueueDrops.Inc()
		c.rejectSend(kind, "queue_full")
	}
	c.metrics.QueueDepth.Set(float64(c.queue.len()))
}

func (c *Client) spillWrites() {
	for {
		select {
		case raw := <-c.writeCh:
			if evicted := c.queue.push(raw); evicted != nil {
				c.metrics.QueueDrops.Inc()
			}
		default:
			c.metrics.QueueDepth.Set(float64(c.queue.len()))
			return
		}
	}
}

func (c *Client) rejectSend(kind, reason string) {
	c.metrics.SendRejects.WithLabelValues(reason).Inc()
	c.bus.Publish(event.Event{
		Kind:         event.KindSendRejected,
		RejectKind:   kind,
		RejectReason: reason,
	})
}

func (c *Client) publishState(from, to session.State, s *session.Session) {
	c.metrics.StateTransitions.WithLabelValues(string(from), string(to)).Inc()
	ev := event.Event{Kind: event.KindStateChanged, From: from, To: to}
	if s != nil {
		ev.SessionID = s.ID
		ev.ConnectionID = s.ConnectionID
	}
	c.bus.Publish(ev)
}

func (c *Client) armPending(token string) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.pending != nil && c.pending.timer != nil {
		c.pending.timer.Stop()
	}
	p := &pendingTurn{token: token, sentAt: time.Now()}
	p.timer = time.AfterFunc(c.gate.ReleaseAfter(), func() {
		if c.gate.Release(token) {
			log.Printf("client: processing lock released by safety timer")
			c.latency.ObserveIndicator("lock_safety_release")
		}
	})
	c.pending = p
}

// resolveTurn releases the in-flight lock for the current voice turn. With a
// stage it also records the round-trip latency.
func (c *Client) resolveTurn(stage string) {
	c.pendingMu.Lock()
	p := c.pending
	c.pending = nil
	c.pendingMu.Unlock()
	if p == nil {
		return
	}
	p.timer.Stop()
	c.gate.Release(p.token)
	if stage == "" {
		return
	}
	elapsed := time.Since(p.sentAt)
	c.latency.ObserveDuration(stage, elapsed)
	if stage == observability.StageFeedback {
		c.metrics.ObserveFeedbackLatency(elapsed)
	}
}

func voiceContent(transcript, audioB64 string) []byte {
	return []byte(transcript + "\x00" + audioB64)
}
