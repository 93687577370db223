package history

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pitchlab/coachlink/internal/event"
	"github.com/pitchlab/coachlink/internal/observability"
	"github.com/pitchlab/coachlink/internal/session"
)

const writeTimeout = 5 * time.Second

// Recorder tails the event bus and persists the conversation: final user
// transcriptions, final coach feedback (as both a transcript line and a
// scored record) and a summary when the session ends. Persistence failures
// are counted and logged, never surfaced to the conversation.
type Recorder struct {
	store    Store
	sessions *session.Manager
	metrics  *observability.Metrics
	redact   bool

	mu         sync.Mutex
	last       *session.Session
	summarized map[string]bool

	cancel func()
	done   chan struct{}
}

func NewRecorder(store Store, sessions *session.Manager, metrics *observability.Metrics, redact bool) *Recorder {
	return &Recorder{
		store:      store,
		sessions:   sessions,
		metrics:    metrics,
		redact:     redact,
		summarized: make(map[string]bool),
	}
}

// Start subscribes to the bus and records until Stop.
func (r *Recorder) Start(bus *event.Bus) {
	ch, cancel := bus.Subscribe(128,
		event.KindTranscription,
		event.KindTextFeedback,
		event.KindSessionComplete,
		event.KindStateChanged,
	)
	r.cancel = cancel
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		for ev := range ch {
			r.handle(ev)
		}
	}()
}

func (r *Recorder) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel = nil
}

func (r *Recorder) handle(ev event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	r.trackSession(ev)

	switch ev.Kind {
	case event.KindTranscription:
		if !ev.Final {
			return
		}
		r.saveTranscript(ctx, ev, event.SenderUser)

	case event.KindTextFeedback:
		if ev.Partial {
			return
		}
		r.saveTranscript(ctx, ev, event.SenderAI)
		rec := FeedbackRecord{
			SessionID:    ev.SessionID,
			UserID:       r.userID(),
			Text:         ev.Text,
			Score:        ev.Score,
			Achievements: ev.Achievements,
			Improvements: ev.Improvements,
			CreatedAt:    ev.At,
		}
		if err := r.store.SaveFeedback(ctx, rec); err != nil {
			r.fail("feedback", err)
			return
		}
		r.metrics.HistoryWrites.WithLabelValues("feedback").Inc()

	case event.KindSessionComplete:
		r.saveSummary(ctx, ev)

	case event.KindStateChanged:
		// A session leaving for idle is the last chance to summarize it.
		if ev.To == session.StateIdle {
			r.saveSummary(ctx, ev)
		}
	}
}

func (r *Recorder) saveTranscript(ctx context.Context, ev event.Event, sender string) {
	text := ev.Text
	redacted := false
	if r.redact {
		text, redacted = RedactPII(text)
	}
	rec := TranscriptRecord{
		SessionID: ev.SessionID,
		UserID:    r.userID(),
		Sender:    sender,
		Text:      text,
		Final:     true,
		Redacted:  redacted,
		CreatedAt: ev.At,
	}
	if err := r.store.SaveTranscript(ctx, rec); err != nil {
		r.fail("transcript", err)
		return
	}
	r.metrics.HistoryWrites.WithLabelValues("transcript").Inc()
}

func (r *Recorder) saveSummary(ctx context.Context, ev event.Event) {
	r.mu.Lock()
	snap := r.last
	if snap == nil || (ev.SessionID != "" && snap.ID != ev.SessionID) || r.summarized[snap.ID] {
		r.mu.Unlock()
		return
	}
	r.summarized[snap.ID] = true
	r.mu.Unlock()

	sum := SessionSummary{
		SessionID:     snap.ID,
		UserID:        snap.UserID,
		Customer:      snap.Customer,
		Scenario:      snap.Scenario,
		AverageScore:  snap.AverageScore(),
		OverallScore:  int(snap.AverageScore() + 0.5),
		TurnsSent:     snap.TurnsSent,
		FeedbackCount: snap.FeedbackCount,
		StartedAt:     snap.StartedAt,
		EndedAt:       time.Now().UTC(),
	}
	if ev.Results != nil {
		sum.OverallScore = ev.Results.OverallScore
		sum.Strengths = ev.Results.Strengths
		sum.Improvements = ev.Results.Improvements
		if ev.Results.TotalTurns > 0 {
			sum.TurnsSent = ev.Results.TotalTurns
		}
	}
	if err := r.store.SaveSummary(ctx, sum); err != nil {
		r.fail("summary", err)
		return
	}
	r.metrics.HistoryWrites.WithLabelValues("summary").Inc()
}

func (r *Recorder) trackSession(ev event.Event) {
	if ev.SessionID == "" {
		return
	}
	if s, err := r.sessions.Current(); err == nil && s.ID == ev.SessionID {
		r.mu.Lock()
		if r.last == nil || r.last.ID != s.ID {
			for k := range r.summarized {
				delete(r.summarized, k)
			}
		}
		r.last = s
		r.mu.Unlock()
	}
}

func (r *Recorder) userID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return ""
	}
	return r.last.UserID
}

func (r *Recorder) fail(kind string, err error) {
	r.metrics.HistoryErrors.Inc()
	log.Printf("history: save %s: %v", kind, err)
}
