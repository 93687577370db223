// Package httpapi is the local control plane: a small chi router that
// drives the backend link and serves history, the pitch catalog and the
// live event stream to a UI on the same machine.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/pitchlab/coachlink/internal/client"
	"github.com/pitchlab/coachlink/internal/config"
	"github.com/pitchlab/coachlink/internal/dedup"
	"github.com/pitchlab/coachlink/internal/event"
	"github.com/pitchlab/coachlink/internal/history"
	"github.com/pitchlab/coachlink/internal/observability"
	"github.com/pitchlab/coachlink/internal/session"
)

// Link is the slice of the connection client the handlers need.
type Link interface {
	Connect(ctx context.Context) error
	Disconnect() error
	StartSession(ctx context.Context, req session.StartRequest) error
	SendTranscript(transcript string) error
	State() session.State
	Status() client.Status
}

type Server struct {
	cfg      config.Config
	link     Link
	bus      *event.Bus
	store    history.Store
	metrics  *observability.Metrics
	latency  *observability.LatencyWindow
	upgrader websocket.Upgrader
}

func New(cfg config.Config, link Link, bus *event.Bus, store history.Store, metrics *observability.Metrics, latency *observability.LatencyWindow) *Server {
	return &Server{
		cfg:     cfg,
		link:    link,
		bus:     bus,
		store:   store,
		metrics: metrics,
		latency: latency,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so another site cannot drive the user's
				// coaching session if the daemon is ever exposed beyond
				// localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/session", s.handleSessionStatus)
	r.Post("/v1/session/connect", s.handleConnect)
	r.Post("/v1/session/disconnect", s.handleDisconnect)
	r.Post("/v1/session/start", s.handleStartSession)
	r.Post("/v1/say", s.handleSay)
	r.Get("/v1/history", s.handleHistory)
	r.Get("/v1/examples", s.handleListExamples)
	r.Get("/v1/examples/{id}", s.handleGetExample)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/events/ws", s.handleEventsWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"history_driver": s.cfg.HistoryDriver,
	})
}

// Ready means the daemon can take commands, not that the backend link is
// up; the link comes and goes and /v1/session reports it.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"state":  s.link.State(),
	})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.link.Status())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.link.Connect(r.Context()); err != nil {
		respondError(w, http.StatusConflict, "connect_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, s.link.Status())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	if err := s.link.Disconnect(); err != nil {
		respondError(w, http.StatusInternalServerError, "disconnect_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.link.Status())
}

type startSessionRequest struct {
	UserID   string `json:"user_id"`
	Customer string `json:"customer"`
	Scenario string `json:"scenario"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = s.cfg.UserID
	}

	err := s.link.StartSession(r.Context(), session.StartRequest{
		UserID:   req.UserID,
		Customer: strings.TrimSpace(req.Customer),
		Scenario: strings.TrimSpace(req.Scenario),
	})
	if err != nil {
		respondError(w, http.StatusConflict, "session_active", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, s.link.Status())
}

type sayRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSay(w http.ResponseWriter, r *http.Request) {
	var req sayRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		respondError(w, http.StatusBadRequest, "empty_text", "text is required")
		return
	}

	if err := s.link.SendTranscript(text); err != nil {
		if reason, ok := dedup.ReasonOf(err); ok {
			respondError(w, http.StatusTooManyRequests, string(reason), err.Error())
			return
		}
		if errors.Is(err, client.ErrNotConnected) {
			respondError(w, http.StatusConflict, "not_connected", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "send_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"accepted": true,
		"state":    s.link.State(),
	})
}

type historyResponse struct {
	SessionID   string                     `json:"session_id,omitempty"`
	UserID      string                     `json:"user_id,omitempty"`
	Transcripts []history.TranscriptRecord `json:"transcripts,omitempty"`
	Feedback    []history.FeedbackRecord   `json:"feedback,omitempty"`
	Summaries   []history.SessionSummary   `json:"summaries,omitempty"`
}

// handleHistory serves one session's transcript and feedback when
// session_id is given, otherwise the caller's session summaries.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "history store not configured")
		return
	}
	limit := clampLimit(r.URL.Query().Get("limit"), 50)
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	ctx := r.Context()

	if sessionID != "" {
		transcripts, err := s.store.RecentTranscripts(ctx, sessionID, limit)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "history_read_failed", err.Error())
			return
		}
		feedback, err := s.store.RecentFeedback(ctx, sessionID, limit)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "history_read_failed", err.Error())
			return
		}
		respondJSON(w, http.StatusOK, historyResponse{
			SessionID:   sessionID,
			Transcripts: transcripts,
			Feedback:    feedback,
		})
		return
	}

	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = s.cfg.UserID
	}
	summaries, err := s.store.Summaries(ctx, userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_read_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, historyResponse{
		UserID:    userID,
		Summaries: summaries,
	})
}

func clampLimit(raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	if n > 500 {
		return 500
	}
	return n
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
