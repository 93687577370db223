package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pitchlab/coachlink/internal/client"
	"github.com/pitchlab/coachlink/internal/config"
	"github.com/pitchlab/coachlink/internal/dedup"
	"github.com/pitchlab/coachlink/internal/event"
	"github.com/pitchlab/coachlink/internal/history"
	"github.com/pitchlab/coachlink/internal/observability"
	"github.com/pitchlab/coachlink/internal/session"
)

// stubLink fakes the connection client with overridable func fields.
type stubLink struct {
	connectFn    func(ctx context.Context) error
	disconnectFn func() error
	startFn      func(ctx context.Context, req session.StartRequest) error
	sendFn       func(transcript string) error
	state        session.State
}

func (l *stubLink) Connect(ctx context.Context) error {
	if l.connectFn != nil {
		return l.connectFn(ctx)
	}
	return nil
}

func (l *stubLink) Disconnect() error {
	if l.disconnectFn != nil {
		return l.disconnectFn()
	}
	return nil
}

func (l *stubLink) StartSession(ctx context.Context, req session.StartRequest) error {
	if l.startFn != nil {
		return l.startFn(ctx, req)
	}
	return nil
}

func (l *stubLink) SendTranscript(transcript string) error {
	if l.sendFn != nil {
		return l.sendFn(transcript)
	}
	return nil
}

func (l *stubLink) State() session.State {
	if l.state == "" {
		return session.StateIdle
	}
	return l.state
}

func (l *stubLink) Status() client.Status {
	return client.Status{State: l.State(), BackendURL: "ws://127.0.0.1:8080"}
}

func newTestServer(t *testing.T, link Link, store history.Store, bus *event.Bus) *httptest.Server {
	t.Helper()
	cfg := config.Config{UserID: "local", HistoryDriver: "memory"}
	metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "httpapi_test")
	latency := observability.NewLatencyWindow(64)
	srv := New(cfg, link, bus, store, metrics, latency)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	res, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	defer res.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	var started session.StartRequest
	link := &stubLink{
		startFn: func(_ context.Context, req session.StartRequest) error {
			started = req
			return nil
		},
		state: session.StateConnecting,
	}
	ts := newTestServer(t, link, history.NewInMemoryStore(), event.NewBus())

	res := postJSON(t, ts.URL+"/v1/session/start", map[string]string{
		"customer": "busy_vp",
		"scenario": "renewal",
	})
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d, want %d", res.StatusCode, http.StatusAccepted)
	}
	res.Body.Close()
	if started.UserID != "local" {
		t.Fatalf("StartSession UserID = %q, want default %q", started.UserID, "local")
	}
	if started.Customer != "busy_vp" || started.Scenario != "renewal" {
		t.Fatalf("StartSession request = %+v, want customer/scenario passed through", started)
	}

	getRes, err := http.Get(ts.URL + "/v1/session")
	if err != nil {
		t.Fatalf("GET /v1/session error = %v", err)
	}
	body := decodeBody(t, getRes)
	if body["state"] != string(session.StateConnecting) {
		t.Fatalf("session state = %v, want %q", body["state"], session.StateConnecting)
	}

	discRes := postJSON(t, ts.URL+"/v1/session/disconnect", nil)
	if discRes.StatusCode != http.StatusOK {
		t.Fatalf("disconnect status = %d, want %d", discRes.StatusCode, http.StatusOK)
	}
	discRes.Body.Close()
}

func TestStartSessionConflict(t *testing.T) {
	link := &stubLink{
		startFn: func(context.Context, session.StartRequest) error {
			return &conflictErr{}
		},
	}
	ts := newTestServer(t, link, history.NewInMemoryStore(), event.NewBus())

	res := postJSON(t, ts.URL+"/v1/session/start", map[string]string{"user_id": "u-1"})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("start status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
	body := decodeBody(t, res)
	if body["code"] != "session_active" {
		t.Fatalf("error code = %v, want session_active", body["code"])
	}
}

type conflictErr struct{}

func (*conflictErr) Error() string { return "session already active (abc)" }

func TestSayErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		sendErr    error
		wantStatus int
		wantCode   string
	}{
		{"accepted", nil, http.StatusAccepted, ""},
		{"not connected", client.ErrNotConnected, http.StatusConflict, "not_connected"},
		{"cooldown", &dedup.RejectError{Kind: "voice_data", Reason: dedup.ReasonCooldown}, http.StatusTooManyRequests, "cooldown"},
		{"in flight", &dedup.RejectError{Kind: "voice_data", Reason: dedup.ReasonInFlight}, http.StatusTooManyRequests, "in_flight"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			link := &stubLink{sendFn: func(string) error { return tc.sendErr }}
			ts := newTestServer(t, link, history.NewInMemoryStore(), event.NewBus())

			res := postJSON(t, ts.URL+"/v1/say", map[string]string{"text": "our product saves you time"})
			if res.StatusCode != tc.wantStatus {
				t.Fatalf("say status = %d, want %d", res.StatusCode, tc.wantStatus)
			}
			body := decodeBody(t, res)
			if tc.wantCode != "" && body["code"] != tc.wantCode {
				t.Fatalf("error code = %v, want %s", body["code"], tc.wantCode)
			}
		})
	}
}

func TestSayRequiresText(t *testing.T) {
	ts := newTestServer(t, &stubLink{}, history.NewInMemoryStore(), event.NewBus())

	res := postJSON(t, ts.URL+"/v1/say", map[string]string{"text": "   "})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("say status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
	res.Body.Close()
}

func TestExamplesEndpoints(t *testing.T) {
	ts := newTestServer(t, &stubLink{}, history.NewInMemoryStore(), event.NewBus())

	res, err := http.Get(ts.URL + "/v1/examples?industry=fintech")
	if err != nil {
		t.Fatalf("GET /v1/examples error = %v", err)
	}
	body := decodeBody(t, res)
	list, _ := body["examples"].([]any)
	if len(list) != 1 {
		t.Fatalf("fintech examples = %d, want 1", len(list))
	}

	one, err := http.Get(ts.URL + "/v1/examples/saas-onboarding")
	if err != nil {
		t.Fatalf("GET example error = %v", err)
	}
	pitch := decodeBody(t, one)
	if pitch["id"] != "saas-onboarding" {
		t.Fatalf("example id = %v, want saas-onboarding", pitch["id"])
	}

	missing, err := http.Get(ts.URL + "/v1/examples/crypto-moonshot")
	if err != nil {
		t.Fatalf("GET missing example error = %v", err)
	}
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing example status = %d, want %d", missing.StatusCode, http.StatusNotFound)
	}
	missing.Body.Close()
}

func TestHistoryEndpoint(t *testing.T) {
	store := history.NewInMemoryStore()
	ctx := context.Background()
	if err := store.SaveTranscript(ctx, history.TranscriptRecord{
		SessionID: "sess-1", UserID: "local", Sender: "user", Text: "first pitch line",
	}); err != nil {
		t.Fatalf("seed transcript: %v", err)
	}
	if err := store.SaveSummary(ctx, history.SessionSummary{
		SessionID: "sess-1", UserID: "local", OverallScore: 82,
	}); err != nil {
		t.Fatalf("seed summary: %v", err)
	}

	ts := newTestServer(t, &stubLink{}, store, event.NewBus())

	res, err := http.Get(ts.URL + "/v1/history?session_id=sess-1")
	if err != nil {
		t.Fatalf("GET /v1/history error = %v", err)
	}
	body := decodeBody(t, res)
	transcripts, _ := body["transcripts"].([]any)
	if len(transcripts) != 1 {
		t.Fatalf("transcripts = %d, want 1", len(transcripts))
	}

	sumRes, err := http.Get(ts.URL + "/v1/history")
	if err != nil {
		t.Fatalf("GET summaries error = %v", err)
	}
	sumBody := decodeBody(t, sumRes)
	summaries, _ := sumBody["summaries"].([]any)
	if len(summaries) != 1 {
		t.Fatalf("summaries = %d, want 1", len(summaries))
	}
	if sumBody["user_id"] != "local" {
		t.Fatalf("user_id = %v, want local", sumBody["user_id"])
	}
}

func TestEventsStream(t *testing.T) {
	bus := event.NewBus()
	ts := newTestServer(t, &stubLink{}, history.NewInMemoryStore(), bus)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial events stream: %v", err)
	}
	defer conn.Close()

	// Subscription races the publish without a settle delay.
	time.Sleep(50 * time.Millisecond)
	bus.Publish(event.Event{Kind: event.KindSystemText, Text: "coach is reviewing your pitch"})

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var got event.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read stream event: %v", err)
	}
	if got.Kind != event.KindSystemText {
		t.Fatalf("stream event kind = %q, want %q", got.Kind, event.KindSystemText)
	}
	if got.Text != "coach is reviewing your pitch" {
		t.Fatalf("stream event text = %q", got.Text)
	}
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, &stubLink{state: session.StateConnected}, history.NewInMemoryStore(), event.NewBus())

	res, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	res.Body.Close()

	ready, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	body := decodeBody(t, ready)
	if body["state"] != string(session.StateConnected) {
		t.Fatalf("readyz state = %v, want connected", body["state"])
	}
}

func TestPerfLatencyEndpoint(t *testing.T) {
	ts := newTestServer(t, &stubLink{}, history.NewInMemoryStore(), event.NewBus())

	res, err := http.Get(ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("GET /v1/perf/latency error = %v", err)
	}
	body := decodeBody(t, res)
	if _, ok := body["stages"]; !ok {
		t.Fatalf("perf payload missing stages: %+v", body)
	}
}
