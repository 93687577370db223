package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pitchlab/coachlink/internal/config"
	"github.com/pitchlab/coachlink/internal/event"
)

func baseConfig(namespace string) config.Config {
	return config.Config{
		MetricsNamespace: namespace,
		HistoryDriver:    "memory",
		UserID:           "tester",
		RedactPII:        true,
		EmbeddedSim:      true,
		SimGeneration:    2,
		SampleRate:       16000,
		ConnectTimeout:   3 * time.Second,
		MaxReconnects:    1,
		BackoffBase:      20 * time.Millisecond,
		BackoffCap:       80 * time.Millisecond,
		QueueCapacity:    8,
		SendCooldown:     10 * time.Millisecond,
		LockRelease:      2 * time.Second,
	}
}

func TestBuildWiresEmbeddedSim(t *testing.T) {
	result, err := Build(context.Background(), baseConfig("app_test_build"))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer func() {
		if err := result.Cleanup(); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
	}()

	if result.API == nil || result.Client == nil || result.Store == nil || result.Bus == nil {
		t.Fatal("Build() left components nil")
	}
	if !strings.HasPrefix(result.Config.BackendURL, "ws://127.0.0.1:") {
		t.Fatalf("BackendURL = %q, want embedded sim address", result.Config.BackendURL)
	}
}

func TestScriptedCaptureRunsFullSession(t *testing.T) {
	cfg := baseConfig("app_test_capture")
	scriptPath := filepath.Join(t.TempDir(), "pitch.yaml")
	script := "customer: busy_vp\nscenario: renewal\nlines:\n" +
		"  - text: our product saves your team 40 hours every month\n"
	if err := os.WriteFile(scriptPath, []byte(script), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	cfg.CaptureMode = "scripted"
	cfg.CaptureScript = scriptPath

	result, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer result.Cleanup()

	feedback, unsubscribe := result.Bus.Subscribe(32, event.KindTextFeedback)
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	captureDone := make(chan error, 1)
	go func() {
		captureDone <- runScriptedCapture(ctx, result.Client, result.Config)
	}()

	var got event.Event
	deadline := time.After(12 * time.Second)
	for got.Kind == "" {
		select {
		case ev := <-feedback:
			if !ev.Partial {
				got = ev
			}
		case <-deadline:
			t.Fatal("no feedback event from the embedded sim")
		}
	}
	if got.Score == nil || *got.Score < 60 || *got.Score > 95 {
		t.Fatalf("feedback score = %v, want within the coaching band", got.Score)
	}
	if got.SessionID == "" {
		t.Fatal("feedback event missing session id")
	}

	if err := <-captureDone; err != nil {
		t.Fatalf("runScriptedCapture() error = %v", err)
	}

	// The recorder persists the user's line and the coach reply.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	for {
		recs, err := result.Store.RecentTranscripts(waitCtx, got.SessionID, 10)
		if err != nil {
			t.Fatalf("RecentTranscripts() error = %v", err)
		}
		if len(recs) >= 2 {
			break
		}
		select {
		case <-waitCtx.Done():
			t.Fatalf("history has %d transcripts, want user line and coach reply", len(recs))
		case <-time.After(50 * time.Millisecond):
		}
	}
}
