package capture

import (
	"context"
	"testing"
	"time"
)

func collectEvents(t *testing.T, ch <-chan Event, timeout time.Duration) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("timed out collecting events, got %d so far", len(events))
		}
	}
}

func TestScriptedEmitsPartialsThenFinal(t *testing.T) {
	src := NewScripted([]Line{{Text: "our product saves two hours a day."}}, time.Millisecond, 16000)
	ch, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	events := collectEvents(t, ch, 5*time.Second)

	var partials, finals, blobs, levels int
	var finalText string
	sawPartialBeforeFinal := false
	for _, ev := range events {
		switch ev.Type {
		case EventTranscript:
			if ev.Transcript.Final {
				finals++
				finalText = ev.Transcript.Text
			} else {
				partials++
				if finals == 0 {
					sawPartialBeforeFinal = true
				}
			}
		case EventBlob:
			blobs++
			if ev.Blob.AudioBase64 == "" || ev.Blob.SampleRate != 16000 {
				t.Fatalf("unexpected blob: %+v", ev.Blob)
			}
		case EventLevel:
			levels++
			if ev.Level < 0 || ev.Level > 1 {
				t.Fatalf("Level = %v outside [0,1]", ev.Level)
			}
		}
	}
	if partials == 0 || !sawPartialBeforeFinal {
		t.Fatalf("expected progressive partials before the final, got %d partials", partials)
	}
	if finals != 1 {
		t.Fatalf("finals = %d, want 1", finals)
	}
	if finalText != "our product saves two hours a day." {
		t.Fatalf("final text = %q", finalText)
	}
	if blobs != 1 {
		t.Fatalf("blobs = %d, want 1", blobs)
	}
	if levels == 0 {
		t.Fatalf("expected volume levels")
	}
}

func TestScriptedStopEndsStream(t *testing.T) {
	lines := []Line{
		{Text: "the first point is reliability and", PauseMS: 500},
		{Text: "the second point is cost."},
	}
	src := NewScripted(lines, 20*time.Millisecond, 16000)
	ch, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Take a couple of events, then cut it off mid-line.
	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("no events before stop")
		}
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("channel not closed after Stop()")
		}
	}
}

func TestScriptedRejectsDoubleStart(t *testing.T) {
	src := NewScripted([]Line{{Text: "hello there."}}, time.Millisecond, 0)
	ch, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := src.Start(context.Background()); err == nil {
		t.Fatalf("expected error on second Start()")
	}
	collectEvents(t, ch, 5*time.Second)

	// A finished source can be started again.
	ch, err = src.Start(context.Background())
	if err != nil {
		t.Fatalf("restart Start() error = %v", err)
	}
	collectEvents(t, ch, 5*time.Second)
}
