package history

import (
	"context"
	"strings"
	"testing"
	"time"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	lines := []string{"first line", "second line", "third line"}
	for i, text := range lines {
		rec := TranscriptRecord{
			SessionID: "sess-1",
			UserID:    "u-1",
			Sender:    "user",
			Text:      text,
			Final:     true,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.SaveTranscript(ctx, rec); err != nil {
			t.Fatalf("SaveTranscript(%d) = %v", i, err)
		}
	}

	got, err := store.RecentTranscripts(ctx, "sess-1", 2)
	if err != nil {
		t.Fatalf("RecentTranscripts() = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("RecentTranscripts() returned %d records, want 2", len(got))
	}
	if got[0].Text != "second line" || got[1].Text != "third line" {
		t.Fatalf("RecentTranscripts() order = %q, %q", got[0].Text, got[1].Text)
	}
	if got[0].ID == "" {
		t.Fatalf("transcript id not filled")
	}

	if recs, err := store.RecentTranscripts(ctx, "other", 10); err != nil || len(recs) != 0 {
		t.Fatalf("RecentTranscripts(other) = %v, %v, want empty", recs, err)
	}

	score := 81
	fb := FeedbackRecord{
		SessionID: "sess-1",
		UserID:    "u-1",
		Text:      "good pacing",
		Score:     &score,
		CreatedAt: base.Add(5 * time.Second),
	}
	if err := store.SaveFeedback(ctx, fb); err != nil {
		t.Fatalf("SaveFeedback() = %v", err)
	}
	fbs, err := store.RecentFeedback(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("RecentFeedback() = %v", err)
	}
	if len(fbs) != 1 || fbs[0].Score == nil || *fbs[0].Score != 81 {
		t.Fatalf("RecentFeedback() = %+v, want one record scored 81", fbs)
	}

	// Summaries replace per session and come back newest first.
	first := SessionSummary{
		SessionID:    "sess-1",
		UserID:       "u-1",
		OverallScore: 70,
		EndedAt:      base.Add(time.Minute),
	}
	if err := store.SaveSummary(ctx, first); err != nil {
		t.Fatalf("SaveSummary() = %v", err)
	}
	first.OverallScore = 75
	first.EndedAt = base.Add(2 * time.Minute)
	if err := store.SaveSummary(ctx, first); err != nil {
		t.Fatalf("SaveSummary() rewrite = %v", err)
	}
	second := SessionSummary{
		SessionID:    "sess-2",
		UserID:       "u-1",
		OverallScore: 88,
		EndedAt:      base.Add(3 * time.Minute),
	}
	if err := store.SaveSummary(ctx, second); err != nil {
		t.Fatalf("SaveSummary(sess-2) = %v", err)
	}

	sums, err := store.Summaries(ctx, "u-1", 10)
	if err != nil {
		t.Fatalf("Summaries() = %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("Summaries() returned %d, want 2 (rewrite must replace)", len(sums))
	}
	if sums[0].SessionID != "sess-2" || sums[1].OverallScore != 75 {
		t.Fatalf("Summaries() = %+v, want sess-2 first and sess-1 rewritten to 75", sums)
	}
}

func TestInMemoryStore(t *testing.T) {
	store := NewInMemoryStore()
	defer store.Close()
	exerciseStore(t, store)
}

func TestBadgerStore(t *testing.T) {
	store, err := NewBadgerStore(BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadgerStore() = %v", err)
	}
	defer store.Close()
	exerciseStore(t, store)
}

func TestBadgerStoreRequiresDir(t *testing.T) {
	if _, err := NewBadgerStore(BadgerOptions{}); err == nil {
		t.Fatalf("NewBadgerStore without dir succeeded, want error")
	}
}

func TestNewStoreSelectsDriver(t *testing.T) {
	store, err := NewStore(context.Background(), "memory", "", "")
	if err != nil {
		t.Fatalf("NewStore(memory) = %v", err)
	}
	if _, ok := store.(*InMemoryStore); !ok {
		t.Fatalf("NewStore(memory) = %T, want *InMemoryStore", store)
	}
	store.Close()

	if _, err := NewStore(context.Background(), "cassandra", "", ""); err == nil {
		t.Fatalf("NewStore(cassandra) succeeded, want error")
	}
	if _, err := NewStore(context.Background(), "cassandra", "", ""); err != nil && !strings.Contains(err.Error(), "cassandra") {
		t.Fatalf("NewStore error %v should name the driver", err)
	}
}
