package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps history in process for local and test runs.
type InMemoryStore struct {
	mu          sync.RWMutex
	transcripts map[string][]TranscriptRecord
	feedback    map[string][]FeedbackRecord
	summaries   map[string]map[string]SessionSummary
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		transcripts: make(map[string][]TranscriptRecord),
		feedback:    make(map[string][]FeedbackRecord),
		summaries:   make(map[string]map[string]SessionSummary),
	}
}

func (s *InMemoryStore) SaveTranscript(_ context.Context, rec TranscriptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fillTranscript(&rec)
	s.transcripts[rec.SessionID] = append(s.transcripts[rec.SessionID], rec)
	return nil
}

func (s *InMemoryStore) SaveFeedback(_ context.Context, rec FeedbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fillFeedback(&rec)
	s.feedback[rec.SessionID] = append(s.feedback[rec.SessionID], rec)
	return nil
}

func (s *InMemoryStore) SaveSummary(_ context.Context, sum SessionSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sum.EndedAt.IsZero() {
		sum.EndedAt = time.Now().UTC()
	}
	byUser := s.summaries[sum.UserID]
	if byUser == nil {
		byUser = make(map[string]SessionSummary)
		s.summaries[sum.UserID] = byUser
	}
	byUser[sum.SessionID] = sum
	return nil
}

func (s *InMemoryStore) RecentTranscripts(_ context.Context, sessionID string, limit int) ([]TranscriptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tailTranscripts(s.transcripts[sessionID], limit), nil
}

func (s *InMemoryStore) RecentFeedback(_ context.Context, sessionID string, limit int) ([]FeedbackRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.feedback[sessionID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]FeedbackRecord, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) Summaries(_ context.Context, userID string, limit int) ([]SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byUser := s.summaries[userID]
	if len(byUser) == 0 {
		return nil, nil
	}
	out := make([]SessionSummary, 0, len(byUser))
	for _, sum := range byUser {
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndedAt.After(out[j].EndedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

func tailTranscripts(arr []TranscriptRecord, limit int) []TranscriptRecord {
	if len(arr) == 0 {
		return nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]TranscriptRecord, limit)
	copy(out, arr[len(arr)-limit:])
	return out
}

func fillTranscript(rec *TranscriptRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
}

func fillFeedback(rec *FeedbackRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
}
