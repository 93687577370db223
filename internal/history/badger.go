package history

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// BadgerStore persists history in a local badger database, msgpack-encoded.
// Keys embed a zero-padded nanosecond timestamp so prefix iteration comes
// back in write order.
type BadgerStore struct {
	db *badger.DB
}

type BadgerOptions struct {
	// Dir is the data directory. Required unless InMemory is set.
	Dir string
	// InMemory runs badger without disk persistence, for tests.
	InMemory bool
}

func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("history: badger data dir is required")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(quietLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger history: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) SaveTranscript(_ context.Context, rec TranscriptRecord) error {
	fillTranscript(&rec)
	return s.put(orderedKey("t", rec.SessionID, rec.CreatedAt, rec.ID), rec)
}

func (s *BadgerStore) SaveFeedback(_ context.Context, rec FeedbackRecord) error {
	fillFeedback(&rec)
	return s.put(orderedKey("f", rec.SessionID, rec.CreatedAt, rec.ID), rec)
}

func (s *BadgerStore) SaveSummary(_ context.Context, sum SessionSummary) error {
	if sum.EndedAt.IsZero() {
		sum.EndedAt = time.Now().UTC()
	}
	// Keyed by session so rewriting a summary replaces it.
	key := fmt.Sprintf("s:%s:%s", sum.UserID, sum.SessionID)
	return s.put(key, sum)
}

func (s *BadgerStore) RecentTranscripts(_ context.Context, sessionID string, limit int) ([]TranscriptRecord, error) {
	var out []TranscriptRecord
	err := s.scan("t:"+sessionID+":", func(val []byte) error {
		var rec TranscriptRecord
		if err := msgpack.Unmarshal(val, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && limit < len(out) {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *BadgerStore) RecentFeedback(_ context.Context, sessionID string, limit int) ([]FeedbackRecord, error) {
	var out []FeedbackRecord
	err := s.scan("f:"+sessionID+":", func(val []byte) error {
		var rec FeedbackRecord
		if err := msgpack.Unmarshal(val, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && limit < len(out) {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *BadgerStore) Summaries(_ context.Context, userID string, limit int) ([]SessionSummary, error) {
	var out []SessionSummary
	err := s.scan("s:"+userID+":", func(val []byte) error {
		var sum SessionSummary
		if err := msgpack.Unmarshal(val, &sum); err != nil {
			return err
		}
		out = append(out, sum)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndedAt.After(out[j].EndedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) put(key string, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode history record: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("write history record: %w", err)
	}
	return nil
}

func (s *BadgerStore) scan(prefix string, visit func(val []byte) error) error {
	p := []byte(prefix)
	return s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = p
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := visit(val); err != nil {
				return err
			}
		}
		return nil
	})
}

func orderedKey(kind, sessionID string, at time.Time, id string) string {
	if id == "" {
		id = uuid.NewString()
	}
	return fmt.Sprintf("%s:%s:%020d:%s", kind, sessionID, at.UnixNano(), id)
}

// quietLogger keeps badger's chatty info and debug lines out of the logs.
type quietLogger struct{}

func (quietLogger) Errorf(f string, v ...interface{})   { log.Printf("[badger] ERROR: "+f, v...) }
func (quietLogger) Warningf(f string, v ...interface{}) { log.Printf("[badger] WARN: "+f, v...) }
func (quietLogger) Infof(string, ...interface{})        {}
func (quietLogger) Debugf(string, ...interface{})       {}
