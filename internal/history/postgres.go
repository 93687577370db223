package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists history in PostgreSQL for shared deployments.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pitch_transcripts (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			content TEXT NOT NULL,
			is_final BOOLEAN NOT NULL DEFAULT TRUE,
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_pitch_transcripts_session_created
			ON pitch_transcripts (session_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS pitch_feedback (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			score INT,
			achievements TEXT[],
			improvements TEXT[],
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_pitch_feedback_session_created
			ON pitch_feedback (session_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS pitch_sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			customer TEXT,
			scenario TEXT,
			overall_score INT NOT NULL DEFAULT 0,
			average_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			turns_sent INT NOT NULL DEFAULT 0,
			feedback_count INT NOT NULL DEFAULT 0,
			strengths TEXT[],
			improvements TEXT[],
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ
		);`,
		`CREATE INDEX IF NOT EXISTS idx_pitch_sessions_user_ended
			ON pitch_sessions (user_id, ended_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init history schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveTranscript(ctx context.Context, rec TranscriptRecord) error {
	fillTranscript(&rec)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pitch_transcripts (id, session_id, user_id, sender, content, is_final, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.SessionID, rec.UserID, rec.Sender, rec.Text, rec.Final, rec.Redacted, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveFeedback(ctx context.Context, rec FeedbackRecord) error {
	fillFeedback(&rec)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pitch_feedback (id, session_id, user_id, content, score, achievements, improvements, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.SessionID, rec.UserID, rec.Text, rec.Score, rec.Achievements, rec.Improvements, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveSummary(ctx context.Context, sum SessionSummary) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pitch_sessions (session_id, user_id, customer, scenario, overall_score, average_score,
			turns_sent, feedback_count, strengths, improvements, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (session_id) DO UPDATE SET
			overall_score = EXCLUDED.overall_score,
			average_score = EXCLUDED.average_score,
			turns_sent = EXCLUDED.turns_sent,
			feedback_count = EXCLUDED.feedback_count,
			strengths = EXCLUDED.strengths,
			improvements = EXCLUDED.improvements,
			ended_at = EXCLUDED.ended_at`,
		sum.SessionID, sum.UserID, sum.Customer, sum.Scenario, sum.OverallScore, sum.AverageScore,
		sum.TurnsSent, sum.FeedbackCount, sum.Strengths, sum.Improvements, sum.StartedAt, sum.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("save session summary: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentTranscripts(ctx context.Context, sessionID string, limit int) ([]TranscriptRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, user_id, sender, content, is_final, pii_redacted, created_at
		 FROM pitch_transcripts WHERE session_id=$1 ORDER BY created_at DESC LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	out := make([]TranscriptRecord, 0, limit)
	for rows.Next() {
		var r TranscriptRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.UserID, &r.Sender, &r.Text, &r.Final, &r.Redacted, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}
	reverseSlice(out)
	return out, nil
}

func (s *PostgresStore) RecentFeedback(ctx context.Context, sessionID string, limit int) ([]FeedbackRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, user_id, content, score, achievements, improvements, created_at
		 FROM pitch_feedback WHERE session_id=$1 ORDER BY created_at DESC LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	out := make([]FeedbackRecord, 0, limit)
	for rows.Next() {
		var r FeedbackRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.UserID, &r.Text, &r.Score, &r.Achievements, &r.Improvements, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback rows: %w", err)
	}
	reverseSlice(out)
	return out, nil
}

func (s *PostgresStore) Summaries(ctx context.Context, userID string, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, user_id, customer, scenario, overall_score, average_score,
			turns_sent, feedback_count, strengths, improvements, started_at, ended_at
		 FROM pitch_sessions WHERE user_id=$1 ORDER BY ended_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	out := make([]SessionSummary, 0, limit)
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.SessionID, &sum.UserID, &sum.Customer, &sum.Scenario, &sum.OverallScore,
			&sum.AverageScore, &sum.TurnsSent, &sum.FeedbackCount, &sum.Strengths, &sum.Improvements,
			&sum.StartedAt, &sum.EndedAt); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func reverseSlice[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
