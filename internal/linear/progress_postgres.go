package linear

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-n-ai/pai-roadmap/internal/mastery"
	"github.com/p-n-ai/pai-roadmap/internal/platform/apperr"
)

const dbTimeout = 5 * time.Second

// PostgresStore keeps topic records in topic_progress.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed Store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

const topicColumns = `student_id, topic_id, score, status, attempts, time_spent_seconds, subtopics, last_attempt_at`

func (s *PostgresStore) RecordAttempt(ctx context.Context, a Attempt) (TopicProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`INSERT INTO topic_progress (student_id, topic_id, score, status, attempts, time_spent_seconds, last_attempt_at)
		 VALUES ($1, $2, $3, $4, 1, $5, $6)
		 ON CONFLICT (student_id, topic_id) DO UPDATE SET
		     score = EXCLUDED.score,
		     status = EXCLUDED.status,
		     attempts = topic_progress.attempts + 1,
		     time_spent_seconds = topic_progress.time_spent_seconds + EXCLUDED.time_spent_seconds,
		     last_attempt_at = EXCLUDED.last_attempt_at
		 RETURNING `+topicColumns,
		a.StudentID, a.TopicID, a.Score, string(a.Status), max(a.TimeSpentSeconds, 0), a.At,
	)
	p, err := scanTopic(row)
	if err != nil {
		return TopicProgress{}, apperr.FromPostgres("record attempt", err)
	}
	return p, nil
}

func (s *PostgresStore) Get(ctx context.Context, studentID, topicID string) (TopicProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`SELECT `+topicColumns+` FROM topic_progress WHERE student_id = $1 AND topic_id = $2`,
		studentID, topicID,
	)
	p, err := scanTopic(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return TopicProgress{}, topicProgressNotFound(studentID, topicID)
	}
	if err != nil {
		return TopicProgress{}, apperr.FromPostgres("get topic progress", err)
	}
	return p, nil
}

func (s *PostgresStore) List(ctx context.Context, studentID string) ([]TopicProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT `+topicColumns+` FROM topic_progress
		 WHERE student_id = $1
		 ORDER BY last_attempt_at DESC, topic_id ASC`,
		studentID,
	)
	if err != nil {
		return nil, apperr.FromPostgres("list topic progress", err)
	}
	defer rows.Close()

	out := []TopicProgress{}
	for rows.Next() {
		p, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("scan topic progress: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.FromPostgres("iterate topic progress", err)
	}
	return out, nil
}

func (s *PostgresStore) MergeSubtopics(ctx context.Context, studentID, topicID string, names []string) (TopicProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return TopicProgress{}, apperr.FromPostgres("begin merge subtopics", err)
	}
	defer tx.Rollback(ctx)

	var existing []mastery.ChildProgress
	err = tx.QueryRow(ctx,
		`SELECT subtopics FROM topic_progress WHERE student_id = $1 AND topic_id = $2 FOR UPDATE`,
		studentID, topicID,
	).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		return TopicProgress{}, topicProgressNotFound(studentID, topicID)
	}
	if err != nil {
		return TopicProgress{}, apperr.FromPostgres("lock topic progress", err)
	}

	row := tx.QueryRow(ctx,
		`UPDATE topic_progress SET subtopics = $3
		 WHERE student_id = $1 AND topic_id = $2
		 RETURNING `+topicColumns,
		studentID, topicID, mergeSubtopics(existing, names),
	)
	p, err := scanTopic(row)
	if err != nil {
		return TopicProgress{}, apperr.FromPostgres("update subtopics", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return TopicProgress{}, apperr.FromPostgres("commit merge subtopics", err)
	}
	return p, nil
}

func scanTopic(row pgx.Row) (TopicProgress, error) {
	var (
		p      TopicProgress
		status string
	)
	if err := row.Scan(&p.StudentID, &p.TopicID, &p.Score, &status, &p.Attempts,
		&p.TimeSpentSeconds, &p.Subtopics, &p.LastAttemptAt); err != nil {
		return TopicProgress{}, err
	}
	p.Status = Status(status)
	if p.Subtopics == nil {
		p.Subtopics = []mastery.ChildProgress{}
	}
	return p, nil
}
