package roadmap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-n-ai/pai-roadmap/internal/mastery"
	"github.com/p-n-ai/pai-roadmap/internal/platform/apperr"
)

// PostgresProgressStore keeps ledgers in roadmap_progress (one header row
// per learner and node) and roadmap_child_progress (one row per child).
// ApplyOutcome locks the header row, so attempts on the same node are
// serialized across processes.
type PostgresProgressStore struct {
	pool *pgxpool.Pool
}

// NewPostgresProgressStore creates a PostgreSQL-backed ProgressStore.
func NewPostgresProgressStore(pool *pgxpool.Pool) (*PostgresProgressStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresProgressStore{pool: pool}, nil
}

func (s *PostgresProgressStore) GetOrInit(ctx context.Context, studentID, nodeKey string, children []string) (*Progress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.FromPostgres("begin init progress", err)
	}
	defer tx.Rollback(ctx)

	// A concurrent initializer blocks on the primary key until the first
	// transaction commits, then sees the conflict and skips the children.
	tag, err := tx.Exec(ctx,
		`INSERT INTO roadmap_progress (student_id, node_key)
		 VALUES ($1, $2)
		 ON CONFLICT (student_id, node_key) DO NOTHING`,
		studentID, nodeKey,
	)
	if err != nil {
		return nil, apperr.FromPostgres("init progress", err)
	}

	if tag.RowsAffected() == 1 && len(children) > 0 {
		keys := make([]string, 0, len(children))
		names := make([]string, 0, len(children))
		seen := make(map[string]bool, len(children))
		for _, name := range children {
			k := mastery.Normalize(name)
			if seen[k] {
				continue
			}
			seen[k] = true
			keys = append(keys, k)
			names = append(names, name)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO roadmap_child_progress (student_id, node_key, child_key, child_name, position)
			 SELECT $1, $2, t.child_key, t.child_name, t.ord - 1
			 FROM unnest($3::text[], $4::text[]) WITH ORDINALITY AS t(child_key, child_name, ord)
			 ON CONFLICT DO NOTHING`,
			studentID, nodeKey, keys, names,
		)
		if err != nil {
			return nil, apperr.FromPostgres("init child progress", err)
		}
	}

	p, err := readProgress(ctx, tx, studentID, nodeKey, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.FromPostgres("commit init progress", err)
	}
	return p, nil
}

func (s *PostgresProgressStore) Get(ctx context.Context, studentID, nodeKey string) (*Progress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, apperr.FromPostgres("begin get progress", err)
	}
	defer tx.Rollback(ctx)

	return readProgress(ctx, tx, studentID, nodeKey, false)
}

func (s *PostgresProgressStore) ApplyOutcome(ctx context.Context, o Outcome, score ScoreFunc) (mastery.ChildProgress, *Progress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mastery.ChildProgress{}, nil, apperr.FromPostgres("begin apply outcome", err)
	}
	defer tx.Rollback(ctx)

	p, err := readProgress(ctx, tx, o.StudentID, o.NodeKey, true)
	if err != nil {
		return mastery.ChildProgress{}, nil, err
	}

	childKey := mastery.Normalize(o.ChildName)
	i := mastery.Find(p.Children, o.ChildName)
	if i < 0 {
		p.Children = append(p.Children, mastery.NewChildProgress(strings.TrimSpace(o.ChildName)))
		i = len(p.Children) - 1
		_, err = tx.Exec(ctx,
			`INSERT INTO roadmap_child_progress (student_id, node_key, child_key, child_name, position)
			 VALUES ($1, $2, $3, $4, $5)`,
			o.StudentID, o.NodeKey, childKey, p.Children[i].Name, i,
		)
		if err != nil {
			return mastery.ChildProgress{}, nil, apperr.FromPostgres("add child progress", err)
		}
	}

	cp := &p.Children[i]
	score(cp, o)

	_, err = tx.Exec(ctx,
		`UPDATE roadmap_child_progress
		 SET status = $4,
		     mastery_score = $5,
		     correct_count = $6,
		     total_count = $7,
		     attempts = $8,
		     time_spent_seconds = $9,
		     last_attempt_at = $10
		 WHERE student_id = $1 AND node_key = $2 AND child_key = $3`,
		o.StudentID, o.NodeKey, childKey,
		string(cp.Status), cp.MasteryScore, cp.CorrectCount, cp.TotalCount,
		cp.Attempts, cp.TimeSpentSeconds, cp.LastAttemptAt,
	)
	if err != nil {
		return mastery.ChildProgress{}, nil, apperr.FromPostgres("update child progress", err)
	}

	p.Status = scopedStatus(p.Children, o.NodeChildren)
	_, err = tx.Exec(ctx,
		`UPDATE roadmap_progress SET status = $3, updated_at = NOW()
		 WHERE student_id = $1 AND node_key = $2`,
		o.StudentID, o.NodeKey, string(p.Status),
	)
	if err != nil {
		return mastery.ChildProgress{}, nil, apperr.FromPostgres("update node progress", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mastery.ChildProgress{}, nil, apperr.FromPostgres("commit apply outcome", err)
	}
	return *cp, p, nil
}

// readProgress loads a ledger inside tx, optionally locking the header row.
func readProgress(ctx context.Context, tx pgx.Tx, studentID, nodeKey string, lock bool) (*Progress, error) {
	q := `SELECT status FROM roadmap_progress WHERE student_id = $1 AND node_key = $2`
	if lock {
		q += ` FOR UPDATE`
	}

	p := &Progress{StudentID: studentID, NodeKey: nodeKey}
	var status string
	err := tx.QueryRow(ctx, q, studentID, nodeKey).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, progressNotFound(studentID, nodeKey)
	}
	if err != nil {
		return nil, apperr.FromPostgres("read progress", err)
	}
	p.Status = mastery.Status(status)

	rows, err := tx.Query(ctx,
		`SELECT child_name, status, mastery_score, correct_count, total_count,
		        attempts, time_spent_seconds, last_attempt_at
		 FROM roadmap_child_progress
		 WHERE student_id = $1 AND node_key = $2
		 ORDER BY position ASC`,
		studentID, nodeKey,
	)
	if err != nil {
		return nil, apperr.FromPostgres("read child progress", err)
	}
	defer rows.Close()

	p.Children = []mastery.ChildProgress{}
	for rows.Next() {
		var (
			cp       mastery.ChildProgress
			cpStatus string
		)
		if err := rows.Scan(&cp.Name, &cpStatus, &cp.MasteryScore, &cp.CorrectCount, &cp.TotalCount,
			&cp.Attempts, &cp.TimeSpentSeconds, &cp.LastAttemptAt); err != nil {
			return nil, fmt.Errorf("scan child progress: %w", err)
		}
		cp.Status = mastery.Status(cpStatus)
		p.Children = append(p.Children, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.FromPostgres("iterate child progress", err)
	}
	return p, nil
}
