package roadmap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-n-ai/pai-roadmap/internal/platform/apperr"
)

const dbTimeout = 5 * time.Second

// PostgresNodeStore stores nodes in curriculum_nodes. The node_key primary
// key decides creation races.
type PostgresNodeStore struct {
	pool *pgxpool.Pool
}

// NewPostgresNodeStore creates a PostgreSQL-backed NodeStore.
func NewPostgresNodeStore(pool *pgxpool.Pool) (*PostgresNodeStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresNodeStore{pool: pool}, nil
}

func (s *PostgresNodeStore) GetNode(ctx context.Context, key string) (*Node, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var (
		n        Node
		children []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT node_key, subject_id, subject_name, path, name, children, created_at
		 FROM curriculum_nodes
		 WHERE node_key = $1`,
		key,
	).Scan(&n.NodeKey, &n.SubjectID, &n.SubjectName, &n.Path, &n.Name, &children, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nodeNotFound(key)
	}
	if err != nil {
		return nil, apperr.FromPostgres("get node", err)
	}

	if err := json.Unmarshal(children, &n.Children); err != nil {
		return nil, fmt.Errorf("decode children of %s: %w", key, err)
	}
	return &n, nil
}

func (s *PostgresNodeStore) CreateNode(ctx context.Context, node *Node) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	children, err := json.Marshal(node.Children)
	if err != nil {
		return fmt.Errorf("encode children: %w", err)
	}
	path := node.Path
	if path == nil {
		path = []string{}
	}

	var createdAt time.Time
	err = s.pool.QueryRow(ctx,
		`INSERT INTO curriculum_nodes (node_key, subject_id, subject_name, path, name, children)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		 ON CONFLICT (node_key) DO NOTHING
		 RETURNING created_at`,
		node.NodeKey,
		node.SubjectID,
		node.SubjectName,
		path,
		node.Name,
		string(children),
	).Scan(&createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNodeExists
	}
	if err != nil {
		return apperr.FromPostgres("create node", err)
	}

	node.CreatedAt = createdAt
	return nil
}
