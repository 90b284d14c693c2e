// Package roadmap implements the hierarchical learning roadmap: curriculum
// nodes generated once per key and cached forever, per-learner mastery
// ledgers over each node's children, and the service that ties them together.
package roadmap

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/p-n-ai/pai-roadmap/internal/mastery"
	"github.com/p-n-ai/pai-roadmap/internal/nodekey"
	"github.com/p-n-ai/pai-roadmap/internal/platform/apperr"
)

// ErrNodeExists is returned by CreateNode when the key is already taken.
// It matches apperr.ErrConflict.
var ErrNodeExists = fmt.Errorf("node already exists: %w", apperr.ErrConflict)

// Child is one generated subtopic of a node.
type Child struct {
	Name string `json:"name"`
}

// Node is an immutable curriculum node. Children are fixed the first time
// the node is stored.
type Node struct {
	NodeKey     string    `json:"node_key"`
	SubjectID   string    `json:"subject_id"`
	SubjectName string    `json:"subject_name"`
	Path        []string  `json:"path"`
	Name        string    `json:"name"`
	Children    []Child   `json:"children"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChildNames returns the children's names in order.
func (n *Node) ChildNames() []string {
	names := make([]string, len(n.Children))
	for i, c := range n.Children {
		names[i] = c.Name
	}
	return names
}

// HasChild reports whether name matches one of the node's children after
// trimming and case normalization.
func (n *Node) HasChild(name string) bool {
	key := mastery.Normalize(name)
	for _, c := range n.Children {
		if mastery.Normalize(c.Name) == key {
			return true
		}
	}
	return false
}

func (n *Node) clone() *Node {
	c := *n
	c.Path = slices.Clone(n.Path)
	c.Children = slices.Clone(n.Children)
	return &c
}

// NodeRequest addresses a node by subject and path from the subject root.
type NodeRequest struct {
	SubjectID   string
	SubjectName string
	Path        []string
	// StudentID attributes a generation to the learner who triggered it.
	// Optional.
	StudentID string
}

// Key returns the node key for the request.
func (r NodeRequest) Key() string {
	return nodekey.Build(r.SubjectID, r.Path)
}

// Name is the title of the node: the last path segment, or the subject
// name at the root.
func (r NodeRequest) Name() string {
	if len(r.Path) == 0 {
		return r.SubjectName
	}
	return r.Path[len(r.Path)-1]
}

// Context lists the node's ancestors from the subject down, for prompting.
func (r NodeRequest) Context() []string {
	if len(r.Path) == 0 {
		return nil
	}
	ctx := make([]string, 0, len(r.Path))
	ctx = append(ctx, r.SubjectName)
	ctx = append(ctx, r.Path[:len(r.Path)-1]...)
	return ctx
}

// NodeStore persists curriculum nodes. CreateNode is create-if-absent:
// it never overwrites and reports ErrNodeExists when the key is taken.
type NodeStore interface {
	GetNode(ctx context.Context, key string) (*Node, error)
	CreateNode(ctx context.Context, node *Node) error
}

func nodeNotFound(key string) *apperr.NotFoundError {
	return &apperr.NotFoundError{Resource: "node", ID: nodekey.Readable(key)}
}

// IsNodeExists reports whether err is a lost create race.
func IsNodeExists(err error) bool {
	return errors.Is(err, apperr.ErrConflict)
}

// MemoryNodeStore is an in-memory NodeStore.
type MemoryNodeStore struct {
	nodes map[string]*Node
	mu    sync.RWMutex
}

// NewMemoryNodeStore creates an empty in-memory node store.
func NewMemoryNodeStore() *MemoryNodeStore {
	return &MemoryNodeStore{
		nodes: make(map[string]*Node),
	}
}

func (s *MemoryNodeStore) GetNode(_ context.Context, key string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[key]
	if !ok {
		return nil, nodeNotFound(key)
	}
	return n.clone(), nil
}

func (s *MemoryNodeStore) CreateNode(_ context.Context, node *Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[node.NodeKey]; ok {
		return ErrNodeExists
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now().UTC()
	}
	s.nodes[node.NodeKey] = node.clone()
	return nil
}

// Len returns the number of stored nodes.
func (s *MemoryNodeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}
