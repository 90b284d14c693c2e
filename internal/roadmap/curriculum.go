package roadmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/p-n-ai/pai-roadmap/internal/activity"
	"github.com/p-n-ai/pai-roadmap/internal/nodekey"
	"github.com/p-n-ai/pai-roadmap/internal/platform/apperr"
	"github.com/p-n-ai/pai-roadmap/internal/platform/metrics"
)

const defaultGenerationTimeout = 20 * time.Second

// CurriculumConfig wires a Curriculum.
type CurriculumConfig struct {
	Store             NodeStore
	Generator         Generator
	Events            activity.Logger
	Metrics           *metrics.Metrics
	GenerationTimeout time.Duration // default 20s
	MaxChildren       int           // default 8
}

// Curriculum returns curriculum nodes, generating each one at most once.
type Curriculum struct {
	store       NodeStore
	generator   Generator
	events      activity.Logger
	metrics     *metrics.Metrics
	timeout     time.Duration
	maxChildren int

	flights singleflight.Group
}

// NewCurriculum creates a Curriculum. A nil Store falls back to memory.
func NewCurriculum(cfg CurriculumConfig) *Curriculum {
	store := cfg.Store
	if store == nil {
		store = NewMemoryNodeStore()
	}
	events := cfg.Events
	if events == nil {
		events = activity.NopLogger{}
	}
	timeout := cfg.GenerationTimeout
	if timeout <= 0 {
		timeout = defaultGenerationTimeout
	}
	maxChildren := cfg.MaxChildren
	if maxChildren <= 0 {
		maxChildren = DefaultMaxChildren
	}
	return &Curriculum{
		store:       store,
		generator:   cfg.Generator,
		events:      events,
		metrics:     cfg.Metrics,
		timeout:     timeout,
		maxChildren: maxChildren,
	}
}

// Store returns the underlying node store.
func (c *Curriculum) Store() NodeStore {
	return c.store
}

// validateRequest rejects a missing subject and blank or oversized segments.
func validateRequest(req NodeRequest) error {
	if strings.TrimSpace(req.SubjectID) == "" {
		return apperr.Invalid("subject_id", "is required")
	}
	for i, seg := range req.Path {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			return apperr.Invalid("path", "segment %d is empty", i)
		}
		if utf8.RuneCountInString(seg) > maxTopicRunes {
			return apperr.Invalid("path", "segment %d is longer than %d characters", i, maxTopicRunes)
		}
	}
	return nil
}

// GetOrCreateNode returns the stored node for req, generating and storing
// it first if no node exists under its key. A stored node is never
// regenerated. If another writer stores the key first, its node is returned
// and the locally generated children are discarded.
func (c *Curriculum) GetOrCreateNode(ctx context.Context, req NodeRequest) (*Node, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	req.Path = trimmed(req.Path)
	key := req.Key()

	node, err := c.store.GetNode(ctx, key)
	if err == nil {
		return node, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, fmt.Errorf("load node: %w", err)
	}

	// Concurrent callers for the same key share one generation. The flight
	// runs detached from any single caller's cancellation.
	v, err, shared := c.flights.Do(key, func() (any, error) {
		return c.create(context.WithoutCancel(ctx), key, req)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		slog.Debug("joined in-flight node generation", "node_key", nodekey.Readable(key))
	}
	return v.(*Node).clone(), nil
}

func (c *Curriculum) create(ctx context.Context, key string, req NodeRequest) (*Node, error) {
	// A previous flight may have stored the node between our miss and now.
	if node, err := c.store.GetNode(ctx, key); err == nil {
		return node, nil
	} else if !apperr.IsNotFound(err) {
		return nil, fmt.Errorf("load node: %w", err)
	}

	children, err := c.generate(ctx, key, req)
	if err != nil {
		return nil, err
	}

	node := &Node{
		NodeKey:     key,
		SubjectID:   req.SubjectID,
		SubjectName: req.SubjectName,
		Path:        req.Path,
		Name:        req.Name(),
		Children:    make([]Child, len(children)),
	}
	for i, name := range children {
		node.Children[i] = Child{Name: name}
	}

	err = c.store.CreateNode(ctx, node)
	if IsNodeExists(err) {
		c.metrics.NodeConflict()
		slog.Info("node already created by another writer, using stored node",
			"node_key", nodekey.Readable(key),
		)
		winner, err := c.store.GetNode(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("reload node after conflict: %w", err)
		}
		return winner, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store node: %w", err)
	}

	slog.Info("node generated",
		"node_key", nodekey.Readable(key),
		"subject_id", req.SubjectID,
		"children", len(node.Children),
	)
	if req.StudentID != "" {
		activity.Record(ctx, c.events, activity.Event{
			StudentID: req.StudentID,
			SubjectID: req.SubjectID,
			NodeKey:   key,
			Type:      activity.NodeGenerated,
			Data: map[string]any{
				"name":     node.Name,
				"children": len(node.Children),
			},
		})
	}
	return node, nil
}

func (c *Curriculum) generate(ctx context.Context, key string, req NodeRequest) ([]string, error) {
	readable := nodekey.Readable(key)
	if c.generator == nil {
		return nil, &apperr.GenerationError{Node: readable, Err: errors.New("no generator configured")}
	}

	genCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	raw, err := c.generator.GenerateChildren(genCtx, req.Name(), req.Context())
	elapsed := time.Since(start)

	var children []string
	if err == nil {
		children = CleanChildren(raw, c.maxChildren)
		if len(children) == 0 {
			err = errEmptyOutput
		}
	}
	if err != nil {
		if genCtx.Err() != nil {
			err = fmt.Errorf("%w: %w", err, genCtx.Err())
		}
		c.metrics.ObserveGeneration("failed", elapsed)
		slog.Error("curriculum generation failed",
			"node_key", readable,
			"elapsed", elapsed,
			"error", err,
		)
		return nil, &apperr.GenerationError{Node: readable, Err: err}
	}

	c.metrics.ObserveGeneration("ok", elapsed)
	return children, nil
}

func trimmed(path []string) []string {
	if len(path) == 0 {
		return nil
	}
	out := make([]string, len(path))
	for i, seg := range path {
		out[i] = strings.TrimSpace(seg)
	}
	return out
}
