package roadmap

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/p-n-ai/pai-roadmap/internal/platform/cache"
	"github.com/p-n-ai/pai-roadmap/internal/platform/metrics"
)

const nodeCachePrefix = "roadmap:node:"

// CachedNodeStore is a read-through cache in front of a NodeStore. Nodes
// never change once stored, so only hits from the inner store are cached
// and nothing is ever invalidated. Cache failures fall through to the
// inner store.
type CachedNodeStore struct {
	inner   NodeStore
	cache   *cache.Cache
	ttl     time.Duration
	metrics *metrics.Metrics
}

// NewCachedNodeStore wraps inner. A zero ttl keeps entries without expiry.
func NewCachedNodeStore(inner NodeStore, c *cache.Cache, ttl time.Duration, m *metrics.Metrics) *CachedNodeStore {
	return &CachedNodeStore{inner: inner, cache: c, ttl: ttl, metrics: m}
}

func nodeCacheKey(key string) string {
	return nodeCachePrefix + key
}

func (s *CachedNodeStore) GetNode(ctx context.Context, key string) (*Node, error) {
	var n Node
	err := s.cache.GetJSON(ctx, nodeCacheKey(key), &n)
	switch {
	case err == nil:
		s.metrics.NodeCache("hit")
		return &n, nil
	case errors.Is(err, cache.ErrMiss):
		s.metrics.NodeCache("miss")
	default:
		s.metrics.NodeCache("error")
		slog.Warn("node cache read failed", "error", err)
	}

	node, err := s.inner.GetNode(ctx, key)
	if err != nil {
		return nil, err
	}
	s.store(ctx, node)
	return node, nil
}

func (s *CachedNodeStore) CreateNode(ctx context.Context, node *Node) error {
	if err := s.inner.CreateNode(ctx, node); err != nil {
		return err
	}
	s.store(ctx, node)
	return nil
}

func (s *CachedNodeStore) store(ctx context.Context, node *Node) {
	if err := s.cache.SetJSON(ctx, nodeCacheKey(node.NodeKey), node, s.ttl); err != nil {
		slog.Warn("node cache write failed", "error", err)
	}
}
