package graph

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"flowbot/internal/model"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// activeTable maps workflow ids to their live version. It is never mutated
// once published; invalidation swaps in a new table.
type activeTable struct {
	versions map[string]int
	fallback *Ref
}

// Cache memoizes graphs per (workflowId, version) in front of a Repository.
// Published versions are immutable, so cached graphs are shared read-only.
type Cache struct {
	repo   Repository
	logger *zap.Logger
	graphs *expirable.LRU[string, *model.WorkflowGraph]
	group  singleflight.Group
	active atomic.Pointer[activeTable]
}

// NewCache wraps repo. size bounds the number of cached versions; ttl of 0
// keeps entries until evicted by size.
func NewCache(repo Repository, size int, ttl time.Duration, logger *zap.Logger) *Cache {
	if size <= 0 {
		size = 64
	}
	c := &Cache{
		repo:   repo,
		logger: logger,
		graphs: expirable.NewLRU[string, *model.WorkflowGraph](size, nil, ttl),
	}
	c.active.Store(&activeTable{versions: map[string]int{}})
	return c
}

func graphKey(workflowID string, version int) string {
	return fmt.Sprintf("%s@%d", workflowID, version)
}

// LoadGraph returns the graph for workflowID at version, or at the active
// version when version is 0.
func (c *Cache) LoadGraph(ctx context.Context, workflowID string, version int) (*model.WorkflowGraph, error) {
	if version == 0 {
		v, err := c.ActiveVersion(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		version = v
	}

	key := graphKey(workflowID, version)
	if g, ok := c.graphs.Get(key); ok {
		return g, nil
	}

	v, err := c.shared(ctx, "graph:"+key, func(ctx context.Context) (interface{}, error) {
		if g, ok := c.graphs.Get(key); ok {
			return g, nil
		}
		g, err := c.repo.LoadGraph(ctx, workflowID, version)
		if err != nil {
			return nil, err
		}
		c.graphs.Add(key, g)
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.WorkflowGraph), nil
}

func (c *Cache) ActiveVersion(ctx context.Context, workflowID string) (int, error) {
	if v, ok := c.active.Load().versions[workflowID]; ok {
		return v, nil
	}

	v, err := c.shared(ctx, "active:"+workflowID, func(ctx context.Context) (interface{}, error) {
		return c.repo.ActiveVersion(ctx, workflowID)
	})
	if err != nil {
		return 0, err
	}
	version := v.(int)
	c.publish(func(t *activeTable) { t.versions[workflowID] = version })
	return version, nil
}

func (c *Cache) ActiveWorkflow(ctx context.Context) (Ref, error) {
	if ref := c.active.Load().fallback; ref != nil {
		return *ref, nil
	}

	v, err := c.shared(ctx, "active", func(ctx context.Context) (interface{}, error) {
		return c.repo.ActiveWorkflow(ctx)
	})
	if err != nil {
		return Ref{}, err
	}
	ref := v.(Ref)
	c.publish(func(t *activeTable) {
		t.fallback = &ref
		t.versions[ref.WorkflowID] = ref.Version
	})
	return ref, nil
}

// shared runs fn once per key for all concurrent callers. The load itself
// is detached from any single caller's cancellation; each caller stops
// waiting when its own ctx is done.
func (c *Cache) shared(ctx context.Context, key string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return fn(loadCtx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops the active pointers for workflowID and the default
// workflow. Cached versions stay, they are immutable. An empty workflowID
// drops every active pointer.
func (c *Cache) Invalidate(ctx context.Context, workflowID string) error {
	if r, ok := c.repo.(Reloader); ok {
		if err := r.Reload(ctx); err != nil {
			return fmt.Errorf("failed to reload graph source: %w", err)
		}
	}

	if workflowID == "" {
		c.active.Store(&activeTable{versions: map[string]int{}})
	} else {
		c.publish(func(t *activeTable) {
			delete(t.versions, workflowID)
			t.fallback = nil
		})
	}
	c.logger.Info("Workflow activation invalidated", zap.String("workflow_id", workflowID))
	return nil
}

// publish copies the current table, applies mutate and swaps it in.
func (c *Cache) publish(mutate func(t *activeTable)) {
	for {
		old := c.active.Load()
		next := &activeTable{versions: make(map[string]int, len(old.versions)+1), fallback: old.fallback}
		for k, v := range old.versions {
			next.versions[k] = v
		}
		mutate(next)
		if c.active.CompareAndSwap(old, next) {
			return
		}
	}
}
