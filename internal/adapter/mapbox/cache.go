package mapbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/hazard-sync/internal/domain"
	"github.com/couchcryptid/hazard-sync/internal/observability"
)

// CachedPlanner wraps a RoutePlanner with an in-memory LRU cache keyed by
// origin and destination rounded to about 10 m.
type CachedPlanner struct {
	inner   domain.RoutePlanner
	cache   *lruCache[[]domain.Route]
	metrics *observability.Metrics
}

// NewCachedPlanner creates a cache decorator around a planner.
func NewCachedPlanner(inner domain.RoutePlanner, maxEntries int, metrics *observability.Metrics) *CachedPlanner {
	return &CachedPlanner{
		inner:   inner,
		cache:   newLRUCache[[]domain.Route](maxEntries),
		metrics: metrics,
	}
}

func (c *CachedPlanner) Plan(ctx context.Context, origin, destination orb.Point) ([]domain.Route, error) {
	key := fmt.Sprintf("%.4f,%.4f;%.4f,%.4f", origin.Lon(), origin.Lat(), destination.Lon(), destination.Lat())
	if routes, ok := c.cache.get(key); ok {
		c.metrics.RouteCache.WithLabelValues("hit").Inc()
		return routes, nil
	}
	c.metrics.RouteCache.WithLabelValues("miss").Inc()

	routes, err := c.inner.Plan(ctx, origin, destination)
	if err != nil {
		return nil, err
	}
	// Only cache non-empty results so a transient "no route" can be retried.
	if len(routes) > 0 {
		c.cache.put(key, routes)
	}
	return routes, nil
}

// lruCache is a thread-safe LRU cache backed by a map and a doubly linked list.
type lruCache[V any] struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry[V]
	head       *entry[V] // most recently used
	tail       *entry[V] // least recently used
}

type entry[V any] struct {
	key        string
	value      V
	prev, next *entry[V]
}

func newLRUCache[V any](maxEntries int) *lruCache[V] {
	return &lruCache[V]{
		maxEntries: max(maxEntries, 1),
		entries:    make(map[string]*entry[V]),
	}
}

func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.unlink(e)
	c.pushFront(e)
	return e.value, true
}

func (c *lruCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.unlink(e)
		c.pushFront(e)
		return
	}

	e := &entry[V]{key: key, value: value}
	c.entries[key] = e
	c.pushFront(e)

	for len(c.entries) > c.maxEntries && c.tail != nil {
		oldest := c.tail
		c.unlink(oldest)
		delete(c.entries, oldest.key)
	}
}

func (c *lruCache[V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache[V]) pushFront(e *entry[V]) {
	e.prev, e.next = nil, c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache[V]) unlink(e *entry[V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}
