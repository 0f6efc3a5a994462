// Package tilecache stores previously fetched map regions and their records
// so that small pans and repeated views are served without a network call.
package tilecache

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/hazard-sync/internal/domain"
)

// DefaultCapacity is the number of tiles retained per source.
const DefaultCapacity = 10

// Tile is the result of one successful fetch.
type Tile struct {
	Bounds    domain.Viewport
	Records   []domain.PointRecord
	FetchedAt time.Time
}

// Cache holds tiles for a single data source, oldest first. Tiles may
// overlap. Expired tiles are purged lazily on every read. Not safe for
// concurrent use.
type Cache struct {
	ttl      time.Duration
	capacity int
	clock    clockwork.Clock
	tiles    []Tile
}

// New creates a Cache. A capacity below 1 falls back to DefaultCapacity.
func New(ttl time.Duration, capacity int, clock clockwork.Clock) *Cache {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Cache{ttl: ttl, capacity: capacity, clock: clock}
}

// LookupCovering returns the newest live tile whose bounds fully contain v.
func (c *Cache) LookupCovering(v domain.Viewport) (Tile, bool) {
	c.purge()
	for i := len(c.tiles) - 1; i >= 0; i-- {
		if c.tiles[i].Bounds.Contains(v) {
			return c.tiles[i], true
		}
	}
	return Tile{}, false
}

// MergeOverlapping unions the records of every live tile intersecting v,
// de-duplicated by ID. Newer tiles are visited first and the first occurrence
// of an ID wins. The result is never nil.
func (c *Cache) MergeOverlapping(v domain.Viewport) []domain.PointRecord {
	c.purge()
	merged := make([]domain.PointRecord, 0)
	seen := make(map[string]struct{})
	for i := len(c.tiles) - 1; i >= 0; i-- {
		t := c.tiles[i]
		if !t.Bounds.Intersects(v) {
			continue
		}
		for _, r := range t.Records {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			merged = append(merged, r)
		}
	}
	return merged
}

// Insert appends a tile, evicting the oldest tiles beyond capacity. Tiles
// with zero records are stored like any other so empty areas are not
// re-queried until they expire.
func (c *Cache) Insert(t Tile) {
	c.tiles = append(c.tiles, t)
	if over := len(c.tiles) - c.capacity; over > 0 {
		clear(c.tiles[:over])
		c.tiles = c.tiles[over:]
	}
}

// Len returns the number of live tiles.
func (c *Cache) Len() int {
	c.purge()
	return len(c.tiles)
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Fresh reports whether a tile fetched at t is still live.
func (c *Cache) Fresh(t time.Time) bool {
	return c.clock.Now().Sub(t) < c.ttl
}

func (c *Cache) purge() {
	live := c.tiles[:0]
	for _, t := range c.tiles {
		if c.Fresh(t.FetchedAt) {
			live = append(live, t)
		}
	}
	clear(c.tiles[len(live):])
	c.tiles = live
}
