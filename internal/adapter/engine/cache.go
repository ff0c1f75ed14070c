package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb/encoding/wkt"

	"github.com/couchcryptid/landslide-rainfall-etl/internal/domain"
	"github.com/couchcryptid/landslide-rainfall-etl/internal/observability"
)

// CachedArchive wraps a RasterArchive with an in-memory LRU cache keyed on
// the full request.
type CachedArchive struct {
	inner   domain.RasterArchive
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedArchive creates a cache decorator around an archive. metrics may be nil.
func NewCachedArchive(inner domain.RasterArchive, maxEntries int, metrics *observability.Metrics) *CachedArchive {
	return &CachedArchive{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedArchive) ZonalReduce(ctx context.Context, req domain.ZonalRequest) (map[domain.Reducer]float64, error) {
	key := requestKey(req)
	if result, ok := c.cache.get(key); ok {
		c.record("hit")
		return result, nil
	}
	c.record("miss")

	result, err := c.inner.ZonalReduce(ctx, req)
	if err != nil {
		return result, err
	}
	// Partial answers are not cached so a later attempt can fill them in.
	if len(result) == len(req.Reducers) {
		c.cache.put(key, result)
	}
	return copyResult(result), nil
}

func (c *CachedArchive) record(result string) {
	if c.metrics != nil {
		c.metrics.ArchiveCache.WithLabelValues(result).Inc()
	}
}

func requestKey(req domain.ZonalRequest) string {
	reducers := make([]string, len(req.Reducers))
	for i, r := range req.Reducers {
		reducers[i] = string(r)
	}
	sort.Strings(reducers)

	geom := ""
	if req.Geometry != nil {
		geom = wkt.MarshalString(req.Geometry)
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%g|%d|%s",
		req.Stack.Asset, req.Stack.Band,
		req.Stack.Start.UTC().Format(time.RFC3339), req.Stack.End.UTC().Format(time.RFC3339),
		req.Composite, strings.Join(reducers, ","), req.Scale, req.MaxPixels, geom)
}

func copyResult(m map[domain.Reducer]float64) map[domain.Reducer]float64 {
	out := make(map[domain.Reducer]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// lruCache is a simple thread-safe LRU cache for zonal reduction results.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value map[domain.Reducer]float64
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (map[domain.Reducer]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return copyResult(e.value), true
}

func (c *lruCache) put(key string, value map[domain.Reducer]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value = copyResult(value)
	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
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
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
