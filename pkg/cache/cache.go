// Package cache keeps expanded cells keyed by a hash of their source, in
// memory with LRU eviction and on disk as msgpack.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/l3aro/go-ojs/pkg/expand"
)

// Key returns the cache key of a cell source.
func Key(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Record is one cached cell expansion.
type Record struct {
	Key       string         `msgpack:"key"`
	Result    *expand.Result `msgpack:"result"`
	CreatedAt int64          `msgpack:"created_at"`
	Size      int            `msgpack:"size"` // source bytes, used for accounting
}

// Options configures a Cache.
type Options struct {
	// MaxEntries is the maximum number of records. 0 means unlimited.
	MaxEntries int

	// MaxBytes bounds the summed source size of the records. 0 means
	// unlimited.
	MaxBytes int64

	// OnEvict is called when a record is evicted.
	OnEvict func(key string)
}

// Stats reports cache usage.
type Stats struct {
	Length       int   `json:"length"`
	CurrentBytes int64 `json:"current_bytes"`
	HitCount     int64 `json:"hit_count"`
	MissCount    int64 `json:"miss_count"`
}

// Cache is a concurrency-safe LRU of cell expansions.
type Cache struct {
	mu           sync.Mutex
	items        map[string]*listItem
	lru          list
	maxEntries   int
	maxBytes     int64
	currentBytes int64
	onEvict      func(key string)
	hits, misses int64
}

type listItem struct {
	Record
	prev, next *listItem
}

// list is a doubly-linked list, most recently used at the head.
type list struct {
	head, tail *listItem
	len        int
}

func (l *list) pushFront(item *listItem) {
	item.prev = nil
	item.next = l.head
	if l.head != nil {
		l.head.prev = item
	}
	l.head = item
	if l.tail == nil {
		l.tail = item
	}
	l.len++
}

func (l *list) remove(item *listItem) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		l.head = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	} else {
		l.tail = item.prev
	}
	item.prev, item.next = nil, nil
	l.len--
}

func (l *list) moveToFront(item *listItem) {
	if item == l.head {
		return
	}
	l.remove(item)
	l.pushFront(item)
}

// New creates an empty cache.
func New(opts Options) *Cache {
	return &Cache{
		items:      make(map[string]*listItem),
		maxEntries: opts.MaxEntries,
		maxBytes:   opts.MaxBytes,
		onEvict:    opts.OnEvict,
	}
}

// Get returns the expansion cached under key.
func (c *Cache) Get(key string) (*expand.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.lru.moveToFront(item)
	return item.Result, true
}

// Put stores the expansion of a cell source of size bytes under key.
func (c *Cache) Put(key string, res *expand.Result, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, ok := c.items[key]; ok {
		c.currentBytes += int64(size - item.Size)
		item.Result, item.Size = res, size
		c.lru.moveToFront(item)
		c.evict()
		return
	}

	item := &listItem{Record: Record{
		Key:       key,
		Result:    res,
		CreatedAt: time.Now().Unix(),
		Size:      size,
	}}
	c.items[key] = item
	c.lru.pushFront(item)
	c.currentBytes += int64(size)
	c.evict()
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, ok := c.items[key]; ok {
		c.drop(item)
	}
}

// Clear removes every record.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*listItem)
	c.lru = list{}
	c.currentBytes = 0
}

// Len returns the number of records.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns usage counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Length:       len(c.items),
		CurrentBytes: c.currentBytes,
		HitCount:     c.hits,
		MissCount:    c.misses,
	}
}

// HitRate returns the fraction of lookups that hit.
func (c *Cache) HitRate() float64 {
	s := c.Stats()
	total := s.HitCount + s.MissCount
	if total == 0 {
		return 0
	}
	return float64(s.HitCount) / float64(total)
}

func (c *Cache) evict() {
	for c.lru.tail != nil && c.over() {
		c.drop(c.lru.tail)
	}
}

func (c *Cache) over() bool {
	if c.maxEntries > 0 && c.lru.len > c.maxEntries {
		return true
	}
	return c.maxBytes > 0 && c.currentBytes > c.maxBytes
}

func (c *Cache) drop(item *listItem) {
	c.lru.remove(item)
	delete(c.items, item.Key)
	c.currentBytes -= int64(item.Size)
	if c.onEvict != nil {
		c.onEvict(item.Key)
	}
}
