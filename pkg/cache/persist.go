package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// FormatVersion is bumped whenever the persisted record shape changes.
// Files written with another version are ignored on load.
const FormatVersion = 1

// DefaultFile is the file name of a persisted cache inside a cache directory.
const DefaultFile = "cells.msgpack"

type snapshot struct {
	Version int      `msgpack:"version"`
	Records []Record `msgpack:"records"`
}

// Save writes the records, least recently used first, as msgpack.
func (c *Cache) Save(w io.Writer) error {
	c.mu.Lock()
	snap := snapshot{Version: FormatVersion, Records: make([]Record, 0, len(c.items))}
	for item := c.lru.tail; item != nil; item = item.prev {
		snap.Records = append(snap.Records, item.Record)
	}
	c.mu.Unlock()

	return msgpack.NewEncoder(w).Encode(&snap)
}

// Load replaces the cache contents with records written by Save. A snapshot
// of another format version leaves the cache empty.
func (c *Cache) Load(r io.Reader) error {
	var snap snapshot
	if err := msgpack.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("decoding cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*listItem)
	c.lru = list{}
	c.currentBytes = 0
	if snap.Version != FormatVersion {
		return nil
	}
	for _, rec := range snap.Records {
		item := &listItem{Record: rec}
		if old, ok := c.items[rec.Key]; ok {
			c.lru.remove(old)
			c.currentBytes -= int64(old.Size)
		}
		c.items[rec.Key] = item
		c.lru.pushFront(item)
		c.currentBytes += int64(rec.Size)
	}
	c.evict()
	return nil
}

// SaveFile persists the cache to path, replacing it atomically.
func (c *Cache) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".cache-*")
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := c.Save(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// LoadFile restores the cache from path. A missing file is not an error.
func (c *Cache) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("opening cache file: %w", err)
	}
	defer f.Close()
	return c.Load(f)
}
