package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/l3aro/go-ojs/pkg/expand"
	"github.com/l3aro/go-ojs/pkg/synth"
)

func result(name string) *expand.Result {
	return &expand.Result{Definitions: []expand.Definition{{
		Name:     name,
		Inputs:   []string{"a"},
		Func:     &synth.Function{Params: []string{"a"}, Body: "return (a\n);"},
		Observed: true,
	}}}
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("x = 1"), Key("x = 1"))
	assert.NotEqual(t, Key("x = 1"), Key("x = 2"))
	assert.Len(t, Key(""), 64)
}

func TestCache_Basic(t *testing.T) {
	c := New(Options{MaxEntries: 3})

	c.Put("a", result("a"), 1)
	c.Put("b", result("b"), 1)

	assert.Equal(t, 2, c.Len())
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", got.Definitions[0].Name)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCache_LRUEviction(t *testing.T) {
	var evicted []string
	c := New(Options{MaxEntries: 3, OnEvict: func(key string) { evicted = append(evicted, key) }})

	c.Put("a", result("a"), 1)
	c.Put("b", result("b"), 1)
	c.Put("c", result("c"), 1)

	// Access 'a' to make it most recently used
	c.Get("a")
	c.Put("d", result("d"), 1)

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"b"}, evicted)
	_, ok := c.Get("b")
	assert.False(t, ok, "b should have been evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestCache_MaxBytes(t *testing.T) {
	c := New(Options{MaxBytes: 10})

	c.Put("a", result("a"), 4)
	c.Put("b", result("b"), 4)
	assert.Equal(t, 2, c.Len())

	c.Put("c", result("c"), 4)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(8), c.Stats().CurrentBytes)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCache_Update(t *testing.T) {
	c := New(Options{})

	c.Put("k", result("old"), 5)
	c.Put("k", result("new"), 3)

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(3), c.Stats().CurrentBytes)
	got, _ := c.Get("k")
	assert.Equal(t, "new", got.Definitions[0].Name)
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := New(Options{})
	c.Put("a", result("a"), 2)
	c.Put("b", result("b"), 2)

	c.Delete("a")
	c.Delete("missing")
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(2), c.Stats().CurrentBytes)

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.Stats().CurrentBytes)
}

func TestCache_Stats(t *testing.T) {
	c := New(Options{})
	assert.Equal(t, 0.0, c.HitRate())

	c.Put("a", result("a"), 1)
	c.Get("a")
	c.Get("a")
	c.Get("b")

	s := c.Stats()
	assert.Equal(t, int64(2), s.HitCount)
	assert.Equal(t, int64(1), s.MissCount)
	assert.InDelta(t, 2.0/3.0, c.HitRate(), 1e-9)
}

func TestCache_SaveLoad(t *testing.T) {
	c := New(Options{})
	c.Put("a", result("a"), 1)
	c.Put("b", result("b"), 2)
	c.Get("a")

	var buf bytes.Buffer
	require.NoError(t, c.Save(&buf))

	loaded := New(Options{MaxEntries: 2})
	require.NoError(t, loaded.Load(&buf))
	assert.Equal(t, 2, loaded.Len())
	assert.Equal(t, int64(3), loaded.Stats().CurrentBytes)

	got, ok := loaded.Get("b")
	require.True(t, ok)
	assert.Equal(t, result("b"), got)

	// Recency survives: after touching b, a is the oldest.
	loaded.Put("c", result("c"), 1)
	_, ok = loaded.Get("a")
	assert.False(t, ok)
}

func TestCache_LoadOtherVersion(t *testing.T) {
	data, err := msgpack.Marshal(&snapshot{Version: FormatVersion + 1, Records: []Record{{Key: "a", Result: result("a")}}})
	require.NoError(t, err)

	c := New(Options{})
	c.Put("x", result("x"), 1)
	require.NoError(t, c.Load(bytes.NewReader(data)))
	assert.Equal(t, 0, c.Len())
}

func TestCache_LoadCorrupt(t *testing.T) {
	c := New(Options{})
	assert.Error(t, c.Load(bytes.NewReader([]byte{0xc1})))
}

func TestCache_Files(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cells.cache")

	c := New(Options{})
	require.NoError(t, c.LoadFile(path), "missing file is not an error")

	c.Put(Key("x = 1"), result("x"), 5)
	require.NoError(t, c.SaveFile(path))
	_, err := os.Stat(path)
	require.NoError(t, err)

	restored := New(Options{})
	require.NoError(t, restored.LoadFile(path))
	got, ok := restored.Get(Key("x = 1"))
	require.True(t, ok)
	assert.Equal(t, "x", got.Definitions[0].Name)
}
