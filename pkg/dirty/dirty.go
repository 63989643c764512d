// Package dirty tracks which notebooks changed since they were last compiled.
// Notebooks are compared by content hash; a notebook is also stale when its
// output is missing or it was compiled with different settings.
package dirty

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DefaultStateFile is the file name of the persisted state.
const DefaultStateFile = "dirty.json"

const stateVersion = 1

// fileState is what was recorded for one notebook.
type fileState struct {
	Path        string `json:"path"`
	Hash        string `json:"hash"`
	Output      string `json:"output"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Compiled    int64  `json:"compiled"` // Unix timestamp
}

type stateData struct {
	Version int         `json:"version"`
	Files   []fileState `json:"files"`
}

// Tracker records compiled notebooks. It is safe for concurrent use.
type Tracker struct {
	mu          sync.RWMutex
	files       map[string]fileState
	path        string
	fingerprint string
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithFingerprint sets a digest of the compile settings. Notebooks compiled
// under another fingerprint are stale.
func WithFingerprint(fp string) Option {
	return func(t *Tracker) { t.fingerprint = fp }
}

// New creates a Tracker persisted under dir.
func New(dir string, opts ...Option) *Tracker {
	t := &Tracker{
		files: make(map[string]fileState),
		path:  filepath.Join(dir, DefaultStateFile),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Hash returns the content hash of a file.
func Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Stale reports whether the notebook at path must be compiled into output.
// It also returns the notebook's current hash for MarkCompiled.
func (t *Tracker) Stale(path, output string) (bool, string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, "", fmt.Errorf("resolving %s: %w", path, err)
	}
	hash, err := Hash(abs)
	if err != nil {
		return false, "", err
	}

	t.mu.RLock()
	state, ok := t.files[abs]
	t.mu.RUnlock()

	switch {
	case !ok, state.Hash != hash, state.Fingerprint != t.fingerprint, state.Output != output:
		return true, hash, nil
	}
	if _, err := os.Stat(output); err != nil {
		return true, hash, nil
	}
	return false, hash, nil
}

// MarkCompiled records that the notebook with content hash was compiled
// into output.
func (t *Tracker) MarkCompiled(path, hash, output string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files[abs] = fileState{
		Path:        abs,
		Hash:        hash,
		Output:      output,
		Fingerprint: t.fingerprint,
		Compiled:    time.Now().Unix(),
	}
	return nil
}

// Forget stops tracking path, so it is stale on the next check.
func (t *Tracker) Forget(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.files, abs)
}

// Prune forgets notebooks that no longer exist and returns their paths.
func (t *Tracker) Prune() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var gone []string
	for path := range t.files {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			gone = append(gone, path)
			delete(t.files, path)
		}
	}
	sort.Strings(gone)
	return gone
}

// Len returns the number of tracked notebooks.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.files)
}

// Save persists the state.
func (t *Tracker) Save() error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	f, err := os.Create(t.path)
	if err != nil {
		return fmt.Errorf("creating state file: %w", err)
	}
	defer f.Close()
	return t.SaveTo(f)
}

// Load restores the state. A missing file is not an error.
func (t *Tracker) Load() error {
	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("opening state file: %w", err)
	}
	defer f.Close()
	return t.LoadFrom(f)
}

// SaveTo writes the state as JSON.
func (t *Tracker) SaveTo(w io.Writer) error {
	t.mu.RLock()
	data := stateData{Version: stateVersion, Files: make([]fileState, 0, len(t.files))}
	for _, state := range t.files {
		data.Files = append(data.Files, state)
	}
	t.mu.RUnlock()
	sort.Slice(data.Files, func(i, j int) bool { return data.Files[i].Path < data.Files[j].Path })

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	return nil
}

// LoadFrom replaces the state with JSON written by SaveTo. State of another
// version is discarded.
func (t *Tracker) LoadFrom(r io.Reader) error {
	var data stateData
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return fmt.Errorf("decoding state: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.files = make(map[string]fileState, len(data.Files))
	if data.Version != stateVersion {
		return nil
	}
	for _, state := range data.Files {
		t.files[state.Path] = state
	}
	return nil
}
