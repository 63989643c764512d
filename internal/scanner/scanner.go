// Package scanner finds notebook files in a directory tree. It respects
// .ojsignore files with gitignore semantics, at the root and in nested
// directories.
package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// FileInfo describes a discovered notebook.
type FileInfo struct {
	Path     string // Relative path from root, slash separated
	FullPath string // Absolute path
	Kind     string // "ojs" or "omd"
	Size     int64
}

// Options configures the scanner behavior.
type Options struct {
	SkipHidden      bool     // Skip hidden files and directories (starting with .)
	Extensions      []string // Notebook extensions, with the leading dot
	DefaultExcludes []string // Directory names never descended into
	IgnoreFileName  string   // Name of the ignore file (default: .ojsignore)
}

// DefaultOptions returns scanner options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		SkipHidden:     true,
		Extensions:     []string{".ojs", ".omd"},
		IgnoreFileName: ".ojsignore",
		DefaultExcludes: []string{
			"node_modules",
			".git",
			".hg",
			".svn",
			"dist",
			"build",
			"vendor",
			".idea",
			".vscode",
		},
	}
}

// Kind returns the notebook kind of a file extension, or "" when ext is not
// a notebook extension.
func Kind(ext string) string {
	switch strings.ToLower(ext) {
	case ".ojs":
		return "ojs"
	case ".omd", ".md":
		return "omd"
	}
	return ""
}

// Scanner walks directory trees.
type Scanner struct {
	opts Options
}

// New creates a new Scanner with the given options.
func New(opts Options) *Scanner {
	if opts.IgnoreFileName == "" {
		opts.IgnoreFileName = ".ojsignore"
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultOptions().Extensions
	}
	return &Scanner{opts: opts}
}

// ignoreFile is a compiled ignore file and the directory it applies to,
// relative to the scan root ("" for the root).
type ignoreFile struct {
	dir string
	gi  *ignore.GitIgnore
}

// Scan returns the notebooks under root sorted by path.
func (s *Scanner) Scan(root string) ([]FileInfo, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scanning %s: not a directory", root)
	}

	var (
		files   []FileInfo
		ignores []ignoreFile
	)
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." {
				if (s.opts.SkipHidden && strings.HasPrefix(d.Name(), ".")) || s.excluded(d.Name()) || ignored(ignores, rel, true) {
					return filepath.SkipDir
				}
			}
			gi, err := s.loadIgnore(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", filepath.Join(path, s.opts.IgnoreFileName), err)
			}
			if gi != nil {
				dir := rel
				if dir == "." {
					dir = ""
				}
				ignores = append(ignores, ignoreFile{dir: dir, gi: gi})
			}
			return nil
		}

		if s.opts.SkipHidden && strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if !d.Type().IsRegular() || !s.notebook(d.Name()) || ignored(ignores, rel, false) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, FileInfo{
			Path:     rel,
			FullPath: path,
			Kind:     Kind(filepath.Ext(path)),
			Size:     fi.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func (s *Scanner) notebook(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range s.opts.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

func (s *Scanner) excluded(name string) bool {
	for _, exclude := range s.opts.DefaultExcludes {
		if strings.EqualFold(name, exclude) {
			return true
		}
	}
	return false
}

func (s *Scanner) loadIgnore(dir string) (*ignore.GitIgnore, error) {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(dir, s.opts.IgnoreFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return gi, err
}

// ignored reports whether any ignore file in effect for rel matches it.
func ignored(ignores []ignoreFile, rel string, dir bool) bool {
	for _, f := range ignores {
		sub := rel
		if f.dir != "" {
			if !strings.HasPrefix(rel, f.dir+"/") {
				continue
			}
			sub = strings.TrimPrefix(rel, f.dir+"/")
		}
		if f.gi.MatchesPath(sub) || (dir && f.gi.MatchesPath(sub+"/")) {
			return true
		}
	}
	return false
}

// Scan is a convenience function that scans a directory with default options.
func Scan(root string) ([]FileInfo, error) {
	return New(DefaultOptions()).Scan(root)
}
