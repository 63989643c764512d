// Package resolve turns import locators into module-defining artifacts.
//
// Locators starting with "." or "/" name sibling notebook files, which are
// loaded, split into cells and registered into a child module. Anything else
// is a remote notebook reference handed to a Fetcher.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/l3aro/go-ojs/internal/log"
	"github.com/l3aro/go-ojs/pkg/graph"
	"github.com/l3aro/go-ojs/pkg/notebook"
	"github.com/l3aro/go-ojs/pkg/synth"
)

const (
	// DefaultOrigin serves compiled remote notebooks.
	DefaultOrigin = "https://api.observablehq.com"
	// DefaultVersion is the compiled module format requested from the origin.
	DefaultVersion = "3"
)

var (
	// ErrCircularImport is returned when a local notebook imports itself,
	// directly or through other notebooks.
	ErrCircularImport = errors.New("circular import")
	// ErrNoFetcher is returned for remote locators when no Fetcher is set.
	ErrNoFetcher = errors.New("remote notebooks are not available")
	// ErrInvalidLocator is returned for locators that name nothing.
	ErrInvalidLocator = errors.New("invalid locator")
)

// Kind classifies a locator.
type Kind int

const (
	Remote Kind = iota
	Local
)

func (k Kind) String() string {
	if k == Local {
		return "local"
	}
	return "remote"
}

// Classify reports whether locator names a local file or a remote notebook.
func Classify(locator string) Kind {
	if strings.HasPrefix(locator, ".") || strings.HasPrefix(locator, "/") {
		return Local
	}
	return Remote
}

var notebookID = regexp.MustCompile(`^[0-9a-f]{16}$`)

// URL returns the address a compiled notebook is loaded from. Remote
// locators map to "<origin>/<path>.js?v=<version>", where path is
// "@user/slug" or "d/<id>"; a bare 16-digit hex id is treated as "d/<id>".
// Local notebook locators keep their path with a .js extension.
func URL(origin, version, locator string) (string, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return "", ErrInvalidLocator
	}
	if Classify(locator) == Local {
		ext := filepath.Ext(locator)
		switch strings.ToLower(ext) {
		case ".ojs", ".omd", ".md":
			return strings.TrimSuffix(locator, ext) + ".js", nil
		}
		return locator, nil
	}

	path := strings.TrimPrefix(locator, "https://observablehq.com/")
	path = strings.TrimSuffix(path, ".js")
	switch {
	case strings.HasPrefix(path, "@"):
		if strings.Count(path, "/") != 1 || strings.HasSuffix(path, "/") {
			return "", fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
		}
	case strings.HasPrefix(path, "d/"):
		if !notebookID.MatchString(strings.TrimPrefix(path, "d/")) {
			return "", fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
		}
	case notebookID.MatchString(path):
		path = "d/" + path
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
	}

	if origin == "" {
		origin = DefaultOrigin
	}
	if version == "" {
		version = DefaultVersion
	}
	return strings.TrimSuffix(origin, "/") + "/" + path + ".js?v=" + url.QueryEscape(version), nil
}

// Fetcher loads remote notebooks. Network access is left to the host.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) (graph.Definer, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, locator string) (graph.Definer, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, locator string) (graph.Definer, error) {
	return f(ctx, locator)
}

// Resolver resolves local locators against a directory and delegates remote
// ones to its Fetcher.
type Resolver struct {
	dir     string
	fetcher Fetcher
	factory *synth.Factory
	logger  log.Logger
	// stack holds the absolute paths of the notebooks being imported.
	stack []string
}

var _ graph.Resolver = (*Resolver)(nil)

// Option configures a Resolver.
type Option func(*Resolver)

// WithFetcher sets the fetcher for remote notebooks.
func WithFetcher(f Fetcher) Option {
	return func(r *Resolver) { r.fetcher = f }
}

// WithFactory sets the factory used by child modules.
func WithFactory(f *synth.Factory) Option {
	return func(r *Resolver) { r.factory = f }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New creates a Resolver for local locators relative to dir.
func New(dir string, opts ...Option) *Resolver {
	r := &Resolver{dir: dir, logger: log.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Within returns a copy of r used while defining the notebook at path.
func (r *Resolver) Within(path string) *Resolver {
	child := *r
	child.dir = filepath.Dir(path)
	child.stack = append(slices.Clone(r.stack), path)
	return &child
}

// Resolve implements graph.Resolver.
func (r *Resolver) Resolve(ctx context.Context, locator string) (graph.Definer, error) {
	if Classify(locator) == Remote {
		if r.fetcher == nil {
			return nil, fmt.Errorf("%w: %q", ErrNoFetcher, locator)
		}
		if _, err := URL("", "", locator); err != nil {
			return nil, err
		}
		return r.fetcher.Fetch(ctx, locator)
	}
	return r.local(ctx, locator)
}

// Path returns the absolute file a local locator names.
func (r *Resolver) Path(locator string) (string, error) {
	path := locator
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.dir, filepath.FromSlash(locator))
	}
	return filepath.Abs(path)
}

func (r *Resolver) local(ctx context.Context, locator string) (graph.Definer, error) {
	path, err := r.Path(locator)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", locator, err)
	}
	if slices.Contains(r.stack, path) {
		return nil, fmt.Errorf("%w: %s", ErrCircularImport, strings.Join(append(slices.Clone(r.stack), path), " -> "))
	}
	nb, err := notebook.Load(path)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("local notebook loaded", "path", path, "cells", len(nb.Cells))

	within := r.Within(path)
	return graph.DefinerFunc(func(rt graph.Runtime, inspect graph.InspectorFactory) (graph.Module, error) {
		return within.define(ctx, rt, inspect, nb)
	}), nil
}

// define registers every cell of nb into a fresh module of rt. Failing cells
// are logged and skipped; a circular import fails the whole module.
func (r *Resolver) define(ctx context.Context, rt graph.Runtime, inspect graph.InspectorFactory, nb *notebook.Notebook) (graph.Module, error) {
	opts := []graph.Option{graph.WithResolver(r), graph.WithLogger(r.logger)}
	if inspect != nil {
		opts = append(opts, graph.WithInspectors(inspect))
	}
	if r.factory != nil {
		opts = append(opts, graph.WithFactory(r.factory))
	}
	child, err := graph.New(rt, opts...)
	if err != nil {
		return nil, err
	}
	for _, c := range nb.Cells {
		if err := child.Register(ctx, c.ID, c.Source); err != nil {
			if errors.Is(err, ErrCircularImport) || ctx.Err() != nil {
				return nil, err
			}
			r.logger.Warn("imported cell failed", "path", nb.Path, "line", c.Line, "err", err)
		}
	}
	return child.Module(), nil
}
