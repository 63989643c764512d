// Package compiler turns notebooks into module programs.
package compiler

import (
	"context"
	"errors"
	"fmt"

	"github.com/l3aro/go-ojs/internal/log"
	"github.com/l3aro/go-ojs/pkg/cache"
	"github.com/l3aro/go-ojs/pkg/cell"
	"github.com/l3aro/go-ojs/pkg/expand"
	"github.com/l3aro/go-ojs/pkg/notebook"
	"github.com/l3aro/go-ojs/pkg/synth"
	"github.com/l3aro/go-ojs/pkg/writer"
)

// Diagnostic is the error of one cell.
type Diagnostic struct {
	Cell cell.ID `json:"cell"`
	Line int     `json:"line"`
	Err  error   `json:"-"`
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("cell %s (line %d): %v", d.Cell, d.Line, d.Err)
}

// Unwrap returns the cell error.
func (d Diagnostic) Unwrap() error { return d.Err }

// Kind names the error category.
func (d Diagnostic) Kind() string {
	var serr *cell.SyntaxError
	switch {
	case errors.As(d.Err, &serr):
		return "syntax"
	case errors.Is(d.Err, expand.ErrClassification):
		return "classification"
	case errors.Is(d.Err, synth.ErrSynthesis):
		return "synthesis"
	case errors.Is(d.Err, writer.ErrUnresolvable):
		return "import"
	default:
		return "error"
	}
}

// CellOutput is the compiled form of one cell.
type CellOutput struct {
	ID     cell.ID        `json:"id"`
	Line   int            `json:"line"`
	Names  []string       `json:"names,omitempty"`
	Result *expand.Result `json:"-"`
	Cached bool           `json:"cached,omitempty"`
}

// Output is a compiled notebook.
type Output struct {
	Path        string       `json:"path"`
	Program     string       `json:"-"`
	Cells       []CellOutput `json:"cells"`
	Diagnostics []Diagnostic `json:"-"`
}

// OK reports whether every cell compiled.
func (o *Output) OK() bool {
	return len(o.Diagnostics) == 0
}

// Compiler compiles notebooks. It is safe for concurrent use when its cache
// is.
type Compiler struct {
	cache   *cache.Cache
	logger  log.Logger
	writers []writer.Option
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithCache reuses expansions of unchanged cell sources.
func WithCache(c *cache.Cache) Option {
	return func(cp *Compiler) { cp.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(cp *Compiler) { cp.logger = l }
}

// WithWriterOptions sets the options of the program writer.
func WithWriterOptions(opts ...writer.Option) Option {
	return func(cp *Compiler) { cp.writers = append(cp.writers, opts...) }
}

// New creates a Compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{logger: log.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Expand parses and expands a single cell source, consulting the cache.
func (c *Compiler) Expand(ctx context.Context, source string) (*expand.Result, bool, error) {
	key := cache.Key(source)
	if c.cache != nil {
		if res, ok := c.cache.Get(key); ok {
			return res, true, nil
		}
	}

	p, err := cell.ParseCtx(ctx, source)
	if err != nil {
		return nil, false, err
	}
	res, err := expand.Expand(p)
	if err != nil {
		return nil, false, err
	}
	if c.cache != nil {
		c.cache.Put(key, res, len(source))
	}
	return res, false, nil
}

// Compile compiles every cell of nb. A failing cell is recorded as a
// diagnostic and left out of the program; the other cells still compile.
// Only context cancellation aborts the notebook.
func (c *Compiler) Compile(ctx context.Context, nb *notebook.Notebook) (*Output, error) {
	out := &Output{Path: nb.Path}
	w := writer.New(c.writers...)

	for _, cl := range nb.Cells {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, cached, err := c.Expand(ctx, cl.Source)
		if err == nil {
			err = w.AddCell(res)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			c.logger.Warn("cell skipped", "path", nb.Path, "cell", cl.ID, "line", cl.Line, "err", err)
			out.Diagnostics = append(out.Diagnostics, Diagnostic{Cell: cl.ID, Line: cl.Line, Err: err})
			continue
		}
		if cached {
			c.logger.Debug("cell cache hit", "path", nb.Path, "cell", cl.ID)
		}
		out.Cells = append(out.Cells, CellOutput{
			ID:     cl.ID,
			Line:   cl.Line,
			Names:  res.Names(),
			Result: res,
			Cached: cached,
		})
	}

	out.Program = w.String()
	return out, nil
}
