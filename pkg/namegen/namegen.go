// Package namegen produces candidate names for named channel endpoints.
//
// A Generator yields a lazy, unbounded sequence of names. Every name carries
// the generator's random salt and a monotonically increasing counter, so no
// two names from one generator collide, and names from different generators
// (or processes) collide only if their salts do. Collisions with endpoints
// that already exist are resolved by the binder, which draws the next name.
package namegen

import (
	"iter"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DefaultPrefix starts every generated name unless overridden
const DefaultPrefix = "pipecheck"

// Generator produces candidate endpoint names. It is safe for concurrent use.
type Generator struct {
	prefix     string
	dir        string
	salt       string
	namespaced bool

	mu      sync.Mutex
	counter uint64
}

// Option configures a Generator
type Option func(*Generator)

// WithPrefix sets the fixed name prefix
func WithPrefix(prefix string) Option {
	return func(g *Generator) {
		if prefix != "" {
			g.prefix = prefix
		}
	}
}

// WithDir sets the directory for filesystem socket names. Ignored for
// namespaced names and on Windows.
func WithDir(dir string) Option {
	return func(g *Generator) {
		if dir != "" {
			g.dir = dir
		}
	}
}

// WithNamespaced selects the Linux abstract socket namespace ("@name"),
// which needs no filesystem entry.
func WithNamespaced(namespaced bool) Option {
	return func(g *Generator) {
		g.namespaced = namespaced
	}
}

// WithSalt fixes the salt instead of drawing a random one
func WithSalt(salt string) Option {
	return func(g *Generator) {
		if salt != "" {
			g.salt = salt
		}
	}
}

// New creates a generator with a fresh random salt
func New(opts ...Option) *Generator {
	g := &Generator{
		prefix: DefaultPrefix,
		dir:    os.TempDir(),
		salt:   strings.ReplaceAll(uuid.New().String(), "-", "")[:12],
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Salt returns the generator's salt
func (g *Generator) Salt() string {
	return g.salt
}

// Next returns the next candidate name
func (g *Generator) Next() string {
	g.mu.Lock()
	n := g.counter
	g.counter++
	g.mu.Unlock()

	return g.format(n)
}

// Names returns the unbounded candidate sequence. Stopping the iteration
// (as the binder does on its first success) draws no further names.
func (g *Generator) Names() iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			if !yield(g.Next()) {
				return
			}
		}
	}
}
