// Package module loads capability artifacts as Starlark modules and calls the
// functions they define.
package module

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/hpungsan/lichen/internal/errors"
)

// fileOptions allow top-level control flow and global reassignment, so a later
// def shadows an earlier one with the same name.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Source supplies module text. *artifact.Store satisfies it.
type Source interface {
	Read() (string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (string, error)

// Read calls f.
func (f SourceFunc) Read() (string, error) { return f() }

// Loader executes mounted sources into modules and keeps the resident one per id.
type Loader struct {
	mu          sync.Mutex
	sources     map[string]Source
	resident    map[string]*Module
	libraries   map[string]starlark.StringDict
	predeclared starlark.StringDict
	timeout     time.Duration
	maxSteps    uint64
	maxResult   int
	logger      *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLibrary makes members loadable with load(name, ...).
func WithLibrary(name string, members starlark.StringDict) Option {
	return func(l *Loader) {
		l.libraries[name] = members
	}
}

// WithTimeout bounds every execution by wall clock. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(l *Loader) {
		l.timeout = d
	}
}

// WithMaxSteps bounds every execution in interpreter steps. Zero means unlimited.
func WithMaxSteps(n uint64) Option {
	return func(l *Loader) {
		l.maxSteps = n
	}
}

// WithMaxResultBytes bounds the rendered result of a call. Zero means unlimited.
func WithMaxResultBytes(n int) Option {
	return func(l *Loader) {
		l.maxResult = n
	}
}

// WithLogger sets the logger used for print() output and load diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader returns a Loader with json, math and struct predeclared.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		sources:   make(map[string]Source),
		resident:  make(map[string]*Module),
		libraries: make(map[string]starlark.StringDict),
		predeclared: starlark.StringDict{
			"json":   json.Module,
			"math":   math.Module,
			"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Mount associates id with a source. Mounting again replaces the source but
// keeps the resident module until the next LoadOrReload.
func (l *Loader) Mount(id string, src Source) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sources[id] = src
}

// LoadOrReload re-reads the source mounted at id, executes it into a fresh
// global environment and makes the result the resident module. On failure
// the previous resident module is kept and a RELOAD_ERROR is returned.
func (l *Loader) LoadOrReload(ctx context.Context, id string) (*Module, error) {
	l.mu.Lock()
	src, ok := l.sources[id]
	prev := l.resident[id]
	l.mu.Unlock()
	if !ok {
		return nil, errors.NewReload(id, fmt.Errorf("no source mounted"))
	}

	text, err := src.Read()
	if err != nil {
		return nil, errors.NewReload(id, err)
	}

	globals, err := l.exec(ctx, id, text)
	if err != nil {
		return nil, errors.NewReload(id, err)
	}

	m := &Module{
		ID:      id,
		Source:  text,
		globals: globals,
		loader:  l,
	}
	if prev != nil {
		m.Generation = prev.Generation + 1
	} else {
		m.Generation = 1
	}

	l.mu.Lock()
	l.resident[id] = m
	l.mu.Unlock()

	l.logger.Debug("module loaded", "module", id, "generation", m.Generation, "functions", len(m.Functions()))
	return m, nil
}

// Resident returns the current module for id, or nil if it never loaded.
func (l *Loader) Resident(id string) *Module {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resident[id]
}

// Check executes src in a scratch environment and discards the result.
// Each name in defines must come out as a callable global. The resident
// module is untouched.
func (l *Loader) Check(ctx context.Context, id, src string, defines ...string) error {
	globals, err := l.exec(ctx, id, src)
	if err != nil {
		return errors.NewReload(id, err)
	}
	for _, name := range defines {
		if _, ok := globals[name].(starlark.Callable); !ok {
			return errors.NewUndefined(name)
		}
	}
	return nil
}

// exec runs src as a file named id under the loader's limits.
func (l *Loader) exec(ctx context.Context, id, src string) (starlark.StringDict, error) {
	thread, done := l.newThread(ctx, id)
	defer done()

	var (
		globals starlark.StringDict
		err     error
		pc      panics.Catcher
	)
	pc.Try(func() {
		globals, err = starlark.ExecFileOptions(fileOptions, thread, id+".star", src, l.predeclared)
	})
	if r := pc.Recovered(); r != nil {
		return nil, r.AsError()
	}
	if err != nil {
		return nil, describe(err)
	}
	globals.Freeze()
	return globals, nil
}

// call invokes fn under the loader's limits.
func (l *Loader) call(ctx context.Context, id string, fn starlark.Callable, args starlark.Tuple) (starlark.Value, error) {
	thread, done := l.newThread(ctx, id)
	defer done()

	var (
		v   starlark.Value
		err error
		pc  panics.Catcher
	)
	pc.Try(func() {
		v, err = starlark.Call(thread, fn, args, nil)
	})
	if r := pc.Recovered(); r != nil {
		return nil, r.AsError()
	}
	if err != nil {
		return nil, describe(err)
	}
	return v, nil
}

// newThread builds a thread that carries ctx, enforces the step budget and is
// cancelled when ctx (or the execution timeout) expires. done releases the watcher.
func (l *Loader) newThread(ctx context.Context, id string) (*starlark.Thread, func()) {
	thread := &starlark.Thread{
		Name: id,
		Load: l.load,
		Print: func(_ *starlark.Thread, msg string) {
			l.logger.Info("capability print", "module", id, "msg", msg)
		},
	}
	if l.maxSteps > 0 {
		thread.SetMaxExecutionSteps(l.maxSteps)
	}

	cancel := func() {}
	if l.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
	}
	thread.SetLocal(contextKey, ctx)

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-stop:
		}
	}()

	return thread, func() {
		close(stop)
		cancel()
	}
}

func (l *Loader) load(_ *starlark.Thread, name string) (starlark.StringDict, error) {
	if lib, ok := l.libraries[name]; ok {
		return lib, nil
	}
	return nil, fmt.Errorf("unknown library %q", name)
}

// Libraries returns the names loadable with load(), sorted.
func (l *Loader) Libraries() []string {
	names := make([]string, 0, len(l.libraries))
	for name := range l.libraries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// describe prefers the Starlark backtrace for evaluation errors.
func describe(err error) error {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return fmt.Errorf("%s", evalErr.Backtrace())
	}
	return err
}

const contextKey = "lichen.context"

// ContextOf returns the context an execution was started with.
// Builtins use it for collaborator calls.
func ContextOf(thread *starlark.Thread) context.Context {
	if ctx, ok := thread.Local(contextKey).(context.Context); ok {
		return ctx
	}
	return context.Background()
}
