package module

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Module is one successful execution of a mounted source.
type Module struct {
	ID         string
	Generation int
	Source     string

	globals starlark.StringDict
	loader  *Loader
}

// Function is a callable bound in a module.
type Function struct {
	Name string
	Doc  string

	// Arity is the number of required positional parameters. Builtins and
	// other non-def callables report 0.
	Arity int

	module   string
	callable starlark.Callable
	loader   *Loader
}

// Function looks up a callable by name, private names included.
func (m *Module) Function(name string) (*Function, bool) {
	v, ok := m.globals[name]
	if !ok {
		return nil, false
	}
	c, ok := v.(starlark.Callable)
	if !ok {
		return nil, false
	}
	return m.wrap(name, c), true
}

// Functions returns every public callable in the module, sorted by name.
func (m *Module) Functions() []*Function {
	names := m.globals.Keys()
	fns := make([]*Function, 0, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, "_") {
			continue
		}
		if fn, ok := m.Function(name); ok {
			fns = append(fns, fn)
		}
	}
	return fns
}

// Names returns the names of the module's public callables, sorted.
func (m *Module) Names() []string {
	fns := m.Functions()
	names := make([]string, len(fns))
	for i, fn := range fns {
		names[i] = fn.Name
	}
	return names
}

func (m *Module) wrap(name string, c starlark.Callable) *Function {
	fn := &Function{Name: name, module: m.ID, callable: c, loader: m.loader}
	if sf, ok := c.(*starlark.Function); ok {
		fn.Doc = sf.Doc()
		fn.Arity = requiredPositional(sf)
	}
	return fn
}

// requiredPositional counts positional parameters without a default.
func requiredPositional(fn *starlark.Function) int {
	positional := fn.NumParams() - fn.NumKwonlyParams()
	if fn.HasVarargs() {
		positional--
	}
	if fn.HasKwargs() {
		positional--
	}
	n := 0
	for i := 0; i < positional; i++ {
		if fn.ParamDefault(i) == nil {
			n++
		}
	}
	return n
}

// arityMismatch matches the argument-count errors starlark-go reports from
// setArgs in starlark/eval.go:
//
//	function f accepts no arguments (1 given)
//	function f accepts 0 positional arguments (1 given)
//	function f accepts at most 1 positional argument (2 given)
//	function f missing 1 argument (b)
var arityMismatch = regexp.MustCompile(`accepts no arguments|accepts (at most )?\d+ positional argument|missing \d+ arguments?`)

// Call invokes the function. With Arity 0 no argument is passed; otherwise
// arg is coerced and passed as the only positional argument. If that fails
// with an arity mismatch the call is retried once with no arguments.
func (f *Function) Call(ctx context.Context, arg *string) (string, error) {
	var args starlark.Tuple
	if f.Arity > 0 {
		args = starlark.Tuple{Coerce(arg)}
	}

	v, err := f.loader.call(ctx, f.module, f.callable, args)
	if err != nil && len(args) > 0 && arityMismatch.MatchString(err.Error()) {
		v, err = f.loader.call(ctx, f.module, f.callable, nil)
	}
	if err != nil {
		return "", err
	}
	out := Stringify(v)
	if limit := f.loader.maxResult; limit > 0 && len(out) > limit {
		return "", fmt.Errorf("result is %d bytes, limit is %d", len(out), limit)
	}
	return out, nil
}

// Coerce converts a textual argument to the narrowest Starlark value:
// integer, float, boolean, else string. nil becomes None.
func Coerce(arg *string) starlark.Value {
	if arg == nil {
		return starlark.None
	}
	s := strings.TrimSpace(*arg)
	if looksNumeric(s) {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return starlark.MakeInt64(i)
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return starlark.Float(f)
		}
	}
	switch {
	case strings.EqualFold(s, "true"):
		return starlark.True
	case strings.EqualFold(s, "false"):
		return starlark.False
	}
	return starlark.String(*arg)
}

// looksNumeric keeps words like "inf" and "NaN" out of ParseFloat.
func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	if c == '-' || c == '+' {
		if len(s) == 1 {
			return false
		}
		c = s[1]
	}
	return (c >= '0' && c <= '9') || c == '.'
}

// Stringify renders a result. Strings are returned without quotes.
func Stringify(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}

// SourceOf returns the text of the last top-level def of name in src.
func SourceOf(src, name string) (string, bool) {
	f, err := syntax.Parse("source.star", src, 0)
	if err != nil {
		return "", false
	}

	var found *syntax.DefStmt
	for _, stmt := range f.Stmts {
		if def, ok := stmt.(*syntax.DefStmt); ok && def.Name.Name == name {
			found = def
		}
	}
	if found == nil {
		return "", false
	}

	start, end := found.Span()
	lines := strings.Split(src, "\n")
	first, last := int(start.Line)-1, int(end.Line)-1
	if first < 0 || last >= len(lines) || first > last {
		return "", false
	}
	return strings.Join(lines[first:last+1], "\n"), true
}

// Defined returns the names of top-level defs in src in order of appearance,
// including repeats.
func Defined(src string) []string {
	f, err := syntax.Parse("source.star", src, 0)
	if err != nil {
		return nil
	}
	var names []string
	for _, stmt := range f.Stmts {
		if def, ok := stmt.(*syntax.DefStmt); ok {
			names = append(names, def.Name.Name)
		}
	}
	return names
}
