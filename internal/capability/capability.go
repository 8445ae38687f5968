// Package capability turns flat capability specs into Starlark function
// definitions. It parses, validates and renders; it never touches disk.
package capability

import "strings"

// DefaultName is used when a spec carries no name (or nothing survives sanitizing).
const DefaultName = "generated_tool"

// Request is a parsed capability spec.
type Request struct {
	// Name is the name as given in the spec. Use FuncName for the bound name.
	Name string

	// Params are the raw parameter declarations, in order (e.g. "user", "limit=10").
	Params []string

	// Body holds the logic lines, in order. Never empty after Parse.
	Body []string

	// Doc is an optional docstring.
	Doc string

	// ExecArg is the argument for the first execution, nil when the spec has no arg key.
	ExecArg *string
}

// FuncName returns the sanitized function name.
func (r *Request) FuncName() string {
	name := Sanitize(r.Name)
	if name == "" {
		return DefaultName
	}
	return name
}

// Arity returns the number of required positional parameters declared in Params.
// Parameters with defaults and variadic parameters are not counted.
func (r *Request) Arity() int {
	n := 0
	for _, p := range r.Params {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "*") || strings.Contains(p, "=") {
			continue
		}
		n++
	}
	return n
}

// Sanitize removes every character that is not an ASCII letter, digit or underscore.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, c := range name {
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// IsPublic reports whether a bound name is exposed as a tool.
func IsPublic(name string) bool {
	return name != "" && !strings.HasPrefix(name, "_")
}

// reserved lists Starlark keywords plus the Python keywords Starlark reserves.
var reserved = map[string]bool{
	"and": true, "as": true, "assert": true, "async": true, "await": true,
	"break": true, "class": true, "continue": true, "def": true, "del": true,
	"elif": true, "else": true, "except": true, "finally": true, "for": true,
	"from": true, "global": true, "if": true, "import": true, "in": true,
	"is": true, "lambda": true, "load": true, "nonlocal": true, "not": true,
	"or": true, "pass": true, "raise": true, "return": true, "try": true,
	"while": true, "with": true, "yield": true,
}

// IsReserved reports whether name is a reserved word.
func IsReserved(name string) bool {
	return reserved[name]
}

// PreambleBindings are the directory builtins the artifact preamble loads.
// load() bindings are file-local, so a def with one of these names would
// rebind it for the rest of the artifact instead of defining a global.
var PreambleBindings = []string{"current_user", "user_groups", "list_users", "list_groups", "privileged_accounts"}

// IsPreambleBinding reports whether name is loaded by the artifact preamble.
func IsPreambleBinding(name string) bool {
	for _, b := range PreambleBindings {
		if b == name {
			return true
		}
	}
	return false
}
