package capability

import (
	"fmt"
	"strings"

	"github.com/hpungsan/lichen/internal/errors"
)

// Recognized spec keys.
const (
	KeyName   = "name"
	KeyParams = "params"
	KeyBody   = "body"
	KeyDoc    = "doc"
	KeyArg    = "arg"
)

// Parse parses a "key:value;key:value" capability spec.
//
// Segments without a colon are skipped; keys are case-insensitive and a later
// duplicate key wins. The body is split on "|" when present, otherwise on the
// two-character sequence `\n`. Blank body lines are dropped and the common
// leading indentation is removed, so relative indentation survives.
//
// Failures are SPEC_ERROR values whose message is meant for the caller as-is.
func Parse(spec string) (*Request, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, errors.NewSpecError("spec is empty")
	}

	parts := make(map[string]string)
	for _, segment := range strings.Split(spec, ";") {
		key, value, ok := strings.Cut(segment, ":")
		if !ok {
			continue
		}
		parts[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	body := splitBody(parts[KeyBody])
	if len(body) == 0 {
		return nil, errors.NewSpecError("body is empty")
	}

	req := &Request{
		Name:   parts[KeyName],
		Params: splitParams(parts[KeyParams]),
		Body:   body,
		Doc:    parts[KeyDoc],
	}
	if req.Name == "" {
		req.Name = DefaultName
	}
	if arg, ok := parts[KeyArg]; ok {
		req.ExecArg = &arg
	}

	name := req.FuncName()
	if name[0] >= '0' && name[0] <= '9' {
		return nil, errors.NewSpecError(fmt.Sprintf("name %q must not start with a digit", name))
	}
	if IsReserved(name) {
		return nil, errors.NewSpecError(fmt.Sprintf("name %q is a reserved word", name))
	}
	if IsPreambleBinding(name) {
		return nil, errors.NewSpecError(fmt.Sprintf("name %q is a preamble binding", name))
	}

	return req, nil
}

// splitBody splits the raw body value into non-blank, dedented lines.
func splitBody(raw string) []string {
	var lines []string
	if strings.Contains(raw, "|") {
		lines = strings.Split(raw, "|")
	} else {
		lines = strings.Split(strings.ReplaceAll(raw, `\n`, "\n"), "\n")
	}

	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
	}
	return dedent(kept)
}

// dedent strips the longest common run of leading spaces/tabs.
func dedent(lines []string) []string {
	if len(lines) == 0 {
		return nil
	}
	common := -1
	for _, line := range lines {
		n := len(line) - len(strings.TrimLeft(line, " \t"))
		if common < 0 || n < common {
			common = n
		}
	}
	if common <= 0 {
		return lines
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = line[common:]
	}
	return out
}

// splitParams splits a declaration list on top-level commas, so defaults like
// "pair=(1, 2)" stay intact.
func splitParams(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var (
		params []string
		depth  int
		quote  rune
		start  int
	)
	for i, c := range raw {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			if depth > 0 {
				depth--
			}
		case c == ',' && depth == 0:
			params = appendParam(params, raw[start:i])
			start = i + 1
		}
	}
	return appendParam(params, raw[start:])
}

func appendParam(params []string, p string) []string {
	p = strings.TrimSpace(p)
	if p == "" {
		return params
	}
	return append(params, p)
}
