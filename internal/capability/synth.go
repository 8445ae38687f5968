package capability

import "strings"

const indent = "    "

// Render produces the appendable definition for req:
//
//	\ndef <name>(<params>):\n    """<doc>"""\n    <line>\n...
//
// The docstring line is omitted when Doc is empty and an empty body renders as
// a single pass statement. Render does no validation.
func Render(req *Request) string {
	var b strings.Builder

	b.WriteString("\ndef ")
	b.WriteString(req.FuncName())
	b.WriteString("(")
	b.WriteString(strings.Join(req.Params, ", "))
	b.WriteString("):\n")

	if req.Doc != "" {
		b.WriteString(indent)
		b.WriteString(`"""`)
		b.WriteString(escapeDoc(req.Doc))
		b.WriteString(`"""`)
		b.WriteString("\n")
	}

	wrote := false
	for _, line := range req.Body {
		if strings.TrimSpace(line) == "" {
			continue
		}
		b.WriteString(indent)
		b.WriteString(line)
		b.WriteString("\n")
		wrote = true
	}
	if !wrote {
		b.WriteString(indent)
		b.WriteString("pass\n")
	}

	return b.String()
}

// escapeDoc keeps a docstring from terminating its triple-quoted literal early.
func escapeDoc(doc string) string {
	doc = strings.ReplaceAll(doc, `\`, `\\`)
	doc = strings.ReplaceAll(doc, `"""`, `\"\"\"`)
	if strings.HasSuffix(doc, `"`) {
		doc = doc[:len(doc)-1] + `\"`
	}
	return doc
}
