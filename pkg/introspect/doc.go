package introspect

import (
	"html"
	"strings"
)

// Doc is the parsed documentation of a procedure.
type Doc struct {
	// Raw is the description text, field lists removed.
	Raw string
	// HTML is Raw rendered as escaped paragraphs.
	HTML string
	// ArgsDoc maps argument names to their ":param name:" text.
	ArgsDoc map[string]string
	// ArgsTypes maps argument names to their ":type name:" text.
	ArgsTypes map[string]string
	// ReturnDoc is the ":return:" text.
	ReturnDoc string
	// ReturnType is the ":rtype:" text.
	ReturnType string
}

// ParseDoc parses documentation text. Lines starting with a reST field
// (":param x:", ":type x:", ":return:", ":returns:", ":rtype:") feed the
// matching field; indented lines following a field continue it. Everything
// else is description.
func ParseDoc(text string) *Doc {
	d := &Doc{
		ArgsDoc:   make(map[string]string),
		ArgsTypes: make(map[string]string),
	}

	var desc []string
	var cont func(string)
	for _, line := range strings.Split(dedent(text), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, ":") {
			if next := d.field(trimmed); next != nil {
				cont = next
				continue
			}
		}
		if cont != nil && trimmed != "" && startsIndented(line) {
			cont(trimmed)
			continue
		}
		cont = nil
		desc = append(desc, strings.TrimRight(line, " \t"))
	}

	d.Raw = strings.TrimSpace(strings.Join(desc, "\n"))
	d.HTML = renderHTML(d.Raw)
	return d
}

// field stores a field line and returns a func appending continuation text
// to the same field, or nil when the line is not a known field.
func (d *Doc) field(line string) func(string) {
	end := strings.Index(line[1:], ":")
	if end < 0 {
		return nil
	}
	head := strings.Fields(line[1 : end+1])
	value := strings.TrimSpace(line[end+2:])
	if len(head) == 0 {
		return nil
	}

	switch head[0] {
	case "param":
		if len(head) < 2 || len(head) > 3 {
			return nil
		}
		name := head[len(head)-1]
		// ":param int x:" declares the type inline.
		if len(head) == 3 {
			d.ArgsTypes[name] = head[1]
		}
		d.ArgsDoc[name] = value
		return func(more string) { d.ArgsDoc[name] = joinText(d.ArgsDoc[name], more) }
	case "type":
		if len(head) != 2 {
			return nil
		}
		name := head[1]
		d.ArgsTypes[name] = value
		return func(more string) { d.ArgsTypes[name] = joinText(d.ArgsTypes[name], more) }
	case "return", "returns":
		d.ReturnDoc = value
		return func(more string) { d.ReturnDoc = joinText(d.ReturnDoc, more) }
	case "rtype":
		d.ReturnType = value
		return func(more string) { d.ReturnType = joinText(d.ReturnType, more) }
	}
	return nil
}

func joinText(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}

func dedent(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	indent := -1
	for i, l := range lines {
		if i == 0 || strings.TrimSpace(l) == "" {
			continue
		}
		n := len(l) - len(strings.TrimLeft(l, " \t"))
		if indent < 0 || n < indent {
			indent = n
		}
	}
	if indent <= 0 {
		return text
	}
	for i, l := range lines {
		if i == 0 || len(l) < indent {
			lines[i] = strings.TrimLeft(l, " \t")
			continue
		}
		lines[i] = l[indent:]
	}
	return strings.Join(lines, "\n")
}

func startsIndented(line string) bool {
	return strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")
}

func renderHTML(raw string) string {
	if raw == "" {
		return ""
	}
	var b strings.Builder
	for _, para := range strings.Split(raw, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		lines := strings.Split(para, "\n")
		for i := range lines {
			lines[i] = html.EscapeString(strings.TrimSpace(lines[i]))
		}
		b.WriteString("<p>")
		b.WriteString(strings.Join(lines, "<br/>"))
		b.WriteString("</p>")
	}
	return b.String()
}
