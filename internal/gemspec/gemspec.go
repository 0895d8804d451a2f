// Package gemspec reads and rewrites RubyGems specification files as a
// structured document. The packager edits the manifest through typed
// operations on the parsed form, so the result stays syntactically valid
// Ruby no matter how the attribute lines are formatted.
package gemspec

import (
	"fmt"
	"regexp"
	"strings"
)

// Document is a parsed gemspec: raw lines interleaved with the attribute
// statements the packager rewrites. Only the file list and the extensions
// attribute are given structure; everything else round-trips verbatim.
type Document struct {
	segments []segment
	files    *listStatement
}

type segment interface {
	render(b *strings.Builder)
}

type rawLine string

func (l rawLine) render(b *strings.Builder) {
	b.WriteString(string(l))
	b.WriteByte('\n')
}

// listStatement is one "receiver.attribute = [ ... ]" assignment whose
// right-hand side is an array of string literals.
type listStatement struct {
	receiver    string
	attribute   string
	indent      string
	entryIndent string
	multiline   bool
	tail        string
	removed     bool
	entries     []entry
}

// entry is a single string literal in a list. The raw token is kept so
// untouched entries render byte-identical to the input.
type entry struct {
	raw    string
	path   string
	freeze bool
}

var assignmentPattern = regexp.MustCompile(`^(\s*)([A-Za-z_][A-Za-z0-9_]*)\.(files|extensions)\s*=\s*\[`)

// Parse reads a gemspec document from its source text.
func Parse(data []byte) (*Document, error) {
	doc := &Document{}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")

	for i := 0; i < len(lines); i++ {
		match := assignmentPattern.FindStringSubmatch(lines[i])
		if match == nil {
			doc.segments = append(doc.segments, rawLine(lines[i]))
			continue
		}

		statement := &listStatement{
			indent:    match[1],
			receiver:  match[2],
			attribute: match[3],
		}

		body, consumed, err := collectStatement(lines[i:])
		if err != nil {
			return nil, fmt.Errorf("parse %s.%s on line %d: %w", statement.receiver, statement.attribute, i+1, err)
		}
		statement.multiline = consumed > 1
		if statement.multiline {
			statement.entryIndent = leadingWhitespace(lines[i+1])
			if statement.entryIndent == "" {
				statement.entryIndent = statement.indent + "  "
			}
		}

		open := strings.Index(body, "[")
		closing := closingBracket(body, open)
		statement.tail = body[closing+1:]

		entries, err := parseEntries(body[open+1 : closing])
		if err != nil {
			return nil, fmt.Errorf("parse %s.%s on line %d: %w", statement.receiver, statement.attribute, i+1, err)
		}
		statement.entries = entries

		doc.segments = append(doc.segments, statement)
		if statement.attribute == "files" && doc.files == nil {
			doc.files = statement
		}
		i += consumed - 1
	}

	return doc, nil
}

// collectStatement joins lines until the array bracket closes, returning the
// joined statement text and the number of lines it spans.
func collectStatement(lines []string) (string, int, error) {
	depth := 0
	var body strings.Builder

	for i, line := range lines {
		if i > 0 {
			body.WriteByte('\n')
		}
		body.WriteString(line)

		depth += bracketDelta(line)
		if depth < 0 {
			return "", 0, fmt.Errorf("unbalanced brackets")
		}
		if i == 0 && depth == 0 {
			return body.String(), 1, nil
		}
		if i > 0 && depth == 0 {
			return body.String(), i + 1, nil
		}
	}

	return "", 0, fmt.Errorf("file list never closes")
}

// bracketDelta counts bracket nesting on one line, skipping string literals.
func bracketDelta(line string) int {
	delta := 0
	var quote byte
	escaped := false

	for i := 0; i < len(line); i++ {
		c := line[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '[':
			delta++
		case ']':
			delta--
		}
	}
	return delta
}

// closingBracket returns the index of the bracket matching the one at open.
func closingBracket(body string, open int) int {
	depth := 0
	var quote byte
	escaped := false

	for i := open; i < len(body); i++ {
		c := body[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return len(body) - 1
}

// parseEntries extracts the string literals from the list body. Anything
// other than string literals, commas, and whitespace is rejected; generated
// manifests list plain literals only.
func parseEntries(body string) ([]entry, error) {
	var entries []entry

	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ',':
			continue
		case c == '"' || c == '\'':
			raw, path, next, err := scanString(body, i)
			if err != nil {
				return nil, err
			}
			item := entry{raw: raw, path: path}
			if strings.HasPrefix(body[next:], ".freeze") {
				item.freeze = true
				next += len(".freeze")
			}
			entries = append(entries, item)
			i = next - 1
		default:
			return nil, fmt.Errorf("unsupported list syntax near %q", snippet(body[i:]))
		}
	}

	return entries, nil
}

// scanString reads one quoted literal starting at index start. It returns
// the raw token, the decoded value, and the index just past the closing
// quote.
func scanString(body string, start int) (raw, path string, next int, err error) {
	quote := body[start]
	var value strings.Builder

	for i := start + 1; i < len(body); i++ {
		c := body[i]
		if c == '\\' && i+1 < len(body) {
			value.WriteByte(body[i+1])
			i++
			continue
		}
		if c == quote {
			return body[start : i+1], value.String(), i + 1, nil
		}
		value.WriteByte(c)
	}

	return "", "", 0, fmt.Errorf("unterminated string near %q", snippet(body[start:]))
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 24 {
		return s[:24] + "..."
	}
	return s
}

func leadingWhitespace(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

// HasFileList reports whether the document carries a file list attribute.
func (d *Document) HasFileList() bool {
	return d.files != nil
}

// Files returns the decoded paths currently in the file list.
func (d *Document) Files() []string {
	if d.files == nil {
		return nil
	}
	paths := make([]string, 0, len(d.files.entries))
	for _, item := range d.files.entries {
		paths = append(paths, item.path)
	}
	return paths
}

// ContainsFile reports whether the file list holds the exact path.
func (d *Document) ContainsFile(path string) bool {
	if d.files == nil {
		return false
	}
	for _, item := range d.files.entries {
		if item.path == path {
			return true
		}
	}
	return false
}

// RemoveExtensions deletes every extensions attribute statement and reports
// whether any was present.
func (d *Document) RemoveExtensions() bool {
	removed := false
	for _, seg := range d.segments {
		if statement, ok := seg.(*listStatement); ok && statement.attribute == "extensions" && !statement.removed {
			statement.removed = true
			removed = true
		}
	}
	return removed
}

// RemoveFilesWithPrefix drops every file list entry whose path starts with
// prefix and returns how many were dropped.
func (d *Document) RemoveFilesWithPrefix(prefix string) int {
	if d.files == nil {
		return 0
	}
	kept := d.files.entries[:0]
	removed := 0
	for _, item := range d.files.entries {
		if strings.HasPrefix(item.path, prefix) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	d.files.entries = kept
	return removed
}

// PrependFiles inserts the paths at the head of the file list, in the given
// order, styled like the existing entries.
func (d *Document) PrependFiles(paths []string) error {
	if d.files == nil {
		return fmt.Errorf("document has no file list to extend")
	}
	if len(paths) == 0 {
		return nil
	}

	quote := byte('"')
	freeze := true
	if len(d.files.entries) > 0 {
		first := d.files.entries[0]
		quote = first.raw[0]
		freeze = first.freeze
	}

	fresh := make([]entry, 0, len(paths))
	for _, path := range paths {
		fresh = append(fresh, newEntry(path, quote, freeze))
	}
	d.files.entries = append(fresh, d.files.entries...)
	return nil
}

func newEntry(path string, quote byte, freeze bool) entry {
	var raw strings.Builder
	raw.WriteByte(quote)
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == '\\' || c == quote {
			raw.WriteByte('\\')
		}
		raw.WriteByte(c)
	}
	raw.WriteByte(quote)
	return entry{raw: raw.String(), path: path, freeze: freeze}
}

// Render serializes the document back to gemspec source text.
func (d *Document) Render() []byte {
	var b strings.Builder
	for _, seg := range d.segments {
		seg.render(&b)
	}
	return []byte(b.String())
}

func (s *listStatement) render(b *strings.Builder) {
	if s.removed {
		return
	}

	b.WriteString(s.indent)
	b.WriteString(s.receiver)
	b.WriteByte('.')
	b.WriteString(s.attribute)
	b.WriteString(" = [")

	if s.multiline && len(s.entries) > 0 {
		for i, item := range s.entries {
			b.WriteByte('\n')
			b.WriteString(s.entryIndent)
			writeEntry(b, item)
			if i < len(s.entries)-1 {
				b.WriteByte(',')
			}
		}
		b.WriteByte('\n')
		b.WriteString(s.indent)
	} else {
		for i, item := range s.entries {
			if i > 0 {
				b.WriteString(", ")
			}
			writeEntry(b, item)
		}
	}

	b.WriteByte(']')
	b.WriteString(s.tail)
	b.WriteByte('\n')
}

func writeEntry(b *strings.Builder, item entry) {
	b.WriteString(item.raw)
	if item.freeze {
		b.WriteString(".freeze")
	}
}
