// Package xmldoc wraps xmlquery with the two lookups the capture formats need:
// every element with a given tag in document order, and the element that
// structurally follows another one under the same parent.
package xmldoc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/antchfx/xmlquery"
)

// ParseError is returned when a document cannot be parsed. Callers recover
// from it per file.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("malformed XML: %v", e.Err)
	}
	return fmt.Sprintf("malformed XML in %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Document is a parsed XML tree plus the parent and sibling indexes built
// once at parse time.
type Document struct {
	Path string

	doc      *xmlquery.Node
	root     *xmlquery.Node
	elements []*xmlquery.Node
	parent   map[*xmlquery.Node]*xmlquery.Node
	next     map[*xmlquery.Node]*xmlquery.Node
}

// Open reads and parses the file at path.
func Open(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	d, err := Parse(f)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}
	d.Path = path
	return d, nil
}

// Parse parses a document from r. Declared encodings other than UTF-8 are
// decoded by xmlquery's charset reader.
func Parse(r io.Reader) (*Document, error) {
	top, err := xmlquery.Parse(r)
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	d := &Document{
		doc:    top,
		parent: make(map[*xmlquery.Node]*xmlquery.Node),
		next:   make(map[*xmlquery.Node]*xmlquery.Node),
	}
	d.index(top)
	return d, nil
}

// index walks the tree once, depth-first, recording every element in
// document order together with its parent and its next element sibling.
func (d *Document) index(n *xmlquery.Node) {
	var prev *xmlquery.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		if n.Type == xmlquery.DocumentNode && d.root == nil {
			d.root = c
		}
		if n.Type == xmlquery.ElementNode {
			d.parent[c] = n
		}
		if prev != nil {
			d.next[prev] = c
		}
		prev = c

		d.elements = append(d.elements, c)
		d.index(c)
	}
}

// Root returns the document element, or nil for an empty document.
func (d *Document) Root() *xmlquery.Node {
	return d.root
}

// FindAll returns every element named tag, in document order.
func (d *Document) FindAll(tag string) []*xmlquery.Node {
	var out []*xmlquery.Node
	for _, el := range d.elements {
		if el.Data == tag {
			out = append(out, el)
		}
	}
	return out
}

// NextSibling returns the element immediately after el under the same
// parent, regardless of its tag. Text and comments in between are ignored.
func (d *Document) NextSibling(el *xmlquery.Node) *xmlquery.Node {
	return d.next[el]
}

// Parent returns the parent element of el, or nil for the root.
func (d *Document) Parent(el *xmlquery.Node) *xmlquery.Node {
	return d.parent[el]
}

// Children returns the direct child elements of el named tag.
func Children(el *xmlquery.Node, tag string) []*xmlquery.Node {
	if el == nil {
		return nil
	}
	var out []*xmlquery.Node
	for c := el.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && c.Data == tag {
			out = append(out, c)
		}
	}
	return out
}

// Text returns the character data of el that precedes its first child
// element. CDATA sections are included.
func Text(el *xmlquery.Node) string {
	if el == nil {
		return ""
	}
	var sb strings.Builder
	for c := el.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case xmlquery.ElementNode:
			return sb.String()
		case xmlquery.TextNode, xmlquery.CharDataNode:
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

// ChildText returns the trimmed text of the first child element named tag.
func ChildText(el *xmlquery.Node, tag string) string {
	if el == nil {
		return ""
	}

	for c := el.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && c.Data == tag {
			return strings.TrimSpace(Text(c))
		}
	}
	return ""
}
