// Package document carries structured answers (symbols, types, comments,
// namespace paths, register descriptions) as XML markup inside response frames.
package document

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/danmuck/decompctl/internal/protocol"
)

// MaxDepth bounds element nesting accepted from the peer.
const MaxDepth = 256

// Attr is one attribute. Order is preserved.
type Attr struct {
	Name  string
	Value string
}

// Element is one node of a structured document. Names are unqualified; the
// codec rejects namespace prefixes in both directions. Whitespace-only
// character content is kept on leaf elements and dropped between children.
type Element struct {
	Name     string
	Attrs    []Attr
	Children []*Element
	Content  string
}

func New(name string, attrs ...Attr) *Element {
	return &Element{Name: name, Attrs: attrs}
}

// Attr returns the value of the named attribute.
func (e *Element) Attr(name string) (string, bool) {
	if e == nil {
		return "", false
	}
	for _, a := range e.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr replaces or appends the named attribute.
func (e *Element) SetAttr(name, value string) *Element {
	for i := range e.Attrs {
		if e.Attrs[i].Name == name {
			e.Attrs[i].Value = value
			return e
		}
	}
	e.Attrs = append(e.Attrs, Attr{Name: name, Value: value})
	return e
}

func (e *Element) AddChild(children ...*Element) *Element {
	e.Children = append(e.Children, children...)
	return e
}

// Child returns the first child with the given name, or nil.
func (e *Element) Child(name string) *Element {
	if e == nil {
		return nil
	}
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (e *Element) ChildrenNamed(name string) []*Element {
	if e == nil {
		return nil
	}
	var out []*Element
	for _, c := range e.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Equal compares two trees structurally.
func (e *Element) Equal(o *Element) bool {
	if e == nil || o == nil {
		return e == o
	}
	if e.Name != o.Name || e.Content != o.Content ||
		len(e.Attrs) != len(o.Attrs) || len(e.Children) != len(o.Children) {
		return false
	}
	for i := range e.Attrs {
		if e.Attrs[i] != o.Attrs[i] {
			return false
		}
	}
	for i := range e.Children {
		if !e.Children[i].Equal(o.Children[i]) {
			return false
		}
	}
	return true
}

func (e *Element) String() string {
	b, err := Marshal(e)
	if err != nil {
		return fmt.Sprintf("<!-- %v -->", err)
	}
	return string(b)
}

// Marshal renders e as markup. A nil element renders as empty markup.
func Marshal(e *Element) ([]byte, error) {
	if e == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if err := encodeElement(enc, e, 0); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeElement(enc *xml.Encoder, e *Element, depth int) error {
	if depth >= MaxDepth {
		return fmt.Errorf("document: nesting deeper than %d", MaxDepth)
	}
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("document: element without a name")
	}
	if !isName(e.Name) {
		return fmt.Errorf("document: invalid element name %q", e.Name)
	}
	start := xml.StartElement{Name: xml.Name{Local: e.Name}}
	for i, a := range e.Attrs {
		if !isName(a.Name) || a.Name == "xmlns" {
			return fmt.Errorf("document: invalid attribute name %q on <%s>", a.Name, e.Name)
		}
		for _, prev := range e.Attrs[:i] {
			if prev.Name == a.Name {
				return fmt.Errorf("document: duplicate attribute %q on <%s>", a.Name, e.Name)
			}
		}
		if !isText(a.Value) {
			return fmt.Errorf("document: attribute %q on <%s> holds characters markup cannot carry", a.Name, e.Name)
		}
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: a.Name}, Value: a.Value})
	}
	if !isText(e.Content) {
		return fmt.Errorf("document: content of <%s> holds characters markup cannot carry", e.Name)
	}
	if len(e.Children) > 0 && e.Content != "" && strings.TrimSpace(e.Content) == "" {
		return fmt.Errorf("document: whitespace-only content on <%s> alongside children", e.Name)
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if e.Content != "" {
		if err := enc.EncodeToken(xml.CharData(e.Content)); err != nil {
			return err
		}
	}
	for _, c := range e.Children {
		if err := encodeElement(enc, c, depth+1); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// isName reports whether s is an unqualified XML name.
func isName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && (r == '-' || r == '.' || unicode.IsDigit(r)):
		default:
			return false
		}
	}
	return true
}

// isText reports whether every rune of s is in the XML Char production.
func isText(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		switch {
		case r == 0x09 || r == 0x0A || r == 0x0D:
		case r >= 0x20 && r <= 0xD7FF:
		case r >= 0xE000 && r <= 0xFFFD:
		case r >= 0x10000 && r <= 0x10FFFF:
		default:
			return false
		}
	}
	return true
}

// Unmarshal parses markup into a tree. Empty markup yields a nil element.
// Unbalanced, truncated or multi-rooted markup fails with ErrMalformed; no
// partial tree is ever returned.
func Unmarshal(b []byte) (*Element, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	dec := xml.NewDecoder(bytes.NewReader(b))
	dec.Strict = true

	var (
		root  *Element
		stack []*Element
		text  []*strings.Builder
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrMalformed, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) == 0 && root != nil {
				return nil, fmt.Errorf("%w: second root element <%s>", protocol.ErrMalformed, t.Name.Local)
			}
			if len(stack) >= MaxDepth {
				return nil, fmt.Errorf("%w: nesting deeper than %d", protocol.ErrMalformed, MaxDepth)
			}
			if t.Name.Space != "" {
				return nil, fmt.Errorf("%w: qualified element name <%s:%s>", protocol.ErrMalformed, t.Name.Space, t.Name.Local)
			}
			el := &Element{Name: t.Name.Local}
			for _, a := range t.Attr {
				if a.Name.Space != "" || a.Name.Local == "xmlns" {
					return nil, fmt.Errorf("%w: qualified attribute on <%s>", protocol.ErrMalformed, el.Name)
				}
				if _, dup := el.Attr(a.Name.Local); dup {
					return nil, fmt.Errorf("%w: duplicate attribute %q on <%s>", protocol.ErrMalformed, a.Name.Local, el.Name)
				}
				el.Attrs = append(el.Attrs, Attr{Name: a.Name.Local, Value: a.Value})
			}
			if len(stack) == 0 {
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			}
			stack = append(stack, el)
			text = append(text, &strings.Builder{})
		case xml.EndElement:
			// The strict decoder rejects mismatched end tags itself.
			top := stack[len(stack)-1]
			content := text[len(text)-1].String()
			if len(top.Children) == 0 || strings.TrimSpace(content) != "" {
				top.Content = content
			}
			stack = stack[:len(stack)-1]
			text = text[:len(text)-1]
		case xml.CharData:
			if len(stack) == 0 {
				if len(bytes.TrimSpace(t)) != 0 {
					return nil, fmt.Errorf("%w: text outside the root element", protocol.ErrMalformed)
				}
				continue
			}
			text[len(text)-1].Write(t)
		}
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("%w: unclosed element <%s>", protocol.ErrMalformed, stack[len(stack)-1].Name)
	}
	if root == nil {
		return nil, fmt.Errorf("%w: no root element", protocol.ErrMalformed)
	}
	return root, nil
}
