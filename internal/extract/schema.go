// Package extract resolves declarative field specifications against parsed markup.
//
// A field specification has the form
//
//	selector [@attribute] [| transform]...
//
// e.g. `a[data-testid="title"]@href` or `div.price | removeNewline | trim`.
// The first node matching the selector is used. When an attribute suffix is
// present the attribute value is read instead of the node's text content.
package extract

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

var (
	ErrUnknownTransform = errors.New("unknown transform")
	ErrEmptySelector    = errors.New("empty selector")
)

// Field is one compiled field specification.
type Field struct {
	Name       string
	Selector   string
	Attribute  string
	Transforms []string

	matcher cascadia.Selector
	chain   []TransformFunc
}

// Schema is a validated set of fields. It is safe for concurrent use.
type Schema struct {
	fields []Field
}

// Record maps field names to resolved values. A field whose selector (or
// attribute) matched nothing is absent from the record.
type Record map[string]string

// Get returns the value for name and whether it was resolved.
func (r Record) Get(name string) (string, bool) {
	v, ok := r[name]
	return v, ok
}

// String returns the value for name or "" when it was not resolved.
func (r Record) String(name string) string {
	return r[name]
}

// Compile parses and validates every field specification. Unknown transform
// names and invalid selectors are reported here so that a provider fails at
// registration instead of silently losing fields on every page.
func Compile(specs map[string]string) (*Schema, error) {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	s := &Schema{fields: make([]Field, 0, len(names))}
	for _, name := range names {
		f, err := ParseField(name, specs[name])
		if err != nil {
			return nil, err
		}
		s.fields = append(s.fields, f)
	}
	return s, nil
}

// MustCompile is Compile for schemas that are compiled-in constants.
func MustCompile(specs map[string]string) *Schema {
	s, err := Compile(specs)
	if err != nil {
		panic(err)
	}
	return s
}

// ParseField parses one specification.
func ParseField(name, spec string) (Field, error) {
	parts := splitOutside(spec, '|')
	selectorPart := strings.TrimSpace(parts[0])

	f := Field{Name: name}
	if i := lastIndexOutside(selectorPart, '@'); i >= 0 {
		attr := strings.TrimSpace(selectorPart[i+1:])
		if isAttributeName(attr) {
			f.Attribute = attr
			selectorPart = strings.TrimSpace(selectorPart[:i])
		}
	}
	if selectorPart == "" {
		return Field{}, fmt.Errorf("field %q: %w", name, ErrEmptySelector)
	}

	m, err := cascadia.Compile(selectorPart)
	if err != nil {
		return Field{}, fmt.Errorf("field %q: invalid selector %q: %w", name, selectorPart, err)
	}
	f.Selector = selectorPart
	f.matcher = m

	for _, raw := range parts[1:] {
		tname := strings.TrimSpace(raw)
		if tname == "" {
			continue
		}
		fn, ok := lookupTransform(tname)
		if !ok {
			return Field{}, fmt.Errorf("field %q: %w %q (known: %s)", name, ErrUnknownTransform, tname, strings.Join(TransformNames(), ", "))
		}
		f.Transforms = append(f.Transforms, tname)
		f.chain = append(f.chain, fn)
	}
	return f, nil
}

// Extract resolves every field relative to sel.
func (s *Schema) Extract(sel *goquery.Selection) Record {
	rec := make(Record, len(s.fields))
	for _, f := range s.fields {
		if v, ok := f.resolve(sel); ok {
			rec[f.Name] = v
		}
	}
	return rec
}

// CompileSelector validates a standalone selector such as a result-card container.
func CompileSelector(sel string) (cascadia.Selector, error) {
	if strings.TrimSpace(sel) == "" {
		return nil, ErrEmptySelector
	}
	m, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", sel, err)
	}
	return m, nil
}

// ExtractEach resolves the schema once per node matching container, in document order.
func (s *Schema) ExtractEach(doc *goquery.Selection, container cascadia.Selector) []Record {
	var out []Record
	doc.FindMatcher(container).Each(func(_ int, item *goquery.Selection) {
		out = append(out, s.Extract(item))
	})
	return out
}

func (f Field) resolve(sel *goquery.Selection) (string, bool) {
	node := sel.FindMatcher(f.matcher).First()
	if node.Length() == 0 {
		return "", false
	}

	var value string
	if f.Attribute != "" {
		v, ok := node.Attr(f.Attribute)
		if !ok {
			return "", false
		}
		value = v
	} else {
		value = node.Text()
	}

	for _, fn := range f.chain {
		value = fn(value)
	}
	return value, true
}

// splitOutside splits s on sep, ignoring separators inside [...], (...) or quotes.
func splitOutside(s string, sep byte) []string {
	var (
		parts []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '[' || c == '(':
			depth++
		case c == ']' || c == ')':
			if depth > 0 {
				depth--
			}
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func lastIndexOutside(s string, target byte) int {
	idx := -1
	var (
		depth int
		quote byte
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '[' || c == '(':
			depth++
		case c == ']' || c == ')':
			if depth > 0 {
				depth--
			}
		case c == target && depth == 0:
			idx = i
		}
	}
	return idx
}

func isAttributeName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == ':':
		default:
			return false
		}
	}
	return true
}
