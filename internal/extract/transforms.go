package extract

import (
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// TransformFunc rewrites an extracted value.
type TransformFunc func(string) string

var newlineReplacer = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

var transforms = map[string]TransformFunc{
	"trim":               strings.TrimSpace,
	"removeNewline":      func(s string) string { return newlineReplacer.Replace(s) },
	"collapseWhitespace": CollapseWhitespace,
	"lowercase":          strings.ToLower,
	"uppercase":          strings.ToUpper,
	"stripHTML":          StripHTML,
}

func lookupTransform(name string) (TransformFunc, bool) {
	fn, ok := transforms[name]
	return fn, ok
}

// TransformNames lists the registered transform names in sorted order.
func TransformNames() []string {
	out := make([]string, 0, len(transforms))
	for name := range transforms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// StripHTML returns the text content of an HTML fragment with whitespace collapsed.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return CollapseWhitespace(s)
	}
	nodes, err := html.ParseFragment(strings.NewReader(s), &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div})
	if err != nil {
		return CollapseWhitespace(s)
	}
	var sb strings.Builder
	for _, n := range nodes {
		writeText(&sb, n)
	}
	return CollapseWhitespace(sb.String())
}

func writeText(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" {
			return
		}
		if n.Data == "br" || n.Data == "p" || n.Data == "div" || n.Data == "li" {
			sb.WriteByte(' ')
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(sb, c)
	}
}
