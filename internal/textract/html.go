package textract

import (
	"strings"

	"golang.org/x/net/html"
)

// maxDepth bounds recursion on pathological markup.
const maxDepth = 200

// HTMLToText renders an HTML document as normalized plain text. Scripts,
// styles and other non-content elements are dropped; block elements become
// line breaks. Unparseable input falls back to the raw string.
func HTMLToText(s string) string {
	if s == "" {
		return ""
	}

	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return Normalize(s)
	}

	var sb strings.Builder
	walk(doc, &sb, 0)
	return Normalize(sb.String())
}

func walk(n *html.Node, sb *strings.Builder, depth int) {
	if depth > maxDepth {
		return
	}

	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "head", "template", "svg":
			return
		case "br":
			sb.WriteString("\n")
			return
		case "img":
			if alt := attr(n, "alt"); alt != "" {
				sb.WriteString(alt)
			}
			return
		case "li":
			sb.WriteString("\n- ")
		case "td", "th":
			sb.WriteString(" ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, sb, depth+1)
	}

	if n.Type == html.ElementNode && isBlock(n.Data) {
		sb.WriteString("\n")
	}
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "section", "article", "header", "footer",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "table", "tr", "blockquote", "pre", "hr":
		return true
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
