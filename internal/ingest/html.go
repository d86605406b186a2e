package ingest

import (
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	multiNewline = regexp.MustCompile(`\n{3,}`)
	multiSpace   = regexp.MustCompile(`[ \t]+`)
)

const maxHTMLDepth = 64

// ExtractHTMLText returns the readable text of an HTML page such as a
// ticket or survey export. Scripts, styles and page chrome are dropped;
// headings, paragraphs and list items keep their line structure.
func ExtractHTMLText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	walkText(doc, &sb, 0)
	return cleanText(sb.String()), nil
}

func walkText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > maxHTMLDepth {
		return
	}

	switch n.Type {
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "head":
			return
		case "h1", "h2", "h3", "h4", "h5", "h6", "p", "div", "tr", "blockquote", "section", "article":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		case "td", "th":
			sb.WriteString(" | ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, sb, depth+1)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6", "p", "blockquote":
			sb.WriteString("\n\n")
		}
	}
}

func cleanText(s string) string {
	s = multiSpace.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = multiNewline.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
