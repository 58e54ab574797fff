package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Ul: true, atom.Ol: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Table: true, atom.Tr: true, atom.Blockquote: true, atom.Section: true, atom.Article: true,
}

var skippedElements = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true,
}

// splitMeta splits a "Yazar: X | Tarih: Y" line into author and date text.
// Unlabelled parts are assigned author first, then date.
func splitMeta(line string) (author, date string) {
	for _, part := range strings.Split(line, "|") {
		part = collapseSpaces(part)
		if part == "" {
			continue
		}
		if v, ok := stripLabel(part, dateLabels); ok {
			if date == "" {
				date = v
			}
			continue
		}
		if v, ok := stripLabel(part, authorLabels); ok {
			if author == "" {
				author = v
			}
			continue
		}
		switch {
		case author == "":
			author = part
		case date == "":
			date = part
		}
	}
	return author, date
}

func stripLabel(s string, labels []string) (string, bool) {
	for _, label := range labels {
		if len(s) >= len(label) && strings.EqualFold(s[:len(label)], label) {
			return strings.TrimSpace(s[len(label):]), true
		}
	}
	return s, false
}

// blockText renders the visible text of sel with a line break before every
// block element, then drops blank lines.
func blockText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		walk(n, &b)
	}
	lines := strings.Split(b.String(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = collapseSpaces(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func walk(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if skippedElements[n.DataAtom] {
			return
		}
		if n.DataAtom == atom.Br || blockElements[n.DataAtom] {
			b.WriteByte('\n')
		}
	case html.CommentNode:
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, b)
	}
	if n.Type == html.ElementNode && blockElements[n.DataAtom] {
		b.WriteByte('\n')
	}
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return strings.TrimSpace(string(r[:limit]))
}
