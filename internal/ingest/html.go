package ingest

import (
	"bytes"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
)

var excessiveLinesRe = regexp.MustCompile(`\n{3,}`)

// htmlExtractor converts an HTML page to Markdown after dropping
// non-content elements, so headings and tables survive as structure the
// model can read.
type htmlExtractor struct {
	converter *md.Converter
}

func newHTMLExtractor() *htmlExtractor {
	c := md.NewConverter("", true, nil)
	c.Use(plugin.GitHubFlavored())
	return &htmlExtractor{converter: c}
}

func (h *htmlExtractor) Extract(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	removeElements(doc, map[string]bool{
		"script": true, "style": true, "noscript": true, "nav": true,
		"iframe": true, "form": true, "svg": true,
	})

	root := findElement(doc, "body")
	if root == nil {
		root = doc
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return "", err
	}

	out, err := h.converter.ConvertString(buf.String())
	if err != nil {
		return "", err
	}
	if title := htmlTitle(doc); title != "" && !strings.Contains(out, title) {
		out = "# " + title + "\n\n" + out
	}
	return excessiveLinesRe.ReplaceAllString(strings.TrimSpace(out), "\n\n"), nil
}

func htmlTitle(doc *html.Node) string {
	n := findElement(doc, "title")
	if n == nil || n.FirstChild == nil {
		return ""
	}
	return strings.TrimSpace(n.FirstChild.Data)
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func removeElements(n *html.Node, tags map[string]bool) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type == html.ElementNode && tags[c.Data] {
			n.RemoveChild(c)
			continue
		}
		removeElements(c, tags)
	}
}
