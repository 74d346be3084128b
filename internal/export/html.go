package export

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	spaceRun = regexp.MustCompile(`[ \t\r\n]+`)
	blankRun = regexp.MustCompile(`\n{3,}`)
)

// HTMLToMarkdown converts editor HTML into markdown. Unknown elements are
// unwrapped to their text.
func HTMLToMarkdown(content string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", err
	}
	w := &mdWriter{}
	doc.Find("body").Contents().Each(func(_ int, s *goquery.Selection) {
		w.block(s)
	})
	return w.String(), nil
}

// HTMLToText converts editor HTML into plain text paragraphs
func HTMLToText(content string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", err
	}
	var parts []string
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, blockquote, pre").Each(func(_ int, s *goquery.Selection) {
		// Nested blocks are emitted on their own
		if s.Find("p, li").Length() > 0 {
			return
		}
		text := collapse(s.Text())
		if text == "" {
			return
		}
		if goquery.NodeName(s) == "li" {
			text = "- " + text
		}
		parts = append(parts, text)
	})
	if len(parts) == 0 {
		if text := collapse(doc.Text()); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// WordCount counts words in editor HTML
func WordCount(content string) (int, error) {
	text, err := HTMLToText(content)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, f := range strings.Fields(text) {
		if f != "-" {
			n++
		}
	}
	return n, nil
}

func collapse(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

type mdWriter struct {
	b strings.Builder
}

func (w *mdWriter) String() string {
	out := blankRun.ReplaceAllString(w.b.String(), "\n\n")
	return strings.TrimSpace(out) + "\n"
}

func (w *mdWriter) para(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	w.b.WriteString(text)
	w.b.WriteString("\n\n")
}

// block renders a block-level node
func (w *mdWriter) block(s *goquery.Selection) {
	node := s.Get(0)
	if node.Type == html.TextNode {
		w.para(collapse(node.Data))
		return
	}
	if node.Type != html.ElementNode {
		return
	}

	switch name := goquery.NodeName(s); name {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level := int(name[1] - '0')
		w.para(strings.Repeat("#", level) + " " + inline(s))
	case "p":
		w.para(inline(s))
	case "blockquote":
		inner := &mdWriter{}
		s.Contents().Each(func(_ int, c *goquery.Selection) { inner.block(c) })
		lines := strings.Split(strings.TrimSpace(inner.b.String()), "\n")
		for i, l := range lines {
			lines[i] = strings.TrimRight("> "+l, " ")
		}
		w.para(strings.Join(lines, "\n"))
	case "ul", "ol":
		var items []string
		s.ChildrenFiltered("li").Each(func(i int, li *goquery.Selection) {
			marker := "- "
			if name == "ol" {
				marker = strconv.Itoa(i+1) + ". "
			}
			items = append(items, marker+inline(li))
		})
		w.para(strings.Join(items, "\n"))
	case "pre":
		w.para("```\n" + strings.Trim(s.Text(), "\n") + "\n```")
	case "hr":
		w.para("---")
	case "img":
		w.para(image(s))
	case "br":
		w.b.WriteString("\n")
	default:
		// Containers such as div or section
		if s.Children().Length() == 0 {
			w.para(inline(s))
			return
		}
		s.Contents().Each(func(_ int, c *goquery.Selection) { w.block(c) })
	}
}

// inline renders the children of s as inline markdown
func inline(s *goquery.Selection) string {
	var b strings.Builder
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		node := c.Get(0)
		switch node.Type {
		case html.TextNode:
			b.WriteString(spaceRun.ReplaceAllString(node.Data, " "))
			return
		case html.ElementNode:
		default:
			return
		}

		switch goquery.NodeName(c) {
		case "strong", "b":
			b.WriteString(wrap("**", inline(c)))
		case "em", "i":
			b.WriteString(wrap("_", inline(c)))
		case "s", "del", "strike":
			b.WriteString(wrap("~~", inline(c)))
		case "code":
			b.WriteString(wrap("`", c.Text()))
		case "a":
			href, _ := c.Attr("href")
			text := inline(c)
			if href == "" {
				b.WriteString(text)
			} else {
				b.WriteString("[" + text + "](" + href + ")")
			}
		case "img":
			b.WriteString(image(c))
		case "br":
			b.WriteString("  \n")
		default:
			b.WriteString(inline(c))
		}
	})
	return strings.TrimSpace(b.String())
}

func wrap(mark, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return mark + text + mark
}

func image(s *goquery.Selection) string {
	src, ok := s.Attr("src")
	if !ok || src == "" {
		return ""
	}
	alt, _ := s.Attr("alt")
	return "![" + alt + "](" + src + ")"
}
