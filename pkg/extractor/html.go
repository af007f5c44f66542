package extractor

import (
	"context"
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
)

func parseHTML(_ context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return htmlText(f)
}

// htmlText 提取 <title> 与 <body> 中的可见文字，块级元素之间换行。
func htmlText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	if title := findTitle(doc); title != "" {
		buf.WriteString(title)
		buf.WriteString("\n\n")
	}

	// pendingSpace 记录上一段文字是否以空白结尾，用于在行内元素之间保留单词间隔
	pendingSpace := false
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			raw := n.Data
			t := strings.Join(strings.Fields(raw), " ")
			if t == "" {
				pendingSpace = pendingSpace || raw != ""
				return
			}
			if pendingSpace || startsWithSpace(raw) {
				if s := buf.String(); s != "" && !strings.HasSuffix(s, "\n") && !strings.HasSuffix(s, " ") {
					buf.WriteByte(' ')
				}
			}
			buf.WriteString(t)
			pendingSpace = endsWithSpace(raw)
			return
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "head", "template", "svg":
				return
			case "br":
				buf.WriteByte('\n')
				return
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type == html.ElementNode && isBlock(n.Data) {
			endBlock(&buf)
		}
	}
	walk(doc)

	return strings.TrimSpace(buf.String()), nil
}

func startsWithSpace(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsSpace(r)
}

func endsWithSpace(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return unicode.IsSpace(r)
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "section", "article", "main", "aside", "header", "footer", "nav",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li", "dl", "dt", "dd",
		"table", "tr", "blockquote", "pre", "figure", "figcaption", "form":
		return true
	}
	return false
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		var b strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
		return strings.TrimSpace(b.String())
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}
