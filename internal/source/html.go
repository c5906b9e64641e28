package source

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Page is the readable text of an HTML document.
type Page struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Nav:      true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Blockquote: true, atom.Pre: true,
	atom.Tr: true, atom.Header: true, atom.Footer: true, atom.Main: true,
}

// ExtractText returns the title and the visible text of an HTML document.
// Block elements become paragraphs, each ending in punctuation.
func ExtractText(r io.Reader) (Page, error) {
	root, err := html.Parse(r)
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}

	var (
		page  Page
		paras []string
		cur   strings.Builder
	)
	breakPara := func() {
		if s := strings.Join(strings.Fields(cur.String()), " "); s != "" {
			if !strings.ContainsAny(s[len(s)-1:], ".!?:") {
				s += "."
			}
			paras = append(paras, s)
		}
		cur.Reset()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipped[n.DataAtom] {
				return
			}
			if n.DataAtom == atom.Title {
				if page.Title == "" && n.FirstChild != nil {
					page.Title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
			if blocks[n.DataAtom] {
				breakPara()
				defer breakPara()
			}
		}
		if n.Type == html.TextNode {
			cur.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	breakPara()

	page.Text = strings.Join(paras, "\n\n")
	return page, nil
}
