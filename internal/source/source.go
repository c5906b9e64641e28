// Package source reads the text to be spoken from a file, stdin, the
// clipboard or a web page.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"
	"golang.org/x/text/unicode/norm"

	"github.com/arre-reader/arre/internal/sentence"
)

// ErrEmpty is returned when a source yields no text.
var ErrEmpty = errors.New("source is empty")

// Document is text ready for sentence splitting.
type Document struct {
	Title  string
	Text   string
	Origin string
}

// Sentences splits the document.
func (d Document) Sentences() []string {
	return sentence.Split(d.Text)
}

// Options controls how Read resolves an argument.
type Options struct {
	Stdin     io.Reader
	Fetcher   *Fetcher
	Clipboard bool
}

// IsURL reports whether arg is an http(s) URL.
func IsURL(arg string) bool {
	return strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://")
}

// Read resolves arg: "-" for stdin, an http(s) URL, or a file path. With
// Options.Clipboard set, arg is ignored and the clipboard is read.
func Read(ctx context.Context, arg string, opts Options) (Document, error) {
	var (
		doc Document
		err error
	)
	switch {
	case opts.Clipboard:
		doc, err = readClipboard()
	case arg == "-" || arg == "":
		doc, err = readStdin(opts.Stdin)
	case IsURL(arg):
		if opts.Fetcher == nil {
			return Document{}, errors.New("fetching web pages is not configured")
		}
		doc, err = opts.Fetcher.Fetch(ctx, arg)
	default:
		doc, err = readFile(arg)
	}
	if err != nil {
		return Document{}, err
	}

	// Precomposed text keeps equal sentences on equal cache keys.
	doc.Text = norm.NFC.String(doc.Text)
	doc.Text = sentence.FixMissingSentenceSpacing(strings.TrimSpace(doc.Text))
	if doc.Text == "" {
		return Document{}, fmt.Errorf("%w: %s", ErrEmpty, doc.Origin)
	}
	return doc, nil
}

func readStdin(r io.Reader) (Document, error) {
	if r == nil {
		r = os.Stdin
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return Document{}, fmt.Errorf("unable to read from stdin: %w", err)
	}
	return Document{Text: sentence.PlainText(string(b)), Origin: "stdin"}, nil
}

func readFile(path string) (Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("unable to read %s: %w", path, err)
	}
	doc := Document{Title: filepath.Base(path), Origin: path}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		page, err := ExtractText(strings.NewReader(string(b)))
		if err != nil {
			return Document{}, err
		}
		doc.Text = page.Text
		if page.Title != "" {
			doc.Title = page.Title
		}
	case ".txt":
		doc.Text = string(b)
	default:
		doc.Text = sentence.PlainText(string(b))
	}
	return doc, nil
}

func readClipboard() (Document, error) {
	s, err := clipboard.ReadAll()
	if err != nil {
		return Document{}, fmt.Errorf("unable to read clipboard: %w", err)
	}
	return Document{Text: sentence.PlainText(s), Origin: "clipboard"}, nil
}
