// Package document provides a paginated PDF reader whose pages decode
// their text on first access.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
)

// TypeName is the name under which documents appear in session placeholders.
const TypeName = "PdfReader"

// ErrPageRange is returned for a page index outside the document.
var ErrPageRange = errors.New("page index out of range")

// Document is an opened PDF.
type Document struct {
	r     *pdf.Reader
	pages int

	mu    sync.Mutex
	texts map[int]string
}

// Open parses the PDF cross-reference structure. Page content is not
// decoded until PageText is called.
func Open(data []byte) (doc *Document, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	return &Document{
		r:     r,
		pages: r.NumPage(),
		texts: make(map[int]string),
	}, nil
}

// NumPages returns the number of pages.
func (d *Document) NumPages() int {
	return d.pages
}

// PageText extracts the plain text of page i (zero-based). Results are
// cached per page.
func (d *Document) PageText(i int) (text string, err error) {
	if i < 0 || i >= d.pages {
		return "", fmt.Errorf("%w: %d (document has %d pages)", ErrPageRange, i, d.pages)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.texts[i]; ok {
		return t, nil
	}

	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("page %d: malformed content: %v", i, r)
		}
	}()

	p := d.r.Page(i + 1)
	if p.V.IsNull() {
		return "", fmt.Errorf("page %d: missing page object", i)
	}
	text, err = p.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("page %d: %w", i, err)
	}
	d.texts[i] = text
	return text, nil
}

// Text extracts and joins the text of every page.
func (d *Document) Text() (string, error) {
	parts := make([]string, 0, d.pages)
	for i := 0; i < d.pages; i++ {
		t, err := d.PageText(i)
		if err != nil {
			return "", err
		}
		parts = append(parts, t)
	}
	return strings.Join(parts, "\n"), nil
}

// Metadata returns the entries of the document information dictionary
// that are present.
func (d *Document) Metadata() map[string]string {
	out := make(map[string]string)
	info := d.r.Trailer().Key("Info")
	if info.IsNull() {
		return out
	}
	for _, k := range []string{"Title", "Author", "Subject", "Keywords", "Creator", "Producer"} {
		if v := info.Key(k); !v.IsNull() {
			if s := v.Text(); s != "" {
				out[k] = s
			}
		}
	}
	return out
}
