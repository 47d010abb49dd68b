package document

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// buildPDF writes a minimal PDF 1.4 file with one text line per page.
func buildPDF(pages []string, title string) []byte {
	var buf bytes.Buffer
	var offsets []int

	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")

	n := len(pages)
	fontID := 3 + 2*n
	infoID := fontID + 1

	kids := make([]string, n)
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 3+2*i)
	}

	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n))
	for i, text := range pages {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents %d 0 R /Resources << /Font << /F1 %d 0 R >> >> >>", 4+2*i, fontID))
		content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	obj(fmt.Sprintf("<< /Title (%s) /Producer (nbexec tests) >>", title))

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, infoID, xref)
	return buf.Bytes()
}

func TestOpen(t *testing.T) {
	doc, err := Open(buildPDF([]string{"Hello page one", "Second page"}, "Report"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if doc.NumPages() != 2 {
		t.Fatalf("expected 2 pages, got %d", doc.NumPages())
	}

	text, err := doc.PageText(0)
	if err != nil {
		t.Fatalf("PageText(0) error: %v", err)
	}
	if !strings.Contains(text, "Hello page one") {
		t.Errorf("expected page text, got %q", text)
	}

	all, err := doc.Text()
	if err != nil {
		t.Fatalf("Text() error: %v", err)
	}
	if !strings.Contains(all, "Second page") {
		t.Errorf("expected joined text to contain second page, got %q", all)
	}

	if got := doc.Metadata()["Title"]; got != "Report" {
		t.Errorf("expected title Report, got %q", got)
	}
}

func TestPageText_OutOfRange(t *testing.T) {
	doc, err := Open(buildPDF([]string{"only"}, "x"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	for _, i := range []int{-1, 1} {
		if _, err := doc.PageText(i); !errors.Is(err, ErrPageRange) {
			t.Errorf("PageText(%d): expected ErrPageRange, got %v", i, err)
		}
	}
}

func TestOpen_Invalid(t *testing.T) {
	if _, err := Open([]byte("not a pdf at all")); err == nil {
		t.Error("expected error for non-PDF input")
	}
}
