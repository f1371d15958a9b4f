// Package extract turns uploaded document payloads into plain text ready
// for chunking. PDF extraction keeps per-page offset spans so chunks can
// be traced back to the page they start on; plain text passes through
// with newline normalisation. Raw payload bytes never leave this package.
package extract

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/clinrag/clinrag-go/internal/rag"
)

// Format identifies a supported input format.
type Format string

const (
	// FormatPDF is a PDF payload.
	FormatPDF Format = "pdf"

	// FormatText is a plain UTF-8 text payload.
	FormatText Format = "text"
)

// Sentinel causes carried inside extraction errors. Callers distinguish
// "we don't handle this format" from "we handle it but the payload is
// broken" via errors.Is.
var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrCorruptInput      = errors.New("corrupt document payload")
)

// PageSpan records where one page's text landed in the extracted output.
// Offsets are bytes into Result.Text, half-open.
type PageSpan struct {
	Page  int
	Start int
	End   int
}

// Result is the outcome of extraction.
type Result struct {
	// Text is the extracted plain text.
	Text string

	// Pages holds per-page spans for paginated formats, nil otherwise.
	Pages []PageSpan
}

// PageCount returns the number of pages, 0 for unpaginated formats.
func (r *Result) PageCount() int {
	return len(r.Pages)
}

// PageFor returns the 1-based page containing the byte offset, or 0 when
// the source has no page structure. Offsets falling between pages (the
// join separators) belong to the preceding page.
func (r *Result) PageFor(offset int) int {
	page := 0
	for _, s := range r.Pages {
		if s.Start > offset {
			break
		}
		page = s.Page
	}
	return page
}

// DetectFormat maps a filename to a Format by extension.
func DetectFormat(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return FormatPDF, nil
	case ".txt", ".text", ".md":
		return FormatText, nil
	default:
		return "", rag.Errorf(rag.KindExtraction, "extract: %w: %q", ErrUnsupportedFormat, name)
	}
}

// Extract converts a document payload into plain text.
func Extract(data []byte, format Format) (*Result, error) {
	switch format {
	case FormatPDF:
		return pdfText(data)
	case FormatText:
		return plainText(data)
	default:
		return nil, rag.Errorf(rag.KindExtraction, "extract: %w: %q", ErrUnsupportedFormat, format)
	}
}

// pdfText extracts page by page so each chunk can later be attributed to
// the page its span starts on. Pages are joined with a newline; the
// separator bytes sit outside every span.
func pdfText(data []byte) (_ *Result, err error) {
	// The pdf parser panics on some malformed xref tables instead of
	// returning an error.
	defer func() {
		if r := recover(); r != nil {
			err = rag.Errorf(rag.KindExtraction, "extract: %w: pdf parser panic: %v", ErrCorruptInput, r)
		}
	}()

	rdr, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, rag.Errorf(rag.KindExtraction, "extract: %w: %v", ErrCorruptInput, err)
	}

	var sb strings.Builder
	var spans []PageSpan

	total := rdr.NumPage()
	for p := 1; p <= total; p++ {
		page := rdr.Page(p)
		if page.V.IsNull() {
			continue
		}

		text, perr := page.GetPlainText(nil)
		if perr != nil {
			return nil, rag.Errorf(rag.KindExtraction, "extract: %w: page %d: %v", ErrCorruptInput, p, perr)
		}

		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		start := sb.Len()
		sb.WriteString(text)
		spans = append(spans, PageSpan{Page: p, Start: start, End: sb.Len()})
	}

	return &Result{Text: sb.String(), Pages: spans}, nil
}

// plainText validates encoding and normalises line endings.
func plainText(data []byte) (*Result, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if !utf8.Valid(data) {
		return nil, rag.Errorf(rag.KindExtraction, "extract: %w: text payload is not valid UTF-8", ErrCorruptInput)
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return &Result{Text: text}, nil
}

// FormatOf validates a caller-declared format string.
func FormatOf(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatPDF:
		return FormatPDF, nil
	case FormatText:
		return FormatText, nil
	default:
		return "", rag.Errorf(rag.KindExtraction, "extract: %w: %q", ErrUnsupportedFormat, s)
	}
}
