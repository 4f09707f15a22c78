// Package pdfprobe performs the cheap structural checks run on uploads
// before a file is accepted.
package pdfprobe

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrInvalidPDF is returned for anything the reader cannot open or that has
// no pages.
var ErrInvalidPDF = errors.New("invalid pdf")

// Info is what an upload needs to know about a document.
type Info struct {
	PageCount int
}

// Probe opens the document and counts its pages.
func Probe(r io.ReaderAt, size int64) (info Info, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			info = Info{}
			err = fmt.Errorf("%w: %v", ErrInvalidPDF, rec)
		}
	}()
	reader, err := open(r, size)
	if err != nil {
		return Info{}, err
	}
	n := reader.NumPage()
	if n < 1 {
		return Info{}, fmt.Errorf("%w: no pages", ErrInvalidPDF)
	}
	return Info{PageCount: n}, nil
}

// ProbeBytes is Probe over an in-memory document.
func ProbeBytes(data []byte) (Info, error) {
	return Probe(bytes.NewReader(data), int64(len(data)))
}

// Text extracts plain text from up to maxPages pages. Pages that fail to
// decode are skipped.
func Text(r io.ReaderAt, size int64, maxPages int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
			err = fmt.Errorf("%w: %v", ErrInvalidPDF, rec)
		}
	}()
	reader, err := open(r, size)
	if err != nil {
		return "", err
	}
	total := reader.NumPage()
	if maxPages > 0 && maxPages < total {
		total = maxPages
	}
	var parts []string
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if content = strings.TrimSpace(content); content != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func open(r io.ReaderAt, size int64) (*pdf.Reader, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidPDF)
	}
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	return reader, nil
}
