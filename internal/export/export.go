// Package export writes accepted document sides to disk or as a PDF.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"

	"github.com/MeKo-Tech/idcap/internal/frame"
	"github.com/MeKo-Tech/idcap/internal/submit"
)

// ErrNoPages is returned when there is nothing to export.
var ErrNoPages = errors.New("export: no pages")

// PDF writes one page per buffer to w, in order. Nil or empty buffers are
// skipped.
func PDF(w io.Writer, pages ...*frame.Buffer) error {
	var readers []io.Reader
	for _, p := range pages {
		if p.Empty() {
			continue
		}
		data, err := p.PNG()
		if err != nil {
			return fmt.Errorf("export: encode page: %w", err)
		}
		readers = append(readers, bytes.NewReader(data))
	}
	if len(readers) == 0 {
		return ErrNoPages
	}

	imp := pdfcpu.DefaultImportConfig()
	if err := api.ImportImages(nil, w, readers, imp, nil); err != nil {
		return fmt.Errorf("export: build pdf: %w", err)
	}
	return nil
}

// PDFBytes is PDF into memory.
func PDFBytes(pages ...*frame.Buffer) ([]byte, error) {
	var buf bytes.Buffer
	if err := PDF(&buf, pages...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SavePNGs writes the front and back buffers into dir using the upload file
// names and returns the written paths. Missing sides are skipped.
func SavePNGs(dir, docType string, front, back *frame.Buffer) ([]string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("export: create %s: %w", dir, err)
	}
	var paths []string
	for i, b := range []*frame.Buffer{front, back} {
		if b.Empty() {
			continue
		}
		path := filepath.Join(dir, submit.FileName(docType, i == 1))
		data, err := b.PNG()
		if err != nil {
			return paths, err
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return paths, fmt.Errorf("export: write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	if len(paths) == 0 {
		return nil, ErrNoPages
	}
	return paths, nil
}
