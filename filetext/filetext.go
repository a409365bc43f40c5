// Package filetext extracts plain text from on-disk documents for the
// Files source adapter. It deliberately stops at text: no image
// extraction, no heading classification, no running-header repair — Kenny's
// chunker re-splits every document on blank lines regardless of the
// structure a richer parser might have preserved, so that machinery would
// never be exercised here.
package filetext

import (
	"context"
	"fmt"
	"strings"
)

// Extractor turns a file on disk into plain text, one logical unit
// (paragraph, slide, table row group) per blank-line-separated block so
// the chunker's paragraph splitter has real boundaries to work with.
type Extractor interface {
	SupportedExtensions() []string
	Extract(ctx context.Context, path string) (string, error)
}

// Registry dispatches by lowercase file extension (without the dot).
type Registry struct {
	extractors map[string]Extractor
}

func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

func (r *Registry) Register(ext string, e Extractor) {
	r.extractors[strings.ToLower(ext)] = e
}

func (r *Registry) Get(ext string) (Extractor, bool) {
	e, ok := r.extractors[strings.ToLower(strings.TrimPrefix(ext, "."))]
	return e, ok
}

// NewDefaultRegistry registers every extractor this package provides.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	txt := TextExtractor{}
	for _, ext := range txt.SupportedExtensions() {
		r.Register(ext, txt)
	}
	pdfX := PDFExtractor{}
	for _, ext := range pdfX.SupportedExtensions() {
		r.Register(ext, pdfX)
	}
	docx := DOCXExtractor{}
	for _, ext := range docx.SupportedExtensions() {
		r.Register(ext, docx)
	}
	pptx := PPTXExtractor{}
	for _, ext := range pptx.SupportedExtensions() {
		r.Register(ext, pptx)
	}
	xlsx := XLSXExtractor{}
	for _, ext := range xlsx.SupportedExtensions() {
		r.Register(ext, xlsx)
	}
	return r
}

// ErrUnsupportedFormat describes an extension no registered extractor
// claims. The Files adapter does not return it: it skips such files without
// reporting an error.
type ErrUnsupportedFormat struct {
	Ext string
}

func (e *ErrUnsupportedFormat) Error() string {
	return fmt.Sprintf("filetext: no extractor registered for %q", e.Ext)
}
