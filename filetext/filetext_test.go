package filetext

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRegistryDispatchesByExtension(t *testing.T) {
	reg := NewDefaultRegistry()

	cases := []struct {
		ext  string
		want string
	}{
		{"txt", "filetext.TextExtractor"},
		{".txt", "filetext.TextExtractor"},
		{"md", "filetext.TextExtractor"},
		{"pdf", "filetext.PDFExtractor"},
		{"docx", "filetext.DOCXExtractor"},
		{"pptx", "filetext.PPTXExtractor"},
		{"xlsx", "filetext.XLSXExtractor"},
		{"xls", "filetext.XLSXExtractor"},
	}
	for _, c := range cases {
		e, ok := reg.Get(c.ext)
		if !ok {
			t.Errorf("Get(%q): expected an extractor to be registered", c.ext)
			continue
		}
		if got := fmt.Sprintf("%T", e); got != c.want {
			t.Errorf("Get(%q): got %s, want %s", c.ext, got, c.want)
		}
	}
}

func TestRegistryUnknownExtension(t *testing.T) {
	reg := NewDefaultRegistry()
	if _, ok := reg.Get("rtf"); ok {
		t.Error("expected no extractor registered for rtf")
	}
}

func TestTextExtractorReadsFileVerbatim(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	content := "paragraph one\n\nparagraph two"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	got, err := TextExtractor{}.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("extracting: %v", err)
	}
	if got != content {
		t.Errorf("got %q, want %q", got, content)
	}
}

func TestTextExtractorMissingFile(t *testing.T) {
	_, err := TextExtractor{}.Extract(context.Background(), "/nonexistent/path.txt")
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

// writeMinimalDocx builds a syntactically valid but minimal DOCX file with
// two paragraphs, enough to exercise the zip+XML walking path without a
// real fixture binary checked into the repo.
func writeMinimalDocx(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating docx fixture: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("creating document.xml entry: %v", err)
	}
	docXML := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>first paragraph</w:t></w:r></w:p>
    <w:p><w:r><w:t>second paragraph</w:t></w:r></w:p>
  </w:body>
</w:document>`
	if _, err := w.Write([]byte(docXML)); err != nil {
		t.Fatalf("writing document.xml: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing docx fixture: %v", err)
	}
}

func TestDOCXExtractorReadsParagraphs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.docx")
	writeMinimalDocx(t, path)

	got, err := DOCXExtractor{}.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("extracting: %v", err)
	}
	if !strings.Contains(got, "first paragraph") || !strings.Contains(got, "second paragraph") {
		t.Errorf("expected both paragraphs in output, got %q", got)
	}
	if !strings.Contains(got, "\n\n") {
		t.Errorf("expected paragraphs separated by a blank line for the chunker, got %q", got)
	}
}

func TestDOCXExtractorMissingDocumentXML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating fixture: %v", err)
	}
	zw := zip.NewWriter(f)
	zw.Close()
	f.Close()

	_, err = DOCXExtractor{}.Extract(context.Background(), path)
	if err == nil {
		t.Fatal("expected an error when word/document.xml is absent")
	}
}
