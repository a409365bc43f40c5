package adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kenny-assistant/kenny/filetext"
	"github.com/kenny-assistant/kenny/store"
)

func TestFilesAdapterProbeUnavailableForMissingRoot(t *testing.T) {
	a := NewFilesAdapter(filepath.Join(t.TempDir(), "does-not-exist"), filetext.NewDefaultRegistry())
	result := a.Probe(context.Background())
	if result.Status != Unavailable {
		t.Fatalf("expected Unavailable, got %v", result.Status)
	}
}

func TestFilesAdapterProbeReadyForExistingDir(t *testing.T) {
	a := NewFilesAdapter(t.TempDir(), filetext.NewDefaultRegistry())
	if result := a.Probe(context.Background()); result.Status != Ready {
		t.Fatalf("expected Ready, got %v", result.Status)
	}
}

func TestFilesAdapterPullExtractsSupportedFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "note.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "image.png"), []byte{0, 1, 2}, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	a := NewFilesAdapter(dir, filetext.NewDefaultRegistry())
	got := collectPulled(a.Pull(context.Background(), nil, nil))

	if len(got) != 1 {
		t.Fatalf("expected 1 item (unsupported image.png skipped), got %d: %+v", len(got), got)
	}
	if got[0].Item.Content != "hello world" {
		t.Errorf("content = %q", got[0].Item.Content)
	}
	if !filepath.IsAbs(got[0].Item.SourceNativeID) {
		t.Errorf("expected an absolute path as native id, got %q", got[0].Item.SourceNativeID)
	}
}

func TestFilesAdapterResumesFromCursorBySkippingOlderFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	os.WriteFile(path, []byte("hello"), 0o644)

	a := NewFilesAdapter(dir, filetext.NewDefaultRegistry())
	first := collectPulled(a.Pull(context.Background(), nil, nil))
	if len(first) != 1 {
		t.Fatalf("expected 1 item on first pull, got %d", len(first))
	}

	since := &store.Cursor{Source: store.SourceFiles, Position: first[0].Item.Cursor}
	second := collectPulled(a.Pull(context.Background(), since, nil))
	if len(second) != 0 {
		t.Fatalf("expected no items on resumed pull with no new files, got %d", len(second))
	}
}
