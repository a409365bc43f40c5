package adapter

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kenny-assistant/kenny/filetext"
	"github.com/kenny-assistant/kenny/store"
)

// FilesAdapter walks a configured root directory, delegating text
// extraction to filetext.Registry. spec.md §1 scopes image/audio content
// *analysis* out but text *extraction* in, so this adapter indexes
// whatever filetext can turn into plain text and ignores everything else.
type FilesAdapter struct {
	root     string
	registry *filetext.Registry
}

func NewFilesAdapter(root string, registry *filetext.Registry) *FilesAdapter {
	if registry == nil {
		registry = filetext.NewDefaultRegistry()
	}
	return &FilesAdapter{root: root, registry: registry}
}

func (a *FilesAdapter) Name() store.Source { return store.SourceFiles }

func (a *FilesAdapter) Probe(ctx context.Context) ProbeResult {
	info, err := os.Stat(a.root)
	if errors.Is(err, fs.ErrNotExist) {
		return ProbeResult{Status: Unavailable, Reason: fmt.Sprintf("root %q does not exist", a.root)}
	}
	if errors.Is(err, fs.ErrPermission) {
		return ProbeResult{Status: NeedsPermission, Hint: fmt.Sprintf("grant read access to %q", a.root)}
	}
	if err != nil {
		return ProbeResult{Status: Unavailable, Reason: err.Error()}
	}
	if !info.IsDir() {
		return ProbeResult{Status: Unavailable, Reason: fmt.Sprintf("root %q is not a directory", a.root)}
	}
	if _, err := os.ReadDir(a.root); errors.Is(err, fs.ErrPermission) {
		return ProbeResult{Status: NeedsPermission, Hint: fmt.Sprintf("grant read access to %q", a.root)}
	}
	return ProbeResult{Status: Ready}
}

// Pull's cursor position is the Unix-nanosecond mtime of the
// latest-modified file emitted so far; files with an mtime at or before
// the cursor are skipped on resumption. source_native_id is the file's
// absolute path, so renaming a file produces a new document rather than
// an update of the old one, matching spec.md §3's identity rule.
func (a *FilesAdapter) Pull(ctx context.Context, since *store.Cursor, maxItems *int) iter.Seq[Pulled] {
	var sincePos int64
	if since != nil && since.Position != "" {
		if v, err := strconv.ParseInt(since.Position, 10, 64); err == nil {
			sincePos = v
		}
	}

	return func(yield func(Pulled) bool) {
		emitted := 0
		maxSeen := sincePos

		walkErr := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				return yieldOrStop(yield, Pulled{Err: &RawItemError{NativeID: path, Reason: err.Error()}})
			}
			if d.IsDir() {
				return nil
			}
			if maxItems != nil && emitted >= *maxItems {
				return filepath.SkipAll
			}

			info, err := d.Info()
			if err != nil {
				return yieldOrStop(yield, Pulled{Err: &RawItemError{NativeID: path, Reason: err.Error()}})
			}
			mtime := info.ModTime().UnixNano()
			if mtime <= sincePos {
				return nil
			}

			absPath, err := filepath.Abs(path)
			if err != nil {
				absPath = path
			}

			ext := filepath.Ext(path)
			extractor, ok := a.registry.Get(ext)
			if !ok {
				return nil
			}

			text, err := extractor.Extract(ctx, path)
			if err != nil {
				return yieldOrStop(yield, Pulled{Err: &RawItemError{NativeID: absPath, Reason: err.Error()}})
			}

			if mtime > maxSeen {
				maxSeen = mtime
			}
			item := RawItem{
				SourceNativeID: absPath,
				Kind:           store.KindFile,
				Title:          filepath.Base(path),
				Content:        text,
				CreatedAt:      info.ModTime().Unix(),
				UpdatedAt:      info.ModTime().Unix(),
				Cursor:         strconv.FormatInt(maxSeen, 10),
				Metadata: map[string]string{
					"path": absPath,
					"ext":  ext,
				},
			}
			emitted++
			return yieldOrStop(yield, Pulled{Item: item})
		})

		if walkErr != nil && !errors.Is(walkErr, filepath.SkipAll) && !errors.Is(walkErr, errStopWalk) {
			yield(Pulled{Err: &RawItemError{Reason: walkErr.Error()}})
		}
	}
}

var errStopWalk = errors.New("adapter: walk stopped by consumer")

// yieldOrStop adapts iter.Seq's consumer-controlled stop signal (yield
// returning false) into a filepath.WalkDir-compatible error so a broken
// range loop halts the walk instead of visiting every remaining file.
func yieldOrStop(yield func(Pulled) bool, p Pulled) error {
	if !yield(p) {
		return errStopWalk
	}
	return nil
}
