// Package ingest implements the repository ingestion pipeline: clone, walk,
// chunk, embed, upsert, archive, and the two-phase commit activation. It
// also hosts the incremental sync driver that reconciles git commit ranges
// against stored vectors.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// binaryExtensions lists extensions that are never chunked as text: images,
// archives, compiled artifacts, fonts, media.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".ico": true, ".webp": true, ".tiff": true, ".psd": true,
	".zip": true, ".tar": true, ".gz": true, ".bz2": true, ".xz": true,
	".7z": true, ".rar": true, ".jar": true, ".war": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".a": true,
	".o": true, ".obj": true, ".class": true, ".pyc": true, ".pyo": true,
	".wasm": true, ".bin": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
	".mp3": true, ".mp4": true, ".wav": true, ".avi": true, ".mov": true,
	".pdf": true, ".db": true, ".sqlite": true,
}

// Walker traverses a working tree and yields candidate files for chunking.
type Walker struct {
	maxFileSize int64
}

// NewWalker creates a walker that skips files larger than maxFileSize
// bytes (0 = no limit).
func NewWalker(maxFileSize int64) *Walker {
	return &Walker{maxFileSize: maxFileSize}
}

// WalkFile describes one file the walker accepted.
type WalkFile struct {
	AbsPath string // absolute path on disk
	RelPath string // repo-relative, forward slashes
	Size    int64
	Binary  bool // extension-blocklisted; gets a summary chunk only
}

// Walk traverses root and calls fn for every non-hidden file. Binary files
// are reported with Binary=true so the ingester can emit summary chunks
// instead of skipping them silently. Hidden files and directories (dot
// prefixed, .git most importantly) are never visited.
func (w *Walker) Walk(ctx context.Context, root string, fn func(WalkFile) error) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root path: %w", err)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return err
		}

		name := d.Name()
		if strings.HasPrefix(name, ".") && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", path, err)
		}
		relPath = filepath.ToSlash(relPath)

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		if w.maxFileSize > 0 && info.Size() > w.maxFileSize {
			return nil
		}

		return fn(WalkFile{
			AbsPath: path,
			RelPath: relPath,
			Size:    info.Size(),
			Binary:  binaryExtensions[strings.ToLower(filepath.Ext(name))],
		})
	})
}
