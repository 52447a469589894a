// Package scanner lists the configured media directory and produces stable,
// path-addressed entries (ids hash the resolved file path) for the Library Index
// to reconcile.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/recelilious/Anicargo/internal/fsutil"
	"github.com/recelilious/Anicargo/internal/log"
	"github.com/recelilious/Anicargo/internal/parser"
)

// MediaEntry is one eligible file found under media_dir.
type MediaEntry struct {
	ID string
	Filename string
	Size int64
	ModTime int64
	Path string
}

// Scan walks mediaDir and returns eligible entries sorted by filename
// ascending. Extensions are filtered to parser.IsMediaExtension (mp4, mkv),
// case-insensitively. An I/O failure on any individual file aborts the scan
// with no partial result
func Scan(ctx context.Context, mediaDir string) ([]MediaEntry, error) {
	rootResolved, err := filepath.EvalSymlinks(mediaDir)
	if err != nil {
		return nil, fmt.Errorf("scanner: media_dir unresolvable: %w", err)
	}
	rootResolved = filepath.Clean(rootResolved)

	var entries []MediaEntry

	walkErr := filepath.WalkDir(rootResolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("scanner: walk %s: %w", path, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.IsDir() {
			return nil
		}

		ext := filepath.Ext(d.Name())
		if !parser.IsMediaExtension(ext) {
			return nil
		}

		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("scanner: resolve %s: %w", path, err)
		}
		rel, err := filepath.Rel(rootResolved, resolved)
		if err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("scanner: path escapes media_dir: %s", path)
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("scanner: stat %s: %w", path, err)
		}

		entries = append(entries, MediaEntry{
			ID: IDForPath(resolved),
			Filename: d.Name(),
			Size: info.Size(),
			ModTime: info.ModTime().Unix(),
			Path: resolved,
		})
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Filename < entries[j].Filename })
	return entries, nil
}

// IDForPath derives a stable, deterministic (non-cryptographic use) 16-hex
// identifier from a canonical path string
func IDForPath(canonicalPath string) string {
	sum := sha256.Sum256([]byte(canonicalPath))
	return hex.EncodeToString(sum[:])[:16]
}

// ConfineFile resolves a file reference under mediaDir, rejecting traversal
// or symlink escape, reusing the same containment primitive the HLS server uses.
func ConfineFile(mediaDir, relPath string) (string, error) {
	return fsutil.ConfineRelPath(mediaDir, relPath)
}

// Watch starts an fsnotify watch on mediaDir and invokes onChange whenever a
// file is created, removed, renamed, or written, debounced by the caller.
// This is additive to the poll-driven scan: operators without a
// watch-capable filesystem simply never call Watch and rely on periodic
// "index" jobs instead.
func Watch(ctx context.Context, mediaDir string, onChange func()) error {
	w, err := newWatcher()
	if err != nil {
		return fmt.Errorf("scanner: watch init: %w", err)
	}
	defer w.Close()

	if err := w.Add(mediaDir); err != nil {
		return fmt.Errorf("scanner: watch %s: %w", mediaDir, err)
	}

	logger := log.WithComponent("scanner.watch")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			logger.Debug().Str("path", ev).Msg("media_dir change detected")
			onChange()
		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("watch error")
		}
	}
}
