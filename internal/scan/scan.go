// Package scan enumerates markdown files under a docs root, restricted
// by the project's include/exclude globs. Both the reconciler and the
// initial activation index consume it.
package scan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// File describes one admitted file.
type File struct {
	// RelPath is slash-separated and relative to the scanned root.
	RelPath string
	AbsPath string
	Size    int64
	ModTime time.Time
}

// Result streams either a discovered file or a walk error.
type Result struct {
	File *File
	Err  error
}

// Scan walks root and streams every file admitted by the matcher. The
// channel closes when the walk completes or ctx is cancelled. Unreadable
// entries are skipped; only a failure to walk at all surfaces as a
// Result error.
func Scan(ctx context.Context, root string, m *Matcher) (<-chan Result, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve scan root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat scan root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan root is not a directory: %s", absRoot)
	}

	results := make(chan Result, 64)
	go func() {
		defer close(results)
		walk(ctx, absRoot, m, results)
	}()
	return results, nil
}

func walk(ctx context.Context, absRoot string, m *Matcher, results chan<- Result) {
	err := filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return nil // unreadable entry, keep walking
		}

		rel, err := filepath.Rel(absRoot, p)
		if err != nil || rel == "." {
			return nil
		}
		relSlash := ToSlash(rel)

		if d.IsDir() {
			if m.SkipDir(relSlash) {
				return filepath.SkipDir
			}
			return nil
		}

		// Symlinks are not followed; a link pointing back into the tree
		// would loop the walk.
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		if !m.Admit(relSlash) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}

		select {
		case results <- Result{File: &File{
			RelPath: relSlash,
			AbsPath: p,
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		}}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err != nil && err != context.Canceled && ctx.Err() == nil {
		select {
		case results <- Result{Err: err}:
		case <-ctx.Done():
		}
	}
}

// ListFiles collects a full scan into a slice, for callers that want the
// whole set up front.
func ListFiles(ctx context.Context, root string, m *Matcher) ([]*File, error) {
	results, err := Scan(ctx, root, m)
	if err != nil {
		return nil, err
	}
	var files []*File
	for r := range results {
		if r.Err != nil {
			return nil, r.Err
		}
		files = append(files, r.File)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return files, nil
}

// HashBytes returns the lowercase hex SHA-256 of content, the content
// hash stored with every document.
func HashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
