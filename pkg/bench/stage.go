package bench

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
)

// Benchmark code sources.
const (
	// SourceLatest runs the live benchmark code against every revision.
	SourceLatest = "latest"
	// SourceRevision runs each revision's own benchmark code.
	SourceRevision = "revision"
)

// ErrUnknownSource is returned for an unsupported benchmark source.
var ErrUnknownSource = errors.New("unknown benchmark source")

// ValidSource reports whether s names a supported benchmark source.
func ValidSource(s string) bool {
	return s == SourceLatest || s == SourceRevision
}

var stageSkip = []string{"__pycache__", ".git"}

// Stage copies the live benchmark directory src over dst, a directory
// inside a snapshot. Entries named in skip (the cache root) are not copied.
func Stage(src, dst string, skip ...string) error {
	skip = append(slices.Clone(skip), stageSkip...)

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		if rel != "." && slices.Contains(skip, d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		if !d.Type().IsRegular() {
			return nil
		}

		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	// Replace rather than truncate: the snapshot may hold a hard link.
	_ = os.Remove(dst)

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	_, err = io.Copy(out, in)
	if err != nil {
		out.Close()

		return fmt.Errorf("copy %s: %w", src, err)
	}

	return out.Close()
}
