package job_service

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrUnsafeArchive   = errors.New("unsafe archive entry")
	ErrArchiveTooLarge = errors.New("extracted bundle too large")
)

// ignoredEntries are archive noise left by desktop zip tools
var ignoredEntries = map[string]bool{
	"__MACOSX":  true,
	".DS_Store": true,
}

// spool copies r into path
func spool(r io.Reader, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// extractZip extracts archive into dst and returns the bundle root: the single
// top-level directory when the archive wraps everything in one, dst otherwise.
// maxBytes bounds the total uncompressed size, zero means unbounded.
func extractZip(ctx context.Context, archive, dst string, maxBytes int64, progress func(done, total int)) (string, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		if errors.Is(err, zip.ErrInsecurePath) {
			zr.Close()
			return "", fmt.Errorf("%w: %v", ErrUnsafeArchive, err)
		}
		return "", fmt.Errorf("failed to open bundle archive: %w", err)
	}
	defer zr.Close()

	if err := os.MkdirAll(dst, 0755); err != nil {
		return "", fmt.Errorf("failed to create source dir: %w", err)
	}

	var written int64
	total := len(zr.File)
	for i, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rel := filepath.FromSlash(f.Name)
		if !filepath.IsLocal(rel) || strings.Contains(f.Name, `\`) {
			return "", fmt.Errorf("%w: %s", ErrUnsafeArchive, f.Name)
		}
		target := filepath.Join(dst, rel)

		switch {
		case f.FileInfo().IsDir():
			if err := os.MkdirAll(target, 0755); err != nil {
				return "", fmt.Errorf("failed to create %s: %w", f.Name, err)
			}
		case f.Mode().IsRegular():
			n, err := extractFile(f, target, remaining(maxBytes, written))
			written += n
			if err != nil {
				return "", err
			}
			if maxBytes > 0 && written > maxBytes {
				return "", fmt.Errorf("%w: more than %d bytes", ErrArchiveTooLarge, maxBytes)
			}
		}
		// symlinks and devices are skipped

		if progress != nil {
			progress(i+1, total)
		}
	}
	return bundleRoot(dst)
}

// remaining bytes allowed, -1 means unbounded
func remaining(maxBytes, written int64) int64 {
	if maxBytes <= 0 {
		return -1
	}
	return maxBytes - written
}

func extractFile(f *zip.File, target string, limit int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
	}
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", f.Name, err)
	}

	var src io.Reader = rc
	if limit >= 0 {
		// one byte over the limit is enough to detect the overflow
		src = io.LimitReader(rc, limit+1)
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	return n, nil
}

func bundleRoot(dst string) (string, error) {
	entries, err := os.ReadDir(dst)
	if err != nil {
		return "", fmt.Errorf("failed to read source dir: %w", err)
	}
	var kept []os.DirEntry
	for _, e := range entries {
		if !ignoredEntries[e.Name()] {
			kept = append(kept, e)
		}
	}
	if len(kept) == 1 && kept[0].IsDir() {
		return filepath.Join(dst, kept[0].Name()), nil
	}
	return dst, nil
}
