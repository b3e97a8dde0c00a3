package packager_service

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// zipDir writes every regular file under src into dst. Entries in overrides replace the
// file at the same slash path, or are appended when the tree has none. progress, when
// set, is called with the number of files written so far and the total.
func zipDir(ctx context.Context, src, dst string, overrides map[string][]byte, progress func(done, total int)) error {
	var files []string
	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", src, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create archive dir: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	written := make(map[string]bool, len(overrides))
	for i, p := range files {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		w, err := zw.CreateHeader(&zip.FileHeader{Name: rel, Method: zip.Deflate})
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", rel, err)
		}
		if data, ok := overrides[rel]; ok {
			written[rel] = true
			_, err = w.Write(data)
		} else {
			err = copyInto(w, p)
		}
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", rel, err)
		}
		if progress != nil {
			progress(i+1, len(files))
		}
	}

	extras := make([]string, 0, len(overrides))
	for rel := range overrides {
		if !written[rel] {
			extras = append(extras, rel)
		}
	}
	sort.Strings(extras)
	for _, rel := range extras {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: rel, Method: zip.Deflate})
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", rel, err)
		}
		if _, err := w.Write(overrides[rel]); err != nil {
			return fmt.Errorf("failed to write %s: %w", rel, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return out.Close()
}

func copyInto(w io.Writer, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// copyTree copies regular files and directories from src to dst
func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(p, target)
	})
}
