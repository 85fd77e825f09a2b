package storage

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rh-orchestrator/core/models"
)

// IsZip reports whether path looks like a zip archive by extension.
func IsZip(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zip")
}

// ExtractZip expands the archive at src into destDir and returns the written
// file paths, sorted. Entries that would land outside destDir, symlinks and
// entries that fail to write are skipped and returned in rejected; they never
// abort the remaining entries. err is non-nil only when the archive itself
// cannot be read.
func ExtractZip(src, destDir string) (files []string, rejected []error, err error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return nil, nil, &models.ArchiveError{Entry: filepath.Base(src), Reason: err.Error()}
	}
	defer zr.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", destDir, err)
	}
	base, err := filepath.Abs(destDir)
	if err != nil {
		return nil, nil, err
	}
	if resolved, err := filepath.EvalSymlinks(base); err == nil {
		base = resolved
	}

	for _, f := range zr.File {
		name := f.Name
		if name == "" || strings.HasSuffix(name, "/") || f.FileInfo().IsDir() {
			continue
		}
		target, ok := containedPath(base, name)
		if !ok {
			rejected = append(rejected, &models.ArchiveError{Entry: name, Reason: "path escapes destination"})
			continue
		}
		if f.Mode()&os.ModeSymlink != 0 {
			rejected = append(rejected, &models.ArchiveError{Entry: name, Reason: "symlink entries are not extracted"})
			continue
		}
		if err := writeEntry(f, target); err != nil {
			rejected = append(rejected, &models.ArchiveError{Entry: name, Reason: err.Error()})
			continue
		}
		files = append(files, target)
	}

	sort.Strings(files)
	return files, rejected, nil
}

// containedPath joins name under base and reports whether the result stays
// inside base.
func containedPath(base, name string) (string, bool) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return "", false
	}
	target := filepath.Join(base, filepath.FromSlash(name))
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return target, true
}

func writeEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(target)
		return err
	}
	return out.Close()
}
