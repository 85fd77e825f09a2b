package storage

import (
	"path/filepath"
	"strings"
)

// DownloadURLPrefix is where files under the download dir are served.
const DownloadURLPrefix = "/downloads/"

// DownloadLink returns the served URL for path, a file under root. It
// returns "" when path does not lie inside root.
func DownloadLink(root, path string) string {
	absRoot, err := resolvedAbs(root)
	if err != nil {
		return ""
	}
	absPath, err := resolvedAbs(path)
	if err != nil {
		return ""
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return DownloadURLPrefix + filepath.ToSlash(rel)
}

func resolvedAbs(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}
