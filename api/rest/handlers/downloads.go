package handlers

import (
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rh-orchestrator/core/models"
	"rh-orchestrator/storage"
)

// DownloadURLPrefix is where files under the download dir are served.
const DownloadURLPrefix = storage.DownloadURLPrefix

// DownloadItem describes one file in the download dir.
type DownloadItem struct {
	Path       string `json:"path"`
	Name       string `json:"name"`
	Ext        string `json:"ext"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modifiedAt"`
	URL        string `json:"url"`
	Mime       string `json:"mime"`
}

// DownloadsHandler lists downloaded and extracted artifacts.
type DownloadsHandler struct {
	dir string
}

// NewDownloadsHandler creates a new downloads handler
func NewDownloadsHandler(dir string) *DownloadsHandler {
	return &DownloadsHandler{dir: dir}
}

// ListDownloads handles GET /v1/downloads. Files are listed recursively,
// most recently modified first.
func (h *DownloadsHandler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	items, err := listFiles(h.dir)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(map[string]interface{}{"items": items}))
}

func listFiles(dir string) ([]DownloadItem, error) {
	items := []DownloadItem{}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return items, nil
	}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !d.Type().IsRegular() {
			// unreadable entries are skipped, not fatal
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		ext := strings.ToLower(filepath.Ext(d.Name()))
		items = append(items, DownloadItem{
			Path:       rel,
			Name:       d.Name(),
			Ext:        ext,
			Size:       info.Size(),
			ModifiedAt: models.Timestamp(info.ModTime()),
			URL:        DownloadURLPrefix + rel,
			Mime:       mime.TypeByExtension(ext),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].ModifiedAt != items[j].ModifiedAt {
			return items[i].ModifiedAt > items[j].ModifiedAt
		}
		return items[i].Path < items[j].Path
	})
	return items, nil
}
