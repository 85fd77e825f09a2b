package repository

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"rh-orchestrator/core/importer"
	"rh-orchestrator/core/models"
	"rh-orchestrator/storage"
)

// TemplateRepository stores templates in <dataDir>/templates.json.
type TemplateRepository struct {
	mu    sync.Mutex
	store *storage.JSONStore
	path  string
	now   func() time.Time
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(store *storage.JSONStore, dataDir string) *TemplateRepository {
	return &TemplateRepository{
		store: store,
		path:  filepath.Join(dataDir, "templates.json"),
		now:   time.Now,
	}
}

func (r *TemplateRepository) load() ([]models.Template, error) {
	return loadCollection[models.Template](r.store, r.path, "templates")
}

func (r *TemplateRepository) save(templates []models.Template) error {
	return saveCollection(r.store, r.path, "templates", templates)
}

// ListTemplates returns all templates in stored order.
func (r *TemplateRepository) ListTemplates() ([]models.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

// GetTemplate returns the template with id or models.ErrNotFound.
func (r *TemplateRepository) GetTemplate(id string) (models.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	templates, err := r.load()
	if err != nil {
		return models.Template{}, err
	}
	for _, t := range templates {
		if t.ID == id {
			return t, nil
		}
	}
	return models.Template{}, fmt.Errorf("template %s: %w", id, models.ErrNotFound)
}

// CreateTemplate normalizes raw and stores it first in the list, replacing
// any template with the same id.
func (r *TemplateRepository) CreateTemplate(raw map[string]interface{}) (models.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	templates, err := r.load()
	if err != nil {
		return models.Template{}, err
	}
	t := importer.NormalizeTemplate(raw, r.now())
	next := []models.Template{t}
	for _, existing := range templates {
		if existing.ID != t.ID {
			next = append(next, existing)
		}
	}
	return t, r.save(next)
}

// UpdateTemplate overlays patch onto the stored template and normalizes the
// result. The id cannot change.
func (r *TemplateRepository) UpdateTemplate(id string, patch map[string]interface{}) (models.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	templates, err := r.load()
	if err != nil {
		return models.Template{}, err
	}
	for i, existing := range templates {
		if existing.ID != id {
			continue
		}
		merged, err := toMap(existing)
		if err != nil {
			return models.Template{}, err
		}
		for k, v := range patch {
			merged[k] = v
		}
		merged["id"] = id
		t := importer.NormalizeTemplate(merged, r.now())
		templates[i] = t
		return t, r.save(templates)
	}
	return models.Template{}, fmt.Errorf("template %s: %w", id, models.ErrNotFound)
}

// DeleteTemplate removes the template with id. Unknown ids are ignored.
func (r *TemplateRepository) DeleteTemplate(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	templates, err := r.load()
	if err != nil {
		return err
	}
	next := templates[:0]
	for _, t := range templates {
		if t.ID != id {
			next = append(next, t)
		}
	}
	return r.save(next)
}

// ImportTemplates merges raws into the store by id and returns the new
// total.
func (r *TemplateRepository) ImportTemplates(raws []map[string]interface{}) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	templates, err := r.load()
	if err != nil {
		return 0, err
	}
	byID := make(map[string]models.Template, len(templates)+len(raws))
	for _, t := range templates {
		byID[t.ID] = t
	}
	now := r.now()
	for _, raw := range raws {
		t := importer.NormalizeTemplate(raw, now)
		byID[t.ID] = t
	}

	merged := make([]models.Template, 0, len(byID))
	for _, t := range byID {
		merged = append(merged, t)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].UpdatedAt != merged[j].UpdatedAt {
			return merged[i].UpdatedAt > merged[j].UpdatedAt
		}
		return merged[i].ID < merged[j].ID
	})
	return len(merged), r.save(merged)
}
