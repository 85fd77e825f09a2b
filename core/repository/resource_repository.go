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

// ResourceRepository stores uploaded resource records in
// <dataDir>/resources.json.
type ResourceRepository struct {
	mu    sync.Mutex
	store *storage.JSONStore
	path  string
	now   func() time.Time
}

// NewResourceRepository creates a new resource repository
func NewResourceRepository(store *storage.JSONStore, dataDir string) *ResourceRepository {
	return &ResourceRepository{
		store: store,
		path:  filepath.Join(dataDir, "resources.json"),
		now:   time.Now,
	}
}

func (r *ResourceRepository) load() ([]models.Resource, error) {
	return loadCollection[models.Resource](r.store, r.path, "resources")
}

func (r *ResourceRepository) save(resources []models.Resource) error {
	return saveCollection(r.store, r.path, "resources", resources)
}

// ListResources returns all resources, most recently created first.
func (r *ResourceRepository) ListResources() ([]models.Resource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	resources, err := r.load()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(resources, func(i, j int) bool {
		return resources[i].CreatedAt > resources[j].CreatedAt
	})
	return resources, nil
}

// SaveUploaded records an uploaded resource. A resource with the same
// remote name is replaced in place and keeps its id and creation time.
func (r *ResourceRepository) SaveUploaded(res models.Resource) (models.Resource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	resources, err := r.load()
	if err != nil {
		return models.Resource{}, err
	}
	now := models.Timestamp(r.now())
	res.UpdatedAt = now
	for i, existing := range resources {
		if existing.Name != res.Name {
			continue
		}
		res.ID = existing.ID
		res.CreatedAt = existing.CreatedAt
		if res.ID == "" {
			res.ID = importer.NewID()
		}
		if res.CreatedAt == "" {
			res.CreatedAt = now
		}
		resources[i] = res
		return res, r.save(resources)
	}

	if res.ID == "" {
		res.ID = importer.NewID()
	}
	res.CreatedAt = now
	return res, r.save(append([]models.Resource{res}, resources...))
}

// DeleteResource removes the resource with id and returns the removed
// record so its local copy can be cleaned up.
func (r *ResourceRepository) DeleteResource(id string) (models.Resource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	resources, err := r.load()
	if err != nil {
		return models.Resource{}, err
	}
	var victim models.Resource
	found := false
	next := resources[:0]
	for _, res := range resources {
		if res.ID == id {
			victim = res
			found = true
			continue
		}
		next = append(next, res)
	}
	if err := r.save(next); err != nil {
		return models.Resource{}, err
	}
	if !found {
		return models.Resource{}, fmt.Errorf("resource %s: %w", id, models.ErrNotFound)
	}
	return victim, nil
}

// ImportResources merges raws into the store by id and returns the new
// total.
func (r *ResourceRepository) ImportResources(raws []map[string]interface{}) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	resources, err := r.load()
	if err != nil {
		return 0, err
	}
	byID := make(map[string]models.Resource, len(resources)+len(raws))
	for _, res := range resources {
		byID[res.ID] = res
	}
	now := r.now()
	for _, raw := range raws {
		res := importer.NormalizeResource(raw, now)
		byID[res.ID] = res
	}

	merged := make([]models.Resource, 0, len(byID))
	for _, res := range byID {
		merged = append(merged, res)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].UpdatedAt != merged[j].UpdatedAt {
			return merged[i].UpdatedAt > merged[j].UpdatedAt
		}
		return merged[i].ID < merged[j].ID
	})
	return len(merged), r.save(merged)
}
