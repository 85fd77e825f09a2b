package repository

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"rh-orchestrator/core/credentials"
	"rh-orchestrator/core/importer"
	"rh-orchestrator/core/models"
	"rh-orchestrator/storage"
)

// ProfileRepository stores imported browser sessions in
// <dataDir>/cookies.json.
type ProfileRepository struct {
	mu    sync.Mutex
	store *storage.JSONStore
	path  string
	now   func() time.Time
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(store *storage.JSONStore, dataDir string) *ProfileRepository {
	return &ProfileRepository{
		store: store,
		path:  filepath.Join(dataDir, "cookies.json"),
		now:   time.Now,
	}
}

func (r *ProfileRepository) load() ([]models.Profile, error) {
	return loadCollection[models.Profile](r.store, r.path, "profiles")
}

func (r *ProfileRepository) save(profiles []models.Profile) error {
	return saveCollection(r.store, r.path, "profiles", profiles)
}

// ListProfiles returns all profiles. Missing account ids and balances are
// filled in from the session record.
func (r *ProfileRepository) ListProfiles() ([]models.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	profiles, err := r.load()
	if err != nil {
		return nil, err
	}
	for i := range profiles {
		p := &profiles[i]
		if p.UserID != "" && p.TotalCoin != "" {
			continue
		}
		bundle, err := credentials.Resolve(p.Host, p.Record)
		if err != nil {
			continue
		}
		if p.UserID == "" {
			p.UserID = bundle.UserID()
		}
		if p.TotalCoin == "" {
			p.TotalCoin = bundle.TotalCoin()
		}
	}
	return profiles, nil
}

// GetProfile returns the profile with id or models.ErrNotFound.
func (r *ProfileRepository) GetProfile(id string) (models.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	profiles, err := r.load()
	if err != nil {
		return models.Profile{}, err
	}
	for _, p := range profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Profile{}, fmt.Errorf("profile %s: %w", id, models.ErrNotFound)
}

// UpdateProfile applies fn to the stored profile and saves it.
func (r *ProfileRepository) UpdateProfile(id string, fn func(p *models.Profile)) (models.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	profiles, err := r.load()
	if err != nil {
		return models.Profile{}, err
	}
	for i := range profiles {
		if profiles[i].ID != id {
			continue
		}
		fn(&profiles[i])
		profiles[i].ID = id
		profiles[i].UpdatedAt = models.Timestamp(r.now())
		return profiles[i], r.save(profiles)
	}
	return models.Profile{}, fmt.Errorf("profile %s: %w", id, models.ErrNotFound)
}

// DeleteProfile removes the profile with id. Unknown ids are ignored.
func (r *ProfileRepository) DeleteProfile(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	profiles, err := r.load()
	if err != nil {
		return err
	}
	next := profiles[:0]
	for _, p := range profiles {
		if p.ID != id {
			next = append(next, p)
		}
	}
	return r.save(next)
}

// ImportProfiles adds one new profile per record, newest first, and returns
// how many were added and the new total.
func (r *ProfileRepository) ImportProfiles(records []importer.ProfileRecord) (added, total int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	profiles, err := r.load()
	if err != nil {
		return 0, 0, err
	}
	now := r.now()
	for _, rec := range records {
		p, err := importer.NormalizeProfile(rec.Host, rec.Record, now)
		if err != nil {
			return 0, 0, err
		}
		profiles = append([]models.Profile{p}, profiles...)
		added++
	}
	return added, len(profiles), r.save(profiles)
}

// ExportProfiles groups the raw session records by host.
func (r *ProfileRepository) ExportProfiles() (map[string][]json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	profiles, err := r.load()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]json.RawMessage)
	for _, p := range profiles {
		if p.Host == "" || len(p.Record) == 0 || p.Record[0] != '{' {
			continue
		}
		out[p.Host] = append(out[p.Host], p.Record)
	}
	return out, nil
}
