package config

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"rh-orchestrator/storage"
)

const settingsSchemaVersion = 1

// Settings are the runtime knobs editable through the API.
type Settings struct {
	JobTimeoutSec      int     `json:"jobTimeoutSec"`
	HistoryIntervalSec float64 `json:"historyIntervalSec"`
	RequestTimeoutSec  float64 `json:"requestTimeoutSec"`
}

// DefaultSettings returns the settings used when none are stored.
func DefaultSettings() Settings {
	return Settings{
		JobTimeoutSec:      600,
		HistoryIntervalSec: 3.0,
		RequestTimeoutSec:  25.0,
	}
}

// Clamp forces every field into its allowed range.
func (s Settings) Clamp() Settings {
	s.JobTimeoutSec = clampInt(s.JobTimeoutSec, 30, 24*3600)
	s.HistoryIntervalSec = clampFloat(s.HistoryIntervalSec, 0.5, 60, 3.0)
	s.RequestTimeoutSec = clampFloat(s.RequestTimeoutSec, 3, 120, 25.0)
	return s
}

func (s Settings) JobTimeout() time.Duration {
	return time.Duration(s.JobTimeoutSec) * time.Second
}

func (s Settings) HistoryInterval() time.Duration {
	return time.Duration(s.HistoryIntervalSec * float64(time.Second))
}

func (s Settings) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSec * float64(time.Second))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = def
	}
	return math.Max(lo, math.Min(hi, v))
}

type settingsFile struct {
	SchemaVersion      int     `json:"schemaVersion"`
	JobTimeoutSec      int     `json:"jobTimeoutSec"`
	HistoryIntervalSec float64 `json:"historyIntervalSec"`
	RequestTimeoutSec  float64 `json:"requestTimeoutSec"`
}

// SettingsStore keeps the current settings in memory, backed by
// <dataDir>/settings.json.
type SettingsStore struct {
	path  string
	store *storage.JSONStore

	mu      sync.RWMutex
	current Settings
}

// NewSettingsStore loads the stored settings. Missing or unreadable values
// fall back to their defaults.
func NewSettingsStore(dataDir string, store *storage.JSONStore) (*SettingsStore, error) {
	s := &SettingsStore{
		path:    filepath.Join(dataDir, "settings.json"),
		store:   store,
		current: DefaultSettings(),
	}

	var raw map[string]interface{}
	found, err := store.Read(s.path, &raw)
	if err != nil {
		return s, err
	}
	if found {
		s.current = s.current.Merge(raw)
	}
	return s, nil
}

// Get returns the current settings.
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update merges the known keys of patch into the current settings, clamps
// the result and persists it.
func (s *SettingsStore) Update(patch map[string]interface{}) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Merge(patch)
	if err := s.store.Write(s.path, settingsFile{
		SchemaVersion:      settingsSchemaVersion,
		JobTimeoutSec:      next.JobTimeoutSec,
		HistoryIntervalSec: next.HistoryIntervalSec,
		RequestTimeoutSec:  next.RequestTimeoutSec,
	}); err != nil {
		return s.current, fmt.Errorf("save settings: %w", err)
	}
	s.current = next
	return next, nil
}

// Merge overlays the recognised keys of raw onto s and clamps the result.
// Values that cannot be read as numbers reset the field to its default.
func (s Settings) Merge(raw map[string]interface{}) Settings {
	def := DefaultSettings()
	if v, ok := raw["jobTimeoutSec"]; ok {
		if f, ok := toFloat(v); ok {
			s.JobTimeoutSec = int(f)
		} else {
			s.JobTimeoutSec = def.JobTimeoutSec
		}
	}
	if v, ok := raw["historyIntervalSec"]; ok {
		if f, ok := toFloat(v); ok {
			s.HistoryIntervalSec = f
		} else {
			s.HistoryIntervalSec = def.HistoryIntervalSec
		}
	}
	if v, ok := raw["requestTimeoutSec"]; ok {
		if f, ok := toFloat(v); ok {
			s.RequestTimeoutSec = f
		} else {
			s.RequestTimeoutSec = def.RequestTimeoutSec
		}
	}
	return s.Clamp()
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
