package repository

import (
	"bytes"
	"encoding/json"
	"fmt"

	"rh-orchestrator/storage"
)

const schemaVersion = 1

// loadCollection reads the list stored under key in a {schemaVersion, key:[...]}
// document. A bare list is accepted too; entries that do not decode are
// skipped.
func loadCollection[T any](store *storage.JSONStore, path, key string) ([]T, error) {
	var raw json.RawMessage
	found, err := store.Read(path, &raw)
	if err != nil || !found {
		return nil, err
	}

	var entries []json.RawMessage
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) > 0 && trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	case len(trimmed) > 0 && trimmed[0] == '{':
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		list := bytes.TrimSpace(doc[key])
		if len(list) == 0 || list[0] != '[' {
			return nil, nil
		}
		if err := json.Unmarshal(list, &entries); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		return nil, nil
	}

	items := make([]T, 0, len(entries))
	for _, e := range entries {
		var item T
		if err := json.Unmarshal(e, &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func saveCollection[T any](store *storage.JSONStore, path, key string, items []T) error {
	if items == nil {
		items = []T{}
	}
	return store.Write(path, map[string]interface{}{
		"schemaVersion": schemaVersion,
		key:             items,
	})
}

// toMap renders v as a generic JSON object.
func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
