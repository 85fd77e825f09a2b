// Package credentials turns an exported browser-session record into the
// cookies and bearer token used against the remote platform.
package credentials

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"rh-orchestrator/core/models"
)

// DefaultHost is used when a profile carries no host.
const DefaultHost = "www.runninghub.ai"

var tokenKeys = []string{"Rh-Accesstoken", "rh-accesstoken", "access_token", "token"}

// Bundle is the normalized credential set for one profile.
type Bundle struct {
	Host         string
	Cookies      map[string]string
	LocalStorage map[string]string
}

type recordEntry struct {
	Type  string          `json:"type"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type record struct {
	Data []json.RawMessage `json:"data"`
}

// Resolve parses a raw exported record. A record that is not an object or
// has no data array yields an AuthError; malformed entries are skipped.
func Resolve(host string, raw json.RawMessage) (Bundle, error) {
	b := Bundle{
		Host:         strings.TrimSpace(host),
		Cookies:      map[string]string{},
		LocalStorage: map[string]string{},
	}
	if b.Host == "" {
		b.Host = DefaultHost
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return b, &models.AuthError{Reason: "session record must be an object"}
	}
	var rec record
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return b, &models.AuthError{Reason: fmt.Sprintf("session record: %v", err)}
	}
	if rec.Data == nil {
		return b, &models.AuthError{Reason: "session record has no data array"}
	}

	for _, item := range rec.Data {
		var e recordEntry
		if err := json.Unmarshal(item, &e); err != nil || e.Key == "" {
			continue
		}
		val := stringValue(e.Value)
		switch strings.ToLower(strings.TrimSpace(e.Type)) {
		case "cookie":
			b.Cookies[e.Key] = val
		case "localstorage":
			b.LocalStorage[e.Key] = val
		}
	}
	return b, nil
}

// stringValue renders any JSON scalar as a string; null becomes "".
func stringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Value looks a key up in local storage first, then in cookies, and returns
// the first non-blank hit.
func (b Bundle) Value(key string) string {
	if v := strings.TrimSpace(b.LocalStorage[key]); v != "" {
		return v
	}
	return strings.TrimSpace(b.Cookies[key])
}

// AccessToken returns the bearer token derived from the session, or "".
func (b Bundle) AccessToken() string {
	for _, k := range tokenKeys {
		if v := strings.TrimSpace(b.LocalStorage[k]); v != "" {
			return v
		}
	}
	for _, k := range tokenKeys {
		if v := strings.TrimSpace(b.Cookies[k]); v != "" {
			return v
		}
	}
	return ""
}

// UserInfo decodes the userInfo JSON blob the site keeps in local storage.
func (b Bundle) UserInfo() map[string]interface{} {
	raw := b.Value("userInfo")
	if raw == "" {
		return nil
	}
	var ui map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &ui); err != nil {
		return nil
	}
	return ui
}

// UserID returns userInfo.id, or "".
func (b Bundle) UserID() string {
	return scalar(b.UserInfo()["id"])
}

// TotalCoin returns userInfo.totalCoin, or "".
func (b Bundle) TotalCoin() string {
	return scalar(b.UserInfo()["totalCoin"])
}

func scalar(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		// json numbers; keep integers free of exponent notation
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
