// Package importer normalizes user-supplied templates, session profiles and
// resource records, and parses the JSON or YAML documents they are imported
// from.
package importer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"rh-orchestrator/core/credentials"
	"rh-orchestrator/core/models"
	"rh-orchestrator/providers/runninghub"
)

// ProfileRecord is one exported browser session and the host it belongs to.
type ProfileRecord struct {
	Host   string
	Record map[string]interface{}
}

// NewID returns a fresh record id.
func NewID() string {
	return uuid.NewString()
}

// Decode parses a JSON or YAML document into plain Go values with string
// map keys, the same shapes encoding/json produces.
func Decode(data []byte) (interface{}, error) {
	var v interface{}
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return plain(v), nil
}

func plain(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, e := range t {
			t[k] = plain(e)
		}
		return t
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			m[fmt.Sprint(k)] = plain(e)
		}
		return m
	case []interface{}:
		for i, e := range t {
			t[i] = plain(e)
		}
		return t
	}
	return v
}

// objects picks the records out of an import document: {<key>: [...]}, a
// bare list, or a single object. Non-object entries are dropped.
func objects(doc interface{}, key string) []map[string]interface{} {
	var list []interface{}
	switch t := doc.(type) {
	case map[string]interface{}:
		if l, ok := t[key].([]interface{}); ok {
			list = l
		} else {
			return []map[string]interface{}{t}
		}
	case []interface{}:
		list = t
	}
	out := make([]map[string]interface{}, 0, len(list))
	for _, e := range list {
		if m, ok := e.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

// ParseTemplates accepts {templates:[...]}, a list, or one template object.
func ParseTemplates(data []byte) ([]map[string]interface{}, error) {
	doc, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return objects(doc, "templates"), nil
}

// ParseResources accepts {resources:[...]}, a list, or one resource object.
func ParseResources(data []byte) ([]map[string]interface{}, error) {
	doc, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return objects(doc, "resources"), nil
}

// ParseProfiles accepts the three session export shapes:
//
//	{host, record}                 one session
//	{records: {host: [record...]}} several sessions
//	{host: [record...]}            several sessions, bare
func ParseProfiles(data []byte) ([]ProfileRecord, error) {
	doc, err := Decode(data)
	if err != nil {
		return nil, err
	}
	root, ok := doc.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("session export must be an object: %w", models.ErrInvalidInput)
	}

	if rec, ok := root["record"].(map[string]interface{}); ok {
		host := str(root["host"])
		if host == "" {
			host = str(root["hostname"])
		}
		if host == "" {
			host = credentials.DefaultHost
		}
		return []ProfileRecord{{Host: host, Record: rec}}, nil
	}

	if recs, ok := root["records"].(map[string]interface{}); ok {
		root = recs
	}
	var out []ProfileRecord
	for host, v := range root {
		list, ok := v.([]interface{})
		if !ok {
			continue
		}
		for _, e := range list {
			if rec, ok := e.(map[string]interface{}); ok {
				out = append(out, ProfileRecord{Host: host, Record: rec})
			}
		}
	}
	return out, nil
}

// NormalizeTemplate fills in every template field. A string payload is
// parsed as JSON; anything that is not an object becomes {}.
func NormalizeTemplate(raw map[string]interface{}, now time.Time) models.Template {
	payload := map[string]interface{}{}
	switch p := raw["payload"].(type) {
	case map[string]interface{}:
		payload = p
	case string:
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(p), &m); err == nil && m != nil {
			payload = m
		}
	}

	webappID := str(raw["webappId"])
	if webappID == "" {
		if w, ok := payload["webappId"].(string); ok {
			webappID = strings.TrimSpace(w)
		}
	}

	name := str(raw["name"])
	if name == "" {
		if webappID != "" {
			name = "Template " + webappID
		} else {
			name = "Template " + models.Timestamp(now)
		}
	}

	referer := str(raw["referer"])
	if referer == "" {
		referer = runninghub.BuildReferer(runninghub.DefaultBaseURL, payload)
	}

	id := str(raw["id"])
	if id == "" {
		id = NewID()
	}
	createdAt, ok := raw["createdAt"].(string)
	if !ok {
		createdAt = models.Timestamp(now)
	}

	return models.Template{
		ID:        id,
		Name:      name,
		WebappID:  webappID,
		Referer:   referer,
		Payload:   payload,
		CreatedAt: createdAt,
		UpdatedAt: models.Timestamp(now),
	}
}

// NormalizeProfile builds a new profile from an exported session. The
// account id and coin balance are read from the session's userInfo blob.
func NormalizeProfile(host string, record map[string]interface{}, now time.Time) (models.Profile, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		host = credentials.DefaultHost
	}
	if record == nil {
		record = map[string]interface{}{}
	}

	name := str(record["name"])
	if name == "" {
		if rid := scalar(record["id"]); rid != "" {
			name = rid
		} else {
			name = "cookie"
		}
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return models.Profile{}, fmt.Errorf("encode session record: %w", err)
	}

	p := models.Profile{
		ID:        NewID(),
		Host:      host,
		Name:      name,
		Record:    raw,
		CreatedAt: models.Timestamp(now),
		UpdatedAt: models.Timestamp(now),
	}
	if bundle, err := credentials.Resolve(host, raw); err == nil {
		p.UserID = bundle.UserID()
		p.TotalCoin = bundle.TotalCoin()
	}
	return p, nil
}

// NormalizeResource fills in every resource field.
func NormalizeResource(raw map[string]interface{}, now time.Time) models.Resource {
	id := str(raw["id"])
	if id == "" {
		id = NewID()
	}
	createdAt, ok := raw["createdAt"].(string)
	if !ok {
		createdAt = models.Timestamp(now)
	}
	upload, _ := raw["uploadResponse"].(map[string]interface{})
	if upload == nil {
		upload = map[string]interface{}{}
	}

	return models.Resource{
		ID:               id,
		Name:             str(raw["name"]),
		OriginalFilename: scalar(raw["originalFilename"]),
		WebappID:         scalar(raw["webappId"]),
		ProfileID:        scalar(raw["profileId"]),
		ProfileName:      scalar(raw["profileName"]),
		UploadResponse:   upload,
		LocalPath:        scalar(raw["localPath"]),
		LocalURL:         scalar(raw["localUrl"]),
		Mime:             scalar(raw["mime"]),
		Size:             toInt64(raw["size"]),
		CreatedAt:        createdAt,
		UpdatedAt:        models.Timestamp(now),
	}
}

// str returns v trimmed when it is a string, else "".
func str(v interface{}) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// scalar renders strings and numbers; everything else is "".
func scalar(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err == nil {
			return n
		}
	}
	return 0
}
