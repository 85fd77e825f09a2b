package models

import (
	"encoding/json"
	"time"
)

// Template is a saved create-request payload for one web app.
type Template struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	WebappID  string                 `json:"webappId"`
	Referer   string                 `json:"referer"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt string                 `json:"createdAt"`
	UpdatedAt string                 `json:"updatedAt"`
}

// Profile is an imported browser-session export for one account.
type Profile struct {
	ID                string          `json:"id"`
	Host              string          `json:"host"`
	Name              string          `json:"name"`
	UserID            string          `json:"userId"`
	TotalCoin         string          `json:"totalCoin"`
	UserInfoUpdatedAt string          `json:"userInfoUpdatedAt"`
	Record            json.RawMessage `json:"record"`
	CreatedAt         string          `json:"createdAt"`
	UpdatedAt         string          `json:"updatedAt"`
}

// Resource is a file uploaded to the remote platform, with an optional local
// copy kept for preview.
type Resource struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	OriginalFilename string                 `json:"originalFilename"`
	WebappID         string                 `json:"webappId"`
	ProfileID        string                 `json:"profileId"`
	ProfileName      string                 `json:"profileName"`
	UploadResponse   map[string]interface{} `json:"uploadResponse"`
	LocalPath        string                 `json:"localPath"`
	LocalURL         string                 `json:"localUrl"`
	Mime             string                 `json:"mime"`
	Size             int64                  `json:"size"`
	CreatedAt        string                 `json:"createdAt"`
	UpdatedAt        string                 `json:"updatedAt"`
}

// Timestamp formats t the way stored records carry their times.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
