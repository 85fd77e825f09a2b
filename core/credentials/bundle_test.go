package credentials

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rh-orchestrator/core/models"
)

const sampleRecord = `{
  "id": "rec-1",
  "name": "main account",
  "data": [
    {"type": "Cookie", "key": "SESSION", "value": "abc"},
    {"type": "cookie", "key": "Rh-Accesstoken", "value": "cookie-token"},
    {"type": "localStorage", "key": "Rh-Accesstoken", "value": "  ls-token  "},
    {"type": "localStorage", "key": "userInfo", "value": "{\"id\": 12345, \"totalCoin\": \"88\"}"},
    {"type": "localStorage", "key": "count", "value": 7},
    {"type": "localStorage", "key": "empty", "value": null},
    {"type": "other", "key": "ignored", "value": "x"},
    {"key": "noType", "value": "x"},
    "not an object"
  ]
}`

func TestResolve(t *testing.T) {
	b, err := Resolve("", json.RawMessage(sampleRecord))
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, b.Host)
	assert.Equal(t, map[string]string{"SESSION": "abc", "Rh-Accesstoken": "cookie-token"}, b.Cookies)
	assert.Equal(t, "7", b.LocalStorage["count"])
	assert.Equal(t, "", b.LocalStorage["empty"])
	assert.NotContains(t, b.LocalStorage, "ignored")

	assert.Equal(t, "ls-token", b.AccessToken())
	assert.Equal(t, "12345", b.UserID())
	assert.Equal(t, "88", b.TotalCoin())
}

func TestAccessTokenFallsBackToCookies(t *testing.T) {
	b := Bundle{
		Cookies:      map[string]string{"token": "from-cookie"},
		LocalStorage: map[string]string{"token": "   "},
	}
	assert.Equal(t, "from-cookie", b.AccessToken())

	assert.Equal(t, "", Bundle{}.AccessToken())
}

func TestResolveRejectsInvalidRecords(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ``},
		{"array", `[1,2]`},
		{"string", `"record"`},
		{"no data", `{"name": "x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve("www.runninghub.ai", json.RawMessage(tt.raw))
			var authErr *models.AuthError
			require.True(t, errors.As(err, &authErr), "got %v", err)
		})
	}
}

func TestResolveKeepsExplicitHost(t *testing.T) {
	b, err := Resolve(" example.runninghub.ai ", json.RawMessage(`{"data": []}`))
	require.NoError(t, err)
	assert.Equal(t, "example.runninghub.ai", b.Host)
	assert.Empty(t, b.UserID())
}
