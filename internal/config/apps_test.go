package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarkAustinGrow/Coral-server/pkg/schema"
)

const validApps = `{
  "applications": [
    {
      "id": "app1",
      "name": "First App",
      "description": "test tenant",
      "privacyKeys": ["key1", "key2"]
    },
    {
      "id": "app2",
      "privacyKeys": ["secret"]
    }
  ]
}`

func TestParseValid(t *testing.T) {
	reg, err := Parse([]byte(validApps))
	require.NoError(t, err)

	app, ok := reg.Get("app1")
	require.True(t, ok)
	assert.Equal(t, "First App", app.Name)
	assert.Len(t, reg.Applications(), 2)
}

func TestAuthorize(t *testing.T) {
	reg, err := Parse([]byte(validApps))
	require.NoError(t, err)

	assert.True(t, reg.Authorize("app1", "key1"))
	assert.True(t, reg.Authorize("app1", "key2"))
	assert.True(t, reg.Authorize("app2", "secret"))

	assert.False(t, reg.Authorize("app1", "secret"))
	assert.False(t, reg.Authorize("unknown", "key1"))
	assert.False(t, reg.Authorize("app1", ""))
}

func TestParseRejectsMissingPrivacyKeys(t *testing.T) {
	_, err := Parse([]byte(`{"applications": [{"id": "app1"}]}`))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfig))
}

func TestParseRejectsEmptyPrivacyKeys(t *testing.T) {
	_, err := Parse([]byte(`{"applications": [{"id": "app1", "privacyKeys": []}]}`))
	require.Error(t, err)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(`{"applications": [], "extra": true}`))
	require.Error(t, err)
}

func TestParseRejectsDuplicateIDs(t *testing.T) {
	_, err := Parse([]byte(`{
	  "applications": [
	    {"id": "dup", "privacyKeys": ["a"]},
	    {"id": "dup", "privacyKeys": ["b"]}
	  ]
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate application id")
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`{not json`))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfig))
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "applications.json")
	require.NoError(t, os.WriteFile(path, []byte(validApps), 0o600))

	reg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, reg.Authorize("app2", "secret"))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfig))
}

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry()
	assert.True(t, reg.Authorize("default-app", "privkey"))
	assert.True(t, reg.Authorize("default-app", "public"))
	assert.False(t, reg.Authorize("default-app", "wrong"))
}
