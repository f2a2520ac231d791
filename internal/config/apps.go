// Package config loads and validates the application registry that gates
// session creation. Each application owns a set of privacy keys; a session
// is only provisioned for an (applicationId, privacyKey) pair the registry
// recognizes.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/MarkAustinGrow/Coral-server/pkg/schema"
)

// appsSchemaJSON is the JSON Schema for the application registry file.
// Embedded as a constant to avoid filesystem dependencies.
const appsSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://coral.dev/schemas/applications.json",
  "type": "object",
  "required": ["applications"],
  "properties": {
    "applications": {
      "type": "array",
      "items": { "$ref": "#/$defs/application" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "application": {
      "type": "object",
      "required": ["id", "privacyKeys"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "name": { "type": "string" },
        "description": { "type": "string" },
        "privacyKeys": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "string",
            "minLength": 1
          }
        }
      },
      "additionalProperties": false
    }
  }
}`

// Application is one registered tenant with its accepted privacy keys.
type Application struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	PrivacyKeys []string `json:"privacyKeys"`
}

// Registry holds the loaded application set and answers authorization
// queries. It is immutable after Load and safe for concurrent use.
type Registry struct {
	apps map[string]Application
}

type appsFile struct {
	Applications []Application `json:"applications"`
}

func compileAppsSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(appsSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal applications schema: %w", err)
	}
	if err := c.AddResource("https://coral.dev/schemas/applications.json", doc); err != nil {
		return nil, fmt.Errorf("add applications schema resource: %w", err)
	}
	return c.Compile("https://coral.dev/schemas/applications.json")
}

// Load reads and validates an application registry file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "read applications file %s", path).WithCause(err)
	}
	return Parse(data)
}

// Parse validates raw registry JSON and builds the Registry.
func Parse(data []byte) (*Registry, error) {
	compiled, err := compileAppsSchema()
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "compile applications schema").WithCause(err)
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "applications file is not valid JSON").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "applications file failed validation").WithCause(err)
	}

	var file appsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "decode applications file").WithCause(err)
	}

	apps := make(map[string]Application, len(file.Applications))
	for _, app := range file.Applications {
		if _, exists := apps[app.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeConfig, "duplicate application id %q", app.ID)
		}
		apps[app.ID] = app
	}
	return &Registry{apps: apps}, nil
}

// DefaultRegistry returns a registry with a single permissive application,
// used when no applications file is configured. It mirrors the defaults
// agents assume in local development.
func DefaultRegistry() *Registry {
	return &Registry{apps: map[string]Application{
		"default-app": {
			ID:          "default-app",
			Name:        "Default Application",
			PrivacyKeys: []string{"privkey", "public"},
		},
	}}
}

// Authorize reports whether the application exists and accepts the key.
func (r *Registry) Authorize(applicationID, privacyKey string) bool {
	app, ok := r.apps[applicationID]
	if !ok {
		return false
	}
	for _, k := range app.PrivacyKeys {
		if k == privacyKey {
			return true
		}
	}
	return false
}

// Get returns the application by id.
func (r *Registry) Get(applicationID string) (Application, bool) {
	app, ok := r.apps[applicationID]
	return app, ok
}

// Applications returns all registered applications.
func (r *Registry) Applications() []Application {
	out := make([]Application, 0, len(r.apps))
	for _, app := range r.apps {
		out = append(out, app)
	}
	return out
}
