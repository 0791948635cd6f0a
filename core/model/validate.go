package model

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"

	"github.com/apifoundry/gateway/core"
)

// Validator validates a store_params document against a named JSON Schema
// (spec §4.4.2, §4.4.3: "body validation against a declared schema happens
// before the permission resolver's property filter"). It is grounded on the
// teacher's schema.Validator (core/schema/schema.go), trimmed to the single
// Go-value validation path the handlers actually need.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewValidatorFromFS builds a Validator from every "*.json" file at the root
// of schemaFS (top-level schemas, each carrying a "$id") plus every
// "*.json" file under "refs/" (definitions top-level schemas may reference).
func NewValidatorFromFS(schemaFS embed.FS) (*Validator, error) {
	read := func(dir string) ([]string, error) {
		entries, err := schemaFS.ReadDir(dir)
		if err != nil {
			if dir == "refs" {
				return nil, nil
			}
			return nil, fmt.Errorf("cannot read dir %s: %w", dir, err)
		}
		var out []string
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			path := entry.Name()
			if dir != "." {
				path = dir + "/" + entry.Name()
			}
			data, err := schemaFS.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("cannot read %s: %w", path, err)
			}
			out = append(out, string(data))
		}
		return out, nil
	}

	schemas, err := read(".")
	if err != nil {
		return nil, err
	}
	refs, err := read("refs")
	if err != nil {
		return nil, err
	}
	return NewValidator(schemas, refs)
}

// NewValidatorFromDir builds a Validator the same way as NewValidatorFromFS,
// but reading from a plain directory on disk (schemas at its root, refs
// under "refs/") rather than a compiled-in embed.FS. dir may be empty, in
// which case an empty Validator is returned — no entity may then declare a
// schema_id.
func NewValidatorFromDir(dir string) (*Validator, error) {
	if dir == "" {
		return &Validator{schemas: map[string]*gojsonschema.Schema{}}, nil
	}

	read := func(sub string) ([]string, error) {
		full := filepath.Join(dir, sub)
		entries, err := os.ReadDir(full)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("cannot read dir %s: %w", full, err)
		}
		var out []string
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(full, entry.Name()))
			if err != nil {
				return nil, fmt.Errorf("cannot read %s: %w", entry.Name(), err)
			}
			out = append(out, string(data))
		}
		return out, nil
	}

	schemas, err := read(".")
	if err != nil {
		return nil, err
	}
	refs, err := read("refs")
	if err != nil {
		return nil, err
	}
	return NewValidator(schemas, refs)
}

// NewValidator compiles schemas (each must carry a top-level "$id") against
// the shared pool of refs.
func NewValidator(schemas []string, refs []string) (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema, len(schemas))}
	for _, raw := range schemas {
		var withID struct {
			ID string `json:"$id"`
		}
		if err := json.Unmarshal([]byte(raw), &withID); err != nil {
			return nil, fmt.Errorf("parse schema: %w", err)
		}
		if withID.ID == "" {
			return nil, fmt.Errorf("schema missing $id: %s", raw)
		}
		loader := gojsonschema.NewSchemaLoader()
		for _, ref := range refs {
			if err := loader.AddSchemas(gojsonschema.NewStringLoader(ref)); err != nil {
				return nil, fmt.Errorf("add schema ref: %w", err)
			}
		}
		compiled, err := loader.Compile(gojsonschema.NewStringLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", withID.ID, err)
		}
		v.schemas[withID.ID] = compiled
	}
	return v, nil
}

// HasSchema reports whether schemaID is known.
func (v *Validator) HasSchema(schemaID string) bool {
	_, ok := v.schemas[schemaID]
	return ok
}

// ValidateStruct validates a Go value (typically a map[string]interface{}
// store_params document) against schemaID (spec §4.4.2 edge case: a body
// that fails schema validation is a BadRequest, never an InternalError).
func (v *Validator) ValidateStruct(doc interface{}, schemaID string) error {
	schema, ok := v.schemas[schemaID]
	if !ok {
		return core.NewError(core.KindSpecError, "no schema registered for %q", schemaID)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return core.WrapError(core.KindInternal, err, "validate against schema %q", schemaID)
	}
	if !result.Valid() {
		var messages []string
		for _, e := range result.Errors() {
			messages = append(messages, e.String())
		}
		return core.NewError(core.KindBadRequest, "body does not satisfy schema %q: %s", schemaID, strings.Join(messages, "; "))
	}
	return nil
}
