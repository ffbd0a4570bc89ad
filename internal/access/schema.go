// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package access

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id of the catalog schema.
const SchemaID = "https://warden.holomush.dev/schemas/catalog.schema.json"

var (
	schemaOnce     sync.Once
	schemaCompiled *jschema.Schema
	schemaErr      error
)

// GenerateSchema generates a JSON Schema from the Definition struct.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Definition{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Warden Role Catalog"
	schema.Description = "Roles and permissions available for assignment to principals"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.In("access").Code("SCHEMA_GENERATE_FAILED").Wrap(err)
	}
	return data, nil
}

// ValidateSchema validates YAML catalog data against the generated schema.
func ValidateSchema(data []byte) error {
	if len(data) == 0 {
		return oops.In("access").Code("CATALOG_INVALID").Errorf("catalog data is empty")
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return oops.In("access").Code("CATALOG_INVALID").With("stage", "yaml").Wrap(err)
	}

	sch, err := compiledSchema()
	if err != nil {
		return err
	}

	if err := sch.Validate(toJSONTypes(doc)); err != nil {
		return oops.In("access").Code("CATALOG_INVALID").With("stage", "schema").Wrap(err)
	}
	return nil
}

// ParseCatalog validates and decodes YAML catalog data.
func ParseCatalog(data []byte) (*StaticCatalog, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, oops.In("access").Code("CATALOG_INVALID").With("stage", "decode").Wrap(err)
	}
	return NewStaticCatalog(def)
}

// LoadCatalog reads a YAML catalog file. An empty path yields DefaultCatalog.
func LoadCatalog(path string) (*StaticCatalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, oops.In("access").Code("CATALOG_READ_FAILED").With("path", path).Wrap(err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	return c, nil
}

func compiledSchema() (*jschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := GenerateSchema()
		if err != nil {
			schemaErr = err
			return
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			schemaErr = oops.In("access").Code("SCHEMA_COMPILE_FAILED").Wrap(err)
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource("catalog.schema.json", doc); err != nil {
			schemaErr = oops.In("access").Code("SCHEMA_COMPILE_FAILED").Wrap(err)
			return
		}
		schemaCompiled, schemaErr = c.Compile("catalog.schema.json")
		if schemaErr != nil {
			schemaErr = oops.In("access").Code("SCHEMA_COMPILE_FAILED").Wrap(schemaErr)
		}
	})
	return schemaCompiled, schemaErr
}

// toJSONTypes converts YAML-decoded values into the shapes the validator
// expects. yaml.v3 already yields map[string]any; only nested values and
// non-JSON scalars need rewriting.
func toJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = toJSONTypes(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = toJSONTypes(item)
		}
		return out
	case string, bool, int, int64, float64, nil:
		return val
	default:
		if b, err := json.Marshal(val); err == nil {
			var out any
			if err := json.Unmarshal(b, &out); err == nil {
				return out
			}
		}
		return val
	}
}
