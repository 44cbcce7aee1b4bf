package drivers

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/*.json
var schemaFS embed.FS

var ErrUnknownDeviceType = errors.New("unknown device type")

// Validator checks output options against the schema of their device type.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	entries, err := schemaFS.ReadDir("schema")
	if err != nil {
		return nil, fmt.Errorf("failed to read schemas: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		data, err := schemaFS.ReadFile(path.Join("schema", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", entry.Name(), err)
		}
		if err := compiler.AddResource(entry.Name(), strings.NewReader(string(data))); err != nil {
			return nil, fmt.Errorf("failed to add schema resource: %w", err)
		}
		names = append(names, entry.Name())
	}

	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(names))}
	for _, name := range names {
		schema, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
		}
		v.schemas[strings.TrimSuffix(name, ".json")] = schema
	}

	return v, nil
}

// DeviceTypes lists every device type a schema exists for.
func (v *Validator) DeviceTypes() []string {
	out := make([]string, 0, len(v.schemas))
	for name := range v.schemas {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ValidateOptions validates the options of an output of deviceType.
// Nil options are validated as an empty object.
func (v *Validator) ValidateOptions(deviceType string, options map[string]any) error {
	schema, ok := v.schemas[deviceType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDeviceType, deviceType)
	}

	if options == nil {
		options = map[string]any{}
	}

	// Round trip through JSON so numbers decoded from YAML or set in code
	// arrive with the types the validator expects.
	data, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// decodeOptions copies validated options into dst.
func decodeOptions(options map[string]any, dst any) error {
	if len(options) == 0 {
		return nil
	}
	data, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("failed to encode options: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode options: %w", err)
	}
	return nil
}
