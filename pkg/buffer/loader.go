package buffer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/trackq/pkg/commandqueue"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// CallsSchema describes a serialized pending buffer: an array of call
// descriptors, each a non-empty array led by an operation string.
const CallsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "array",
    "minItems": 1,
    "items": [
      {"type": "string"}
    ]
  }
}`

// ErrInvalidBuffer is returned when a buffer does not match CallsSchema.
var ErrInvalidBuffer = errors.New("invalid call buffer")

var schemaLoader = gojsonschema.NewStringLoader(CallsSchema)

// Parse decodes and validates a JSON call buffer.
func Parse(data []byte) ([]commandqueue.Call, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}

	var raw [][]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse call buffer: %w", err)
	}

	calls := make([]commandqueue.Call, 0, len(raw))
	for _, descriptor := range raw {
		calls = append(calls, commandqueue.Call(descriptor))
	}
	return calls, nil
}

// Validate checks data against CallsSchema without decoding it.
func Validate(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBuffer, err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidBuffer, strings.Join(msgs, "; "))
	}

	return nil
}

// ParseYAML decodes a YAML call buffer, a sequence of sequences, and
// validates it against CallsSchema like Parse.
func ParseYAML(data []byte) ([]commandqueue.Call, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBuffer, err)
	}

	asJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBuffer, err)
	}
	return Parse(asJSON)
}

// IsYAML reports whether path names a YAML call buffer.
func IsYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadFile reads and parses the call buffer at path. Files ending in .yaml
// or .yml are read as YAML, everything else as JSON.
func LoadFile(path string) ([]commandqueue.Call, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read call buffer: %w", err)
	}

	parse := Parse
	if IsYAML(path) {
		parse = ParseYAML
	}

	calls, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return calls, nil
}
