// Package validate compiles JSON schemas once and checks documents against them.
package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrInvalid wraps every document validation failure.
var ErrInvalid = errors.New("validate: document does not match schema")

// Schema is a compiled JSON schema. Safe for concurrent use.
type Schema struct {
	name string
	sch  *jsonschema.Schema
}

// Compile parses and compiles raw as a standalone schema resource.
func Compile(name string, raw []byte) (*Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("validate: parse schema %s: %w", name, err)
	}

	url := "mem://" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("validate: add schema %s: %w", name, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("validate: compile schema %s: %w", name, err)
	}
	return &Schema{name: name, sch: sch}, nil
}

// MustCompile is Compile for package-level schemas embedded in the binary.
func MustCompile(name string, raw []byte) *Schema {
	s, err := Compile(name, raw)
	if err != nil {
		panic(err)
	}
	return s
}

// JSON validates a raw JSON document.
func (s *Schema) JSON(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, s.name, err)
	}
	return s.doc(doc)
}

// Value validates an arbitrary Go value by round-tripping it through JSON,
// so YAML-decoded maps and typed structs are checked the same way.
func (s *Schema) Value(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, s.name, err)
	}
	return s.JSON(b)
}

func (s *Schema) doc(doc any) error {
	if err := s.sch.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, s.name, err)
	}
	return nil
}
