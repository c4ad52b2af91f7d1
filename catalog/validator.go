package catalog

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator compiles JSON Schemas once and validates raw JSON documents
// against them.
type Validator struct {
	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

// NewValidator returns an empty Validator.
func NewValidator() *Validator {
	return &Validator{compiled: make(map[string]*jsonschema.Schema)}
}

// Check reports whether schema compiles.
func (v *Validator) Check(schema []byte) error {
	_, err := v.compile(schema)
	return err
}

// Validate checks the JSON document data against schema.
func (v *Validator) Validate(schema, data []byte) error {
	s, err := v.compile(schema)
	if err != nil {
		return err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: not valid JSON: %w", ErrSchemaMismatch, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaMismatch, err)
	}
	return nil
}

func (v *Validator) compile(schema []byte) (*jsonschema.Schema, error) {
	sum := sha256.Sum256(schema)
	key := hex.EncodeToString(sum[:])

	v.mu.RLock()
	s, ok := v.compiled[key]
	v.mu.RUnlock()
	if ok {
		return s, nil
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schema))
	if err != nil {
		return nil, fmt.Errorf("catalog: schema is not valid JSON: %w", err)
	}
	url := "herald://schemas/" + key + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("catalog: add schema: %w", err)
	}
	s, err = c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("catalog: compile schema: %w", err)
	}

	v.mu.Lock()
	v.compiled[key] = s
	v.mu.Unlock()
	return s, nil
}
