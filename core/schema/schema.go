// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package schema validates request bodies against JSON schemas.
package schema

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrInvalid is returned when a document does not satisfy its schema
	ErrInvalid = errors.New("document is not valid")
	// ErrUnknownSchema is returned when validating against a schema the validator does not know
	ErrUnknownSchema = errors.New("unknown schema")
)

// Validator validates JSON documents against a set of compiled top level schemas
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewValidatorFromFS creates a validator from the json files of fsys. Files in the root
// directory are top level schemas, files in refs/ are references the top level schemas may use.
// A missing refs/ directory is not an error.
func NewValidatorFromFS(fsys fs.FS) (*Validator, error) {
	readDir := func(dir string, optional bool) ([]string, error) {
		entries, err := fs.ReadDir(fsys, dir)
		if err != nil {
			if optional && errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, fmt.Errorf("cannot read dir %s: %w", dir, err)
		}
		var docs []string
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
			if err != nil {
				return nil, fmt.Errorf("cannot read file '%s': %w", e.Name(), err)
			}
			docs = append(docs, string(data))
		}
		return docs, nil
	}

	schemas, err := readDir(".", false)
	if err != nil {
		return nil, err
	}
	refs, err := readDir("refs", true)
	if err != nil {
		return nil, err
	}
	return NewValidator(schemas, refs)
}

// NewValidator compiles schemas, each of which must carry an $id. Top level schemas cannot
// reference each other, only the refs.
func NewValidator(schemas []string, refs []string) (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema, len(schemas))}
	for _, str := range schemas {
		var header struct {
			ID string `json:"$id"`
		}
		if err := json.Unmarshal([]byte(str), &header); err != nil {
			return nil, fmt.Errorf("parse error in schema '%s': %w", str, err)
		}
		if header.ID == "" {
			return nil, fmt.Errorf("schema does not contain $id: '%s'", str)
		}
		loader := gojsonschema.NewSchemaLoader()
		for _, ref := range refs {
			if err := loader.AddSchemas(gojsonschema.NewStringLoader(ref)); err != nil {
				return nil, fmt.Errorf("cannot add ref: %w", err)
			}
		}
		compiled, err := loader.Compile(gojsonschema.NewStringLoader(str))
		if err != nil {
			return nil, fmt.Errorf("cannot compile schema %s: %w", header.ID, err)
		}
		v.schemas[header.ID] = compiled
	}
	return v, nil
}

// HasSchema returns true if schemaID is known
func (v *Validator) HasSchema(schemaID string) bool {
	_, ok := v.schemas[schemaID]
	return ok
}

// ValidateStruct validates a Go value through its JSON representation
func (v *Validator) ValidateStruct(value interface{}, schemaID string) error {
	return v.validate(gojsonschema.NewGoLoader(value), schemaID)
}

// ValidateString validates a JSON text
func (v *Validator) ValidateString(document, schemaID string) error {
	return v.validate(gojsonschema.NewStringLoader(document), schemaID)
}

// ValidateBytes validates a JSON body
func (v *Validator) ValidateBytes(document []byte, schemaID string) error {
	return v.validate(gojsonschema.NewBytesLoader(document), schemaID)
}

func (v *Validator) validate(loader gojsonschema.JSONLoader, schemaID string) error {
	compiled, ok := v.schemas[schemaID]
	if !ok {
		return fmt.Errorf("%w %s", ErrUnknownSchema, schemaID)
	}
	result, err := compiled.Validate(loader)
	if err != nil {
		// the document could not be parsed at all
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}
