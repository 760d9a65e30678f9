package enrich

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrSchemaViolation marks a classifier answer that parsed as JSON but does
// not match the result contract. The records fall through to the keyword
// tagger instead of burning retry attempts.
var ErrSchemaViolation = errors.New("classification result violates schema")

//go:embed classification_result.schema.json
var classificationSchemaJSON string

// ItemResult is one record's classification inside a batch answer. Index
// refers back to the position in the submitted batch.
type ItemResult struct {
	Index       int      `json:"index"`
	Topics      []string `json:"topics"`
	Actors      []string `json:"actors"`
	Locations   []string `json:"locations"`
	Language    string   `json:"language"`
	IsEditorial *bool    `json:"is_editorial"`
	Sentiment   string   `json:"sentiment"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ParseClassification validates a raw classifier answer against the batch
// result schema and decodes it. Invalid JSON and schema misses both come
// back as ErrSchemaViolation.
func ParseClassification(payload []byte) ([]ItemResult, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load classification schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize classification JSON: %w", err)
	}

	var results []ItemResult
	if err := json.Unmarshal(normalized, &results); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	return results, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		if err := compiler.AddResource("classification_result.schema.json", strings.NewReader(classificationSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("classification_result.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}
