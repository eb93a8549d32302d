package usecase

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agritrace/fieldsync/internal/core/domain"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemaFiles = map[domain.EntityKind]string{
	domain.KindActor:      "schemas/actor.json",
	domain.KindConvention: "schemas/convention.json",
	domain.KindStore:      "schemas/store.json",
}

// PayloadSchemas validates create/update payloads before they are queued.
// An obviously malformed payload fails at the call site instead of sitting
// in the queue collecting retries against server-side validation.
type PayloadSchemas struct {
	compiled map[domain.EntityKind]*santhosh.Schema
}

func NewPayloadSchemas() (*PayloadSchemas, error) {
	compiler := santhosh.NewCompiler()
	compiled := make(map[domain.EntityKind]*santhosh.Schema, len(schemaFiles))
	for kind, file := range schemaFiles {
		raw, err := schemaFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", file, err)
		}
		if err := compiler.AddResource(file, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", file, err)
		}
		schema, err := compiler.Compile(file)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", file, err)
		}
		compiled[kind] = schema
	}
	return &PayloadSchemas{compiled: compiled}, nil
}

// Validate checks payload against the kind's schema. Kinds without a schema
// pass. Client-only fields are stripped before validation so they cannot
// trip required/enum rules.
func (s *PayloadSchemas) Validate(kind domain.EntityKind, payload domain.Payload) error {
	schema, ok := s.compiled[kind]
	if !ok {
		return nil
	}

	trimmed := payload.Clone()
	delete(trimmed, "localId")
	delete(trimmed, "code")
	delete(trimmed, "documents")

	// Round-trip so nested structs become plain JSON values.
	raw, err := json.Marshal(trimmed)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return &domain.ValidationError{Message: err.Error()}
	}
	return nil
}
