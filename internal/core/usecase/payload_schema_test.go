package usecase

import (
	"errors"
	"testing"

	"github.com/agritrace/fieldsync/internal/core/domain"
)

func TestValidateStripsClientOnlyFields(t *testing.T) {
	schemas, err := NewPayloadSchemas()
	if err != nil {
		t.Fatalf("NewPayloadSchemas: %v", err)
	}

	payload := domain.Payload{
		"producersId":     "srv-p",
		"buyerExporterId": "srv-b",
		"signatureDate":   "2026-01-01",
		"localId":         "local-abc",
		"code":            "CONV-LOCAL-0001",
		"documents":       []any{map[string]any{"name": "a.pdf"}},
	}
	if err := schemas.Validate(domain.KindConvention, payload); err != nil {
		t.Fatalf("client-only fields must not fail validation: %v", err)
	}
}

func TestValidateRejectsBadPayload(t *testing.T) {
	schemas, err := NewPayloadSchemas()
	if err != nil {
		t.Fatalf("NewPayloadSchemas: %v", err)
	}

	err = schemas.Validate(domain.KindConvention, domain.Payload{
		"producersId": "srv-p",
	})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}

	// Kinds without a schema pass.
	if err := schemas.Validate(domain.KindAuditLog, domain.Payload{"anything": 1}); err != nil {
		t.Fatalf("schemaless kind: %v", err)
	}
}
