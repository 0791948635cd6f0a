package model

import (
	"testing"

	"github.com/apifoundry/gateway/core"
)

const widgetSchema = `{
	"$id": "widget",
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {"type": "string", "minLength": 1}
	}
}`

func TestValidatorAcceptsConformingBody(t *testing.T) {
	v, err := NewValidator([]string{widgetSchema}, nil)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	if !v.HasSchema("widget") {
		t.Fatal("expected widget schema to be registered")
	}
	if err := v.ValidateStruct(map[string]interface{}{"name": "sprocket"}, "widget"); err != nil {
		t.Fatalf("expected valid body to pass: %v", err)
	}
}

func TestValidatorRejectsMissingRequiredProperty(t *testing.T) {
	v, err := NewValidator([]string{widgetSchema}, nil)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	err = v.ValidateStruct(map[string]interface{}{}, "widget")
	if err == nil {
		t.Fatal("expected validation error for missing required property")
	}
	appErr := core.AsApplicationError(err)
	if appErr.Kind != core.KindBadRequest {
		t.Fatalf("kind = %v, want bad_request", appErr.Kind)
	}
}

func TestValidatorUnknownSchemaIsSpecError(t *testing.T) {
	v, err := NewValidator(nil, nil)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	err = v.ValidateStruct(map[string]interface{}{}, "missing")
	appErr := core.AsApplicationError(err)
	if appErr.Kind != core.KindSpecError {
		t.Fatalf("kind = %v, want spec_error", appErr.Kind)
	}
}

func TestNewValidatorFromDirWithEmptyPathSkipsValidation(t *testing.T) {
	v, err := NewValidatorFromDir("")
	if err != nil {
		t.Fatalf("NewValidatorFromDir: %v", err)
	}
	if v.HasSchema("anything") {
		t.Fatal("expected no schemas registered")
	}
}
