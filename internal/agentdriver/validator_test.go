package agentdriver

import "testing"

const samplePromptSchema = `{
	"type": "object",
	"properties": {
		"agent": {"type": "string"},
		"prompt": {"type": "string"}
	},
	"required": ["agent", "prompt"]
}`

func TestPayloadValidator_PassesUnregisteredTaskType(t *testing.T) {
	v := NewPayloadValidator()
	if err := v.Validate("agent:execute", []byte(`{"anything":true}`)); err != nil {
		t.Fatalf("expected no-schema task_type to pass, got %v", err)
	}
}

func TestPayloadValidator_RejectsMissingRequiredField(t *testing.T) {
	v := NewPayloadValidator()
	if err := v.RegisterSchema("agent:execute", []byte(samplePromptSchema)); err != nil {
		t.Fatalf("register schema: %v", err)
	}
	if err := v.Validate("agent:execute", []byte(`{"agent":"researcher"}`)); err == nil {
		t.Fatalf("expected validation failure for missing prompt field")
	}
}

func TestPayloadValidator_AcceptsConformingPayload(t *testing.T) {
	v := NewPayloadValidator()
	if err := v.RegisterSchema("agent:execute", []byte(samplePromptSchema)); err != nil {
		t.Fatalf("register schema: %v", err)
	}
	if err := v.Validate("agent:execute", []byte(`{"agent":"researcher","prompt":"go"}`)); err != nil {
		t.Fatalf("expected conforming payload to pass, got %v", err)
	}
}

func TestPayloadValidator_RejectsEmptyPayloadWhenSchemaRegistered(t *testing.T) {
	v := NewPayloadValidator()
	if err := v.RegisterSchema("agent:execute", []byte(samplePromptSchema)); err != nil {
		t.Fatalf("register schema: %v", err)
	}
	if err := v.Validate("agent:execute", nil); err == nil {
		t.Fatalf("expected empty payload to fail when a schema is registered")
	}
}
