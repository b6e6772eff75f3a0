package agentdriver

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// PayloadValidator validates follow-up task payloads against a JSON Schema
// registered per task_type, before they're injected back into the kernel.
// Adapts zkoranges-go-claw's internal/engine/structured.go StructuredValidator,
// trading its single-schema-per-instance shape for a map keyed by task_type
// since one driver fans out across many agent: task types at once.
type PayloadValidator struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewPayloadValidator returns an empty validator. Task types with no
// registered schema pass Validate unconditionally.
func NewPayloadValidator() *PayloadValidator {
	return &PayloadValidator{schemas: make(map[string]*jsonschema.Schema)}
}

// RegisterSchema compiles schemaJSON and associates it with taskType.
func (v *PayloadValidator) RegisterSchema(taskType string, schemaJSON json.RawMessage) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schemaJSON)))
	if err != nil {
		return fmt.Errorf("unmarshal schema JSON for %s: %w", taskType, err)
	}

	c := jsonschema.NewCompiler()
	resourceID := "task:" + taskType
	if err := c.AddResource(resourceID, doc); err != nil {
		return fmt.Errorf("add schema resource for %s: %w", taskType, err)
	}
	schema, err := c.Compile(resourceID)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", taskType, err)
	}

	v.mu.Lock()
	v.schemas[taskType] = schema
	v.mu.Unlock()
	return nil
}

// Validate checks payload against taskType's registered schema, if any.
// A task_type with no registered schema always passes.
func (v *PayloadValidator) Validate(taskType string, payload []byte) error {
	v.mu.RLock()
	schema, ok := v.schemas[taskType]
	v.mu.RUnlock()
	if !ok {
		return nil
	}
	if len(payload) == 0 {
		return fmt.Errorf("task_type %s requires a payload matching its registered schema", taskType)
	}

	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("invalid JSON payload for %s: %w", taskType, err)
	}
	if err := schema.Validate(parsed); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", taskType, err)
	}
	return nil
}
