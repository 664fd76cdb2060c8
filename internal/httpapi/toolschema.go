package httpapi

import (
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/methings/brainctl/internal/dispatcher"
)

// toolSchemaRegistry compiles, once, one JSON schema per tool in the
// closed set, used to validate a tool invoke request's args before they
// ever reach the dispatcher.
type toolSchemaRegistry struct {
	once    sync.Once
	initErr error
	byTool  map[string]*jsonschema.Schema
}

var toolSchemas toolSchemaRegistry

func initToolSchemas() error {
	toolSchemas.once.Do(func() {
		defs := map[string]string{
			dispatcher.ToolFilesystem:   filesystemArgsSchema,
			dispatcher.ToolShell:        shellArgsSchema,
			dispatcher.ToolDeviceAPI:    deviceAPIArgsSchema,
			dispatcher.ToolCloudRequest: cloudRequestArgsSchema,
		}
		toolSchemas.byTool = make(map[string]*jsonschema.Schema, len(defs))
		for name, raw := range defs {
			compiled, err := jsonschema.CompileString("tool_args_"+name, raw)
			if err != nil {
				toolSchemas.initErr = err
				return
			}
			toolSchemas.byTool[name] = compiled
		}
	})
	return toolSchemas.initErr
}

// validateToolArgs checks args against the named tool's schema. An
// unrecognized tool name validates trivially; the dispatcher itself is
// the authority on unknown_tool, not this layer.
func validateToolArgs(tool string, args map[string]any) error {
	if err := initToolSchemas(); err != nil {
		return err
	}
	schema, ok := toolSchemas.byTool[tool]
	if !ok {
		return nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	return schema.Validate(payload)
}

const filesystemArgsSchema = `{
  "type": "object",
  "required": ["op"],
  "properties": {
    "op": { "type": "string", "enum": ["list_dir", "read_file", "write_file", "mkdir", "move_path", "delete_path"] }
  },
  "additionalProperties": true
}`

const shellArgsSchema = `{
  "type": "object",
  "required": ["cmd"],
  "properties": {
    "cmd": { "type": "string", "enum": ["python", "pip", "curl"] },
    "args": {
      "type": "array",
      "items": { "type": "string" }
    },
    "cwd": { "type": "string" }
  },
  "additionalProperties": true
}`

const deviceAPIArgsSchema = `{
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": { "type": "string", "minLength": 1 },
    "payload": { "type": "object" }
  },
  "additionalProperties": true
}`

const cloudRequestArgsSchema = `{
  "type": "object",
  "required": ["url", "method"],
  "properties": {
    "url": { "type": "string", "minLength": 1 },
    "method": { "type": "string", "minLength": 1 },
    "headers": { "type": "object" },
    "body": {},
    "timeout_s": { "type": "number", "minimum": 0 }
  },
  "additionalProperties": true
}`
