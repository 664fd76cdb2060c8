package httpapi

import (
	"testing"

	"github.com/methings/brainctl/internal/dispatcher"
)

func TestValidateToolArgs_FilesystemRequiresKnownOp(t *testing.T) {
	if err := validateToolArgs(dispatcher.ToolFilesystem, map[string]any{"op": "read_file", "path": "a.txt"}); err != nil {
		t.Fatalf("expected valid args to pass: %v", err)
	}
	if err := validateToolArgs(dispatcher.ToolFilesystem, map[string]any{"op": "format_disk"}); err == nil {
		t.Fatal("expected an unknown op to fail validation")
	}
	if err := validateToolArgs(dispatcher.ToolFilesystem, map[string]any{}); err == nil {
		t.Fatal("expected a missing op to fail validation")
	}
}

func TestValidateToolArgs_UnknownToolPassesThrough(t *testing.T) {
	if err := validateToolArgs("not_a_real_tool", map[string]any{"anything": true}); err != nil {
		t.Fatalf("unknown tool should not be schema-validated here: %v", err)
	}
}
