package fstool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/methings/brainctl/internal/models"
)

func TestResolve_PathEscapeRefused(t *testing.T) {
	root := t.TempDir()
	r := Resolver{Root: root}

	if _, err := r.Resolve("../../etc/passwd"); err == nil {
		t.Fatal("expected escape to be refused")
	}
	if _, err := r.Resolve("ok/nested/file.txt"); err != nil {
		t.Fatalf("expected nested relative path to resolve: %v", err)
	}
}

func TestTool_ReadWriteRoundTrip(t *testing.T) {
	root := t.TempDir()
	tool := New(root)

	if res, err := tool.WriteFile("notes/a.txt", "hello world"); err != nil || res.Status != models.ToolStatusOK {
		t.Fatalf("write_file: %+v %v", res, err)
	}

	res, err := tool.ReadFile("notes/a.txt", 0)
	if err != nil || res.Status != models.ToolStatusOK {
		t.Fatalf("read_file: %+v %v", res, err)
	}
	if res.Data["content"] != "hello world" {
		t.Fatalf("content = %v", res.Data["content"])
	}
}

func TestTool_ReadFile_PathOutsideUserDir(t *testing.T) {
	root := t.TempDir()
	tool := New(root)

	res, err := tool.ReadFile("../../etc/passwd", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != models.ToolStatusError || res.Error != "path_outside_user_dir" {
		t.Fatalf("result = %+v", res)
	}
}

func TestTool_ListDir_Truncation(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 5; i++ {
		os.WriteFile(filepath.Join(root, string(rune('a'+i))+".txt"), []byte("x"), 0o644)
	}
	tool := New(root)
	res, err := tool.ListDir(".", false, 2)
	if err != nil {
		t.Fatalf("list_dir: %v", err)
	}
	if res.Data["truncated"] != true {
		t.Fatalf("expected truncated=true, got %+v", res.Data)
	}
}

func TestTool_DeletePath_MissingIsOK(t *testing.T) {
	root := t.TempDir()
	tool := New(root)
	res, err := tool.DeletePath("nope.txt", false)
	if err != nil {
		t.Fatalf("delete_path: %v", err)
	}
	if res.Status != models.ToolStatusOK || res.Data["deleted"] != false {
		t.Fatalf("result = %+v", res)
	}
}

func TestTool_MovePath_RefusesOverwrite(t *testing.T) {
	root := t.TempDir()
	tool := New(root)
	tool.WriteFile("a.txt", "a")
	tool.WriteFile("b.txt", "b")

	if res, _ := tool.MovePath("a.txt", "b.txt", false); res.Status != models.ToolStatusError {
		t.Fatalf("expected refusal without overwrite, got %+v", res)
	}
	if res, err := tool.MovePath("a.txt", "b.txt", true); err != nil || res.Status != models.ToolStatusOK {
		t.Fatalf("expected overwrite to succeed: %+v %v", res, err)
	}
}
