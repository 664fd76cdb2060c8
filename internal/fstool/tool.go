package fstool

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/methings/brainctl/internal/brainerr"
	"github.com/methings/brainctl/internal/models"
)

const (
	defaultListLimit = 500
	maxListLimit     = 5000
	minReadBytes     = 1024
	maxReadBytes     = 2 * 1024 * 1024
)

// Tool is the Filesystem Tool, scoped to a single user root.
type Tool struct {
	resolver Resolver
}

// New constructs a Tool rooted at root (either "<base>/user" or, when
// fs_scope=app, "<base>" — the caller decides which).
func New(root string) *Tool {
	return &Tool{resolver: Resolver{Root: root}}
}

type entry struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Size  int64  `json:"size"`
	Mtime int64  `json:"mtime"`
}

// ListDir lists directory entries sorted case-insensitively by name.
func (t *Tool) ListDir(path string, showHidden bool, limit int) (*models.ToolResult, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return errResult(err), nil
	}
	items, err := os.ReadDir(resolved)
	if err != nil {
		return errResult(brainerr.New(brainerr.KindNotFound, "list_dir: %v", err)), nil
	}

	entries := make([]entry, 0, len(items))
	for _, it := range items {
		if !showHidden && strings.HasPrefix(it.Name(), ".") {
			continue
		}
		info, err := it.Info()
		if err != nil {
			continue
		}
		kind := "file"
		if it.IsDir() {
			kind = "dir"
		}
		entries = append(entries, entry{Name: it.Name(), Type: kind, Size: info.Size(), Mtime: info.ModTime().Unix()})
	}
	sort.Slice(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
	truncated := false
	if len(entries) > limit {
		entries = entries[:limit]
		truncated = true
	}
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = map[string]any{"name": e.Name, "type": e.Type, "size": e.Size, "mtime": e.Mtime}
	}
	return &models.ToolResult{Status: models.ToolStatusOK, Data: map[string]any{
		"entries":   out,
		"truncated": truncated,
	}}, nil
}

// ReadFile reads up to maxBytes (clamped 1024..2MiB) of a file, UTF-8
// decoding with the replace error handler.
func (t *Tool) ReadFile(path string, maxBytes int) (*models.ToolResult, error) {
	if maxBytes <= 0 || maxBytes > maxReadBytes {
		maxBytes = maxReadBytes
	}
	if maxBytes < minReadBytes {
		maxBytes = minReadBytes
	}
	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return errResult(err), nil
	}
	f, err := os.Open(resolved)
	if err != nil {
		return errResult(brainerr.New(brainerr.KindNotFound, "read_file: %v", err)), nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errResult(brainerr.New(brainerr.KindInternal, "stat: %v", err)), nil
	}

	buf := make([]byte, maxBytes)
	n, err := f.Read(buf)
	if err != nil && n == 0 && info.Size() > 0 {
		return errResult(brainerr.New(brainerr.KindInternal, "read: %v", err)), nil
	}
	content := decodeReplace(buf[:n])
	truncated := info.Size() > int64(n)

	return &models.ToolResult{Status: models.ToolStatusOK, Data: map[string]any{
		"path":      path,
		"content":   content,
		"bytes":     n,
		"truncated": truncated,
	}}, nil
}

// decodeReplace decodes b as UTF-8, substituting U+FFFD for invalid
// sequences — Go's utf8.DecodeRune already does this for malformed input
// when fed through range over string, but we operate on raw bytes directly.
func decodeReplace(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune(utf8.RuneError)
			i++
			continue
		}
		sb.WriteRune(r)
		i += size
	}
	return sb.String()
}

// Mkdir creates path, idempotently succeeding if it already exists.
func (t *Tool) Mkdir(path string, parents bool) (*models.ToolResult, error) {
	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return errResult(err), nil
	}
	if parents {
		err = os.MkdirAll(resolved, 0o755)
	} else {
		err = os.Mkdir(resolved, 0o755)
		if os.IsExist(err) {
			err = nil
		}
	}
	if err != nil {
		return errResult(brainerr.New(brainerr.KindInternal, "mkdir: %v", err)), nil
	}
	return &models.ToolResult{Status: models.ToolStatusOK, Data: map[string]any{"path": path}}, nil
}

// MovePath renames src to dst, creating dst's parent directory and
// refusing an existing dst unless overwrite is set.
func (t *Tool) MovePath(src, dst string, overwrite bool) (*models.ToolResult, error) {
	rsrc, err := t.resolver.Resolve(src)
	if err != nil {
		return errResult(err), nil
	}
	rdst, err := t.resolver.Resolve(dst)
	if err != nil {
		return errResult(err), nil
	}
	if !overwrite {
		if _, err := os.Stat(rdst); err == nil {
			return errResult(brainerr.New(brainerr.KindBadRequest, "destination already exists")), nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(rdst), 0o755); err != nil {
		return errResult(brainerr.New(brainerr.KindInternal, "mkdir parent: %v", err)), nil
	}
	if err := os.Rename(rsrc, rdst); err != nil {
		return errResult(brainerr.New(brainerr.KindInternal, "move_path: %v", err)), nil
	}
	return &models.ToolResult{Status: models.ToolStatusOK, Data: map[string]any{"src": src, "dst": dst}}, nil
}

// DeletePath removes path; a missing path is a successful no-op.
func (t *Tool) DeletePath(path string, recursive bool) (*models.ToolResult, error) {
	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return errResult(err), nil
	}
	if _, statErr := os.Stat(resolved); os.IsNotExist(statErr) {
		return &models.ToolResult{Status: models.ToolStatusOK, Data: map[string]any{"deleted": false}}, nil
	}
	if recursive {
		err = os.RemoveAll(resolved)
	} else {
		err = os.Remove(resolved)
	}
	if err != nil {
		return errResult(brainerr.New(brainerr.KindInternal, "delete_path: %v", err)), nil
	}
	return &models.ToolResult{Status: models.ToolStatusOK, Data: map[string]any{"deleted": true}}, nil
}

// WriteFile writes content to path, creating parent directories — used by
// the brain runtime's write_file tool call and the planner write_file action.
func (t *Tool) WriteFile(path, content string) (*models.ToolResult, error) {
	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return errResult(err), nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return errResult(brainerr.New(brainerr.KindInternal, "mkdir parent: %v", err)), nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return errResult(brainerr.New(brainerr.KindInternal, "write_file: %v", err)), nil
	}
	return &models.ToolResult{Status: models.ToolStatusOK, Data: map[string]any{"path": path, "bytes": len(content)}}, nil
}

func errResult(err error) *models.ToolResult {
	if be, ok := brainerr.As(err); ok {
		return &models.ToolResult{Status: models.ToolStatusError, Error: string(be.Kind), Detail: be.Detail}
	}
	return &models.ToolResult{Status: models.ToolStatusError, Error: string(brainerr.KindInternal)}
}
