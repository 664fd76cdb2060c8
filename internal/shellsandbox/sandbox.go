// Package shellsandbox implements the Shell Sandbox: a restricted exec
// surface for `python`, `pip` and `curl`, path- and command-scoped to a
// user root. python and pip run as child processes via os/exec rather
// than an embedded interpreter, since Go cannot host CPython in-process;
// the output-capture contract and cwd-pinning rule are preserved regardless
// of how the command is actually run.
package shellsandbox

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/methings/brainctl/internal/brainerr"
	"github.com/methings/brainctl/internal/exec"
	"github.com/methings/brainctl/internal/models"
)

// ExecResult is the outer envelope Exec returns.
type ExecResult struct {
	Status string `json:"status"`
	Code   int    `json:"code"`
	Output string `json:"output"`
}

// maxOutputBytes bounds captured stdout/stderr so a runaway script can't
// exhaust memory.
const maxOutputBytes = 1 << 20

// Sandbox runs python/pip/curl confined to Root.
type Sandbox struct {
	Root string
}

// New constructs a Sandbox rooted at root.
func New(root string) *Sandbox {
	return &Sandbox{Root: root}
}

// pinCwd resolves cwd relative to the user root; any escape attempt is
// silently pinned back to the root
func (s *Sandbox) pinCwd(cwd string) string {
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return s.Root
	}
	if cwd == "" {
		return root
	}
	joined := filepath.Join(root, cwd)
	rel, err := filepath.Rel(root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return root
	}
	return joined
}

// Exec runs cmd with rawArgs in cwd (resolved/pinned under the user root).
// cmd must be one of {python, pip, curl}; anything else fails with
// command_not_allowed and never touches the filesystem.
func (s *Sandbox) Exec(ctx context.Context, cmd string, rawArgs []string, cwd string) (*ExecResult, error) {
	// Only null bytes and control characters are rejected here, not shell
	// metacharacters: every command below runs through os/exec directly
	// with an explicit argv, never a shell, so a curl URL's "&" or "?" is
	// inert and must not be treated as injection.
	for _, a := range rawArgs {
		if strings.Contains(a, "\x00") || exec.ControlChars.MatchString(a) {
			return nil, brainerr.New(brainerr.KindBadRequest, "unsafe_argument: %q", a)
		}
	}
	switch cmd {
	case "python":
		pinned := s.pinCwd(cwd)
		return s.runPython(ctx, rawArgs, pinned)
	case "pip":
		pinned := s.pinCwd(cwd)
		return s.runPip(ctx, rawArgs, pinned)
	case "curl":
		pinned := s.pinCwd(cwd)
		return s.runCurl(ctx, rawArgs, pinned)
	default:
		return nil, brainerr.New(brainerr.KindCommandNotAllowed, "command_not_allowed: %s", cmd)
	}
}

func toolErr(kind brainerr.Kind, format string, args ...any) *models.ToolResult {
	e := brainerr.New(kind, format, args...)
	return &models.ToolResult{Status: models.ToolStatusError, Error: string(e.Kind), Detail: map[string]any{"message": e.Message}}
}

func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + "\n...[truncated]"
}
