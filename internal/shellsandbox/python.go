package shellsandbox

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/methings/brainctl/internal/brainerr"
)

const pythonBanner = "Python 3.11.0 (brainctl sandbox)"

// runPython parses the minimal argv subset this sandbox supports:
// -V/--version, -c <code>, or <path>; stdin and the no-arg interactive form
// fail explicitly.
func (s *Sandbox) runPython(ctx context.Context, args []string, cwd string) (*ExecResult, error) {
	if len(args) == 0 {
		return nil, brainerr.New(brainerr.KindBadRequest, "invalid_payload: python requires arguments; interactive mode is not supported")
	}

	switch args[0] {
	case "-V", "--version":
		return &ExecResult{Status: "ok", Code: 0, Output: pythonBanner}, nil
	case "-c":
		if len(args) < 2 {
			return nil, brainerr.New(brainerr.KindBadRequest, "missing_code")
		}
		return s.runPythonChild(ctx, cwd, append([]string{"-c"}, args[1]))
	case "-":
		return nil, brainerr.New(brainerr.KindBadRequest, "invalid_payload: reading python source from stdin is not supported")
	default:
		if strings.HasPrefix(args[0], "-") {
			return nil, brainerr.New(brainerr.KindBadRequest, "invalid_payload: unsupported python flag %q", args[0])
		}
		return s.runPythonChild(ctx, cwd, args)
	}
}

// runPythonChild spawns a real python3 interpreter, prepending <user_root>/lib
// to its module search path (PYTHONPATH) so scripts can import a helper
// library colocated under the user root, matching the original's in-process
// contract.
func (s *Sandbox) runPythonChild(ctx context.Context, cwd string, args []string) (*ExecResult, error) {
	libDir := filepath.Join(s.Root, "lib")
	cmd := exec.CommandContext(ctx, "python3", args...)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), "PYTHONPATH="+libDir)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if err != nil {
		return &ExecResult{Status: "error", Code: -1, Output: truncate(out.String() + "\n" + err.Error())}, nil
	}
	status := "ok"
	if code != 0 {
		status = "error"
	}
	return &ExecResult{Status: status, Code: code, Output: truncate(out.String())}, nil
}
