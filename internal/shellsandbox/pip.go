package shellsandbox

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ambiguousPackage is a package name that naive agents guess when they mean
// a more specific, already-requested package (e.g. "uvc" vs "pyuvc" — both
// resolve on PyPI but to unrelated projects).
const ambiguousPackage = "uvc"

// runPip invokes pip as a child process, forcing binary-only resolution for
// installs unless the caller already opted into source builds, pointing
// temp/cache dirs at the sandboxed cwd, and dropping an ambiguous package
// name heuristically.
func (s *Sandbox) runPip(ctx context.Context, args []string, cwd string) (*ExecResult, error) {
	note := ""
	if len(args) > 0 && args[0] == "install" {
		args, note = sanitizeInstallArgs(args)
	}

	tmpDir := filepath.Join(cwd, ".tmp")
	cacheDir := filepath.Join(cwd, ".cache", "pip")
	os.MkdirAll(tmpDir, 0o755)
	os.MkdirAll(cacheDir, 0o755)

	cmd := exec.CommandContext(ctx, "python3", append([]string{"-m", "pip"}, args...)...)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(),
		"TMPDIR="+tmpDir,
		"PIP_CACHE_DIR="+cacheDir,
	)

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
	output := out.String()
	if note != "" {
		output = note + "\n" + output
	}
	return &ExecResult{Status: status, Code: code, Output: truncate(output)}, nil
}

// sanitizeInstallArgs forces --only-binary=:all: unless the caller already
// specified a --no-binary/--only-binary flag, and drops a bare "uvc"
// package name whenever at least one other package name is also requested.
func sanitizeInstallArgs(args []string) ([]string, string) {
	hasBinaryFlag := false
	out := make([]string, 0, len(args)+1)
	packages := make([]string, 0)
	for _, a := range args {
		if strings.HasPrefix(a, "--no-binary") || strings.HasPrefix(a, "--only-binary") {
			hasBinaryFlag = true
		}
		if !strings.HasPrefix(a, "-") {
			packages = append(packages, a)
		}
		out = append(out, a)
	}

	note := ""
	if len(packages) > 1 {
		filtered := make([]string, 0, len(out))
		dropped := false
		for _, a := range out {
			if !strings.HasPrefix(a, "-") && a == ambiguousPackage {
				dropped = true
				continue
			}
			filtered = append(filtered, a)
		}
		if dropped {
			out = filtered
			note = "note: dropped ambiguous package name \"uvc\" (did you mean pyuvc?)"
		}
	}

	if !hasBinaryFlag {
		out = append([]string{out[0], "--only-binary=:all:"}, out[1:]...)
	}
	return out, note
}
