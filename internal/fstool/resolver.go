// Package fstool implements the Filesystem Tool: scoped list/read/write/
// mkdir/move/delete operations confined to the user root. An absolute-
// looking input path is never treated as a literal target; the resolver
// always joins the input under root first, so there is no absolute-path
// escape hatch.
package fstool

import (
	"path/filepath"
	"strings"

	"github.com/methings/brainctl/internal/brainerr"
)

// Resolver confines relative and absolute-looking input paths to Root.
type Resolver struct {
	Root string
}

// Resolve joins p under Root and rejects any result that would escape it.
func (r Resolver) Resolve(p string) (string, error) {
	root, err := filepath.Abs(r.Root)
	if err != nil {
		return "", brainerr.New(brainerr.KindInternal, "resolve root: %v", err)
	}
	// filepath.Join always nests its second argument under root (even an
	// absolute-looking one) and normalises "..": the escape check below is
	// what actually rejects traversal attempts, not this join.
	joined := filepath.Join(root, p)

	rel, err := filepath.Rel(root, joined)
	if err != nil {
		return "", brainerr.New(brainerr.KindPathOutsideUserDir, "path outside user root")
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", brainerr.New(brainerr.KindPathOutsideUserDir, "path outside user root").WithDetail("path", p)
	}
	return joined, nil
}
