// Package agent implements the desktop side: the session multiplexer,
// the CLI session workers, the directory-scope guard, and the WebSocket
// client that keeps the agent attached to the hub.
package agent

import (
	"fmt"
	"path/filepath"
	"strings"

	apperrors "github.com/pairlink/pairlink/internal/errors"
)

// DirGuard validates working directories against the configured
// allow-list. It is the only place path policy lives.
type DirGuard struct {
	allowed []string
}

// NewDirGuard canonicalises the allow-list entries. Relative entries
// are resolved against the current working directory.
func NewDirGuard(dirs []string) (*DirGuard, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("directory allow-list is empty")
	}

	allowed := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("cannot resolve allow-list entry %q: %w", dir, err)
		}
		allowed = append(allowed, filepath.Clean(abs))
	}
	return &DirGuard{allowed: allowed}, nil
}

// Allowed accepts the candidate iff it equals an allow-list entry or
// begins with one followed by a path separator, after both sides are
// normalised. "/home/u/projects-evil" does not match "/home/u/projects".
func (g *DirGuard) Allowed(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	candidate := filepath.Clean(abs)

	for _, root := range g.allowed {
		if candidate == root {
			return true
		}
		if strings.HasPrefix(candidate, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Check returns a typed error for disallowed paths.
func (g *DirGuard) Check(path string) error {
	if !g.Allowed(path) {
		return apperrors.DirNotAllowed(path)
	}
	return nil
}

// Default returns the first allow-list entry, used when a session is
// created without an explicit working directory.
func (g *DirGuard) Default() string {
	return g.allowed[0]
}
