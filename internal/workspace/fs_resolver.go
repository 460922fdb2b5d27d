package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// fsResolver resolves workspace paths on local disk.
type fsResolver struct {
	root string
}

var _ Resolver = (*fsResolver)(nil)

// NewFSResolver creates a filesystem-backed resolver rooted at root.
func NewFSResolver(root string) (*fsResolver, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace root is empty")
	}

	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root %q: %w", trimmed, err)
	}
	return &fsResolver{root: abs}, nil
}

func (r *fsResolver) Root() string { return r.root }

// Resolve joins rel onto the root. An empty rel resolves to the root itself.
func (r *fsResolver) Resolve(rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return r.root, nil
	}

	joined := filepath.Join(r.root, filepath.FromSlash(strings.TrimLeft(rel, "/")))
	within, err := filepath.Rel(r.root, joined)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", rel, err)
	}
	if within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("resolve %q: %w", rel, ErrOutsideRoot)
	}
	return joined, nil
}

func (r *fsResolver) Exists(rel string) bool {
	path, err := r.Resolve(rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

func (r *fsResolver) DirExists(rel string) bool {
	path, err := r.Resolve(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
