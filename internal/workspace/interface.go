package workspace

import "errors"

// ErrOutsideRoot is returned when a relative path resolves outside the workspace root.
var ErrOutsideRoot = errors.New("path escapes workspace root")

// Resolver maps client-supplied workspace-relative paths to local paths.
//
// Clients only ever see paths relative to the workspace root; absolute paths stay
// on the host so the workspace can move without clients noticing.
type Resolver interface {
	// Resolve returns the absolute local path for rel.
	Resolve(rel string) (string, error)

	// Exists reports whether rel names an existing file or directory.
	Exists(rel string) bool

	// DirExists reports whether rel names an existing directory.
	DirExists(rel string) bool

	// Root returns the absolute workspace root.
	Root() string
}
