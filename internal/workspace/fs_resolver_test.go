package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestResolver(t *testing.T) (*fsResolver, string) {
	t.Helper()

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "src", "lib"), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", "app.js"), []byte("console.log(1)\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	r, err := NewFSResolver(root)
	if err != nil {
		t.Fatalf("NewFSResolver() error = %v", err)
	}
	return r, root
}

func TestNewFSResolverRejectsEmptyRoot(t *testing.T) {
	if _, err := NewFSResolver("   "); err == nil {
		t.Fatal("expected error for empty root")
	}
}

func TestResolve(t *testing.T) {
	r, root := newTestResolver(t)

	tests := []struct {
		name    string
		rel     string
		want    string
		wantErr error
	}{
		{name: "empty is root", rel: "", want: root},
		{name: "nested file", rel: "src/app.js", want: filepath.Join(root, "src", "app.js")},
		{name: "leading slash stays inside", rel: "/src/app.js", want: filepath.Join(root, "src", "app.js")},
		{name: "dot segments inside root", rel: "src/lib/../app.js", want: filepath.Join(root, "src", "app.js")},
		{name: "escape", rel: "../etc/passwd", wantErr: ErrOutsideRoot},
		{name: "parent of root", rel: "src/../..", wantErr: ErrOutsideRoot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.rel)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve(%q) error = %v, want %v", tt.rel, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) error = %v", tt.rel, err)
			}
			if got != tt.want {
				t.Fatalf("Resolve(%q) = %q, want %q", tt.rel, got, tt.want)
			}
		})
	}
}

func TestExistsAndDirExists(t *testing.T) {
	r, _ := newTestResolver(t)

	if !r.Exists("src/app.js") {
		t.Error("Exists(src/app.js) = false, want true")
	}
	if r.Exists("src/missing.js") {
		t.Error("Exists(src/missing.js) = true, want false")
	}
	if r.Exists("../outside") {
		t.Error("Exists(../outside) = true, want false")
	}

	if !r.DirExists("") {
		t.Error("DirExists(\"\") = false, want true")
	}
	if !r.DirExists("src/lib") {
		t.Error("DirExists(src/lib) = false, want true")
	}
	if r.DirExists("src/app.js") {
		t.Error("DirExists(src/app.js) = true, want false for a file")
	}
}
