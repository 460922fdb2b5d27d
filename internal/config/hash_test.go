package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLockDryRun(t *testing.T) {
	path := writeConfig(t, "workspace:\n  dir: ws\n")

	report, err := Lock(path, true)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if report.Written {
		t.Fatal("report.Written = true, want false in dry-run")
	}
	if report.Hash == "" {
		t.Fatal("dry-run should still compute the hash")
	}
	if _, err := os.Stat(report.ChecksumPath); !os.IsNotExist(err) {
		t.Fatal(".checksums should not be written in dry-run mode")
	}
}

func TestLockThenLoad(t *testing.T) {
	path := writeConfig(t, "workspace:\n  dir: ws\n")

	report, err := Lock(path, false)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if !report.Written {
		t.Fatal("report.Written = false")
	}

	info, err := os.Stat(report.ChecksumPath)
	if err != nil {
		t.Fatalf("checksums not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("checksums mode = %v, want 0600", info.Mode().Perm())
	}

	manifest, err := LoadChecksums(filepath.Dir(path))
	if err != nil {
		t.Fatalf("LoadChecksums() failed: %v", err)
	}
	if manifest.Hashes["config.yaml"] != report.Hash {
		t.Errorf("manifest hash = %q, want %q", manifest.Hashes["config.yaml"], report.Hash)
	}

	if _, err := Load(path); err != nil {
		t.Fatalf("Load() of locked config failed: %v", err)
	}
}

func TestLoadDetectsTampering(t *testing.T) {
	path := writeConfig(t, "workspace:\n  dir: ws\n")
	if _, err := Lock(path, false); err != nil {
		t.Fatal(err)
	}

	writeTestFile(t, path, "workspace:\n  dir: ws\nruntime:\n  node_cmd: /tmp/evil\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("expected hash mismatch, got %v", err)
	}
}

func TestVerifyChecksumsWithoutManifest(t *testing.T) {
	path := writeConfig(t, "workspace:\n  dir: ws\n")
	if err := VerifyChecksums(path); err != nil {
		t.Fatalf("unlocked config should verify: %v", err)
	}
}

func TestVerifyChecksumsMissingEntry(t *testing.T) {
	path := writeConfig(t, "workspace:\n  dir: ws\n")
	writeTestFile(t, filepath.Join(filepath.Dir(path), ChecksumFile), "version: 1\nhashes:\n  other.yaml: abc\n")

	err := VerifyChecksums(path)
	if err == nil || !strings.Contains(err.Error(), "has no hash") {
		t.Fatalf("expected missing entry error, got %v", err)
	}
}

func TestLoadChecksumsRejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, ChecksumFile), "version: 2\nhashes: {}\n")

	if _, err := LoadChecksums(dir); err == nil {
		t.Fatal("expected version error")
	}
}

func TestComputeBlake3HashStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	writeTestFile(t, path, "abc")

	a, err := ComputeBlake3Hash(path)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := ComputeBlake3Hash(path)
	if a != b || len(a) != 64 {
		t.Fatalf("unexpected hashes %q %q", a, b)
	}
	if err := VerifyFileHash(path, a); err != nil {
		t.Fatalf("VerifyFileHash() failed: %v", err)
	}
}
