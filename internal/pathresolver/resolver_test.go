package pathresolver

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveWithinRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := New(root)

	got, err := r.Resolve("a.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := filepath.EvalSymlinks(filepath.Join(root, "a.txt"))
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestResolveRejectsEscape(t *testing.T) {
	root := t.TempDir()
	r := New(root)

	_, err := r.Resolve("../../etc/passwd")
	if err == nil {
		t.Fatal("expected an error for path escaping root")
	}
}

func TestResolveRejectsSystemDenylist(t *testing.T) {
	r := New("/tmp")
	for _, p := range []string{"/etc/passwd", "/var/log/syslog", "/proc/self/environ"} {
		if _, err := r.Resolve(p); err == nil {
			t.Fatalf("expected system denylist rejection for %s", p)
		}
	}
}

func TestResolveStripsTrailingDelimiters(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := New(root)

	got, err := r.Resolve("a.txt')")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := filepath.EvalSymlinks(filepath.Join(root, "a.txt"))
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	outsideFile := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(outsideFile, []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "link.txt")
	if err := os.Symlink(outsideFile, link); err != nil {
		t.Skipf("symlinks unsupported in this environment: %v", err)
	}

	r := New(root)
	_, err := r.Resolve("link.txt")
	if err == nil {
		t.Fatal("expected symlink escape to be rejected")
	}
}

func TestAllowPrefixesOverridesRootBoundary(t *testing.T) {
	root := t.TempDir()
	shared := t.TempDir()
	if err := os.WriteFile(filepath.Join(shared, "shared.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New(root)
	r.AllowPrefixes(shared)

	got, err := r.Resolve(filepath.Join(shared, "shared.txt"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := filepath.EvalSymlinks(filepath.Join(shared, "shared.txt"))
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestDenyPrefixesRejectsWorkspaceSubdir(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ".git", "config"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New(root)
	r.DenyPrefixes(".git")

	_, err := r.Resolve(".git/config")
	if err == nil {
		t.Fatal("expected denied-prefix rejection")
	}
}
