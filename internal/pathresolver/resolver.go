// Package pathresolver implements the workspace-boundary path resolution
// used by every filesystem-touching tool (spec §4.4): it canonicalizes a
// tool-supplied path against the project root, rejects symlink/hardlink
// escapes, strips stray trailing punctuation LLMs sometimes emit around
// paths, and refuses a fixed denylist of system directories regardless of
// workspace boundary checks.
package pathresolver

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// ErrOutsideRoot is returned when a path resolves outside the project root.
var ErrOutsideRoot = errors.New("pathresolver: path outside project root")

// ErrSystemPath is returned when a path falls under a denied system prefix.
var ErrSystemPath = errors.New("pathresolver: path under a protected system directory")

// ErrMutableSymlink is returned when a path traverses a symlink whose parent
// directory is writable, an indicator of a TOCTOU rebind attack.
var ErrMutableSymlink = errors.New("pathresolver: path contains a mutable symlink component")

// ErrHardlink is returned when the resolved file has more than one hard link.
var ErrHardlink = errors.New("pathresolver: hardlinked files are not allowed")

// deniedSystemPrefixes is the fixed denylist from spec §4.4; these are
// checked against the absolute, cleaned candidate path regardless of any
// workspace-root relationship.
var deniedSystemPrefixes = []string{
	"/etc", "/var", "/usr", "/bin", "/sbin", "/boot", "/proc", "/sys", "/dev",
}

// Resolver resolves tool-supplied paths against a fixed project root.
type Resolver struct {
	root            string
	allowedPrefixes []string
	deniedPrefixes  []string
}

// New constructs a Resolver rooted at root (an absolute or relative
// workspace directory).
func New(root string) *Resolver {
	return &Resolver{root: root}
}

// AllowPrefixes whitelists additional absolute path prefixes outside root
// (e.g. a shared skills directory) that Resolve should still accept.
func (r *Resolver) AllowPrefixes(prefixes ...string) {
	r.allowedPrefixes = append(r.allowedPrefixes, prefixes...)
}

// DenyPrefixes blacklists path prefixes relative to root (e.g. ".git") in
// addition to the fixed system denylist.
func (r *Resolver) DenyPrefixes(prefixes ...string) {
	r.deniedPrefixes = append(r.deniedPrefixes, prefixes...)
}

// Resolve canonicalizes path against the resolver's root, enforcing every
// boundary and denylist check. On success it returns the real (symlink-free)
// absolute path.
func (r *Resolver) Resolve(path string) (string, error) {
	path = stripStrayDelimiters(path)

	var candidate string
	if filepath.IsAbs(path) {
		candidate = filepath.Clean(path)
	} else {
		candidate = filepath.Clean(filepath.Join(r.root, path))
	}

	if err := checkSystemDenylist(candidate); err != nil {
		return "", err
	}

	absRoot, _ := filepath.Abs(r.root)
	rootReal, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		rootReal = absRoot
	}

	real, err := r.resolveReal(candidate)
	if err != nil {
		return "", err
	}

	if !isInside(real, rootReal) {
		if r.matchesAllowedPrefix(real) {
			return r.finishChecks(real)
		}
		slog.Warn("pathresolver: escape attempt", "path", path, "resolved", real, "root", rootReal)
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}

	if err := r.checkDeniedPrefixes(real, rootReal); err != nil {
		return "", err
	}

	return r.finishChecks(real)
}

func (r *Resolver) finishChecks(real string) (string, error) {
	if hasMutableSymlinkParent(real) {
		return "", ErrMutableSymlink
	}
	if err := checkHardlink(real); err != nil {
		return "", err
	}
	return real, nil
}

func (r *Resolver) matchesAllowedPrefix(real string) bool {
	for _, prefix := range r.allowedPrefixes {
		absPrefix, _ := filepath.Abs(prefix)
		prefixReal, err := filepath.EvalSymlinks(absPrefix)
		if err != nil {
			prefixReal = absPrefix
		}
		if isInside(real, prefixReal) {
			return true
		}
	}
	return false
}

func (r *Resolver) checkDeniedPrefixes(real, rootReal string) error {
	for _, prefix := range r.deniedPrefixes {
		denied := filepath.Join(rootReal, prefix)
		if isInside(real, denied) {
			return fmt.Errorf("%w: %s", ErrOutsideRoot, prefix)
		}
	}
	return nil
}

// resolveReal canonicalizes candidate, following symlinks, and handling
// not-yet-existing files (including dangling symlinks) by resolving through
// the deepest existing ancestor.
func (r *Resolver) resolveReal(candidate string) (string, error) {
	absCandidate, _ := filepath.Abs(candidate)
	real, err := filepath.EvalSymlinks(absCandidate)
	if err == nil {
		return real, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("pathresolver: cannot resolve path: %w", err)
	}

	if linfo, lerr := os.Lstat(absCandidate); lerr == nil && linfo.Mode()&os.ModeSymlink != 0 {
		target, readErr := os.Readlink(absCandidate)
		if readErr != nil {
			return "", fmt.Errorf("pathresolver: cannot resolve broken symlink: %w", readErr)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(absCandidate), target)
		}
		return resolveThroughExistingAncestors(filepath.Clean(target))
	}
	return resolveThroughExistingAncestors(absCandidate)
}

// stripStrayDelimiters trims trailing punctuation clusters an LLM sometimes
// appends around a path argument (closing quotes, braces, backticks, commas)
// without touching legitimate path characters.
func stripStrayDelimiters(path string) string {
	return strings.TrimRight(path, "'\"`)]},;: \t\n")
}

func checkSystemDenylist(candidate string) error {
	abs, _ := filepath.Abs(candidate)
	for _, prefix := range deniedSystemPrefixes {
		if isInside(abs, prefix) {
			return fmt.Errorf("%w: %s", ErrSystemPath, prefix)
		}
	}
	return nil
}

func isInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

func resolveThroughExistingAncestors(target string) (string, error) {
	if real, err := filepath.EvalSymlinks(target); err == nil {
		return real, nil
	}
	current := target
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent

		if realParent, err := filepath.EvalSymlinks(current); err == nil {
			result := realParent
			for _, component := range tail {
				result = filepath.Join(result, component)
			}
			return result, nil
		}
	}
	return filepath.Clean(target), nil
}

func hasMutableSymlinkParent(path string) bool {
	clean := filepath.Clean(path)
	components := strings.Split(clean, string(filepath.Separator))
	current := string(filepath.Separator)
	for _, comp := range components {
		if comp == "" {
			continue
		}
		current = filepath.Join(current, comp)
		info, err := os.Lstat(current)
		if err != nil {
			break
		}
		if info.Mode()&os.ModeSymlink != 0 {
			parentDir := filepath.Dir(current)
			if syscall.Access(parentDir, 0x2) == nil {
				return true
			}
		}
	}
	return false
}

func checkHardlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return nil
	}
	if info.IsDir() {
		return nil
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if stat.Nlink > 1 {
			return ErrHardlink
		}
	}
	return nil
}
