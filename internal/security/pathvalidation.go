// Package security guards the file paths the survey service derives
// from outside input: report directories named after session IDs and
// export targets given on the command line.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolve returns the canonical absolute form of path. A path that does
// not exist yet is anchored at its deepest existing ancestor, resolved,
// and re-extended, so a symlinked parent cannot smuggle the target out
// of its directory.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if canonical, err := filepath.EvalSymlinks(abs); err == nil {
		return canonical, nil
	}
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if canonical, err := filepath.EvalSymlinks(dir); err == nil {
			rel, err := filepath.Rel(dir, abs)
			if err != nil {
				return "", fmt.Errorf("failed to resolve %s: %w", path, err)
			}
			return filepath.Join(canonical, rel), nil
		}
		if dir == filepath.Dir(dir) {
			return abs, nil
		}
	}
}

// ValidatePathWithinDirectory rejects path unless it stays inside dir
// after cleaning and symlink resolution. The path itself does not have
// to exist yet; dir does.
func ValidatePathWithinDirectory(path, dir string) error {
	target, err := resolve(path)
	if err != nil {
		return err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory %s: %w", dir, err)
	}
	root, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory %s: %w", dir, err)
	}
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return fmt.Errorf("%s is outside %s: %w", path, dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s escapes %s", path, dir)
	}
	return nil
}

// ValidateExportPath accepts a report or export target only under the
// working directory or the system temp directory, the two places the
// service writes artifacts.
func ValidateExportPath(path string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	for _, dir := range []string{cwd, os.TempDir()} {
		if ValidatePathWithinDirectory(path, dir) == nil {
			return nil
		}
	}
	return fmt.Errorf("export path %s must stay under %s or %s", path, cwd, os.TempDir())
}

// SanitizeFilename reduces an arbitrary identifier (a session ID, an
// operator-chosen name) to a string safe to embed in a file name.
// Anything outside ASCII letters, digits, dot, dash and underscore
// becomes a single underscore, runs collapse, and the result is capped
// at 128 bytes. An identifier with nothing salvageable comes back as
// "unknown".
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	dropped := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		safe := r == '.' || r == '-' || r == '_' ||
			(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if safe {
			b.WriteRune(r)
			dropped = false
			continue
		}
		if !dropped {
			b.WriteByte('_')
			dropped = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
