package storage

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/skyinv/Seedream-MCP/internal/errors"
)

// MaxBaseDirLen is the longest accepted base directory (the classic Windows MAX_PATH).
const MaxBaseDirLen = 260

// IsUnsafeBaseDir reports whether a base directory override must be rejected.
// raw is the value as configured, abs its absolute form. It checks:
// 1. Path traversal (.. segments) in the raw value
// 2. UNC-style prefixes (\\server or //server)
// 3. A colon inside the final path component
// 4. Total length above MaxBaseDirLen
func IsUnsafeBaseDir(raw, abs string) bool {
	if containsTraversal(raw) {
		return true
	}
	if strings.HasPrefix(raw, `\\`) || strings.HasPrefix(raw, "//") {
		return true
	}
	if strings.Contains(filepath.Base(abs), ":") {
		return true
	}
	return len(abs) > MaxBaseDirLen
}

// Validate checks that path resolves to a strict descendant of the base directory.
// Intermediate directories are resolved through symlinks before the comparison, and a
// symlink in the final component is rejected outright.
func (m *FileManager) Validate(path string) error {
	resolved, err := m.resolve(path)
	if err != nil {
		return err
	}

	if !isDescendant(m.baseDir, resolved) {
		return errors.NewUnsafePath(path, m.baseDir)
	}

	if info, err := os.Lstat(resolved); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewUnsafePath(path, m.baseDir)
	}

	return nil
}

// resolve returns the absolute form of path with symlinks in its existing parent
// directories evaluated. The final component is left as is.
func (m *FileManager) resolve(path string) (string, error) {
	if path == "" {
		return "", errors.NewInvalidInput("path is required")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.NewInvalidInput("invalid path: " + err.Error())
	}

	dir, name := filepath.Split(abs)
	dir = filepath.Clean(dir)

	// Walk up until an existing directory is found; the missing tail is appended back.
	var tail []string
	for {
		resolvedDir, err := filepath.EvalSymlinks(dir)
		if err == nil {
			parts := append([]string{resolvedDir}, tail...)
			return filepath.Join(append(parts, name)...), nil
		}
		if !os.IsNotExist(err) {
			return "", errors.NewIOFailure("resolve", dir, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		tail = append([]string{filepath.Base(dir)}, tail...)
		dir = parent
	}
}

// isDescendant reports whether target lies strictly beneath root.
func isDescendant(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

// containsTraversal checks if path contains ".." directory traversal.
func containsTraversal(path string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return true
		}
	}
	// Also check for forward slashes on all platforms (e.g., user input)
	if filepath.Separator != '/' {
		for _, part := range strings.Split(path, "/") {
			if part == ".." {
				return true
			}
		}
	}
	return false
}
