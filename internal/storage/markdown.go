package storage

import (
	"os"
	"path/filepath"
	"strings"
)

// RelativePath returns path relative to the base directory, or path unchanged when
// it lies outside it.
func (m *FileManager) RelativePath(path string) string {
	rel, err := filepath.Rel(m.baseDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}

// MarkdownPath returns the link target used in a markdown image reference:
// relative to the working directory when path is beneath it, otherwise the base
// directory's name joined with the path relative to base. Always forward slashes
// with a leading "./".
func (m *FileManager) MarkdownPath(path string) string {
	var rel string
	if cwd, err := os.Getwd(); err == nil {
		if resolved, err := filepath.EvalSymlinks(cwd); err == nil {
			cwd = resolved
		}
		if isDescendant(cwd, path) {
			rel, _ = filepath.Rel(cwd, path)
		}
	}
	if rel == "" {
		rel = filepath.Join(filepath.Base(m.baseDir), m.RelativePath(path))
	}

	link := filepath.ToSlash(rel)
	if !strings.HasPrefix(link, "./") {
		link = "./" + link
	}
	return link
}

// MarkdownRef renders ![alt](link) for path.
func (m *FileManager) MarkdownRef(path, alt string) string {
	return "![" + alt + "](" + m.MarkdownPath(path) + ")"
}
