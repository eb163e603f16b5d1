package storage

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/skyinv/Seedream-MCP/internal/errors"
)

// FileEntry describes one stored file.
type FileEntry struct {
	Path    string    `json:"path"`
	RelPath string    `json:"rel_path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
}

// Recent returns up to limit stored files, newest first. limit <= 0 means all.
func (m *FileManager) Recent(limit int) ([]FileEntry, error) {
	var entries []FileEntry

	err := filepath.WalkDir(m.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), partialPrefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, FileEntry{
			Path:    path,
			RelPath: filepath.ToSlash(m.RelativePath(path)),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, errors.NewIOFailure("list", m.baseDir, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].ModTime.After(entries[j].ModTime)
		}
		return entries[i].RelPath < entries[j].RelPath
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
