package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skyinv/Seedream-MCP/internal/errors"
)

// CleanupResult reports what a retention sweep removed.
type CleanupResult struct {
	DeletedCount int      `json:"deleted_files"`
	DeletedBytes int64    `json:"deleted_size"`
	DeletedDirs  int      `json:"deleted_dirs"`
	Errors       []string `json:"errors"`
}

// Cleanup deletes regular files under the base directory whose modification time is
// older than retentionDays, then removes directories left empty, deepest first.
// Individual failures are recorded in Errors and never stop the sweep.
func (m *FileManager) Cleanup(retentionDays int) (*CleanupResult, error) {
	if retentionDays < 0 {
		return nil, errors.NewInvalidInput(fmt.Sprintf("retention days must be >= 0, got %d", retentionDays))
	}

	cutoff := m.opts.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	result := &CleanupResult{Errors: []string{}}
	var dirs []string

	walkErr := filepath.WalkDir(m.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("walk %s: %v", path, err))
			m.logger.Warn("cleanup walk error", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() && path != m.baseDir {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != m.baseDir {
				dirs = append(dirs, path)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("stat %s: %v", path, err))
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}

		if err := m.remove(path); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("delete %s: %v", path, err))
			m.logger.Warn("failed to delete old file", zap.String("path", path), zap.Error(err))
			return nil
		}
		result.DeletedCount++
		result.DeletedBytes += info.Size()
		m.logger.Info("deleted old file", zap.String("path", path), zap.Time("mtime", info.ModTime()))
		return nil
	})
	if walkErr != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("walk %s: %v", m.baseDir, walkErr))
	}

	// Deepest first so a parent is only checked after its children are gone.
	sort.Slice(dirs, func(i, j int) bool {
		di, dj := depth(dirs[i]), depth(dirs[j])
		if di != dj {
			return di > dj
		}
		return dirs[i] > dirs[j]
	})
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err != nil {
			m.logger.Warn("failed to remove empty directory", zap.String("path", dir), zap.Error(err))
			continue
		}
		result.DeletedDirs++
		m.logger.Info("removed empty directory", zap.String("path", dir))
	}

	return result, nil
}

// ScanResult totals the files stored under the base directory.
type ScanResult struct {
	FileCount  int
	TotalBytes int64
	Exists     bool
}

// Scan counts regular files and their total size under the base directory.
// In-flight temporary download files are skipped.
func (m *FileManager) Scan() (*ScanResult, error) {
	result := &ScanResult{}
	if _, err := os.Stat(m.baseDir); err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, errors.NewIOFailure("stat", m.baseDir, err)
	}
	result.Exists = true

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
		result.FileCount++
		result.TotalBytes += info.Size()
		return nil
	})
	if err != nil {
		return nil, errors.NewIOFailure("scan", m.baseDir, err)
	}
	return result, nil
}

func depth(path string) int {
	return strings.Count(filepath.Clean(path), string(filepath.Separator))
}
