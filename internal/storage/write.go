package storage

import (
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skyinv/Seedream-MCP/internal/errors"
)

// maxNumberedCandidates bounds the numeric fallback once every hash suffix is taken
// (identical bytes written repeatedly within one second).
const maxNumberedCandidates = 1000

// partialPrefix marks in-flight temporary files; storage scans skip them.
const partialPrefix = ".partial-"

// WriteResult describes a completed write.
type WriteResult struct {
	Path    string    `json:"file_path"`
	Size    int64     `json:"file_size"`
	Hash    string    `json:"sha256"`
	SavedAt time.Time `json:"save_time"`
}

// WriteBytes writes data to path. When the target exists and overwrite is false, a
// content-hash suffix is inserted before the extension (and extended on further
// collisions) instead of replacing the existing file.
func (m *FileManager) WriteBytes(path string, data []byte, overwrite bool) (*WriteResult, error) {
	if err := m.Validate(path); err != nil {
		return nil, err
	}
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}

	hash := ContentHash(data)

	if overwrite {
		if err := writeFile(path, data, os.O_WRONLY|os.O_CREATE|os.O_TRUNC); err != nil {
			return nil, err
		}
		return m.written(path, int64(len(data)), hash), nil
	}

	for candidate := range collisionCandidates(path, hash) {
		if candidate != path {
			if err := m.Validate(candidate); err != nil {
				return nil, err
			}
		}
		err := writeFile(candidate, data, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
		if err == nil {
			return m.written(candidate, int64(len(data)), hash), nil
		}
		if !stderrors.Is(err, fs.ErrExist) {
			return nil, err
		}
		m.logger.Debug("name collision, trying suffix", zap.String("path", candidate))
	}

	return nil, errors.NewIOFailure("write", path, fmt.Errorf("no free name after %d attempts", maxNumberedCandidates))
}

// WriteStream copies r into path through a temporary file in the target directory,
// hashing on the way. At most limit bytes are accepted (limit <= 0 means unlimited);
// a larger stream fails with SIZE_EXCEEDED and nothing is left on disk.
// The completed file is linked into place with the same collision rules as WriteBytes.
func (m *FileManager) WriteStream(path string, r io.Reader, limit int64) (*WriteResult, error) {
	if err := m.Validate(path); err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := ensureDir(dir); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(dir, partialPrefix+"*")
	if err != nil {
		return nil, errors.NewIOFailure("create", dir, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	h := sha256.New()
	src := r
	if limit > 0 {
		// one extra byte distinguishes "exactly limit" from "more than limit"
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(io.MultiWriter(tmp, h), src)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		// source errors (e.g. a dropped connection) arrive already classified
		var sErr *errors.SaveError
		if stderrors.As(err, &sErr) {
			return nil, err
		}
		return nil, errors.NewIOFailure("write", tmpPath, err)
	}
	if limit > 0 && n > limit {
		return nil, errors.NewSizeExceeded(limit, -1)
	}

	hash := hex.EncodeToString(h.Sum(nil))

	for candidate := range collisionCandidates(path, hash) {
		if candidate != path {
			if err := m.Validate(candidate); err != nil {
				return nil, err
			}
		}
		err := placeFile(tmpPath, candidate)
		if err == nil {
			committed = true
			return m.written(candidate, n, hash), nil
		}
		if !stderrors.Is(err, fs.ErrExist) {
			return nil, errors.NewIOFailure("rename", candidate, err)
		}
		m.logger.Debug("name collision, trying suffix", zap.String("path", candidate))
	}

	return nil, errors.NewIOFailure("write", path, fmt.Errorf("no free name after %d attempts", maxNumberedCandidates))
}

func (m *FileManager) written(path string, size int64, hash string) *WriteResult {
	m.logger.Debug("file written", zap.String("path", path), zap.Int64("size", size))
	return &WriteResult{
		Path:    path,
		Size:    size,
		Hash:    hash,
		SavedAt: m.opts.Now(),
	}
}

// collisionCandidates yields path, then path with growing hash suffixes
// (8, 12, 16 ... 64 hex chars), then numbered variants of the 8-char suffix.
func collisionCandidates(path, hash string) func(yield func(string) bool) {
	return func(yield func(string) bool) {
		if !yield(path) {
			return
		}
		ext := filepath.Ext(path)
		stem := strings.TrimSuffix(path, ext)
		for n := HashPrefixLen; n <= len(hash); n += 4 {
			if !yield(fmt.Sprintf("%s_%s%s", stem, hash[:n], ext)) {
				return
			}
		}
		short := shortHash(hash, HashPrefixLen)
		for i := 2; i < maxNumberedCandidates; i++ {
			if !yield(fmt.Sprintf("%s_%s_%d%s", stem, short, i, ext)) {
				return
			}
		}
	}
}

// writeFile opens path with flag (never following a final symlink) and writes data.
// A partially written file is removed.
func writeFile(path string, data []byte, flag int) error {
	f, err := openFileNoFollow(path, flag, 0o644)
	if err != nil {
		var sErr *errors.SaveError
		if stderrors.Is(err, fs.ErrExist) || stderrors.As(err, &sErr) {
			return err
		}
		return errors.NewIOFailure("open", path, err)
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(path)
		return errors.NewIOFailure("write", path, werr)
	}
	return nil
}

// placeFile moves src to dst without replacing an existing dst.
// A hard link gives an atomic no-clobber placement; filesystems without link support
// fall back to an existence check plus rename.
func placeFile(src, dst string) error {
	err := os.Link(src, dst)
	if err == nil {
		_ = os.Remove(src)
		return nil
	}
	if stderrors.Is(err, fs.ErrExist) {
		return err
	}
	if _, statErr := os.Lstat(dst); statErr == nil {
		return fs.ErrExist
	}
	return os.Rename(src, dst)
}
