// Package storage maps naming intent and image bytes onto a sandboxed directory tree.
//
// Layout:
//
//	{base}/{YYYY-MM-DD}/{tool}/{name}_{YYYYMMDD_HHMMSS}[_{hash8}]{ext}
//
// Every path handed out or written by FileManager is checked to be a descendant of the
// canonical base directory. Name collisions are resolved by hash suffixes, never by
// overwriting.
package storage

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/skyinv/Seedream-MCP/internal/config"
	"github.com/skyinv/Seedream-MCP/internal/errors"
	"github.com/skyinv/Seedream-MCP/internal/logging"
)

// DefaultDirName is the base directory used when no (safe) override is configured.
const DefaultDirName = "images"

// Options controls path layout. The zero value disables both optional segments;
// use OptionsFromConfig for the configured defaults.
type Options struct {
	DateFolder       bool
	ToolFolder       bool
	PromptNameMaxLen int

	// DefaultDir replaces ./images as the fallback base directory.
	DefaultDir string

	// Now is the clock used for timestamps and date folders. nil means time.Now.
	Now func() time.Time
}

// OptionsFromConfig derives layout options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DateFolder:       cfg.UseDateFolder(),
		ToolFolder:       cfg.UseToolFolder(),
		PromptNameMaxLen: cfg.PromptNameMaxLen,
	}
}

// FileManager owns the sandbox root and all filesystem writes beneath it.
type FileManager struct {
	baseDir string
	opts    Options
	logger  *zap.Logger

	// remove deletes one file during Cleanup.
	remove func(string) error
}

// New creates a FileManager rooted at baseDir (empty means the default ./images).
// An unsafe override is logged and replaced by the default. The only error is a
// failure to create the chosen base directory.
func New(baseDir string, opts Options, logger *zap.Logger) (*FileManager, error) {
	logger = logging.OrNop(logger).Named("storage")
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PromptNameMaxLen <= 0 {
		opts.PromptNameMaxLen = DefaultPromptNameMaxLen
	}

	defaultDir, err := defaultBaseDir(opts.DefaultDir)
	if err != nil {
		return nil, err
	}

	chosen := defaultDir
	if baseDir != "" {
		abs, err := filepath.Abs(baseDir)
		switch {
		case err != nil:
			logger.Warn("cannot resolve base directory, using default",
				zap.String("base_dir", baseDir), zap.Error(err))
		case IsUnsafeBaseDir(baseDir, abs):
			logger.Warn("unsafe base directory, using default",
				zap.String("base_dir", baseDir), zap.String("default", defaultDir))
		default:
			chosen = abs
		}
	}

	if err := ensureDir(chosen); err != nil {
		return nil, err
	}

	resolved, err := filepath.EvalSymlinks(chosen)
	if err != nil {
		return nil, errors.NewIOFailure("resolve", chosen, err)
	}

	logger.Debug("base directory ready", zap.String("base_dir", resolved))

	return &FileManager{
		baseDir: resolved,
		opts:    opts,
		logger:  logger,
		remove:  os.Remove,
	}, nil
}

// BaseDir returns the canonical sandbox root.
func (m *FileManager) BaseDir() string {
	return m.baseDir
}

// Now returns the current time from the configured clock.
func (m *FileManager) Now() time.Time {
	return m.opts.Now()
}

// OrganizedPath returns base/[date]/[sanitized subfolder]/filename, creating the
// intermediate directories. Date and subfolder segments follow the layout options.
func (m *FileManager) OrganizedPath(filename, subfolder string) (string, error) {
	dir := m.baseDir

	if m.opts.DateFolder {
		dir = filepath.Join(dir, m.opts.Now().Format("2006-01-02"))
	}
	if m.opts.ToolFolder && subfolder != "" {
		dir = filepath.Join(dir, Sanitize(subfolder))
	}

	if err := ensureDir(dir); err != nil {
		return "", err
	}

	return filepath.Join(dir, filename), nil
}

// SavePath builds and validates the full target path for one image.
// The base name is customName when set, else derived from prompt.
func (m *FileManager) SavePath(prompt, ext, toolName, customName, contentHash string) (string, error) {
	base := customName
	if base == "" {
		base = NameFromPrompt(prompt, m.opts.PromptNameMaxLen)
	}

	filename := UniqueFilename(base, ext, contentHash, m.opts.Now())

	path, err := m.OrganizedPath(filename, toolName)
	if err != nil {
		return "", err
	}
	if err := m.Validate(path); err != nil {
		return "", err
	}
	return path, nil
}

// defaultBaseDir returns the absolute fallback directory.
func defaultBaseDir(override string) (string, error) {
	if override != "" {
		abs, err := filepath.Abs(override)
		if err != nil {
			return "", errors.NewIOFailure("resolve", override, err)
		}
		return abs, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", errors.NewIOFailure("getwd", ".", err)
	}
	return filepath.Join(cwd, DefaultDirName), nil
}

// ensureDir creates dir and its parents if needed.
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewIOFailure("mkdir", dir, err)
	}
	return nil
}
