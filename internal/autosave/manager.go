// Package autosave persists generated images: it downloads or decodes them, writes
// them under the sandboxed storage tree and reports one Result per image.
//
// No error escapes a save. Every failure, including a panic, becomes a failed Result
// for that item only.
package autosave

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/skyinv/Seedream-MCP/internal/config"
	"github.com/skyinv/Seedream-MCP/internal/download"
	"github.com/skyinv/Seedream-MCP/internal/errors"
	"github.com/skyinv/Seedream-MCP/internal/logging"
	"github.com/skyinv/Seedream-MCP/internal/storage"
)

// DefaultAltText is used when neither alt text nor a prompt is available.
const DefaultAltText = "Generated Image"

// DefaultRetentionDays applies when a cleanup names no retention period.
const DefaultRetentionDays = 30

// Manager orchestrates saves.
type Manager struct {
	files         *storage.FileManager
	downloads     *download.Manager
	logger        *zap.Logger
	metrics       *Metrics
	gatherer      prometheus.Gatherer
	maxConcurrent int
	newBatchID    func() string
}

type options struct {
	fetcher    download.Fetcher
	registry   *prometheus.Registry
	now        func() time.Time
	defaultDir string
}

// Option customizes New.
type Option func(*options)

// WithFetcher replaces the HTTP fetcher used for downloads.
func WithFetcher(f download.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithRegistry registers metrics with reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithClock sets the clock used for timestamps and date folders.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithDefaultDir replaces ./images as the fallback base directory.
func WithDefaultDir(dir string) Option {
	return func(o *options) { o.defaultDir = dir }
}

// New creates a Manager from cfg. A nil cfg means config.DefaultConfig().
// The only error is a base directory that cannot be created.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger = logging.OrNop(logger)

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	fileOpts := storage.OptionsFromConfig(cfg)
	fileOpts.Now = o.now
	fileOpts.DefaultDir = o.defaultDir

	files, err := storage.New(cfg.BaseDir, fileOpts, logger)
	if err != nil {
		return nil, err
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = config.DefaultConfig().MaxConcurrent
	}

	m := &Manager{
		files:         files,
		downloads:     download.New(download.OptionsFromConfig(cfg), o.fetcher, logger),
		logger:        logger.Named("autosave"),
		metrics:       NewMetrics(o.registry),
		gatherer:      o.registry,
		maxConcurrent: maxConcurrent,
		newBatchID:    newULID,
	}

	m.logger.Info("auto-save ready",
		zap.String("base_dir", files.BaseDir()),
		zap.Int("max_concurrent", maxConcurrent),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Int64("max_file_size", cfg.MaxFileSize))

	return m, nil
}

// Files returns the underlying FileManager.
func (m *Manager) Files() *storage.FileManager {
	return m.files
}

// BaseDir returns the canonical storage root.
func (m *Manager) BaseDir() string {
	return m.files.BaseDir()
}

// Gatherer exposes the metrics registry.
func (m *Manager) Gatherer() prometheus.Gatherer {
	return m.gatherer
}

// Save dispatches item to SaveFromURL or SaveFromPayload by its source.
func (m *Manager) Save(ctx context.Context, item Item, toolName string) Result {
	switch item.Kind() {
	case KindURL:
		return m.SaveFromURL(ctx, item, toolName)
	case KindBase64:
		return m.SaveFromPayload(ctx, item, toolName)
	default:
		return failure(item.Ref(), errors.NewInvalidInput("item needs a url or b64_json"))
	}
}

// SaveFromURL downloads item.URL into the storage tree.
func (m *Manager) SaveFromURL(ctx context.Context, item Item, toolName string) (result Result) {
	rawURL := strings.TrimSpace(item.URL)
	start := time.Now()
	defer m.guard(KindURL, item.URL, start, &result)

	if _, err := download.ValidateURL(rawURL); err != nil {
		return failure(item.URL, err)
	}

	ext := download.ExtensionFromURL(rawURL, storage.DefaultExtension)
	dest, err := m.files.SavePath(item.Prompt, ext, toolName, item.CustomName, "")
	if err != nil {
		return failure(item.URL, err)
	}

	out, err := m.downloads.Download(ctx, rawURL, dest, m.files)
	if err != nil {
		return failure(item.URL, err)
	}

	return success(item.URL, out.Path, m.files.MarkdownRef(out.Path, altText(item)), &Metadata{
		Prompt:      item.Prompt,
		ToolName:    toolName,
		SavedAt:     out.SavedAt,
		FileSize:    out.Size,
		Elapsed:     out.Elapsed,
		ContentType: out.ContentType,
		Attempts:    out.Attempts,
		SHA256:      out.Hash,
	})
}

// SaveFromPayload decodes item.B64 and writes it into the storage tree.
func (m *Manager) SaveFromPayload(_ context.Context, item Item, toolName string) (result Result) {
	start := time.Now()
	defer m.guard(KindBase64, string(KindBase64), start, &result)

	payload, err := DecodePayload(item.B64)
	if err != nil {
		return failure(string(KindBase64), err)
	}

	ext := storage.SniffExtension(payload.Data, storage.DefaultExtension)
	contentType := payload.MIME
	if contentType != "" {
		ext = storage.ExtensionFromMIME(contentType)
	} else {
		contentType = mimetype.Detect(payload.Data).String()
	}

	hash := storage.ContentHash(payload.Data)
	dest, err := m.files.SavePath(item.Prompt, ext, toolName, item.CustomName, hash)
	if err != nil {
		return failure(string(KindBase64), err)
	}

	res, err := m.files.WriteBytes(dest, payload.Data, false)
	if err != nil {
		return failure(string(KindBase64), err)
	}

	m.logger.Debug("payload saved", zap.String("path", res.Path), zap.Int64("size", res.Size))

	ref := fmt.Sprintf("%s:%d", KindBase64, len(payload.Data))
	return success(ref, res.Path, m.files.MarkdownRef(res.Path, altText(item)), &Metadata{
		Prompt:      item.Prompt,
		ToolName:    toolName,
		SavedAt:     res.SavedAt,
		FileSize:    res.Size,
		ContentType: contentType,
		Attempts:    1,
		SHA256:      res.Hash,
	})
}

// guard turns a panic into a failed result and records metrics for the save.
func (m *Manager) guard(kind SourceKind, ref string, start time.Time, result *Result) {
	if r := recover(); r != nil {
		m.logger.Error("save panicked", zap.String("ref", ref), zap.Any("panic", r))
		*result = failure(ref, errors.NewUnknown(fmt.Errorf("panic: %v", r)))
	}
	if !result.Success {
		m.logger.Warn("save failed",
			zap.String("source", string(kind)),
			zap.String("ref", ref),
			zap.String("code", string(result.ErrorCode)),
			zap.String("error", result.Error))
	}
	m.metrics.observeSave(kind, *result, time.Since(start))
}

// Cleanup deletes files older than retentionDays.
func (m *Manager) Cleanup(retentionDays int) (*storage.CleanupResult, error) {
	res, err := m.files.Cleanup(retentionDays)
	if err != nil {
		return nil, err
	}
	m.metrics.observeCleanup(res)
	m.logger.Info("cleanup complete",
		zap.Int("retention_days", retentionDays),
		zap.Int("deleted_files", res.DeletedCount),
		zap.Int64("deleted_bytes", res.DeletedBytes),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}

func altText(item Item) string {
	switch {
	case item.AltText != "":
		return item.AltText
	case item.Prompt != "":
		return item.Prompt
	default:
		return DefaultAltText
	}
}
