// Package download fetches remote image bytes under a per-attempt timeout and a size
// ceiling, retrying transient failures with bounded exponential backoff.
package download

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/skyinv/Seedream-MCP/internal/config"
	"github.com/skyinv/Seedream-MCP/internal/errors"
	"github.com/skyinv/Seedream-MCP/internal/logging"
	"github.com/skyinv/Seedream-MCP/internal/storage"
)

// DefaultUserAgent is sent with every request unless overridden.
const DefaultUserAgent = "seedream-autosave/1.0"

// sniffLen is how much of the body is inspected when the server omits Content-Type.
const sniffLen = 3072

// Options bounds a download.
type Options struct {
	// Timeout applies to each attempt separately. 0 means no timeout.
	Timeout time.Duration

	// MaxRetries is the total number of attempts. Values below 1 mean 1.
	MaxRetries int

	// MaxFileSize is the largest accepted body in bytes. 0 disables the check.
	MaxFileSize int64

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	UserAgent string
}

// OptionsFromConfig derives download options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Timeout:        cfg.DownloadTimeout(),
		MaxRetries:     cfg.MaxRetries,
		MaxFileSize:    cfg.MaxFileSize,
		InitialBackoff: cfg.InitialBackoff(),
		MaxBackoff:     cfg.MaxBackoff(),
	}
}

// Fetcher issues a single GET. The caller closes the response body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*http.Response, error)
}

// HTTPFetcher is the production Fetcher.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	ua := f.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "image/*,*/*;q=0.8")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	return client.Do(req)
}

// Writer places a streamed body on disk. *storage.FileManager implements it.
type Writer interface {
	WriteStream(path string, r io.Reader, limit int64) (*storage.WriteResult, error)
}

// Outcome describes a completed download.
type Outcome struct {
	Path        string        `json:"file_path"`
	Size        int64         `json:"file_size"`
	Hash        string        `json:"sha256"`
	SavedAt     time.Time     `json:"save_time"`
	Elapsed     time.Duration `json:"download_time"`
	ContentType string        `json:"content_type"`
	Attempts    int           `json:"attempts"`
}

// Manager downloads URLs into files.
type Manager struct {
	opts    Options
	fetcher Fetcher
	logger  *zap.Logger
}

// New creates a Manager. A nil fetcher means an HTTPFetcher on a fresh http.Client.
func New(opts Options, fetcher Fetcher, logger *zap.Logger) *Manager {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if fetcher == nil {
		fetcher = &HTTPFetcher{Client: &http.Client{}, UserAgent: opts.UserAgent}
	}
	return &Manager{
		opts:    opts,
		fetcher: fetcher,
		logger:  logging.OrNop(logger).Named("download"),
	}
}

// ValidateURL parses raw and requires an absolute http or https URL with a host.
func ValidateURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.NewInvalidInput("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.NewInvalidInput(fmt.Sprintf("invalid url: %v", err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.NewInvalidInput(fmt.Sprintf("unsupported url scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return nil, errors.NewInvalidInput("url has no host")
	}
	return u, nil
}

// ExtensionFromURL returns the image extension at the end of the URL path, or def.
func ExtensionFromURL(raw, def string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if storage.IsImageExtension(ext) {
		return ext
	}
	return def
}

// Download fetches rawURL and streams the body through w to dest. The final path may
// differ from dest when the name was already taken.
//
// Timeouts, connection errors and 5xx responses are retried up to MaxRetries attempts
// in total. 4xx responses and oversized bodies fail on the spot.
func (m *Manager) Download(ctx context.Context, rawURL, dest string, w Writer) (*Outcome, error) {
	if _, err := ValidateURL(rawURL); err != nil {
		return nil, err
	}

	start := time.Now()
	attempts := 0
	var contentType string

	operation := func() (*storage.WriteResult, error) {
		attempts++
		res, ct, err := m.attempt(ctx, rawURL, dest, w)
		if err != nil {
			return nil, err
		}
		contentType = ct
		return res, nil
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(m.newBackOff()),
		backoff.WithMaxTries(uint(m.opts.MaxRetries)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			m.logger.Warn("download attempt failed, retrying",
				zap.String("url", rawURL),
				zap.Int("attempt", attempts),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)
	if err != nil {
		return nil, m.finalError(rawURL, attempts, err)
	}

	outcome := &Outcome{
		Path:        res.Path,
		Size:        res.Size,
		Hash:        res.Hash,
		SavedAt:     res.SavedAt,
		Elapsed:     time.Since(start),
		ContentType: contentType,
		Attempts:    attempts,
	}
	m.logger.Info("download complete",
		zap.String("url", rawURL),
		zap.String("path", outcome.Path),
		zap.Int64("size", outcome.Size),
		zap.Int("attempts", attempts),
		zap.Duration("elapsed", outcome.Elapsed))
	return outcome, nil
}

// attempt performs one request. Errors that must not be retried come back wrapped
// with backoff.Permanent.
func (m *Manager) attempt(ctx context.Context, rawURL, dest string, w Writer) (*storage.WriteResult, string, error) {
	actx, cancel := ctx, context.CancelFunc(func() {})
	if m.opts.Timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, m.opts.Timeout)
	}
	defer cancel()

	resp, err := m.fetcher.Fetch(actx, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			// caller gave up; no point retrying
			return nil, "", backoff.Permanent(errors.NewNetworkFailure(rawURL, 0, ctx.Err()))
		}
		return nil, "", errors.NewTransientNetworkFailure(rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, "", errors.NewTransientNetworkFailure(rawURL, fmt.Errorf("HTTP %d", resp.StatusCode))
	case resp.StatusCode >= 300:
		return nil, "", backoff.Permanent(errors.NewNetworkFailure(rawURL, 0, fmt.Errorf("HTTP %d", resp.StatusCode)))
	}

	limit := m.opts.MaxFileSize
	if limit > 0 && resp.ContentLength > limit {
		return nil, "", backoff.Permanent(errors.NewSizeExceeded(limit, resp.ContentLength))
	}

	br := bufio.NewReaderSize(resp.Body, sniffLen)
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		head, _ := br.Peek(sniffLen)
		contentType = mimetype.Detect(head).String()
	}

	res, err := w.WriteStream(dest, &bodyReader{r: br, url: rawURL}, limit)
	if err != nil {
		var sErr *errors.SaveError
		if stderrors.As(err, &sErr) && sErr.Retryable() {
			return nil, "", err
		}
		return nil, "", backoff.Permanent(err)
	}
	return res, contentType, nil
}

// finalError shapes the error left after retrying stopped.
func (m *Manager) finalError(rawURL string, attempts int, err error) error {
	sErr := errors.As(err)
	switch sErr.Code {
	case errors.ErrNetworkFailure:
		cause := sErr.Cause
		if cause == nil {
			cause = sErr
		}
		m.logger.Error("download failed",
			zap.String("url", rawURL), zap.Int("attempts", attempts), zap.Error(cause))
		return errors.NewNetworkFailure(rawURL, attempts, cause)
	case errors.ErrUnknown:
		// context cancellation surfaced by the retry loop itself
		return errors.NewNetworkFailure(rawURL, attempts, err)
	default:
		return sErr
	}
}

func (m *Manager) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if m.opts.InitialBackoff > 0 {
		b.InitialInterval = m.opts.InitialBackoff
	}
	if m.opts.MaxBackoff > 0 {
		b.MaxInterval = m.opts.MaxBackoff
	}
	return b
}

// bodyReader marks mid-stream read failures as transient network errors.
type bodyReader struct {
	r   io.Reader
	url string
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && err != io.EOF {
		err = errors.NewTransientNetworkFailure(b.url, err)
	}
	return n, err
}
