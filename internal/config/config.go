package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	// BaseDir is the sandbox root for saved images. Empty means ./images.
	// Unsafe values (traversal, UNC prefixes, overly long paths) fall back to the default.
	BaseDir string `json:"base_dir,omitempty"`

	// DownloadTimeoutSeconds bounds each download attempt.
	DownloadTimeoutSeconds int `json:"download_timeout_seconds"`

	// MaxRetries is the total number of download attempts before giving up.
	MaxRetries int `json:"max_retries"`

	// MaxFileSize is the largest body, in bytes, a download may produce.
	MaxFileSize int64 `json:"max_file_size"`

	// MaxConcurrent caps simultaneous in-flight saves within a batch.
	MaxConcurrent int `json:"max_concurrent"`

	// InitialBackoffMillis and MaxBackoffMillis shape the exponential retry backoff.
	InitialBackoffMillis int `json:"initial_backoff_ms"`
	MaxBackoffMillis     int `json:"max_backoff_ms"`

	// PromptNameMaxLen limits file base names derived from prompts.
	PromptNameMaxLen int `json:"prompt_name_max_len"`

	// DateFolder and ToolFolder toggle the {YYYY-MM-DD}/{tool} path segments.
	// Pointers so an explicit false in a config file survives Merge.
	DateFolder *bool `json:"date_folder,omitempty"`
	ToolFolder *bool `json:"tool_folder,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// LogFormat is json or console.
	LogFormat string `json:"log_format,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DownloadTimeoutSeconds: 30,
		MaxRetries:             3,
		MaxFileSize:            50 * 1024 * 1024,
		MaxConcurrent:          5,
		InitialBackoffMillis:   500,
		MaxBackoffMillis:       10000,
		PromptNameMaxLen:       50,
		DateFolder:             boolPtr(true),
		ToolFolder:             boolPtr(true),
		LogLevel:               "info",
		LogFormat:              "json",
	}
}

// DownloadTimeout returns the per-attempt download timeout.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSeconds) * time.Second
}

// InitialBackoff returns the delay before the first retry.
func (c *Config) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMillis) * time.Millisecond
}

// MaxBackoff returns the retry delay ceiling.
func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMillis) * time.Millisecond
}

// UseDateFolder reports whether saves go under a YYYY-MM-DD segment.
func (c *Config) UseDateFolder() bool {
	return c.DateFolder == nil || *c.DateFolder
}

// UseToolFolder reports whether saves go under a per-tool segment.
func (c *Config) UseToolFolder() bool {
	return c.ToolFolder == nil || *c.ToolFolder
}

// Load loads configuration from stateDir/config.json, then applies environment overrides.
// Returns default config if the file doesn't exist.
// The stateDir parameter allows tests to use t.TempDir() instead of ~/.seedream.
func Load(stateDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(stateDir, "config.json"))
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithRepo loads configuration from both the global state dir and the nearest
// .seedream/config.json found walking upward from startDir.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Environment overrides are applied last.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	cfg := Merge(Merge(DefaultConfig(), global), repo)
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindRepoConfig walks upward from startDir to find the nearest .seedream/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".seedream", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.BaseDir = firstString(overlay.BaseDir, base.BaseDir)
	result.DownloadTimeoutSeconds = firstInt(overlay.DownloadTimeoutSeconds, base.DownloadTimeoutSeconds)
	result.MaxRetries = firstInt(overlay.MaxRetries, base.MaxRetries)
	result.MaxConcurrent = firstInt(overlay.MaxConcurrent, base.MaxConcurrent)
	result.InitialBackoffMillis = firstInt(overlay.InitialBackoffMillis, base.InitialBackoffMillis)
	result.MaxBackoffMillis = firstInt(overlay.MaxBackoffMillis, base.MaxBackoffMillis)
	result.PromptNameMaxLen = firstInt(overlay.PromptNameMaxLen, base.PromptNameMaxLen)
	result.LogLevel = firstString(overlay.LogLevel, base.LogLevel)
	result.LogFormat = firstString(overlay.LogFormat, base.LogFormat)

	result.MaxFileSize = overlay.MaxFileSize
	if result.MaxFileSize == 0 {
		result.MaxFileSize = base.MaxFileSize
	}

	// Optional booleans: overlay wins if set
	result.DateFolder = base.DateFolder
	if overlay.DateFolder != nil {
		result.DateFolder = overlay.DateFolder
	}
	result.ToolFolder = base.ToolFolder
	if overlay.ToolFolder != nil {
		result.ToolFolder = overlay.ToolFolder
	}

	// Arrays: merge and deduplicate
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

// Environment variables recognized by ApplyEnv.
const (
	EnvBaseDir         = "SEEDREAM_AUTO_SAVE_BASE_DIR"
	EnvDownloadTimeout = "SEEDREAM_AUTO_SAVE_DOWNLOAD_TIMEOUT"
	EnvMaxRetries      = "SEEDREAM_AUTO_SAVE_MAX_RETRIES"
	EnvMaxFileSize     = "SEEDREAM_AUTO_SAVE_MAX_FILE_SIZE"
	EnvMaxConcurrent   = "SEEDREAM_AUTO_SAVE_MAX_CONCURRENT"
	EnvDateFolder      = "SEEDREAM_AUTO_SAVE_DATE_FOLDER"
	EnvToolFolder      = "SEEDREAM_AUTO_SAVE_TOOL_FOLDER"
	EnvLogLevel        = "SEEDREAM_LOG_LEVEL"
)

// ApplyEnv overlays environment variables onto cfg. lookup is usually os.LookupEnv.
// Empty values are ignored; malformed numbers and booleans are an error.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvBaseDir); ok {
		cfg.BaseDir = v
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.LogLevel = strings.ToLower(v)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{EnvDownloadTimeout, &cfg.DownloadTimeoutSeconds},
		{EnvMaxRetries, &cfg.MaxRetries},
		{EnvMaxConcurrent, &cfg.MaxConcurrent},
	}
	for _, e := range ints {
		if v, ok := get(e.key); ok {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("%s: want a positive integer, got %q", e.key, v)
			}
			*e.dst = n
		}
	}

	if v, ok := get(EnvMaxFileSize); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s: want a positive integer, got %q", EnvMaxFileSize, v)
		}
		cfg.MaxFileSize = n
	}

	bools := []struct {
		key string
		dst **bool
	}{
		{EnvDateFolder, &cfg.DateFolder},
		{EnvToolFolder, &cfg.ToolFolder},
	}
	for _, e := range bools {
		if v, ok := get(e.key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: want a boolean, got %q", e.key, v)
			}
			*e.dst = boolPtr(b)
		}
	}

	return nil
}

func firstString(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstInt(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

func boolPtr(b bool) *bool { return &b }

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
