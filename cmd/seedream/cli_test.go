package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/skyinv/Seedream-MCP/internal/autosave"
	"github.com/skyinv/Seedream-MCP/internal/config"
	"github.com/skyinv/Seedream-MCP/internal/errors"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\ncli-test")

// testConfig returns a config rooted in a temp dir with fast retries.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BaseDir = filepath.Join(t.TempDir(), "images")
	cfg.DownloadTimeoutSeconds = 5
	cfg.InitialBackoffMillis = 1
	cfg.MaxBackoffMillis = 5
	return cfg
}

// setupTestApp creates a manager and an image server for testing.
func setupTestApp(t *testing.T, cfg *config.Config) (*autosave.Manager, *httptest.Server) {
	t.Helper()
	mgr, err := autosave.New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("autosave.New: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/fox.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return mgr, srv
}

// runApp runs the CLI against mgr; see runAppWith.
func runApp(t *testing.T, mgr *autosave.Manager, cfg *config.Config, stdin string, args ...string) (string, error) {
	t.Helper()
	load := func() (*autosave.Manager, error) { return mgr, nil }
	return runAppWith(t, load, cfg, stdin, args...)
}

// runAppWith runs the CLI with args, feeding stdin (a terminal-like /dev/null when
// empty) and capturing stdout.
func runAppWith(t *testing.T, load managerLoader, cfg *config.Config, stdin string, args ...string) (string, error) {
	t.Helper()
	app := newCLIApp(load, cfg, zaptest.NewLogger(t))

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w

	oldStdin := os.Stdin
	if stdin == "" {
		devNull, err := os.Open(os.DevNull)
		if err != nil {
			t.Fatalf("open %s: %v", os.DevNull, err)
		}
		defer devNull.Close()
		os.Stdin = devNull
	} else {
		stdinR, stdinW, err := os.Pipe()
		if err != nil {
			t.Fatalf("pipe: %v", err)
		}
		go func() {
			_, _ = stdinW.WriteString(stdin)
			stdinW.Close()
		}()
		os.Stdin = stdinR
	}

	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		_, _ = buf.ReadFrom(r)
		close(done)
	}()

	runErr := app.Run(append([]string{"seedream"}, args...))

	os.Stdin = oldStdin
	w.Close()
	<-done
	os.Stdout = oldStdout

	return buf.String(), runErr
}

// TestCLISaveURL tests the save command with a URL argument.
func TestCLISaveURL(t *testing.T) {
	cfg := testConfig(t)
	mgr, srv := setupTestApp(t, cfg)

	out, err := runApp(t, mgr, cfg, "", "save", "--prompt=a red fox", "--tool=cli", srv.URL+"/fox.png")
	if err != nil {
		t.Fatalf("save command failed: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if result["success"] != true {
		t.Fatalf("expected success, got %v", result)
	}

	path, _ := result["local_path"].(string)
	if !strings.Contains(path, string(filepath.Separator)+"cli"+string(filepath.Separator)) {
		t.Errorf("expected tool subfolder in %q", path)
	}
	if !strings.HasSuffix(path, ".png") {
		t.Errorf("expected .png path, got %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if !bytes.Equal(data, pngBytes) {
		t.Error("saved bytes differ from served bytes")
	}
}

// TestCLISaveStdin tests the save command with base64 piped via stdin.
func TestCLISaveStdin(t *testing.T) {
	cfg := testConfig(t)
	mgr, _ := setupTestApp(t, cfg)

	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
	out, err := runApp(t, mgr, cfg, payload+"\n", "save", "--name=piped")
	if err != nil {
		t.Fatalf("save command failed: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	base := filepath.Base(result["local_path"].(string))
	if !strings.HasPrefix(base, "piped_") || !strings.HasSuffix(base, ".png") {
		t.Errorf("expected piped_*.png, got %q", base)
	}
}

// TestCLIBatch tests the batch command in both output formats.
func TestCLIBatch(t *testing.T) {
	cfg := testConfig(t)
	mgr, srv := setupTestApp(t, cfg)

	items := `[
		{"url": "` + srv.URL + `/fox.png", "prompt": "fox"},
		{"url": "` + srv.URL + `/missing.png", "prompt": "missing"},
		{"b64_json": "` + base64.StdEncoding.EncodeToString(pngBytes) + `", "prompt": "inline"}
	]`

	t.Run("json", func(t *testing.T) {
		out, err := runApp(t, mgr, cfg, items, "batch")
		if err != nil {
			t.Fatalf("batch command failed: %v", err)
		}

		var output struct {
			Total      int              `json:"total"`
			Successful int              `json:"successful"`
			Failed     int              `json:"failed"`
			Results    []map[string]any `json:"results"`
		}
		if err := json.Unmarshal([]byte(out), &output); err != nil {
			t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
		}
		if output.Total != 3 || output.Successful != 2 || output.Failed != 1 {
			t.Errorf("expected 3/2/1, got %d/%d/%d", output.Total, output.Successful, output.Failed)
		}
		if output.Results[1]["success"] != false {
			t.Errorf("expected second item to fail, got %v", output.Results[1])
		}
		if output.Results[1]["error_code"] != "NETWORK_FAILURE" {
			t.Errorf("expected NETWORK_FAILURE, got %v", output.Results[1]["error_code"])
		}
	})

	t.Run("markdown", func(t *testing.T) {
		out, err := runApp(t, mgr, cfg, `{"items": `+items+`}`, "batch", "--format=markdown", "--title=Run")
		if err != nil {
			t.Fatalf("batch command failed: %v", err)
		}
		if !strings.HasPrefix(out, "# Run\n") {
			t.Errorf("expected heading, got:\n%s", out)
		}
		if !strings.Contains(out, "- Failed to save: 1") {
			t.Errorf("expected failure count, got:\n%s", out)
		}
	})
}

// TestCLICleanup tests the cleanup command.
func TestCLICleanup(t *testing.T) {
	cfg := testConfig(t)
	mgr, _ := setupTestApp(t, cfg)

	stale := filepath.Join(mgr.BaseDir(), "old", "stale.png")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(stale, pngBytes, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	old := time.Now().Add(-10 * 24 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	out, err := runApp(t, mgr, cfg, "", "cleanup", "--older-than=7d")
	if err != nil {
		t.Fatalf("cleanup command failed: %v", err)
	}

	var output map[string]any
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if output["deleted_files"] != float64(1) {
		t.Errorf("expected deleted_files=1, got %v", output["deleted_files"])
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("expected stale file removed")
	}
}

// TestCLIInfo tests the info command.
func TestCLIInfo(t *testing.T) {
	cfg := testConfig(t)
	mgr, _ := setupTestApp(t, cfg)

	out, err := runApp(t, mgr, cfg, "", "info")
	if err != nil {
		t.Fatalf("info command failed: %v", err)
	}

	var info map[string]any
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if info["base_directory"] != mgr.BaseDir() {
		t.Errorf("expected base_directory=%s, got %v", mgr.BaseDir(), info["base_directory"])
	}
	if info["total_files"] != float64(0) {
		t.Errorf("expected total_files=0, got %v", info["total_files"])
	}
}

// TestCLITools tests the tools command.
func TestCLITools(t *testing.T) {
	cfg := testConfig(t)
	cfg.DisabledTools = []string{"image_cleanup", "bogus"}

	loads := 0
	load := func() (*autosave.Manager, error) {
		loads++
		return autosave.New(cfg, zaptest.NewLogger(t))
	}

	out, err := runAppWith(t, load, cfg, "", "tools")
	if err != nil {
		t.Fatalf("tools command failed: %v", err)
	}

	var output struct {
		Tools []struct {
			Name    string `json:"name"`
			Enabled bool   `json:"enabled"`
		} `json:"tools"`
		Unknown []string `json:"unknown"`
	}
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if len(output.Tools) != 4 {
		t.Fatalf("expected 4 tools, got %d", len(output.Tools))
	}
	for _, tool := range output.Tools {
		if want := tool.Name != "image_cleanup"; tool.Enabled != want {
			t.Errorf("%s: expected enabled=%v", tool.Name, want)
		}
	}
	if len(output.Unknown) != 1 || output.Unknown[0] != "bogus" {
		t.Errorf("expected unknown=[bogus], got %v", output.Unknown)
	}

	// tools never touches storage
	if loads != 0 {
		t.Errorf("expected no manager construction, got %d", loads)
	}
	if _, err := os.Stat(cfg.BaseDir); !os.IsNotExist(err) {
		t.Errorf("expected %s not to be created, stat err = %v", cfg.BaseDir, err)
	}
}

// TestCLILoadError tests that a manager construction failure is reported.
func TestCLILoadError(t *testing.T) {
	cfg := testConfig(t)
	load := func() (*autosave.Manager, error) {
		return nil, errors.NewIOFailure("mkdir", cfg.BaseDir, os.ErrPermission)
	}

	if _, err := runAppWith(t, load, cfg, "", "info"); err == nil {
		t.Error("expected error, got nil")
	}
}

// TestCLIErrorHandling tests error handling in CLI commands.
func TestCLIErrorHandling(t *testing.T) {
	cfg := testConfig(t)
	mgr, srv := setupTestApp(t, cfg)

	t.Run("save without source returns error", func(t *testing.T) {
		if _, err := runApp(t, mgr, cfg, "", "save"); err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("save of missing url returns error", func(t *testing.T) {
		out, err := runApp(t, mgr, cfg, "", "save", srv.URL+"/missing.png")
		if err == nil {
			t.Error("expected error, got nil")
		}
		if out != "" {
			t.Errorf("expected no output on failure, got %q", out)
		}
	})

	t.Run("batch without stdin returns error", func(t *testing.T) {
		if _, err := runApp(t, mgr, cfg, "", "batch"); err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("batch with invalid json returns error", func(t *testing.T) {
		if _, err := runApp(t, mgr, cfg, "[{", "batch"); err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("batch with unknown format returns error", func(t *testing.T) {
		items := `[{"b64_json": "` + base64.StdEncoding.EncodeToString(pngBytes) + `"}]`
		if _, err := runApp(t, mgr, cfg, items, "batch", "--format=xml"); err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("invalid duration format returns error", func(t *testing.T) {
		if _, err := runApp(t, mgr, cfg, "", "cleanup", "--older-than=invalid"); err == nil {
			t.Error("expected error, got nil")
		}
	})
}

// TestParseItems tests the parseItems helper function.
func TestParseItems(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    int
		expectError bool
	}{
		{name: "bare array", input: `[{"url": "https://x/a.png"}, {"b64_json": "AAAA"}]`, expected: 2},
		{name: "wrapped object", input: `{"items": [{"url": "https://x/a.png"}]}`, expected: 1},
		{name: "empty array", input: `[]`, expectError: true},
		{name: "object without items", input: `{}`, expectError: true},
		{name: "malformed", input: `{"items": [`, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := parseItems(tt.input)
			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(items) != tt.expected {
				t.Errorf("expected %d items, got %d", tt.expected, len(items))
			}
		})
	}
}

// TestParseDuration tests the parseDuration helper function.
func TestParseDuration(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    int
		expectError bool
	}{
		{name: "valid days", input: "7d", expected: 7},
		{name: "zero days", input: "0d", expected: 0},
		{name: "missing suffix", input: "7", expectError: true},
		{name: "negative", input: "-1d", expectError: true},
		{name: "not a number", input: "xd", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parseDuration(tt.input)
			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

// TestIsCLIMode tests the isCLIMode function.
func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{name: "no args", args: []string{"seedream"}, expected: false},
		{name: "save command", args: []string{"seedream", "save"}, expected: true},
		{name: "serve command", args: []string{"seedream", "serve"}, expected: true},
		{name: "help flag", args: []string{"seedream", "--help"}, expected: true},
		{name: "short version flag", args: []string{"seedream", "-v"}, expected: true},
		{name: "unknown arg defaults to MCP", args: []string{"seedream", "--unknown"}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			if result := isCLIMode(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

// TestIsHelpOrVersion tests the isHelpOrVersion function.
func TestIsHelpOrVersion(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{name: "no args", args: []string{"seedream"}, expected: false},
		{name: "help flag", args: []string{"seedream", "--help"}, expected: true},
		{name: "version flag", args: []string{"seedream", "--version"}, expected: true},
		{name: "help subcommand", args: []string{"seedream", "help"}, expected: true},
		{name: "save command is not help", args: []string{"seedream", "save"}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			if result := isHelpOrVersion(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

// TestReadStdinWithLimit tests the readStdin function respects size limits.
func TestReadStdinWithLimit(t *testing.T) {
	t.Run("within limit", func(t *testing.T) {
		content := "small content"
		r, w, err := os.Pipe()
		if err != nil {
			t.Fatalf("Failed to create pipe: %v", err)
		}
		go func() {
			_, _ = w.WriteString(content + "\n")
			w.Close()
		}()

		oldStdin := os.Stdin
		os.Stdin = r
		defer func() { os.Stdin = oldStdin }()

		result, err := readStdin(1000)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if result != content {
			t.Errorf("expected %q, got %q", content, result)
		}
	})

	t.Run("exceeds limit", func(t *testing.T) {
		r, w, err := os.Pipe()
		if err != nil {
			t.Fatalf("Failed to create pipe: %v", err)
		}
		go func() {
			_, _ = w.WriteString(strings.Repeat("x", 100))
			w.Close()
		}()

		oldStdin := os.Stdin
		os.Stdin = r
		defer func() { os.Stdin = oldStdin }()

		if _, err := readStdin(50); err == nil {
			t.Error("expected error for content exceeding limit, got nil")
		}
	})
}
