package web

import (
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/skyinv/Seedream-MCP/internal/autosave"
	"github.com/skyinv/Seedream-MCP/internal/errors"
	"github.com/skyinv/Seedream-MCP/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Handlers contains HTTP route handlers for the image browser.
type Handlers struct {
	mgr      *autosave.Manager
	logger   *zap.Logger
	renderer *Renderer
}

// HandleIndex handles GET /: storage overview and the most recent images.
func (h *Handlers) HandleIndex(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}

	info := h.mgr.StorageInfo()

	var entries []storage.FileEntry
	if info.Exists {
		var err error
		entries, err = h.mgr.Files().Recent(limit)
		if err != nil {
			h.renderer.renderError(w, r, err)
			return
		}
	}

	if wantsJSON(r) {
		if entries == nil {
			entries = []storage.FileEntry{}
		}
		renderJSON(w, http.StatusOK, map[string]any{
			"storage": info,
			"files":   entries,
		})
		return
	}

	files := make([]FileView, len(entries))
	for i, e := range entries {
		files[i] = FileView{
			RelPath: e.RelPath,
			URL:     fileURL(e.RelPath),
			Size:    e.Size,
			ModTime: e.ModTime,
		}
	}

	h.renderer.renderPage(w, r, "index", IndexPageData{
		PageData: PageData{
			Title:   "Saved images",
			Version: h.renderer.version,
		},
		Info:          info,
		OverviewHTML:  renderMarkdown(overviewMarkdown(info)),
		Files:         files,
		RetentionDays: autosave.DefaultRetentionDays,
	})
}

// HandleInfo handles GET /info: storage statistics as JSON.
func (h *Handlers) HandleInfo(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, h.mgr.StorageInfo())
}

// HandleCleanup handles POST /cleanup: delete images older than retention_days.
func (h *Handlers) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidInput("invalid form data"))
		return
	}

	if r.FormValue("confirm") != "true" {
		h.renderer.renderError(w, r, errors.NewInvalidInput("confirm parameter must be \"true\""))
		return
	}

	days := autosave.DefaultRetentionDays
	if s := r.FormValue("retention_days"); s != "" {
		d, err := strconv.Atoi(s)
		if err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidInput("retention_days must be an integer"))
			return
		}
		days = d
	}

	result, err := h.mgr.Cleanup(days)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	message := fmt.Sprintf("Deleted %d files (%s)", result.DeletedCount, formatBytes(result.DeletedBytes))

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<div class="cleanup-result">` + template.HTMLEscapeString(message) + `</div>`))
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{
			"deleted_files": result.DeletedCount,
			"deleted_size":  result.DeletedBytes,
			"deleted_dirs":  result.DeletedDirs,
			"errors":        result.Errors,
			"message":       message,
		})
		return
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

// overviewMarkdown summarizes storage statistics as a markdown list.
func overviewMarkdown(info autosave.StorageInfo) string {
	var b strings.Builder
	b.WriteString("## Storage\n\n")
	fmt.Fprintf(&b, "- **Directory:** `%s`\n", info.BaseDir)
	if !info.Exists {
		b.WriteString("- No images saved yet\n")
	} else {
		fmt.Fprintf(&b, "- **Files:** %d\n", info.FileCount)
		fmt.Fprintf(&b, "- **Size:** %s\n", formatBytes(info.TotalBytes))
	}
	if info.DiskTotalBytes > 0 {
		fmt.Fprintf(&b, "- **Disk free:** %s of %s\n",
			formatBytes(int64(info.DiskFreeBytes)), formatBytes(int64(info.DiskTotalBytes)))
	}
	if info.Error != "" {
		fmt.Fprintf(&b, "- **Error:** %s\n", info.Error)
	}
	return b.String()
}

// fileURL maps a slash-separated path relative to the base directory to its /files/ URL.
func fileURL(rel string) string {
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return "/files/" + strings.Join(parts, "/")
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
