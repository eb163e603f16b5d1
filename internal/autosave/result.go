package autosave

import (
	"encoding/json"
	"time"

	"github.com/skyinv/Seedream-MCP/internal/errors"
)

// SourceKind names where an item's bytes come from.
type SourceKind string

const (
	KindURL    SourceKind = "url"
	KindBase64 SourceKind = "base64"
)

// Item is one save request. Exactly one of URL and B64 should be set; when both are,
// the URL wins.
type Item struct {
	URL        string `json:"url,omitempty"`
	B64        string `json:"b64_json,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	CustomName string `json:"custom_name,omitempty"`
	AltText    string `json:"alt_text,omitempty"`
}

// Kind reports the item's source, or "" when it has none.
func (it Item) Kind() SourceKind {
	switch {
	case it.URL != "":
		return KindURL
	case it.B64 != "":
		return KindBase64
	default:
		return ""
	}
}

// Ref is the reference recorded on a failed result.
func (it Item) Ref() string {
	if it.URL != "" {
		return it.URL
	}
	return string(KindBase64)
}

// Metadata describes a saved image.
type Metadata struct {
	Prompt      string
	ToolName    string
	SavedAt     time.Time
	FileSize    int64
	Elapsed     time.Duration
	ContentType string
	Attempts    int
	SHA256      string
	BatchID     string

	// Extra carries additional fields; it never overrides the ones above.
	Extra map[string]any
}

// Result is the outcome of one save. Success results carry LocalPath, MarkdownRef and
// Metadata; failures carry Error and ErrorCode.
type Result struct {
	Success     bool
	OriginalRef string
	LocalPath   string
	MarkdownRef string
	Error       string
	ErrorCode   errors.ErrorCode
	Metadata    *Metadata
}

func success(ref, path, markdown string, md *Metadata) Result {
	return Result{
		Success:     true,
		OriginalRef: ref,
		LocalPath:   path,
		MarkdownRef: markdown,
		Metadata:    md,
	}
}

func failure(ref string, err error) Result {
	sErr := errors.As(err)
	return Result{
		OriginalRef: ref,
		Error:       sErr.Message,
		ErrorCode:   sErr.Code,
	}
}

// ToMap renders r in its wire shape. Empty fields are omitted.
func (r Result) ToMap() map[string]any {
	out := map[string]any{
		"success":      r.Success,
		"original_url": r.OriginalRef,
	}
	if r.LocalPath != "" {
		out["local_path"] = r.LocalPath
	}
	if r.MarkdownRef != "" {
		out["markdown_ref"] = r.MarkdownRef
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	if r.ErrorCode != "" {
		out["error_code"] = string(r.ErrorCode)
	}
	if r.Metadata != nil {
		out["metadata"] = r.Metadata.toMap()
	}
	return out
}

// MarshalJSON encodes the ToMap shape.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToMap())
}

func (md *Metadata) toMap() map[string]any {
	out := make(map[string]any, len(md.Extra)+8)
	for k, v := range md.Extra {
		out[k] = v
	}
	out["prompt"] = md.Prompt
	out["tool_name"] = md.ToolName
	if !md.SavedAt.IsZero() {
		out["save_time"] = md.SavedAt.Format(time.RFC3339)
	}
	if md.FileSize > 0 {
		out["file_size"] = md.FileSize
	}
	if md.Elapsed > 0 {
		out["download_time"] = md.Elapsed.Seconds()
	}
	if md.ContentType != "" {
		out["content_type"] = md.ContentType
	}
	if md.Attempts > 0 {
		out["attempts"] = md.Attempts
	}
	if md.SHA256 != "" {
		out["sha256"] = md.SHA256
	}
	if md.BatchID != "" {
		out["batch_id"] = md.BatchID
	}
	return out
}

// Tally counts successes and failures.
func Tally(results []Result) (succeeded, failed int) {
	for _, r := range results {
		if r.Success {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}
