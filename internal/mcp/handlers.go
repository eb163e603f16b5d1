package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/skyinv/Seedream-MCP/internal/autosave"
	"github.com/skyinv/Seedream-MCP/internal/errors"
)

// Response formats for image_save_batch.
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// DefaultToolName is the subfolder used when a request names no tool.
const DefaultToolName = "seedream"

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	mgr    *autosave.Manager
	logger *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(mgr *autosave.Manager, logger *zap.Logger) *Handlers {
	return &Handlers{mgr: mgr, logger: logger}
}

// Request types for each tool

// SaveRequest represents the arguments for image_save.
type SaveRequest struct {
	URL        string `json:"url,omitempty"`
	B64JSON    string `json:"b64_json,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	CustomName string `json:"custom_name,omitempty"`
	AltText    string `json:"alt_text,omitempty"`
}

// SaveBatchRequest represents the arguments for image_save_batch.
type SaveBatchRequest struct {
	Items               []autosave.Item `json:"items"`
	ToolName            string          `json:"tool_name,omitempty"`
	Title               string          `json:"title,omitempty"`
	Format              string          `json:"format,omitempty"`
	Response            map[string]any  `json:"response,omitempty"`
	IncludeOriginalURLs *bool           `json:"include_original_urls,omitempty"` // default: true
}

// CleanupRequest represents the arguments for image_cleanup.
type CleanupRequest struct {
	RetentionDays *int `json:"retention_days,omitempty"`
}

// SaveBatchOutput is the JSON result of image_save_batch without a response to annotate.
type SaveBatchOutput struct {
	Total      int               `json:"total"`
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
	Results    []autosave.Result `json:"results"`
}

// Handler implementations

// HandleSave handles the image_save tool call.
func (h *Handlers) HandleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SaveRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidInput(err.Error())), nil
	}
	if input.URL == "" && input.B64JSON == "" {
		return errorResult(errors.NewInvalidInput("url or b64_json is required")), nil
	}

	result := h.mgr.Save(ctx, autosave.Item{
		URL:        input.URL,
		B64:        input.B64JSON,
		Prompt:     input.Prompt,
		CustomName: input.CustomName,
		AltText:    input.AltText,
	}, toolNameOrDefault(input.ToolName))

	out, err := successResult(result)
	if err != nil {
		return nil, err
	}
	out.IsError = !result.Success
	return out, nil
}

// HandleSaveBatch handles the image_save_batch tool call.
func (h *Handlers) HandleSaveBatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SaveBatchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidInput(err.Error())), nil
	}
	if len(input.Items) == 0 {
		return errorResult(errors.NewInvalidInput("items must not be empty")), nil
	}
	switch input.Format {
	case "", FormatJSON, FormatMarkdown:
	default:
		return errorResult(errors.NewInvalidInput(fmt.Sprintf("format must be %q or %q", FormatJSON, FormatMarkdown))), nil
	}

	results := h.mgr.SaveBatch(ctx, input.Items, toolNameOrDefault(input.ToolName))

	if input.Format == FormatMarkdown {
		return mcp.NewToolResultText(autosave.RenderMarkdownSummary(results, input.Title)), nil
	}

	if input.Response != nil {
		includeURLs := true
		if input.IncludeOriginalURLs != nil {
			includeURLs = *input.IncludeOriginalURLs
		}
		return successResult(autosave.MergeIntoResponse(input.Response, results, includeURLs))
	}

	ok, failed := autosave.Tally(results)
	return successResult(SaveBatchOutput{
		Total:      len(results),
		Successful: ok,
		Failed:     failed,
		Results:    results,
	})
}

// HandleCleanup handles the image_cleanup tool call.
func (h *Handlers) HandleCleanup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CleanupRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidInput(err.Error())), nil
	}

	days := autosave.DefaultRetentionDays
	if input.RetentionDays != nil {
		days = *input.RetentionDays
	}

	result, err := h.mgr.Cleanup(days)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleStorageInfo handles the image_storage_info tool call.
func (h *Handlers) HandleStorageInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(h.mgr.StorageInfo())
}

func toolNameOrDefault(name string) string {
	if name == "" {
		return DefaultToolName
	}
	return name
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Details of IO and unknown errors are withheld since they carry local paths.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var sErr *errors.SaveError
	if stderrors.As(err, &sErr) {
		errorObj := map[string]any{
			"code":    sErr.Code,
			"message": sErr.Message,
			"status":  sErr.Status,
		}
		if sErr.Code != errors.ErrUnknown && sErr.Code != errors.ErrIOFailure && sErr.Details != nil {
			errorObj["details"] = sErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrUnknown,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
