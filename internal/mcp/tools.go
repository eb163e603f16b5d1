package mcp

import "github.com/mark3labs/mcp-go/mcp"

var itemSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"url":         map[string]any{"type": "string", "description": "Remote image URL (http or https)"},
		"b64_json":    map[string]any{"type": "string", "description": "Base64 image data, optionally wrapped as data:<mime>;base64,..."},
		"prompt":      map[string]any{"type": "string", "description": "Generation prompt; names the file"},
		"custom_name": map[string]any{"type": "string", "description": "File base name overriding the prompt"},
		"alt_text":    map[string]any{"type": "string", "description": "Markdown alt text"},
	},
}

var saveToolDef = mcp.NewTool("image_save",
	mcp.WithDescription("Save one generated image (URL or base64) under the local image directory and return its path and markdown reference."),
	mcp.WithString("url", mcp.Description("Remote image URL (http or https)")),
	mcp.WithString("b64_json", mcp.Description("Base64 image data, optionally wrapped as data:<mime>;base64,...")),
	mcp.WithString("prompt", mcp.Description("Generation prompt; names the file")),
	mcp.WithString("tool_name", mcp.Description("Generating tool; becomes a subfolder")),
	mcp.WithString("custom_name", mcp.Description("File base name overriding the prompt")),
	mcp.WithString("alt_text", mcp.Description("Markdown alt text")),
)

var saveBatchToolDef = mcp.NewTool("image_save_batch",
	mcp.WithDescription("Save several generated images concurrently. Results are returned in input order; one failure never affects the others."),
	mcp.WithArray("items", mcp.Required(), mcp.Description("Images to save"), mcp.Items(itemSchema)),
	mcp.WithString("tool_name", mcp.Description("Generating tool; becomes a subfolder")),
	mcp.WithString("title", mcp.Description("Title for the markdown summary")),
	mcp.WithString("format", mcp.Description("Response format"), mcp.Enum(FormatJSON, FormatMarkdown)),
	mcp.WithObject("response", mcp.Description("Upstream API response to annotate with local paths")),
	mcp.WithBoolean("include_original_urls", mcp.Description("Keep url fields when annotating a response (default true)")),
)

var cleanupToolDef = mcp.NewTool("image_cleanup",
	mcp.WithDescription("Delete saved images older than the retention period and remove directories left empty."),
	mcp.WithNumber("retention_days", mcp.Description("Files older than this many days are deleted (default 30)")),
)

var storageInfoToolDef = mcp.NewTool("image_storage_info",
	mcp.WithDescription("Report the image directory, file count, total size and free disk space."),
)
