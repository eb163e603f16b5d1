package autosave

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyinv/Seedream-MCP/internal/errors"
)

func sampleResults() []Result {
	return []Result{
		success("http://x/1.png", "/tmp/images/1.png", "![fox](./images/1.png)", &Metadata{
			Prompt:   "fox",
			ToolName: "demo",
			SavedAt:  time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC),
			FileSize: 2048,
			Attempts: 2,
		}),
		failure("http://x/2.png", errors.NewNetworkFailure("http://x/2.png", 3, nil)),
	}
}

func TestMergeIntoResponse(t *testing.T) {
	resp := map[string]any{
		"model": "seedream",
		"images": []any{
			map[string]any{"url": "http://x/1.png", "size": "1024x1024"},
			map[string]any{"url": "http://x/2.png"},
		},
	}

	out := MergeIntoResponse(resp, sampleResults(), false)

	block, ok := out["auto_save"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, block["enabled"])
	assert.Equal(t, 2, block["total_images"])
	assert.Equal(t, 1, block["successful_saves"])
	assert.Equal(t, 1, block["failed_saves"])
	assert.Len(t, block["results"], 2)

	images := out["images"].([]any)
	first := images[0].(map[string]any)
	assert.Equal(t, "/tmp/images/1.png", first["local_path"])
	assert.Equal(t, "![fox](./images/1.png)", first["markdown_ref"])
	assert.Equal(t, "http://x/1.png", first["original_url"])
	assert.NotContains(t, first, "url")
	assert.Equal(t, "1024x1024", first["size"])

	second := images[1].(map[string]any)
	assert.Contains(t, second["auto_save_error"], "download failed")
	assert.Equal(t, "http://x/2.png", second["url"])

	// input untouched
	orig := resp["images"].([]any)[0].(map[string]any)
	assert.Equal(t, "http://x/1.png", orig["url"])
	assert.NotContains(t, orig, "local_path")
	assert.NotContains(t, resp, "auto_save")
	assert.Equal(t, "seedream", out["model"])
}

func TestMergeIntoResponse_DataKeyAndKeepURLs(t *testing.T) {
	resp := map[string]any{
		"data": []map[string]any{{"url": "http://x/1.png"}},
	}

	out := MergeIntoResponse(resp, sampleResults()[:1], true)

	data := out["data"].([]any)
	entry := data[0].(map[string]any)
	assert.Equal(t, "http://x/1.png", entry["url"])
	assert.Equal(t, "/tmp/images/1.png", entry["local_path"])
}

func TestMergeIntoResponse_NonObjectEntriesUnchanged(t *testing.T) {
	resp := map[string]any{
		"images": []any{"http://x/1.png", "http://x/2.png", map[string]any{"url": "http://x/3.png"}},
	}
	results := append(sampleResults(), sampleResults()[0])

	out := MergeIntoResponse(resp, results, false)

	images := out["images"].([]any)
	require.Len(t, images, 3)
	assert.Equal(t, "http://x/1.png", images[0])
	assert.Equal(t, "http://x/2.png", images[1])
	third := images[2].(map[string]any)
	assert.Equal(t, "/tmp/images/1.png", third["local_path"])
	assert.Equal(t, "http://x/3.png", third["original_url"])
}

func TestMergeIntoResponse_NoImages(t *testing.T) {
	out := MergeIntoResponse(map[string]any{}, sampleResults(), true)
	assert.Contains(t, out, "auto_save")
	assert.NotContains(t, out, "images")
}

func TestResultJSON(t *testing.T) {
	results := sampleResults()

	b, err := json.Marshal(results[0])
	require.NoError(t, err)
	var ok map[string]any
	require.NoError(t, json.Unmarshal(b, &ok))
	assert.Equal(t, true, ok["success"])
	assert.Equal(t, "http://x/1.png", ok["original_url"])
	md := ok["metadata"].(map[string]any)
	assert.Equal(t, "fox", md["prompt"])
	assert.Equal(t, "2025-03-14T15:09:26Z", md["save_time"])
	assert.Equal(t, float64(2), md["attempts"])
	assert.NotContains(t, ok, "error")

	b, err = json.Marshal(results[1])
	require.NoError(t, err)
	var bad map[string]any
	require.NoError(t, json.Unmarshal(b, &bad))
	assert.Equal(t, false, bad["success"])
	assert.Equal(t, "NETWORK_FAILURE", bad["error_code"])
	assert.NotContains(t, bad, "local_path")
	assert.NotContains(t, bad, "metadata")
}

func TestMetadataExtraNeverOverrides(t *testing.T) {
	md := &Metadata{Prompt: "real", Extra: map[string]any{"prompt": "fake", "seed": 42}}
	m := md.toMap()
	assert.Equal(t, "real", m["prompt"])
	assert.Equal(t, 42, m["seed"])
}

func TestRenderMarkdownSummary(t *testing.T) {
	md := RenderMarkdownSummary(sampleResults(), "")

	assert.True(t, strings.HasPrefix(md, "# Generated Images\n"))
	assert.Contains(t, md, "## Successfully Saved Images")
	assert.Contains(t, md, "### Image 1\n![fox](./images/1.png)\n**Prompt:** fox\n**Local Path:** `/tmp/images/1.png`\n**Size:** 2.0 kB")
	assert.Contains(t, md, "## Failed to Save")
	assert.Contains(t, md, "**URL:** http://x/2.png")
	assert.True(t, strings.HasSuffix(md, "- Total images: 2\n- Successfully saved: 1\n- Failed to save: 1"))
}

func TestRenderMarkdownSummary_AllFailed(t *testing.T) {
	md := RenderMarkdownSummary(sampleResults()[1:], "Batch")
	assert.True(t, strings.HasPrefix(md, "# Batch\n"))
	assert.NotContains(t, md, "Successfully Saved Images")
	assert.Contains(t, md, "- Total images: 1\n- Successfully saved: 0\n- Failed to save: 1")
}

func TestRenderHTMLSummary(t *testing.T) {
	html, err := RenderHTMLSummary(sampleResults(), "Run")
	require.NoError(t, err)
	assert.Contains(t, html, "<h1>Run</h1>")
	assert.Contains(t, html, `<img src="./images/1.png" alt="fox">`)
	assert.Contains(t, html, "<li>Failed to save: 1</li>")
}
