package autosave

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
)

// DefaultSummaryTitle heads a summary when no title is given.
const DefaultSummaryTitle = "Generated Images"

// RenderMarkdownSummary lists saved images, then failures, then a count summary.
func RenderMarkdownSummary(results []Result, title string) string {
	if title == "" {
		title = DefaultSummaryTitle
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)

	var ok, failed []Result
	for _, r := range results {
		if r.Success {
			ok = append(ok, r)
		} else {
			failed = append(failed, r)
		}
	}

	if len(ok) > 0 {
		b.WriteString("## Successfully Saved Images\n\n")
		for i, r := range ok {
			fmt.Fprintf(&b, "### Image %d\n", i+1)
			if r.MarkdownRef != "" {
				b.WriteString(r.MarkdownRef + "\n")
			}
			if r.Metadata != nil && r.Metadata.Prompt != "" {
				fmt.Fprintf(&b, "**Prompt:** %s\n", r.Metadata.Prompt)
			}
			if r.LocalPath != "" {
				fmt.Fprintf(&b, "**Local Path:** `%s`\n", r.LocalPath)
			}
			if r.Metadata != nil && r.Metadata.FileSize > 0 {
				fmt.Fprintf(&b, "**Size:** %s\n", humanize.Bytes(uint64(r.Metadata.FileSize)))
			}
			b.WriteString("\n")
		}
	}

	if len(failed) > 0 {
		b.WriteString("## Failed to Save\n\n")
		for i, r := range failed {
			fmt.Fprintf(&b, "### Failed Image %d\n", i+1)
			fmt.Fprintf(&b, "**URL:** %s\n", r.OriginalRef)
			fmt.Fprintf(&b, "**Error:** %s\n", r.Error)
			b.WriteString("\n")
		}
	}

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Total images: %d\n", len(results))
	fmt.Fprintf(&b, "- Successfully saved: %d\n", len(ok))
	fmt.Fprintf(&b, "- Failed to save: %d", len(failed))

	return b.String()
}

// RenderHTMLSummary renders the markdown summary to HTML.
func RenderHTMLSummary(results []Result, title string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(RenderMarkdownSummary(results, title)), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
