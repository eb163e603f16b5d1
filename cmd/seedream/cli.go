package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/skyinv/Seedream-MCP/internal/autosave"
	"github.com/skyinv/Seedream-MCP/internal/config"
	"github.com/skyinv/Seedream-MCP/internal/errors"
	"github.com/skyinv/Seedream-MCP/internal/mcp"
	"github.com/skyinv/Seedream-MCP/internal/web"
)

// maxStdinBytes bounds piped input; base64 batches are large.
const maxStdinBytes = 64 << 20

// managerLoader returns the auto-save manager, building it on first use so commands
// that never touch storage do not create the base directory.
type managerLoader func() (*autosave.Manager, error)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(load managerLoader, cfg *config.Config, logger *zap.Logger) *cli.App {
	app := &cli.App{
		Name:    "seedream",
		Usage:   "Auto-save for generated images",
		Version: Version,
		Commands: []*cli.Command{
			saveCmd(load),
			batchCmd(load),
			cleanupCmd(load),
			infoCmd(load),
			serveCmd(load, logger),
			toolsCmd(cfg),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// saveCmd creates the save command.
func saveCmd(load managerLoader) *cli.Command {
	return &cli.Command{
		Name:      "save",
		Usage:     "Save one image from a URL, or from base64 piped via stdin",
		ArgsUsage: "[url]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "prompt", Aliases: []string{"p"}, Usage: "Prompt used to name the file"},
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Custom filename"},
			&cli.StringFlag{Name: "alt", Usage: "Alt text for the markdown reference"},
			&cli.StringFlag{Name: "tool", Aliases: []string{"t"}, Value: mcp.DefaultToolName, Usage: "Tool subfolder"},
		},
		Action: func(c *cli.Context) error {
			item := autosave.Item{
				Prompt:     c.String("prompt"),
				CustomName: c.String("name"),
				AltText:    c.String("alt"),
			}

			switch {
			case c.NArg() > 0:
				item.URL = c.Args().First()
			case stdinHasData():
				payload, err := readStdin(maxStdinBytes)
				if err != nil {
					return outputError(errors.NewInvalidInput(err.Error()))
				}
				item.B64 = payload
			default:
				return outputError(errors.NewInvalidInput("a url argument or base64 data on stdin is required"))
			}

			mgr, err := load()
			if err != nil {
				return outputError(err)
			}
			result := mgr.Save(c.Context, item, c.String("tool"))
			if !result.Success {
				return cli.Exit(fmt.Sprintf("[%s] %s", result.ErrorCode, result.Error), 1)
			}

			return outputJSON(result)
		},
	}
}

// batchCmd creates the batch command.
func batchCmd(load managerLoader) *cli.Command {
	return &cli.Command{
		Name:  "batch",
		Usage: "Save a JSON array of images piped via stdin",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tool", Aliases: []string{"t"}, Value: mcp.DefaultToolName, Usage: "Tool subfolder"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: mcp.FormatJSON, Usage: "Output format: json|markdown"},
			&cli.StringFlag{Name: "title", Usage: "Heading for markdown output"},
		},
		Action: func(c *cli.Context) error {
			if !stdinHasData() {
				return outputError(errors.NewInvalidInput("items must be piped via stdin"))
			}

			data, err := readStdin(maxStdinBytes)
			if err != nil {
				return outputError(errors.NewInvalidInput(err.Error()))
			}

			items, err := parseItems(data)
			if err != nil {
				return outputError(err)
			}

			mgr, err := load()
			if err != nil {
				return outputError(err)
			}
			results := mgr.SaveBatch(c.Context, items, c.String("tool"))

			switch c.String("format") {
			case mcp.FormatMarkdown:
				_, err := fmt.Fprintln(os.Stdout, autosave.RenderMarkdownSummary(results, c.String("title")))
				return err
			case mcp.FormatJSON:
				ok, failed := autosave.Tally(results)
				return outputJSON(mcp.SaveBatchOutput{
					Total:      len(results),
					Successful: ok,
					Failed:     failed,
					Results:    results,
				})
			default:
				return outputError(errors.NewInvalidInput(fmt.Sprintf("unknown format %q", c.String("format"))))
			}
		},
	}
}

// cleanupCmd creates the cleanup command.
func cleanupCmd(load managerLoader) *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Delete saved images older than a retention period",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "older-than", Usage: fmt.Sprintf("Retention period in days, e.g. 7d (default %dd)", autosave.DefaultRetentionDays)},
		},
		Action: func(c *cli.Context) error {
			days := autosave.DefaultRetentionDays
			if olderThan := c.String("older-than"); olderThan != "" {
				d, err := parseDuration(olderThan)
				if err != nil {
					return outputError(errors.NewInvalidInput(err.Error()))
				}
				days = d
			}

			mgr, err := load()
			if err != nil {
				return outputError(err)
			}
			output, err := mgr.Cleanup(days)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// infoCmd creates the info command.
func infoCmd(load managerLoader) *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Show storage statistics",
		Action: func(c *cli.Context) error {
			mgr, err := load()
			if err != nil {
				return outputError(err)
			}
			return outputJSON(mgr.StorageInfo())
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(load managerLoader, logger *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Browse saved images and metrics over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Aliases: []string{"b"}, Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Value: 8090, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			mgr, err := load()
			if err != nil {
				return outputError(err)
			}
			srv, err := web.NewServer(mgr, logger, Version, c.String("bind"), c.Int("port"))
			if err != nil {
				return outputError(err)
			}
			return web.Run(srv, logger)
		},
	}
}

// toolsCmd creates the tools command.
func toolsCmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "tools",
		Usage: "List MCP tools and whether each is enabled",
		Action: func(c *cli.Context) error {
			disabled := map[string]bool{}
			unknown := []string{}
			if cfg != nil {
				for _, name := range cfg.DisabledTools {
					disabled[name] = true
				}
				unknown = mcp.ValidateDisabledTools(cfg.DisabledTools)
			}

			tools := make([]map[string]any, 0, len(mcp.AllToolNames()))
			for _, name := range mcp.AllToolNames() {
				tools = append(tools, map[string]any{
					"name":    name,
					"enabled": !disabled[name],
				})
			}

			return outputJSON(map[string]any{
				"tools":   tools,
				"unknown": unknown,
			})
		},
	}
}

// Helper functions

// parseItems accepts a bare JSON array of items or an object with an "items" array.
func parseItems(data string) ([]autosave.Item, error) {
	var items []autosave.Item
	if strings.HasPrefix(data, "[") {
		if err := json.Unmarshal([]byte(data), &items); err != nil {
			return nil, errors.NewInvalidInput(fmt.Sprintf("invalid items JSON: %v", err))
		}
	} else {
		var wrapped struct {
			Items []autosave.Item `json:"items"`
		}
		if err := json.Unmarshal([]byte(data), &wrapped); err != nil {
			return nil, errors.NewInvalidInput(fmt.Sprintf("invalid items JSON: %v", err))
		}
		items = wrapped.Items
	}
	if len(items) == 0 {
		return nil, errors.NewInvalidInput("at least one item is required")
	}
	return items, nil
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	sErr := errors.As(err)
	return cli.Exit(fmt.Sprintf("[%s] %s", sErr.Code, sErr.Message), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads up to limit bytes from stdin.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("stdin exceeds %d bytes", limit)
	}
	return strings.TrimSpace(string(data)), nil
}

// parseDuration parses "7d" format to days.
func parseDuration(s string) (int, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration must be non-negative")
		}
		return days, nil
	}
	return 0, fmt.Errorf("duration must end with 'd' (days), e.g., 7d")
}
