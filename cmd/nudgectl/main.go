// Package main implements nudgectl, the command-line client for a running
// nudged daemon.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/nudged/internal/http"
)

var version = "dev"

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli holds the flags shared by every subcommand.
type cli struct {
	serverURL string
	token     string
	timeout   time.Duration
	json      bool
	noColor   bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "nudgectl",
		Short: "CLI for the nudged reminder daemon",
		Long: `nudgectl talks to a running nudged daemon over its HTTP API.

It can submit activity, inspect and act on reminders, browse conversation
threads and open a live dashboard.

Examples:
  # Check the daemon is up
  nudgectl health

  # Feed an email into the pipeline
  nudgectl ingest --source email --sender alice@example.com "I'll send the deck by Friday"

  # List open reminders and snooze one for an hour
  nudgectl reminders list --status active
  nudgectl reminders snooze <id> --for 1h

  # Watch the pipeline live
  nudgectl watch

  # Serve the API as MCP tools over stdio
  nudgectl mcp`,
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if c.noColor {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().StringVar(&c.serverURL, "server", "http://127.0.0.1:9494", "nudged server URL")
	root.PersistentFlags().StringVar(&c.token, "token", os.Getenv("NUDGED_TOKEN"), "API token (defaults to $NUDGED_TOKEN)")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 30*time.Second, "HTTP request timeout")
	root.PersistentFlags().BoolVar(&c.json, "json", false, "Output results as JSON")
	root.PersistentFlags().BoolVar(&c.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(
		c.healthCmd(),
		c.ingestCmd(),
		c.statsCmd(),
		c.agentsCmd(),
		c.remindersCmd(),
		c.threadsCmd(),
		c.watchCmd(),
		c.replayCmd(),
		c.mcpCmd(),
	)
	return root
}

func (c *cli) client() *httpapi.Client {
	return httpapi.NewClient(c.serverURL, c.timeout).WithToken(c.token)
}

func (c *cli) context(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// outputJSON pretty-prints v.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// truncate truncates a string to maxLen, adding "..." if truncated
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
