package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/nudged/internal/correlation"
	"github.com/fyrsmithlabs/nudged/internal/monitor"
)

func (c *cli) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check nudged server health",
		Long: `Check the health of the nudged daemon and its dependencies.

Exits non-zero when the server is unreachable. A degraded status still
exits zero; inspect the per-check output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			health, err := c.client().Health(c.context(cmd))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if c.json {
				return outputJSON(out, health)
			}
			status := green(health.Status)
			if health.Status != "ok" {
				status = yellow(health.Status)
			}
			fmt.Fprintf(out, "Server Status: %s\n", status)
			fmt.Fprintf(out, "Server URL: %s\n", c.serverURL)
			for _, name := range sortedKeys(health.Checks) {
				result := health.Checks[name]
				mark := green("ok")
				if result != "ok" {
					mark = red(result)
				}
				fmt.Fprintf(out, "  %-10s %s\n", name, mark)
			}
			return nil
		},
	}
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show pipeline counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := c.client().Stats(c.context(cmd))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if c.json {
				return outputJSON(out, stats)
			}
			fmt.Fprintf(out, "%s\n", bold("Intake"))
			fmt.Fprintf(out, "  processed  %d\n", stats.TotalItemsProcessed)
			fmt.Fprintf(out, "  passed     %d\n", stats.ItemsPassed)
			fmt.Fprintf(out, "  filtered   %d (%.1f%%)\n", stats.ItemsFiltered, stats.FilterRate*100)
			fmt.Fprintf(out, "%s\n", bold("Reminders"))
			fmt.Fprintf(out, "  active     %d\n", stats.ActiveTasks)
			fmt.Fprintf(out, "  urgent     %d\n", stats.UrgentTasks)
			overdue := fmt.Sprintf("%d", stats.OverdueTasks)
			if stats.OverdueTasks > 0 {
				overdue = red(overdue)
			}
			fmt.Fprintf(out, "  overdue    %s\n", overdue)
			fmt.Fprintf(out, "  completed  %d\n", stats.CompletedTasks)
			fmt.Fprintf(out, "%s\n", bold("Admission"))
			fmt.Fprintf(out, "  seen       %d\n", stats.Admission.TotalProcessed)
			fmt.Fprintf(out, "  rejected   %d (%.1f%%)\n", stats.Admission.Filtered, stats.Admission.FilterRate*100)
			return nil
		},
	}
}

func (c *cli) agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "Show per-stage pipeline activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			agents, err := c.client().Agents(c.context(cmd))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if c.json {
				return outputJSON(out, agents)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tSTATE\tPROCESSED\tERRORS\tLAST ACTIVE")
			for _, a := range agents {
				state := gray("idle")
				if a.Active {
					state = green("busy")
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", a.Name, state, a.Processed, a.Errors, formatTime(a.LastActive))
			}
			return w.Flush()
		},
	}
}

func (c *cli) threadsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "threads [thread-id]",
		Short: "List conversation threads or show one",
		Long: `List conversation threads, most recently updated first, or show
the messages of a single thread.

Examples:
  nudgectl threads
  nudgectl threads 3f2a9c1e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				th, err := c.client().Thread(c.context(cmd), args[0])
				if err != nil {
					return err
				}
				if c.json {
					return outputJSON(out, th)
				}
				printThread(cmd, th)
				return nil
			}

			threads, err := c.client().Threads(c.context(cmd))
			if err != nil {
				return err
			}
			if c.json {
				return outputJSON(out, threads)
			}
			if len(threads) == 0 {
				fmt.Fprintln(out, "No threads found")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPLATFORM\tMESSAGES\tPARTICIPANTS\tUPDATED")
			for _, th := range threads {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					th.ID, th.Platform, len(th.Messages),
					truncate(strings.Join(th.Participants, ","), 40),
					formatTime(th.LastUpdated))
			}
			return w.Flush()
		},
	}
}

func printThread(cmd *cobra.Command, th correlation.Thread) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Thread: %s\n", bold(th.ID))
	fmt.Fprintf(out, "Platform: %s\n", th.Platform)
	if th.Identifier != "" {
		fmt.Fprintf(out, "Identifier: %s\n", th.Identifier)
	}
	if len(th.Participants) > 0 {
		fmt.Fprintf(out, "Participants: %s\n", strings.Join(th.Participants, ", "))
	}
	if len(th.CommitmentIDs) > 0 {
		fmt.Fprintf(out, "Commitments: %s\n", strings.Join(th.CommitmentIDs, ", "))
	}
	for _, m := range th.Messages {
		author := m.Author
		if author == "" {
			author = "-"
		}
		fmt.Fprintf(out, "  %s %s: %s\n", gray(formatTime(m.Timestamp)), author, truncate(m.Content, 80))
	}
}

func (c *cli) watchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Open the live dashboard",
		Long: `Open a full-screen dashboard that polls the daemon for intake rate,
filter rate, reminder counts and stage activity.

Keys: q quits, r refreshes immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			return monitor.Run(c.client(), c.serverURL, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "Refresh interval")
	return cmd
}
