package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/nudged/internal/http"
	"github.com/fyrsmithlabs/nudged/internal/reminder"
)

func (c *cli) remindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reminders",
		Aliases: []string{"reminder", "rem"},
		Short:   "Inspect and act on reminders",
		Long: `Inspect and act on reminders.

Examples:
  # Open reminders
  nudgectl reminders list --status active --status snoozed

  # Add one by hand
  nudgectl reminders create --at 2026-03-05T09:00:00Z --priority high "Call the landlord"

  # Push one back, or close it
  nudgectl reminders snooze <id> --for 2h
  nudgectl reminders complete <id>
  nudgectl reminders dismiss <id>

  # Ask whether later activity fulfilled it
  nudgectl reminders check <id>`,
	}
	cmd.AddCommand(
		c.remindersListCmd(),
		c.reminderGetCmd(),
		c.reminderCreateCmd(),
		c.reminderSnoozeCmd(),
		c.reminderActionCmd("dismiss", "Dismiss a reminder", (*httpapi.Client).Dismiss),
		c.reminderActionCmd("complete", "Mark a reminder as done", (*httpapi.Client).Complete),
		c.reminderCheckCmd(),
	)
	return cmd
}

func (c *cli) remindersListCmd() *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reminders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := make([]reminder.Status, 0, len(statuses))
			for _, s := range statuses {
				filter = append(filter, reminder.Status(s))
			}
			reminders, err := c.client().Reminders(c.context(cmd), filter...)
			if err != nil {
				return fmt.Errorf("failed to list reminders: %w", err)
			}
			out := cmd.OutOrStdout()
			if c.json {
				return outputJSON(out, reminders)
			}
			if len(reminders) == 0 {
				fmt.Fprintln(out, "No reminders found")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tTYPE\tDUE\tDESCRIPTION")
			for _, r := range reminders {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, colorStatus(r.Status), r.Priority, r.Type,
					formatTime(r.ScheduledTime), truncate(r.Description, 50))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringArrayVar(&statuses, "status", nil, "Filter by status, repeatable: active, snoozed, completed, dismissed, escalated")
	return cmd
}

func (c *cli) reminderGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <reminder-id>",
		Short: "Show one reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.client().Reminder(c.context(cmd), args[0])
			if err != nil {
				return err
			}
			return c.printReminder(cmd.OutOrStdout(), r)
		},
	}
}

func (c *cli) reminderCreateCmd() *cobra.Command {
	var (
		req    httpapi.CreateReminderRequest
		at     string
		in     time.Duration
		people []string
	)
	cmd := &cobra.Command{
		Use:   "create <description>",
		Short: "Create a reminder by hand",
		Long: `Create a reminder by hand.

--at takes an RFC 3339 timestamp; --in schedules relative to now. With
neither, the server schedules it at its default follow-up delay.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Description = strings.Join(args, " ")
			req.Participants = people
			switch {
			case at != "" && in > 0:
				return fmt.Errorf("--at and --in are mutually exclusive")
			case at != "":
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				req.At = t
			case in > 0:
				req.At = time.Now().Add(in)
			}
			if _, err := req.Draft(); err != nil {
				return err
			}

			r, err := c.client().CreateReminder(c.context(cmd), req)
			if err != nil {
				return fmt.Errorf("failed to create reminder: %w", err)
			}
			return c.printReminder(cmd.OutOrStdout(), r)
		},
	}
	cmd.Flags().StringVar(&req.Type, "type", string(reminder.TypeFollowUp), "Reminder type")
	cmd.Flags().StringVar(&req.Priority, "priority", "", "Priority: low, normal, high or urgent")
	cmd.Flags().StringVar(&at, "at", "", "When to fire (RFC 3339)")
	cmd.Flags().DurationVar(&in, "in", 0, "Fire after this long")
	cmd.Flags().StringArrayVar(&people, "participant", nil, "Person involved, repeatable")
	return cmd
}

func (c *cli) reminderSnoozeCmd() *cobra.Command {
	var d time.Duration
	cmd := &cobra.Command{
		Use:   "snooze <reminder-id>",
		Short: "Push a reminder back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if d < 0 {
				return fmt.Errorf("--for must not be negative")
			}
			r, err := c.client().Snooze(c.context(cmd), args[0], d)
			if err != nil {
				return fmt.Errorf("failed to snooze reminder: %w", err)
			}
			return c.printReminder(cmd.OutOrStdout(), r)
		},
	}
	cmd.Flags().DurationVar(&d, "for", 0, "Snooze duration (default: server setting)")
	return cmd
}

type reminderAction func(*httpapi.Client, context.Context, string) (reminder.Reminder, error)

func (c *cli) reminderActionCmd(name, short string, action reminderAction) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <reminder-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := action(c.client(), c.context(cmd), args[0])
			if err != nil {
				return fmt.Errorf("failed to %s reminder: %w", name, err)
			}
			return c.printReminder(cmd.OutOrStdout(), r)
		},
	}
}

func (c *cli) reminderCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <reminder-id>",
		Short: "Check later activity for fulfillment of a reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := c.client().Check(c.context(cmd), args[0])
			if err != nil {
				return fmt.Errorf("failed to check reminder: %w", err)
			}
			out := cmd.OutOrStdout()
			if c.json {
				return outputJSON(out, httpapi.FulfillmentResponse{ReminderID: args[0], Fulfillment: f})
			}
			fmt.Fprintf(out, "%s: %s\n", args[0], colorFulfillment(f))
			return nil
		},
	}
}

func (c *cli) printReminder(out io.Writer, r reminder.Reminder) error {
	if c.json {
		return outputJSON(out, r)
	}
	fmt.Fprintf(out, "ID: %s\n", r.ID)
	fmt.Fprintf(out, "Description: %s\n", bold(r.Description))
	fmt.Fprintf(out, "Type: %s\n", r.Type)
	fmt.Fprintf(out, "Priority: %s\n", r.Priority)
	fmt.Fprintf(out, "Status: %s\n", colorStatus(r.Status))
	fmt.Fprintf(out, "Due: %s\n", formatTime(r.ScheduledTime))
	if len(r.Participants) > 0 {
		fmt.Fprintf(out, "Participants: %s\n", strings.Join(r.Participants, ", "))
	}
	if r.SnoozeCount > 0 {
		fmt.Fprintf(out, "Snoozed: %d time(s)\n", r.SnoozeCount)
	}
	if r.Fulfillment != "" && r.Fulfillment != reminder.FulfillmentUnknown {
		fmt.Fprintf(out, "Fulfillment: %s\n", colorFulfillment(r.Fulfillment))
	}
	return nil
}

func colorStatus(s reminder.Status) string {
	switch s {
	case reminder.StatusActive:
		return green(string(s))
	case reminder.StatusSnoozed:
		return yellow(string(s))
	case reminder.StatusEscalated:
		return red(string(s))
	}
	return gray(string(s))
}

func colorFulfillment(f reminder.Fulfillment) string {
	switch f {
	case reminder.FulfillmentFulfilled:
		return green(string(f))
	case reminder.FulfillmentPartially:
		return yellow(string(f))
	case reminder.FulfillmentNot:
		return red(string(f))
	}
	return gray(string(f))
}
