package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/nudged/internal/activity"
	"github.com/fyrsmithlabs/nudged/internal/pipeline"
)

// ingestFlags describe the source of a submitted item.
type ingestFlags struct {
	source       string
	app          string
	sender       string
	subject      string
	participants []string
	url          string
	title        string
	priority     string
}

// Source builds the activity source named by --source.
func (f ingestFlags) Source() (activity.Source, error) {
	switch activity.SourceKind(f.source) {
	case activity.SourceClipboard:
		return activity.ClipboardSource(), nil
	case activity.SourceScreenCapture:
		return activity.ScreenCaptureSource(f.app), nil
	case activity.SourceEmail:
		return activity.EmailSource(f.sender, f.subject), nil
	case activity.SourceMeeting:
		return activity.MeetingSource(f.participants...), nil
	case activity.SourceBrowser:
		return activity.BrowserSource(f.url, f.title), nil
	case activity.SourceManual:
		return activity.ManualSource(), nil
	}
	return activity.Source{}, fmt.Errorf("unknown source %q (want clipboard, screen_capture, email, meeting, browser or manual)", f.source)
}

func (c *cli) ingestCmd() *cobra.Command {
	f := ingestFlags{}
	cmd := &cobra.Command{
		Use:   "ingest [text|-]",
		Short: "Submit a piece of activity to the pipeline",
		Long: `Submit one content item to the nudged pipeline and print the receipt.

The text comes from the arguments, or from stdin when the only argument
is "-" or none is given.

Examples:
  # A line copied to the clipboard
  nudgectl ingest "Can you review the PR before standup?"

  # An email
  nudgectl ingest --source email --sender bob@example.com --subject "Q3 report" \
    "I'll send you the numbers by Thursday"

  # A meeting transcript from a file
  nudgectl ingest --source meeting --participant alice --participant bob - < notes.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			src, err := f.Source()
			if err != nil {
				return err
			}

			receipt, err := c.client().Ingest(c.context(cmd), pipeline.IngestRequest{
				Content:  content,
				Source:   src,
				Priority: f.priority,
			})
			if err != nil {
				return fmt.Errorf("failed to ingest: %w", err)
			}

			out := cmd.OutOrStdout()
			if c.json {
				return outputJSON(out, receipt)
			}
			printReceipt(out, receipt)
			return nil
		},
	}

	cmd.Flags().StringVar(&f.source, "source", string(activity.SourceClipboard), "Source kind: clipboard, screen_capture, email, meeting, browser, manual")
	cmd.Flags().StringVar(&f.app, "app", "", "Application name (screen_capture)")
	cmd.Flags().StringVar(&f.sender, "sender", "", "Sender address (email)")
	cmd.Flags().StringVar(&f.subject, "subject", "", "Subject line (email)")
	cmd.Flags().StringArrayVar(&f.participants, "participant", nil, "Attendee, repeatable (meeting)")
	cmd.Flags().StringVar(&f.url, "url", "", "Page URL (browser)")
	cmd.Flags().StringVar(&f.title, "title", "", "Page title (browser)")
	cmd.Flags().StringVar(&f.priority, "priority", "", "Priority: low, normal, high or urgent")
	return cmd
}

func readContent(stdin io.Reader, args []string) (string, error) {
	var content string
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read from stdin: %w", err)
		}
		content = string(raw)
	} else {
		content = strings.Join(args, " ")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("no content to ingest")
	}
	return content, nil
}

func printReceipt(out io.Writer, r pipeline.Receipt) {
	if r.Error != "" {
		fmt.Fprintf(out, "%s %s\n", red("error:"), r.Error)
	}
	if !r.Admitted {
		fmt.Fprintf(out, "%s %s\n", yellow("Filtered:"), r.Reason)
		return
	}
	fmt.Fprintf(out, "%s %s\n", green("Admitted:"), r.ItemID)
	if len(r.Tags) > 0 {
		fmt.Fprintf(out, "Tags: %s\n", strings.Join(r.Tags, ", "))
	}
	if r.Urgent {
		fmt.Fprintf(out, "%s\n", red("Urgent"))
	}
	if r.CommitmentID != "" {
		fmt.Fprintf(out, "Commitment: %s\n", r.CommitmentID)
	}
	if r.FollowupID != "" {
		fmt.Fprintf(out, "Follow-up reminder: %s\n", r.FollowupID)
	}
	if r.ThreadID != "" {
		fmt.Fprintf(out, "Thread: %s\n", r.ThreadID)
	}
}
