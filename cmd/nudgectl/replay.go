package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/nudged/internal/pipeline"
)

// scenario is a scripted run of activity, replayed in order.
type scenario struct {
	Name  string         `json:"name"`
	Items []scenarioItem `json:"items"`
}

type scenarioItem struct {
	pipeline.IngestRequest
	// After is the pause before this item, as a Go duration.
	After string `json:"after,omitempty"`
}

type replaySummary struct {
	Scenario    string             `json:"scenario"`
	Sent        int                `json:"sent"`
	Admitted    int                `json:"admitted"`
	Filtered    int                `json:"filtered"`
	Commitments int                `json:"commitments"`
	Followups   int                `json:"followups"`
	Failed      int                `json:"failed"`
	Receipts    []pipeline.Receipt `json:"receipts"`
}

func loadScenario(path string) (scenario, error) {
	var s scenario
	raw, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("failed to read scenario: %w", err)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("failed to parse scenario %s: %w", path, err)
	}
	if len(s.Items) == 0 {
		return s, fmt.Errorf("scenario %s has no items", path)
	}
	for i, it := range s.Items {
		if it.After == "" {
			continue
		}
		if d, err := time.ParseDuration(it.After); err != nil || d < 0 {
			return s, fmt.Errorf("item %d: invalid after %q", i+1, it.After)
		}
	}
	return s, nil
}

func (c *cli) replayCmd() *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   "replay <scenario.json>",
		Short: "Feed a scripted sequence of activity to the daemon",
		Long: `Replay a scenario file item by item and summarize what the pipeline
made of it. Useful for exercising commitment detection and thread
correlation end to end.

A scenario looks like:
  {
    "name": "deck handoff",
    "items": [
      {"content": "I'll send you the deck by Friday",
       "source": {"kind": "email", "sender": "alice@example.com"}},
      {"content": "Here is the deck, as promised", "after": "2s",
       "source": {"kind": "email", "sender": "alice@example.com"}}
    ]
  }`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadScenario(args[0])
			if err != nil {
				return err
			}
			ctx := c.context(cmd)
			client := c.client()
			out := cmd.OutOrStdout()

			sum := replaySummary{Scenario: s.Name, Receipts: make([]pipeline.Receipt, 0, len(s.Items))}
			for i, it := range s.Items {
				if d, _ := time.ParseDuration(it.After); d > 0 && !noWait {
					select {
					case <-time.After(d):
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				sum.Sent++
				r, err := client.Ingest(ctx, it.IngestRequest)
				if err != nil {
					sum.Failed++
					r = pipeline.Receipt{Error: err.Error()}
				}
				sum.Receipts = append(sum.Receipts, r)
				switch {
				case r.Error != "":
				case r.Admitted:
					sum.Admitted++
				default:
					sum.Filtered++
				}
				if r.CommitmentID != "" {
					sum.Commitments++
				}
				if r.FollowupID != "" {
					sum.Followups++
				}
				if !c.json {
					fmt.Fprintf(out, "%s %s\n", gray(fmt.Sprintf("[%d/%d]", i+1, len(s.Items))), truncate(it.Content, 60))
					printReceipt(out, r)
				}
			}

			if c.json {
				if err := outputJSON(out, sum); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(out)
				fmt.Fprintf(out, "%s %d sent, %d admitted, %d filtered, %d commitment(s), %d follow-up(s)\n",
					bold("Summary:"), sum.Sent, sum.Admitted, sum.Filtered, sum.Commitments, sum.Followups)
			}
			if sum.Failed > 0 {
				return fmt.Errorf("%d of %d items failed", sum.Failed, sum.Sent)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Ignore the pauses between items")
	return cmd
}
