package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shipway/shipway/internal/core/version"
	"github.com/shipway/shipway/internal/shipctl/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the promotion chain state",
	Long: `Show the promotion chain state derived from the registry tag set:
the newest published digest, the highest release, and where the current
candidate sits in the chain.

Example:
  shipctl status
  shipctl status -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := newClient().Status()
		if err != nil {
			return err
		}

		return output.Print(format(), status, func() {
			output.Info(fmt.Sprintf("Repository:    %s", valueOr(status.Repository, "-")))
			output.Info(fmt.Sprintf("Latest digest: %s", valueOr(status.LatestDigest, "-")))
			output.Info(fmt.Sprintf("Target:        %s", status.Chain.Target))
			if len(status.Chain.Releases) > 0 {
				output.Info(fmt.Sprintf("Released:      %s", status.Chain.Releases[len(status.Chain.Releases)-1]))
			}
			if len(status.Chain.Candidates) == 0 {
				output.Info("Candidates:    none")
				return
			}
			output.Info("")
			rows := make([][]string, 0, len(status.Chain.Candidates))
			for _, c := range status.Chain.Candidates {
				released := "-"
				if c.Released {
					released = "yes"
				}
				rows = append(rows, []string{
					string(c.Tag),
					verdictLabel(c.Verdict),
					released,
				})
			}
			output.PrintTable([]string{"CANDIDATE", "VERDICT", "RELEASED"}, rows)
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent promotion runs",
	Long: `List recent promotion runs from the journal, newest first.

Example:
  shipctl history
  shipctl history --limit 5`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := newClient().History(limit)
		if err != nil {
			return err
		}

		return output.Print(format(), runs, func() {
			if len(runs) == 0 {
				output.Info("No promotion runs recorded yet")
				return
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					run.ID,
					string(run.Stage),
					string(run.Status),
					valueOr(run.ProducedTag, "-"),
					output.FormatTime(run.StartedAt),
				})
			}
			output.PrintTable([]string{"RUN ID", "STAGE", "STATUS", "PRODUCED", "STARTED"}, rows)
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show one promotion run",
	Long: `Show one promotion run from the journal, including its captured
diagnostics.

Example:
  shipctl show 9f6c1c2e-4c3a-4e6f-a2a1-6f2b9d8d1e0a`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		run, err := newClient().GetRun(args[0])
		if err != nil {
			return err
		}

		return output.Print(format(), run, func() {
			rows := [][]string{
				{"Run ID", run.ID},
				{"Stage", string(run.Stage)},
				{"Environment", valueOr(run.Environment, "-")},
				{"Status", string(run.Status)},
				{"Artifact", valueOr(run.ArtifactRef, "-")},
				{"Produced", valueOr(run.ProducedTag, "-")},
				{"Started", output.FormatTime(run.StartedAt)},
			}
			if run.FinishedAt != nil {
				rows = append(rows, []string{"Finished", output.FormatTime(*run.FinishedAt)})
			}
			output.PrintTable([]string{"FIELD", "VALUE"}, rows)
			if run.Diagnostics != "" {
				output.Info("")
				output.Info("Diagnostics:")
				output.Info(run.Diagnostics)
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(showCmd)

	historyCmd.Flags().Int("limit", 20, "maximum runs to list")
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func verdictLabel(v version.Verdict) string {
	if v == version.VerdictNone {
		return "pending"
	}
	return string(v)
}
