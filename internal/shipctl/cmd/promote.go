package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shipway/shipway/internal/core/promotion"
	"github.com/shipway/shipway/internal/shipctl/client"
	"github.com/shipway/shipway/internal/shipctl/output"
)

var runAcceptanceCmd = &cobra.Command{
	Use:   "run-acceptance",
	Short: "Mint and verify a release candidate from the newest build",
	Long: `Run the acceptance stage: resolve the newest published artifact,
deploy it to the acceptance environment, run the acceptance suite, and on
success mint the next release candidate tag.

If the newest artifact already has a release candidate, the run is a
no-op unless --force is given.

Example:
  shipctl run-acceptance
  shipctl run-acceptance --force`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		result, err := newClient().RunAcceptance(force)
		return printStageResult(result, err)
	},
}

var runQACmd = &cobra.Command{
	Use:   "run-qa",
	Short: "Deploy a release candidate to the QA environment",
	Long: `Deploy an exact release candidate to the QA environment and wait for
it to come up healthy.

Example:
  shipctl run-qa --version v1.4.0-rc.2`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, _ := cmd.Flags().GetString("version")
		result, err := newClient().RunQA(tag)
		return printStageResult(result, err)
	},
}

var submitSignoffCmd = &cobra.Command{
	Use:   "submit-signoff",
	Short: "Record the QA verdict for a release candidate",
	Long: `Record the human QA verdict for a release candidate. Each candidate
takes exactly one verdict; a denial is terminal for that candidate.

Example:
  shipctl submit-signoff --version v1.4.0-rc.2 --result pass
  shipctl submit-signoff --version v1.4.0-rc.2 --result fail`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, _ := cmd.Flags().GetString("version")
		verdict, _ := cmd.Flags().GetString("result")
		if verdict != "pass" && verdict != "fail" {
			return fmt.Errorf("--result must be pass or fail")
		}
		result, err := newClient().SubmitSignoff(tag, verdict)
		return printStageResult(result, err)
	},
}

var runProductionCmd = &cobra.Command{
	Use:   "run-production",
	Short: "Release a signed-off candidate to production",
	Long: `Release a signed-off candidate: mint the stable version tag and
deploy it to the production environment.

Example:
  shipctl run-production --version v1.4.0-rc.2`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, _ := cmd.Flags().GetString("version")
		result, err := newClient().RunProduction(tag)
		return printStageResult(result, err)
	},
}

func init() {
	rootCmd.AddCommand(runAcceptanceCmd)
	rootCmd.AddCommand(runQACmd)
	rootCmd.AddCommand(submitSignoffCmd)
	rootCmd.AddCommand(runProductionCmd)

	runAcceptanceCmd.Flags().Bool("force", false, "redeploy even if the newest artifact already has a candidate")

	runQACmd.Flags().String("version", "", "release candidate tag (required)")
	runQACmd.MarkFlagRequired("version")

	submitSignoffCmd.Flags().String("version", "", "release candidate tag (required)")
	submitSignoffCmd.MarkFlagRequired("version")
	submitSignoffCmd.Flags().String("result", "", "sign-off verdict: pass or fail (required)")
	submitSignoffCmd.MarkFlagRequired("result")

	runProductionCmd.Flags().String("version", "", "release candidate tag (required)")
	runProductionCmd.MarkFlagRequired("version")
}

// printStageResult renders a stage result and maps failed stages to a
// non-zero exit. A failed stage still has a result body worth showing.
func printStageResult(result *promotion.StageResult, err error) error {
	if err != nil && !errors.Is(err, client.ErrStageFailed) {
		return err
	}

	printErr := output.Print(format(), result, func() {
		switch {
		case result.Failed():
			output.Failure(fmt.Sprintf("%s failed: %s", result.Stage, result.Status))
			if result.Diagnostics != "" {
				output.Info("")
				output.Info(result.Diagnostics)
			}
		case result.ProducedTag != "":
			output.Success(fmt.Sprintf("%s passed: %s", result.Stage, result.ProducedTag))
		default:
			output.Success(fmt.Sprintf("%s: %s", result.Stage, result.Status))
			if result.Diagnostics != "" {
				output.Info(result.Diagnostics)
			}
		}
		output.Info(fmt.Sprintf("  Run ID: %s", result.RunID))
	})
	if printErr != nil {
		return printErr
	}

	if result.Failed() {
		return errStageFailedSilent
	}
	return nil
}

// errStageFailedSilent signals a non-zero exit without re-printing an
// error: the result rendering already told the operator what happened.
var errStageFailedSilent = errors.New("stage failed")
