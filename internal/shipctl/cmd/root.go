// Package cmd implements the shipctl command tree.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/shipway/shipway/internal/shipctl/client"
	"github.com/shipway/shipway/internal/shipctl/output"
)

var (
	apiURL       string
	apiToken     string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "shipctl",
	Short: "Shipway CLI for driving the promotion chain",
	Long: `shipctl drives a Shipway daemon through the promotion chain.

It allows you to:
  - Trigger an acceptance run against the newest published artifact
  - Deploy a release candidate to QA
  - Record the QA sign-off verdict
  - Release a signed-off candidate to production
  - Inspect the chain status and run history

Configuration:
  Environment variables:
    SHIPWAY_API_URL    - shipwayd API endpoint (default http://localhost:8422)
    SHIPWAY_API_TOKEN  - shipwayd API bearer token

  CLI flags override environment variables.

Example usage:
  shipctl run-acceptance
  shipctl run-qa --version v1.4.0-rc.2
  shipctl submit-signoff --version v1.4.0-rc.2 --result pass
  shipctl run-production --version v1.4.0-rc.2
  shipctl status`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "shipwayd API endpoint")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "shipwayd API bearer token")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")
}

// newClient builds the API client from flags and environment.
func newClient() *client.Client {
	url := apiURL
	if url == "" {
		url = os.Getenv("SHIPWAY_API_URL")
	}
	if url == "" {
		url = "http://localhost:8422"
	}

	token := apiToken
	if token == "" {
		token = os.Getenv("SHIPWAY_API_TOKEN")
	}

	return client.New(url, token)
}

func format() output.Format {
	return output.Format(outputFormat)
}
