// Package main is the entry point for ghproxy. The serve command loads
// configuration, assembles the middleware stack around the API router,
// starts the HTTP server and shuts it down gracefully on SIGINT/SIGTERM.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ghproxy",
	Short: "GitHub API proxy for the GitHub Finder front end",
	Long: `ghproxy forwards user search, user lookup and repository listing
requests to the GitHub REST API. It keeps the API token server-side and only
answers cross-origin requests from the configured front-end origin.

Configuration comes from the environment (PORT, GITHUB_API_URL,
GITHUB_API_TOKEN, CORS_ORIGIN, LOG_LEVEL) and an optional YAML file.`,
	Args:          cobra.NoArgs,
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to optional YAML configuration file")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ghproxy:", err)
		os.Exit(1)
	}
}
