package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/githubfinder/ghproxy/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate configuration and print the effective settings",
	Long: `Loads configuration exactly as serve would and prints the result as
JSON. The upstream token is never printed; only whether one is set. Exits
non-zero if the configuration is invalid.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

type configReport struct {
	Config          *config.Config `json:"config"`
	TokenConfigured bool           `json:"token_configured"`
	Warnings        []string       `json:"warnings"`
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	report := configReport{
		Config:          cfg,
		TokenConfigured: cfg.Upstream.Token != "",
		Warnings:        cfg.Warnings,
	}
	if report.Warnings == nil {
		report.Warnings = []string{}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
