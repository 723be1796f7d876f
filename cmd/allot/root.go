package main

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/spf13/cobra"
	"github.com/yairfalse/allot/internal/config"
	"github.com/yairfalse/allot/internal/service"
	"github.com/yairfalse/allot/telemetry"
)

var version = "0.1.0"

// rootOptions is shared by every subcommand
type rootOptions struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "allot",
		Short: "Cost Allocation & Governance Engine",
		Long: `Allot - Cost Allocation & Governance Engine

Allot attributes cloud billing records to cost centers, departments,
projects, environments, teams and business units, enforces budget and
tagging policies over that attribution, and produces chargeback reports.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Log.Level = opts.logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			opts.cfg = cfg
			return telemetry.Configure(cfg.Log.Level, cfg.Log.Format)
		},
	}

	cmd.SetVersionTemplate(`Allot {{.Version}} - Cost Allocation & Governance Engine
`)
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to TOML config file (environment ALLOT_* overrides apply)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newImportCmd(opts),
		newAllocateCmd(opts),
		newEnforceCmd(opts),
		newReportCmd(opts),
		newBundleCmd(opts),
	)
	return cmd
}

// printResponse writes resp as indented JSON and turns an unsuccessful
// status into a command error.
func printResponse(w io.Writer, st service.Status, resp any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	if !st.Success {
		return errors.New(st.Error)
	}
	return nil
}
