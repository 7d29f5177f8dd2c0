// Package main provides the memex binary: policy management and execution
// against a markdown vault.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ormasoftchile/memex/pkg/config"
	"github.com/ormasoftchile/memex/pkg/logging"
	"github.com/ormasoftchile/memex/pkg/service"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// .env is optional and never overrides the real environment.
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, failStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

var cfgFile string

// app holds what PersistentPreRunE builds for the invoked command.
var app struct {
	cfg    *config.Config
	logger *zap.Logger
	svc    *service.Service
}

var rootCmd = &cobra.Command{
	Use:           "memex",
	Short:         "Policy engine for an agent memory vault",
	Long:          "memex runs declarative, reversible workflows (policies) over a vault of markdown documents.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		return setup(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		teardown()
	},
}

func setup(cmd *cobra.Command) error {
	cfg, err := config.Load(config.Options{File: cfgFile, Flags: cmd.Flags()})
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return err
	}
	svc, err := service.Open(cfg, logger)
	if err != nil {
		return err
	}
	app.cfg, app.logger, app.svc = cfg, logger, svc
	return nil
}

func teardown() {
	if app.svc != nil {
		app.svc.Close()
	}
	if app.logger != nil {
		_ = app.logger.Sync()
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "memex %s (%s)\n", version, commit)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: memex.yaml in the vault, user config dir or working dir)")
	pf.String("vault", "", "vault root directory (default \".\")")
	pf.String("policies-dir", "", "policy directory, relative to the vault (default \".memex/policies\")")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: console or json")
	pf.Bool("trace", false, "write a JSONL audit trail for each run")

	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(versionCmd)
}
