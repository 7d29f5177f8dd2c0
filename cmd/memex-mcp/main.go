// Package main provides the memex-mcp binary, an MCP server exposing vault
// policies to AI agents over stdio.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ormasoftchile/memex/pkg/config"
	"github.com/ormasoftchile/memex/pkg/logging"
	gmcp "github.com/ormasoftchile/memex/pkg/mcp"
	"github.com/ormasoftchile/memex/pkg/service"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("memex-mcp", pflag.ExitOnError)
	cfgFile := fs.String("config", "", "config file")
	fs.String("vault", "", "vault root directory")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.String("log-file", "", "also write logs to this file")
	fs.Bool("trace", false, "write a JSONL audit trail for each run")
	fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(os.Args[1:])
	if v, _ := fs.GetBool("version"); v {
		fmt.Printf("memex-mcp %s\n", version)
		return nil
	}

	// Logs go to stderr; stdout carries the protocol.
	opts := config.Options{File: *cfgFile, Flags: fs}
	cfg, err := config.Load(opts)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	svc, err := service.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	logger.Info("mcp server starting", zap.String("version", version), zap.String("vault", cfg.Vault))
	return server.ServeStdio(gmcp.NewServer(version, svc))
}
