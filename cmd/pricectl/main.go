// Repricer - Rule-based marketplace price automation.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/repricer/internal/config"
	"github.com/opensource-finance/repricer/internal/domain"
	"github.com/opensource-finance/repricer/internal/repository"
	"github.com/opensource-finance/repricer/internal/rules"
)

// defaultSeller is used when neither --seller nor default_seller_id is set.
const defaultSeller = "default"

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	dbPath     string
	sellerID   string
	format     string
	verbose    bool
}

// app is the local stack a command runs against: sqlite, no cache, no bus.
type app struct {
	cfg      *domain.Config
	repo     *repository.SQLRepository
	engine   *rules.Engine
	sellerID string
}

func (a *app) Close() error {
	return a.repo.Close()
}

func openApp(opts *options, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	slog.SetDefault(config.NewLogger(domain.LoggingConfig{Level: level, Format: "text"}, stderr))

	cfg.Repository.Driver = "sqlite"
	if opts.dbPath != "" {
		cfg.Repository.SQLitePath = opts.dbPath
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Repository.SQLitePath, err)
	}

	engine, err := rules.NewEngine(rules.Deps{
		Catalog: repo,
		Feed:    repo,
		Rules:   repo,
		Logs:    repo,
	}, cfg.Engine)
	if err != nil {
		repo.Close()
		return nil, err
	}

	sellerID := opts.sellerID
	if sellerID == "" {
		sellerID = cfg.DefaultSellerID
	}
	if sellerID == "" {
		sellerID = defaultSeller
	}

	return &app{cfg: cfg, repo: repo, engine: engine, sellerID: sellerID}, nil
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "pricectl",
		Short: "Manage pricing rules against a local repricer database",
		Long: `pricectl imports catalog and competitor data, manages pricing rules and
runs simulations or live executions against a local SQLite database.

Examples:
  pricectl products load catalog.json
  pricectl import competitors.csv
  pricectl rules add undercut.json
  pricectl simulate <rule-id>
  pricectl run-all --due`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to repricer.yaml")
	flags.StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides config)")
	flags.StringVar(&opts.sellerID, "seller", "", "Seller ID (defaults to default_seller_id)")
	flags.StringVar(&opts.format, "format", "table", "Output format: table, json")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging to stderr")

	root.AddCommand(importCmd(opts))
	root.AddCommand(productsCmd(opts))
	root.AddCommand(rulesCmd(opts))
	root.AddCommand(simulateCmd(opts))
	root.AddCommand(executeCmd(opts))
	root.AddCommand(runAllCmd(opts))
	root.AddCommand(logsCmd(opts))

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
