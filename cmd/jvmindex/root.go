// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/jvmindex/pkg/logging"
	"github.com/AleutianAI/jvmindex/pkg/ux"
	"github.com/AleutianAI/jvmindex/services/jvmindex/config"
	"github.com/AleutianAI/jvmindex/services/jvmindex/index"
	"github.com/AleutianAI/jvmindex/services/jvmindex/jobs"
	"github.com/AleutianAI/jvmindex/services/jvmindex/query"
	"github.com/AleutianAI/jvmindex/services/jvmindex/telemetry"
)

// --- Global Flags ---
var (
	configPath string
	indexDir   string
	backend    string
	logLevel   string
	workers    int

	rootCmd = &cobra.Command{
		Use:   "jvmindex",
		Short: "Index JVM class archives and query their lifted bytecode",
		Long: `jvmindex reads jar files and class directories, lifts every method
into a stack-free instruction form and keeps the result in a persistent
index so later queries skip the parsing work.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default ~/.jvmindex/config.yaml)")
	flags.StringVar(&indexDir, "index-dir", "", "index directory")
	flags.StringVar(&backend, "backend", "", "index backend: badger or sqlite")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.IntVar(&workers, "workers", 0, "concurrent indexing jobs")

	rootCmd.AddCommand(indexCmd, inspectCmd, serveCmd, pruneCmd)
}

// loadConfig reads the configuration and applies the flags that were set
// on the command line.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path := configPath
	loader := config.NewLoader(path)
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return config.Config{}, err
		}
		loader = config.NewLoader(p).CreateIfMissing(cmd.ErrOrStderr())
	}

	flags := cmd.Flags()
	if flags.Changed("index-dir") {
		loader.Set("index.dir", indexDir)
	}
	if flags.Changed("backend") {
		loader.Set("index.backend", backend)
	}
	if flags.Changed("log-level") {
		loader.Set("log.level", logLevel)
	}
	if flags.Changed("workers") {
		loader.Set("jobs.workers", workers)
	}
	return loader.Load()
}

// app holds the long-lived components a command works with.
type app struct {
	cfg    config.Config
	logger *logging.Logger
	idx    *index.Index
	sched  *jobs.Scheduler
	engine *query.Engine

	shutdownTelemetry func(context.Context) error
}

// newApp wires logging, telemetry, the index, the scheduler and the
// engine from cfg. background overrides cfg.Jobs.Background.
func newApp(ctx context.Context, cfg config.Config, background bool) (*app, error) {
	logger := logging.New(cfg.Log.LoggingConfig())
	a := &app{cfg: cfg, logger: logger}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Warn("telemetry disabled", "error", err.Error())
		shutdown = func(context.Context) error { return nil }
	}
	a.shutdownTelemetry = shutdown

	slogger := logger.Slog()
	store, err := index.OpenStore(cfg.Index.StoreConfig(slogger))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("opening index: %w", err)
	}
	a.idx = index.New(store, index.WithLogger(slogger))
	a.sched = jobs.New(cfg.Jobs.SchedulerConfig(slogger))
	a.engine = query.NewEngine(a.idx, a.sched,
		query.WithLogger(slogger),
		query.WithBackgroundIndexing(background))
	return a, nil
}

// close tears the components down in reverse order of creation.
func (a *app) close() error {
	var errs []error
	if a.engine != nil {
		errs = append(errs, a.engine.Close())
	}
	if a.sched != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		errs = append(errs, a.sched.Close(ctx))
		cancel()
	}
	if a.idx != nil {
		errs = append(errs, a.idx.Close())
	}
	if a.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.shutdownTelemetry(ctx))
		cancel()
	}
	errs = append(errs, a.logger.Close())
	return errors.Join(errs...)
}

// setup loads the configuration and builds the app for cmd.
func setup(cmd *cobra.Command, background bool) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, background)
}

// newPrinter styles output only when cmd writes to a terminal.
func newPrinter(cmd *cobra.Command) *ux.Printer {
	out := cmd.OutOrStdout()
	plain := true
	if f, ok := out.(*os.File); ok {
		plain = !ux.IsTerminal(f)
	}
	return ux.NewPrinter(out, cmd.ErrOrStderr(), plain)
}
