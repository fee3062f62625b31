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
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/jvmindex/services/jvmindex"
	"github.com/AleutianAI/jvmindex/services/jvmindex/query"
	"github.com/AleutianAI/jvmindex/services/jvmindex/telemetry"
)

var (
	serveAddr  string
	serveWatch bool
	serveDebug bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the query API over HTTP",
	Long: `Starts the HTTP API under /v1/jvmindex and Prometheus metrics under
/metrics. With --watch, archives of open classpaths are re-indexed as soon
as they change on disk.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "re-index archives when they change on disk")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "gin debug mode")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr = serveAddr
	}
	if cmd.Flags().Changed("watch") {
		cfg.Server.Watch = serveWatch
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, cfg.Jobs.Background)
	if err != nil {
		return err
	}
	defer a.close()

	if serveDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.Server.Watch {
		w, err := query.NewWatcher(a.engine, cfg.Server.WatchDebounce)
		if err != nil {
			return fmt.Errorf("starting archive watcher: %w", err)
		}
		w.Start(ctx)
		defer w.Stop()
	}

	metrics := telemetry.MetricsHandler()
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	h := jvmindex.NewHandlers(a.engine, a.idx, a.logger.Slog())
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: jvmindex.NewRouter(h, cfg.Telemetry.ServiceName, metrics),
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("jvmindex server listening",
			"addr", cfg.Server.Addr,
			"backend", cfg.Index.Backend,
			"watch", cfg.Server.Watch)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down jvmindex server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
