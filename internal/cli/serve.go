// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"os"

	"golang.org/x/sync/errgroup"
)

// HandleServe runs the HTTP API until ctx is cancelled, then drains
// in-flight requests for up to server.shutdown_timeout_secs.
func HandleServe(ctx context.Context, args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	logger := newLogger(cfg, os.Stderr)
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("STORE_CLOSE_FAILED", "error", err.Error())
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout())
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	err = g.Wait()

	if path := cfg.Server.StatsPath; path != "" {
		if serr := a.tracker.SaveSnapshot(path); serr != nil {
			logger.Error("STATS_SAVE_FAILED", "path", path, "error", serr.Error())
		} else {
			logger.Info("STATS_SAVED", "path", path)
		}
	}
	return err
}
