// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/isboyjc/amux/internal/server"
	"github.com/isboyjc/amux/internal/store"
)

// configWatchInterval is how often the config file's mtime is polled.
const configWatchInterval = 3 * time.Second

// run loads the configuration, starts the gateway, and serves until ctx
// is canceled.
func run(ctx context.Context, c cmdRun, stdout, stderr io.Writer) error {
	level := slog.LevelInfo
	if c.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	s, err := store.Load(c.Config, nil, logger)
	if err != nil {
		return fmt.Errorf("cannot load configuration %q: %w", c.Config, err)
	}

	srv, err := server.New(server.Options{Store: s, Logger: logger})
	if err != nil {
		return fmt.Errorf("cannot build server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(gctx); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "amux listening on %s\n", srv.Addr())
		store.StartWatcher(gctx, s, configWatchInterval)
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(stopCtx)
	})
	return g.Wait()
}
