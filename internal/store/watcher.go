// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package store

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// watcher polls the config file's mtime and reloads the store when it
// moves. Polling keeps the behavior identical across bind mounts and
// editors that replace the file.
type watcher struct {
	store   *Store
	lastMod time.Time
	logger  *slog.Logger
}

// StartWatcher begins polling the store's backing file every tick until
// ctx is canceled. The store must already hold a loaded snapshot.
func StartWatcher(ctx context.Context, s *Store, tick time.Duration) {
	w := &watcher{store: s, logger: s.logger.With(slog.String("loop", "config-watcher"))}
	if st, err := os.Stat(s.path); err == nil {
		w.lastMod = st.ModTime()
	}
	go w.watch(ctx, tick)
}

func (w *watcher) watch(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.check(); err != nil {
				w.logger.Error("failed to reload config", slog.String("error", err.Error()))
			}
		}
	}
}

// check reloads when the file's mtime moved. A reload error keeps the
// previous snapshot serving.
func (w *watcher) check() error {
	st, err := os.Stat(w.store.path)
	if err != nil {
		return err
	}
	if !st.ModTime().After(w.lastMod) {
		return nil
	}
	w.lastMod = st.ModTime()
	w.logger.Info("reloading config", slog.String("path", w.store.path))
	return w.store.Reload()
}
