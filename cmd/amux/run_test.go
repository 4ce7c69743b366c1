// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// syncBuffer guards the stdout buffer against the run goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func Test_run(t *testing.T) {
	t.Setenv("OTEL_METRICS_EXPORTER", "none")
	path := filepath.Join(t.TempDir(), "amux.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
settings:
  proxy:
    host: 127.0.0.1
    port: 0
providers:
  - id: prov-openai
    adapterType: openai
    apiKey: sk-test
    enabled: true
`), 0o600))

	ctx, cancel := context.WithCancel(t.Context())
	stdout := &syncBuffer{}
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cmdRun{Config: path}, stdout, os.Stderr)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "amux listening on")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func Test_run_badConfig(t *testing.T) {
	err := run(t.Context(), cmdRun{Config: filepath.Join(t.TempDir(), "missing.yaml")}, os.Stdout, os.Stderr)
	require.ErrorContains(t, err, "cannot load configuration")
}
