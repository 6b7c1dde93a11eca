package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "engine:\n  default_max_turns: 10\n")

	reloaded := make(chan *Config, 4)
	w := NewWatcher(path, func(cfg *Config, err error) {
		if err == nil {
			reloaded <- cfg
		}
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("engine:\n  default_max_turns: 20\n"), 0o600))

	select {
	case cfg := <-reloaded:
		require.Equal(t, 20, cfg.Engine.DefaultMaxTurns)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
