package config

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// replaceFile swaps content in with a rename, the way most editors save.
func replaceFile(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0600))
	require.NoError(t, os.Rename(tmp, path))
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "logging:\n  level: info\n", 0600)

	w, err := NewWatcher(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	var (
		mu     sync.Mutex
		levels []string
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx, func(cfg *Config) {
		mu.Lock()
		levels = append(levels, cfg.Logging.Level)
		mu.Unlock()
	})

	replaceFile(t, path, "logging:\n  format: xml\n")
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, levels, "invalid edits are not delivered")
	mu.Unlock()

	replaceFile(t, path, "logging:\n  level: debug\n")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(levels) > 0 && levels[len(levels)-1] == "debug"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewWatcher_MissingDirectory(t *testing.T) {
	_, err := NewWatcher("/nonexistent/nudged/config.yaml", nil)
	assert.ErrorIs(t, err, ErrWatcherFailed)
}
