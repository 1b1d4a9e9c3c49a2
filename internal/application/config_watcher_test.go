package application

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, path string) <-chan Config {
	t.Helper()
	changes := make(chan Config, 64)
	w := &ConfigWatcher{
		Path:     path,
		Debounce: 50 * time.Millisecond,
		OnChange: func(c Config) {
			select {
			case changes <- c:
			default:
			}
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return changes
}

// writeUntil rewrites path until the watcher reports a config matching ok.
// Rewriting covers the window before the watch is registered.
func writeUntil(t *testing.T, path, doc string, changes <-chan Config, ok func(Config) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
			return false
		}
		select {
		case c := <-changes:
			return ok(c)
		case <-time.After(300 * time.Millisecond):
			return false
		}
	}, 10*time.Second, 10*time.Millisecond)
}

// settle waits out reloads triggered by earlier rewrites and drains them.
func settle(changes <-chan Config) {
	time.Sleep(500 * time.Millisecond)
	for len(changes) > 0 {
		<-changes
	}
}

func TestConfigWatcher_Reloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600))
	changes := startWatcher(t, path)

	writeUntil(t, path, "logging:\n  level: debug\n", changes, func(c Config) bool {
		return c.Logging.Level == "debug"
	})
}

// TestConfigWatcher_SkipsInvalid tests that a broken edit is not delivered
// and a later valid one is.
func TestConfigWatcher_SkipsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600))
	changes := startWatcher(t, path)

	writeUntil(t, path, "logging:\n  level: warn\n", changes, func(c Config) bool {
		return c.Logging.Level == "warn"
	})
	settle(changes)

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o600))
	select {
	case c := <-changes:
		t.Fatalf("invalid config delivered: %+v", c.Logging)
	case <-time.After(400 * time.Millisecond):
	}

	writeUntil(t, path, "logging:\n  level: error\n", changes, func(c Config) bool {
		return c.Logging.Level == "error"
	})
}

// TestConfigWatcher_IgnoresSiblings tests that other files in the directory
// do not trigger a reload.
func TestConfigWatcher_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trust.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600))
	changes := startWatcher(t, path)

	writeUntil(t, path, "logging:\n  level: debug\n", changes, func(c Config) bool {
		return c.Logging.Level == "debug"
	})
	settle(changes)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o600))
	select {
	case <-changes:
		t.Fatal("sibling file triggered a reload")
	case <-time.After(400 * time.Millisecond):
	}
}

func TestConfigWatcher_Errors(t *testing.T) {
	w := &ConfigWatcher{Path: "trust.yaml"}
	assert.Error(t, w.Run(context.Background()), "OnChange is required")

	w = &ConfigWatcher{Path: filepath.Join(t.TempDir(), "missing", "trust.yaml"), OnChange: func(Config) {}}
	assert.Error(t, w.Run(context.Background()), "the parent directory must exist")
}
