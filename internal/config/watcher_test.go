package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/parlance-dev/parlance/internal/config"
)

const watcherInitialYAML = `
server:
  log_level: info
lexicon:
  vocabulary: [docker]
`

const watcherUpdatedYAML = `
server:
  log_level: debug
lexicon:
  vocabulary: [docker, kubectl]
`

const watcherBrokenYAML = `
server:
  log_level: extremely-loud
`

// writeConfigFile writes content to path with an mtime bump so the watcher's
// cheap stat check notices the change even on coarse filesystem clocks.
func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("bump mtime: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "parlance.yaml")
	writeConfigFile(t, path, watcherInitialYAML)

	w, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("initial log_level = %q; want info", got)
	}
}

func TestWatcher_InitialLoadFailure(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "parlance.yaml")
	writeConfigFile(t, path, watcherBrokenYAML)

	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("NewWatcher should fail on an invalid initial config")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "parlance.yaml")
	writeConfigFile(t, path, watcherInitialYAML)

	var (
		mu      sync.Mutex
		changes []config.ChangeSet
	)
	onChange := func(c config.ChangeSet, _ *config.Config) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	}

	w, err := config.NewWatcher(path, onChange, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfigFile(t, path, watcherUpdatedYAML)

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(changes)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher never reported the change")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	got := changes[0]
	mu.Unlock()

	if !got.LogLevelChanged || got.NewLogLevel != config.LogDebug {
		t.Errorf("ChangeSet = %+v; want log level change to debug", got)
	}
	if !got.VocabularyChanged || len(got.NewVocabulary) != 2 {
		t.Errorf("ChangeSet = %+v; want vocabulary change", got)
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current log_level = %q; want debug", got)
	}
}

func TestWatcher_KeepsPreviousOnInvalidUpdate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "parlance.yaml")
	writeConfigFile(t, path, watcherInitialYAML)

	w, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfigFile(t, path, watcherBrokenYAML)
	time.Sleep(100 * time.Millisecond)

	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current log_level = %q; want previous value info", got)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "parlance.yaml")
	writeConfigFile(t, path, watcherInitialYAML)

	w, err := config.NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Stop()
	w.Stop()
}
