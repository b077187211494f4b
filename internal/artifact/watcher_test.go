package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestWatcher_TriggersOnJSONWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	fired := make(chan struct{}, 4)
	w := NewWatcher(dir, 20*time.Millisecond, func() { fired <- struct{}{} }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	path := filepath.Join(dir, CognitionDir, policyPriorsFile)
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-fired:
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Run error: %v", err)
			}
			return
		case <-tick.C:
			// The directory is created by Run; keep writing until the watch is live.
			_ = os.WriteFile(path, []byte(`{"priors": {}}`), 0644)
		case <-deadline:
			cancel()
			<-done
			t.Fatal("watcher did not fire")
		}
	}
}

func TestNewWatcher_Defaults(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(dir, 0, nil, nil)
	if w.debounce != DefaultDebounce {
		t.Errorf("debounce = %v, want %v", w.debounce, DefaultDebounce)
	}
	if len(w.dirs) != 4 {
		t.Errorf("dirs = %v", w.dirs)
	}
}
