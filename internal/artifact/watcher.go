package artifact

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce batches the burst of events an editor or exporter emits
// for one logical write.
const DefaultDebounce = 500 * time.Millisecond

// Watcher triggers onChange after JSON artifacts under the cache root
// change on disk. It complements the periodic mtime check.
type Watcher struct {
	dirs     []string
	debounce time.Duration
	onChange func()
	logger   *zap.Logger
}

func NewWatcher(root string, debounce time.Duration, onChange func(), logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		dirs: []string{
			filepath.Join(root, ModelsDir),
			filepath.Join(root, CognitionDir),
			filepath.Join(root, KnowledgeDir),
			filepath.Join(root, KnowledgeDir, ActionsDir),
		},
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
	}
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	for _, dir := range w.dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			w.logger.Warn("create artifact dir", zap.String("dir", dir), zap.Error(err))
			continue
		}
		if err := fw.Add(dir); err != nil {
			w.logger.Warn("watch artifact dir", zap.String("dir", dir), zap.Error(err))
		}
	}
	w.logger.Debug("watching artifacts", zap.Strings("dirs", w.dirs))

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			w.logger.Debug("artifact event", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("artifact watcher error", zap.Error(err))
		case <-timer.C:
			if w.onChange != nil {
				w.onChange()
			}
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if !strings.HasSuffix(ev.Name, ".json") {
		return false
	}
	return ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}
