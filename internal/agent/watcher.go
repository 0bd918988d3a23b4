package agent

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"deskd/internal/logging"
)

// DefinitionWatcher watches the trusted definitions directory and evicts a
// cached compiled instance when its file changes, so the next resolution
// recompiles against the new text.
type DefinitionWatcher struct {
	watcher *fsnotify.Watcher
	loader  *Loader
	dir     string
	log     *zap.Logger

	mu       sync.Mutex
	debounce map[string]time.Time
	window   time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewDefinitionWatcher creates a watcher over the loader's definitions
// directory. Call Start to begin watching and Stop to shut down.
func NewDefinitionWatcher(loader *Loader, dir string) (*DefinitionWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &DefinitionWatcher{
		watcher:  fw,
		loader:   loader,
		dir:      dir,
		log:      logging.Named("agents"),
		debounce: make(map[string]time.Time),
		window:   250 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. A missing directory is not fatal; definitions may
// appear later, but then a restart is needed to pick up the directory.
func (w *DefinitionWatcher) Start() error {
	if err := w.watcher.Add(w.dir); err != nil {
		w.log.Warn("definitions directory not watchable", zap.String("dir", w.dir), zap.Error(err))
		close(w.doneCh)
		return nil
	}

	go w.loop()
	return nil
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *DefinitionWatcher) Stop() {
	close(w.stopCh)
	_ = w.watcher.Close()
	<-w.doneCh
}

func (w *DefinitionWatcher) loop() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("definitions watcher error", zap.Error(err))
		}
	}
}

func (w *DefinitionWatcher) handle(event fsnotify.Event) {
	ext := filepath.Ext(event.Name)
	if ext != ".yaml" && ext != ".yml" {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	name := strings.TrimSuffix(filepath.Base(event.Name), ext)

	w.mu.Lock()
	last := w.debounce[name]
	now := time.Now()
	w.debounce[name] = now
	w.mu.Unlock()
	if now.Sub(last) < w.window {
		return
	}

	w.loader.Evict(name)
}
