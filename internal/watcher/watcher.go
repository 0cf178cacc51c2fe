// Package watcher watches the configuration file and triggers hot reloads.
// It supports cross-platform fsnotify event handling.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/loLollipop/refresh-token-got-it/internal/config"
	log "github.com/sirupsen/logrus"
)

const configReloadDebounce = 150 * time.Millisecond

// Watcher reloads the configuration file when its content changes.
type Watcher struct {
	configPath        string
	config            *config.Config
	mu                sync.RWMutex
	configReloadMu    sync.Mutex
	configReloadTimer *time.Timer
	reloadCallback    func(*config.Config)
	watcher           *fsnotify.Watcher
	lastConfigHash    string
	debounce          time.Duration
	started           atomic.Bool
	done              chan struct{}
}

// NewWatcher creates a watcher for configPath. reloadCallback receives every
// successfully parsed configuration that differs from the previous one.
func NewWatcher(configPath string, reloadCallback func(*config.Config)) (*Watcher, error) {
	absPath, errAbs := filepath.Abs(configPath)
	if errAbs != nil {
		return nil, errAbs
	}
	watcher, errNewWatcher := fsnotify.NewWatcher()
	if errNewWatcher != nil {
		return nil, errNewWatcher
	}
	return &Watcher{
		configPath:     absPath,
		reloadCallback: reloadCallback,
		watcher:        watcher,
		debounce:       configReloadDebounce,
		done:           make(chan struct{}),
	}, nil
}

// Start begins watching. The parent directory is watched so editors that
// replace the file atomically are still observed.
func (w *Watcher) Start(ctx context.Context) error {
	w.rememberCurrentHash()

	dir := filepath.Dir(w.configPath)
	if errAdd := w.watcher.Add(dir); errAdd != nil {
		log.Errorf("failed to watch config directory %s: %v", dir, errAdd)
		return errAdd
	}
	log.Debugf("watching config file: %s", w.configPath)

	w.started.Store(true)
	go w.processEvents(ctx)
	return nil
}

// Stop stops the file watcher.
func (w *Watcher) Stop() error {
	w.stopConfigReloadTimer()
	err := w.watcher.Close()
	if w.started.Load() {
		<-w.done
	}
	return err
}

// SetConfig records the configuration currently in effect.
func (w *Watcher) SetConfig(cfg *config.Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.config = cfg
}

// Config returns the configuration currently in effect.
func (w *Watcher) Config() *config.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}
