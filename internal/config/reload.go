package config

import (
	"sync"
	"time"

	"os"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"fetchbroker/pkg/logger"
)

// override mirrors the subset of Tunables an operator may reasonably want
// to change without a rebuild. Absent fields keep their current value
// (Default() unless an earlier reload overrode them); the registry's shape (sessions, URLs, headers) is never part of
// this file.
type override struct {
	UpdateIntervalMinutes  *int    `yaml:"update_interval_minutes"`
	ServingPoolSize        *int    `yaml:"serving_pool_size"`
	ListenAddr             *string `yaml:"listen_addr"`
	ServingPoolIdleSeconds *int    `yaml:"serving_pool_idle_seconds"`
	RPCWorkers             *int    `yaml:"rpc_workers"`
}

// Watcher holds the live Tunables value, refreshed from an optional YAML
// file. Absence of the file is not an error - Default() applies.
type Watcher struct {
	mu   sync.RWMutex
	cur  Tunables
	path string
	log  *logger.Logger
}

// NewWatcher loads path once (if present) and starts watching it for
// changes via fsnotify. path may not exist; that is not an error.
func NewWatcher(path string) (*Watcher, error) {
	w := &Watcher{
		cur:  Default(),
		path: path,
		log:  logger.Default().With(zap.String("component", "config")),
	}
	w.reload()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return w, nil // hot-reload is best-effort; defaults still apply
	}
	dir := parentDir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return w, nil
	}
	go w.watchLoop(watcher)
	return w, nil
}

// Get returns the current Tunables snapshot.
func (w *Watcher) Get() Tunables {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

func (w *Watcher) watchLoop(watcher *fsnotify.Watcher) {
	defer watcher.Close()
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Name == w.path && (ev.Op&(fsnotify.Write|fsnotify.Create) != 0) {
				w.reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return // missing file: keep current/default tunables
	}
	var ov override
	if err := yaml.Unmarshal(data, &ov); err != nil {
		w.log.Warn("invalid config.yaml, keeping previous tunables", zap.Error(err))
		return
	}

	next := w.Get()
	if ov.UpdateIntervalMinutes != nil {
		next.UpdateInterval = time.Duration(*ov.UpdateIntervalMinutes) * time.Minute
	}
	if ov.ServingPoolSize != nil {
		next.ServingPoolSize = *ov.ServingPoolSize
	}
	if ov.ListenAddr != nil {
		next.ListenAddr = *ov.ListenAddr
	}
	if ov.ServingPoolIdleSeconds != nil {
		next.ServingPoolIdleTimeout = time.Duration(*ov.ServingPoolIdleSeconds) * time.Second
	}
	if ov.RPCWorkers != nil {
		next.RPCWorkers = *ov.RPCWorkers
	}

	w.mu.Lock()
	w.cur = next
	w.mu.Unlock()
	w.log.Info("config reloaded")
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
