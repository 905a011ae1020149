// Copyright (C) 2023 Gobalsky Labs Limited
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"code.icreplica.io/replica/logging"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
)

const namedLogger = "cfgwatcher"

// Watcher reloads the configuration file whenever it changes and hands the
// new configuration to the registered listeners.
type Watcher struct {
	log      *logging.Logger
	rootPath string
	path     string

	mu                 sync.Mutex
	cfg                Config
	cfgUpdateListeners []func(Config)
}

// NewWatcher loads the configuration file under rootPath and watches it
// until ctx is done.
func NewWatcher(ctx context.Context, log *logging.Logger, rootPath string) (*Watcher, error) {
	watcherlog := log.Named(namedLogger)
	// configuration changes are always worth a line in the logs
	watcherlog.SetLevel(logging.DebugLevel)
	w := &Watcher{
		log:      watcherlog,
		rootPath: rootPath,
		path:     Path(rootPath),
		cfg:      NewDefaultConfig(rootPath),
	}

	if err := w.load(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// editors replace the file, so the directory is watched
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return nil, err
	}

	w.log.Info("config watcher started successfully",
		logging.String("config", w.path))

	go w.watch(ctx, watcher)

	return w, nil
}

// Get return the last update of the configuration
func (w *Watcher) Get() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// OnConfigUpdate register a function to be called when the configuration is getting updated
func (w *Watcher) OnConfigUpdate(fns ...func(Config)) {
	w.mu.Lock()
	w.cfgUpdateListeners = append(w.cfgUpdateListeners, fns...)
	w.mu.Unlock()
}

func (w *Watcher) load() error {
	cfg := NewDefaultConfig(w.rootPath)
	if _, err := toml.DecodeFile(w.path, &cfg); err != nil {
		return err
	}
	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()
	return nil
}

func (w *Watcher) notify() {
	w.mu.Lock()
	cfg := w.cfg
	listeners := append([]func(Config){}, w.cfgUpdateListeners...)
	w.mu.Unlock()
	for _, f := range listeners {
		f(cfg)
	}
}

func (w *Watcher) watch(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if event.Has(fsnotify.Rename) || event.Has(fsnotify.Create) {
				// the new file may not be complete yet
				time.Sleep(50 * time.Millisecond)
			}
			w.log.Info("configuration updated", logging.String("event", event.Name))
			if err := w.load(); err != nil {
				w.log.Error("unable to load configuration", logging.Error(err))
				continue
			}
			w.notify()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("config watcher received error event", logging.Error(err))
		case <-ctx.Done():
			w.log.Debug("config watcher stopped")
			return
		}
	}
}
