/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ConfigWatcher watches the on-disk configuration file for changes and
// invokes a rehash callback, mirroring an operator-issued REHASH without
// requiring one (§9 design note: config should reload without a restart).
// Grounded on server.go's package-level log idiom; this is a new
// subsystem since the teacher has no file-driven configuration at all.
type ConfigWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	log     *logrus.Entry
	onChange func(path string)
	done    chan struct{}
}

// NewConfigWatcher creates a watcher on path. Call Start to begin
// watching; Stop to tear down the underlying inotify/kqueue handle.
func NewConfigWatcher(path string, log *logrus.Entry, onChange func(path string)) (*ConfigWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	return &ConfigWatcher{watcher: w, path: path, log: log, onChange: onChange, done: make(chan struct{})}, nil
}

// Start begins the watch loop in its own goroutine. A write or rename
// event (editors commonly replace-by-rename on save) triggers onChange.
func (cw *ConfigWatcher) Start() {
	go cw.loop()
}

func (cw *ConfigWatcher) loop() {
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Rename|fsnotify.Create) != 0 {
				if cw.log != nil {
					cw.log.WithField("file", event.Name).Info("config file changed, reloading")
				}
				if cw.onChange != nil {
					cw.onChange(cw.path)
				}
				// A rename-replace drops the watch on some platforms;
				// re-add defensively so subsequent saves still fire.
				_ = cw.watcher.Add(cw.path)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			if cw.log != nil {
				cw.log.WithError(err).Error("config watcher error")
			}
		case <-cw.done:
			return
		}
	}
}

// Stop ends the watch loop and releases the underlying OS handle.
func (cw *ConfigWatcher) Stop() {
	close(cw.done)
	cw.watcher.Close()
}
