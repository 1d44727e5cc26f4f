// Package envwatch loads a .env file at startup and watches it for
// changes, re-exporting its variables into the process environment on
// write. Only cmd/* launchers call it; library code treats env as
// read-only.
package envwatch

import (
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Load reads path (if it exists) into the process environment. Missing
// files are not an error — env-only deployments never create one.
func Load(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to load .env file")
	}
}

// Watcher reloads path into the process environment whenever it changes
// on disk, logging the reload so operators can correlate config drift
// with subsequent behavior changes.
type Watcher struct {
	fs   *fsnotify.Watcher
	path string
	done chan struct{}
}

// NewWatcher starts watching path's parent directory (fsnotify does not
// support watching a single file across editors that replace-on-save) and
// returns nil, nil if path does not exist.
func NewWatcher(path string) (*Watcher, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := dirOf(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{fs: fsw, path: path, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.fs.Close()
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Name == w.path && (event.Op&(fsnotify.Write|fsnotify.Create) != 0) {
				Load(w.path)
				log.Info().Str("path", w.path).Msg("reloaded .env file")
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("env watcher error")
		case <-w.done:
			return
		}
	}
}

// Stop halts the watcher. Safe to call on a nil Watcher.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	close(w.done)
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
