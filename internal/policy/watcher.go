package policy

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const debounceInterval = 500 * time.Millisecond

type ChangeHandler func(path string)

type FileWatcher struct {
	watcher *fsnotify.Watcher
	dir     string
	handler ChangeHandler
	done    chan struct{}

	mu      sync.Mutex
	pending *time.Timer
	last    string
}

func NewFileWatcher(dir string, handler ChangeHandler) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch directory: %w", err)
	}

	fw := &FileWatcher{
		watcher: watcher,
		dir:     dir,
		handler: handler,
		done:    make(chan struct{}),
	}

	go fw.watch()

	return fw, nil
}

func (fw *FileWatcher) Close() error {
	close(fw.done)

	fw.mu.Lock()
	if fw.pending != nil {
		fw.pending.Stop()
	}
	fw.mu.Unlock()

	return fw.watcher.Close()
}

func (fw *FileWatcher) watch() {
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if fw.shouldHandle(event) {
				fw.schedule(event.Name)
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("watcher error")

		case <-fw.done:
			return
		}
	}
}

// schedule collapses a burst of editor writes into one reload.
func (fw *FileWatcher) schedule(path string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	fw.last = path
	if fw.pending != nil {
		fw.pending.Reset(debounceInterval)
		return
	}

	fw.pending = time.AfterFunc(debounceInterval, func() {
		fw.mu.Lock()
		p := fw.last
		fw.pending = nil
		fw.mu.Unlock()

		select {
		case <-fw.done:
			return
		default:
		}
		fw.handler(p)
	})
}

func (fw *FileWatcher) shouldHandle(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}

	ext := strings.ToLower(filepath.Ext(event.Name))
	return ext == ".yaml" || ext == ".yml"
}
