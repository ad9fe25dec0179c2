// Package watch provides an optional fsnotify-driven watch mode that keeps
// the Fingerprint Cache honest across a long-lived host process,
// instead of only ever trusting it within one run.
package watch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/PaulM5406/pytest-difftest/internal/fingerprint"
	"github.com/PaulM5406/pytest-difftest/internal/logging"
)

// CacheInvalidator watches a project root for .py file changes and removes
// the corresponding entries from the Fingerprint Cache, so a subsequent
// fingerprint computation re-parses rather than serving a stale cache hit.
type CacheInvalidator struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	cache    *fingerprint.Cache
	root     string
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

// New creates a CacheInvalidator rooted at root, invalidating entries in
// cache as files change.
func New(root string, cache *fingerprint.Cache) (*CacheInvalidator, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &CacheInvalidator{
		watcher: w,
		cache:   cache,
		root:    root,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins watching root recursively in a background goroutine. Safe to
// call once; a second call is a no-op.
func (c *CacheInvalidator) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()

		return nil
	}
	c.running = true
	c.mu.Unlock()

	if err := c.addTree(c.root); err != nil {
		logging.Get(logging.CategoryWatch).Warn("failed to watch %s: %v", c.root, err)
	}

	go c.loop()

	return nil
}

// Stop halts the watcher and releases its resources. Safe to call even if
// Start was never called.
func (c *CacheInvalidator) Stop() {
	c.mu.Lock()
	running := c.running
	c.running = false
	c.mu.Unlock()

	if running {
		close(c.stopCh)
		<-c.doneCh
	}

	_ = c.watcher.Close()
}

func (c *CacheInvalidator) loop() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.stopCh:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}

			c.handle(event)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}

			logging.Get(logging.CategoryWatch).Warn("watch error: %v", err)
		}
	}
}

func (c *CacheInvalidator) handle(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".py") {
		return
	}

	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	c.cache.InvalidatePath(event.Name)
	logging.Get(logging.CategoryWatch).Debug("invalidated cache for %s (%s)", event.Name, event.Op)
}

// addTree adds root and every subdirectory to the watcher, best effort:
// unreadable subtrees are skipped rather than failing the watch.
func (c *CacheInvalidator) addTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort: skip unreadable subtrees
		}

		if info.IsDir() {
			if addErr := c.watcher.Add(path); addErr != nil {
				logging.Get(logging.CategoryWatch).Warn("failed to watch directory %s: %v", path, addErr)
			}
		}

		return nil
	})
}
