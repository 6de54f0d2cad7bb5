package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultsManager holds the server default configuration tree and hot-reloads
// it when the backing file changes. Reads are lock-free copies; the tree a
// workflow captures at start is never swapped out from under it.
type DefaultsManager struct {
	path    string
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	stopCh  chan struct{}

	mu   sync.RWMutex
	tree Tree
}

// NewDefaultsManager loads the defaults file and prepares a watcher for it.
func NewDefaultsManager(path string, logger *zap.Logger) (*DefaultsManager, error) {
	tree, err := LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &DefaultsManager{
		path:    path,
		logger:  logger,
		watcher: watcher,
		stopCh:  make(chan struct{}),
		tree:    tree,
	}, nil
}

// Snapshot returns a deep copy of the current defaults tree.
func (m *DefaultsManager) Snapshot() Tree {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Clone()
}

// Start begins watching the defaults file for changes.
func (m *DefaultsManager) Start(ctx context.Context) error {
	// Watch the directory, not the file: editors replace files by rename,
	// which drops a direct file watch.
	if err := m.watcher.Add(filepath.Dir(m.path)); err != nil {
		return fmt.Errorf("watch defaults dir: %w", err)
	}
	go m.watchLoop(ctx)
	return nil
}

// Stop terminates the watch loop.
func (m *DefaultsManager) Stop() {
	close(m.stopCh)
	_ = m.watcher.Close()
}

func (m *DefaultsManager) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			m.reload()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("Defaults watcher error", zap.Error(err))
		}
	}
}

func (m *DefaultsManager) reload() {
	tree, err := LoadFile(m.path)
	if err != nil {
		// Keep serving the last good tree.
		m.logger.Warn("Defaults reload failed, keeping previous configuration",
			zap.String("path", m.path),
			zap.Error(err),
		)
		return
	}
	m.mu.Lock()
	m.tree = tree
	m.mu.Unlock()
	m.logger.Info("Defaults reloaded", zap.String("path", m.path))
}
