package crm

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// CampaignWatcher serves campaign tables loaded from a file and swaps in a
// fresh snapshot whenever the file changes. A file that fails to parse is
// logged and the previous snapshot stays in effect.
type CampaignWatcher struct {
	path    string
	logger  *zap.Logger
	current atomic.Pointer[CampaignTables]
	reloads atomic.Int64
}

var _ CampaignSource = (*CampaignWatcher)(nil)

func NewCampaignWatcher(path string, logger *zap.Logger) (*CampaignWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path = filepath.Clean(path)
	tables, err := LoadCampaignTables(path)
	if err != nil {
		return nil, err
	}
	w := &CampaignWatcher{path: path, logger: logger}
	w.current.Store(tables)
	return w, nil
}

func (w *CampaignWatcher) Current() *CampaignTables {
	return w.current.Load()
}

// Reloads counts successful reloads after the initial load.
func (w *CampaignWatcher) Reloads() int64 {
	return w.reloads.Load()
}

// Reload re-reads the file immediately.
func (w *CampaignWatcher) Reload() error {
	tables, err := LoadCampaignTables(w.path)
	if err != nil {
		return err
	}
	w.current.Store(tables)
	w.reloads.Add(1)
	codes, categories := tables.Len()
	w.logger.Info("campaign: tables reloaded",
		zap.String("path", w.path),
		zap.Int("codes", codes),
		zap.Int("categories", categories),
		zap.Int64("reloads", w.Reloads()),
	)
	return nil
}

// Watch blocks until ctx is done. The parent directory is watched so that
// editors which replace the file by rename are picked up.
func (w *CampaignWatcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("campaign watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("campaign watcher: watch %s: %w", filepath.Dir(w.path), err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := w.Reload(); err != nil {
				w.logger.Warn("campaign: reload failed, keeping previous tables",
					zap.String("path", w.path),
					zap.Error(err),
				)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("campaign: watcher error", zap.Error(err))
		}
	}
}
