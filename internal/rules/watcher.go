package rules

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher rebuilds the registry when documents in a directory change and
// publishes each successful build as a new version. A rejected rebuild
// leaves the current version in place.
type Watcher struct {
	dir      string
	holder   *Holder
	logger   *zap.Logger
	debounce time.Duration
	onSwap   func(*Registry)

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher for dir. onSwap, when non-nil, is called after
// each new version is published.
func NewWatcher(dir string, holder *Holder, logger *zap.Logger, debounce time.Duration, onSwap func(*Registry)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		dir:      dir,
		holder:   holder,
		logger:   logger,
		debounce: debounce,
		onSwap:   onSwap,
		watcher:  fw,
	}, nil
}

// Start processes file events until ctx is cancelled. It does not block.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isDocument(ev.Name) || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("rule watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	reg, err := Load(w.dir)
	if err != nil {
		w.logger.Error("rule reload rejected, keeping current version",
			zap.String("version", w.holder.Current().Version()),
			zap.Error(err),
		)
		return
	}
	prev := w.holder.Current().Version()
	w.holder.Replace(reg)
	w.logger.Info("rule registry swapped",
		zap.String("previous", prev),
		zap.String("version", reg.Version()),
		zap.Int("rules", reg.Len()),
	)
	if w.onSwap != nil {
		w.onSwap(reg)
	}
}

func isDocument(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
