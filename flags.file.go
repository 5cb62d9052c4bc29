package gourdiansession

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const defaultReloadDelay = 500 * time.Millisecond

// FlagFile loads model flags from a YAML document of the form
//
//	CHAT_MODEL: true
//	research_model: "yes"
//
// into a FlagStore, and can keep the store in sync while the file changes.
type FlagFile struct {
	path   string
	store  FlagStore
	logger *slog.Logger

	// ReloadDelay coalesces bursts of filesystem events into one reload.
	ReloadDelay time.Duration

	mu       sync.Mutex
	onReload func(map[string]bool, error)
	// written holds the keys the last successful Load put in the store.
	written map[string]bool
}

func NewFlagFile(path string, store FlagStore, logger *slog.Logger) *FlagFile {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FlagFile{
		path:        path,
		store:       store,
		logger:      logger,
		ReloadDelay: defaultReloadDelay,
	}
}

// OnReload registers a callback invoked after every reload attempt.
func (f *FlagFile) OnReload(fn func(map[string]bool, error)) {
	f.mu.Lock()
	f.onReload = fn
	f.mu.Unlock()
}

// Load reads the file once and writes every entry to the store. Keys an
// earlier Load wrote that are gone from the file are reset to false; keys
// set by other sources are left alone.
func (f *FlagFile) Load(ctx context.Context) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flag file: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse flag file: %w", err)
	}

	loaded := make(map[string]bool, len(doc))
	for model, raw := range doc {
		compatible := ParseFlagValue(fmt.Sprint(raw))
		if err := f.store.Set(ctx, model, compatible); err != nil {
			return nil, err
		}
		loaded[FlagKey(model)] = compatible
	}

	if err := f.clearRemoved(ctx, loaded); err != nil {
		return nil, err
	}
	f.written = loaded
	return loaded, nil
}

// clearRemoved must be called with f.mu held.
func (f *FlagFile) clearRemoved(ctx context.Context, loaded map[string]bool) error {
	if len(f.written) == 0 {
		return nil
	}
	current, err := f.store.All(ctx)
	if err != nil {
		return err
	}
	for key := range f.written {
		if _, still := loaded[key]; still || !current[key] {
			continue
		}
		if err := f.store.Set(ctx, key, false); err != nil {
			return err
		}
		f.logger.Debug("flag removed from file", "key", key)
	}
	return nil
}

// Watch reloads the file whenever it is written, created or replaced, until
// ctx is cancelled. The parent directory is watched so editors that rename
// over the file are still seen.
func (f *FlagFile) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(f.path), err)
	}

	reload := make(chan struct{}, 1)
	go f.handleEvents(ctx, watcher, reload)
	go f.scheduleReload(ctx, reload)
	return nil
}

func (f *FlagFile) handleEvents(ctx context.Context, watcher *fsnotify.Watcher, reload chan<- struct{}) {
	defer watcher.Close()
	target := filepath.Clean(f.path)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				select {
				case reload <- struct{}{}:
				default:
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("flag file watcher error", "error", err)
		}
	}
}

func (f *FlagFile) scheduleReload(ctx context.Context, reload <-chan struct{}) {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-reload:
			if timer != nil {
				timer.Reset(f.ReloadDelay)
			} else {
				timer = time.NewTimer(f.ReloadDelay)
				fire = timer.C
			}
		case <-fire:
			fire = nil
			timer = nil

			loaded, err := f.Load(ctx)
			if err != nil {
				f.logger.Warn("flag file reload failed", "path", f.path, "error", err)
			} else {
				f.logger.Info("flag file reloaded", "path", f.path, "flags", len(loaded))
			}

			f.mu.Lock()
			fn := f.onReload
			f.mu.Unlock()
			if fn != nil {
				fn(loaded, err)
			}
		}
	}
}
