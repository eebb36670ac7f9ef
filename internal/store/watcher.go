package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ReloadCallback is called with the freshly read account list whenever the
// store file changes on disk.
type ReloadCallback func([]Source)

// ErrWatcherClosed is returned when an operation is attempted on a closed watcher.
var ErrWatcherClosed = errors.New("store: watcher already closed")

// Watcher monitors the credential store file and notifies callbacks when the
// hosting application rewrites it. It debounces rapid changes and watches the
// parent directory so the temp file + rename write pattern is detected.
type Watcher struct {
	store         *FileStore
	fsWatcher     *fsnotify.Watcher
	cancel        context.CancelFunc
	ctx           context.Context
	callbacks     []ReloadCallback
	debounceDelay time.Duration
	mu            sync.RWMutex
	closed        bool
}

// NewWatcher creates a watcher over the store's backing file.
func NewWatcher(fileStore *FileStore) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		store:         fileStore,
		fsWatcher:     fsWatcher,
		debounceDelay: 100 * time.Millisecond,
		ctx:           ctx,
		cancel:        cancel,
	}

	dir := filepath.Dir(fileStore.Path())
	if err := fsWatcher.Add(dir); err != nil {
		if closeErr := fsWatcher.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to close watcher after add failure")
		}
		cancel()
		return nil, err
	}

	return w, nil
}

// OnReload registers a callback invoked after each successful re-read of the
// store file. Callbacks run in registration order.
func (w *Watcher) OnReload(cb ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Watch blocks until ctx is canceled, dispatching debounced reloads as the
// store file changes. Only Write and Create events are processed.
func (w *Watcher) Watch(ctx context.Context) error {
	var (
		timer      *time.Timer
		timerMu    sync.Mutex
		targetFile = filepath.Base(w.store.Path())
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != targetFile {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounceDelay, func() {
				select {
				case <-w.ctx.Done():
					return
				default:
				}
				w.triggerReload()
			})
			timerMu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("store watcher error")
		}
	}
}

func (w *Watcher) triggerReload() {
	sources, err := w.store.ListAccounts(w.ctx)
	if err != nil {
		log.Error().
			Err(err).
			Str("path", w.store.Path()).
			Msg("failed to reload account store")
		return
	}

	log.Info().
		Str("path", w.store.Path()).
		Int("num_accounts", len(sources)).
		Msg("account store file reloaded")

	w.mu.RLock()
	callbacks := make([]ReloadCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, cb := range callbacks {
		cb(sources)
	}
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	w.closed = true
	w.cancel()
	return w.fsWatcher.Close()
}
