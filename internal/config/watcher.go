package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultWatchInterval is how often [Watcher.Run] re-reads the file.
const DefaultWatchInterval = 5 * time.Second

// ChangeFunc receives every accepted reload. diff is Diff(old, new).
type ChangeFunc func(old, new *Config, diff ConfigDiff)

// Watcher reloads a config file whenever its content hash changes. Invalid
// revisions are logged and ignored; the last valid config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	clock    clock.Clock
	onChange ChangeFunc
	kick     chan struct{}

	mu      sync.Mutex
	current *Config
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides [DefaultWatchInterval]. Non-positive values are
// ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchClock drives the poll ticker from c.
func WithWatchClock(c clock.Clock) WatcherOption {
	return func(w *Watcher) { w.clock = c }
}

// NewWatcher loads path once and fails if that first revision is unreadable
// or invalid. Polling starts with [Watcher.Run].
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		clock:    clock.New(),
		onChange: onChange,
		kick:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, sum, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.sum = cfg, sum
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Trigger asks a running watcher to reload now, e.g. on SIGHUP. It never
// blocks; triggers arriving while one is pending are merged.
func (w *Watcher) Trigger() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Run polls until ctx is done and then returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	t := w.clock.Ticker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		case <-w.kick:
		}
		if _, err := w.Reload(); err != nil {
			slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		}
	}
}

// Reload reads the file once. It reports whether a new revision was
// accepted, in which case the change callback has already run.
func (w *Watcher) Reload() (bool, error) {
	cfg, sum, err := w.read()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	if sum == w.sum {
		w.mu.Unlock()
		return false, nil
	}
	old := w.current
	w.current, w.sum = cfg, sum
	w.mu.Unlock()

	diff := Diff(old, cfg)
	slog.Info("config watcher: reloaded",
		"path", w.path,
		"sha256", fmt.Sprintf("%x", sum[:6]),
		"hot_reloadable", diff.HotReloadable(),
		"restart_required", diff.RestartRequired,
	)
	// Outside the lock so the callback may call Current.
	if w.onChange != nil {
		w.onChange(old, cfg, diff)
	}
	return true, nil
}

func (w *Watcher) read() (*Config, [sha256.Size]byte, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, [sha256.Size]byte{}, errors.New("config file is empty")
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	return cfg, sha256.Sum256(data), nil
}
