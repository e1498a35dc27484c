package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats the file.
const DefaultWatchInterval = 5 * time.Second

// fingerprint identifies one version of the file on disk. The mtime is the
// cheap check; the digest filters out saves that did not change content.
type fingerprint struct {
	mod time.Time
	sum [sha256.Size]byte
}

// Watcher polls a config file and hands every valid new version to a
// callback. A version that fails to parse or validate is logged once and
// the previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	current atomic.Pointer[Config]
	seen    fingerprint // owned by the poll goroutine after NewWatcher

	cancel context.CancelFunc
	done   chan struct{}
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

// NewWatcher loads path, which must hold a valid config, and starts polling
// it. onChange runs on the polling goroutine and may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	cfg, sum, err := readVersion(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current.Store(cfg)
	w.seen = fingerprint{mod: info.ModTime(), sum: sum}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)
	return w, nil
}

// Current returns the latest valid config.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Stop ends polling and returns once a running callback has finished. It
// is safe to call more than once.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.reload()
		}
	}
}

// reload picks up the file if its mtime moved since the last look.
func (w *Watcher) reload() {
	log := slog.With("path", w.path)

	info, err := os.Stat(w.path)
	if err != nil {
		log.Warn("config watcher: stat failed", "err", err)
		return
	}
	if info.ModTime().Equal(w.seen.mod) {
		return
	}
	w.seen.mod = info.ModTime()

	cfg, sum, err := readVersion(w.path)
	if err != nil {
		log.Warn("config watcher: ignoring invalid config", "err", err)
		return
	}
	if sum == w.seen.sum {
		return
	}
	w.seen.sum = sum

	old := w.current.Swap(cfg)
	log.Info("config watcher: configuration reloaded")
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// readVersion parses and validates the file and returns its digest.
func readVersion(path string) (*Config, [sha256.Size]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	return cfg, sha256.Sum256(data), nil
}
