package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/artpar/meterbill/adapters/metrics"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// debounce collapses the burst of events editors emit for one save.
const debounce = 100 * time.Millisecond

// Holder owns the live configuration. Reloads come from Reload, file
// changes (WatchFile) and SIGHUP (WatchSignals); they run one at a time.
type Holder struct {
	path   string
	logger zerolog.Logger

	mu        sync.RWMutex
	current   *Config
	metrics   *metrics.Collector
	listeners []func(*Config)

	reloadMu sync.Mutex // serializes reloads

	watcher  *fsnotify.Watcher
	trigger  chan string // reload requests, by source
	loopOnce sync.Once
	done     chan struct{}
	stopOnce sync.Once
}

// NewHolder loads path and returns a holder for it.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	cfg, err := Load(abs)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return &Holder{
		path:    abs,
		logger:  logger,
		current: cfg,
		trigger: make(chan string, 1),
		done:    make(chan struct{}),
	}, nil
}

// SetMetrics records reload attempts on m.
func (h *Holder) SetMetrics(m *metrics.Collector) {
	h.mu.Lock()
	h.metrics = m
	h.mu.Unlock()
}

// Path returns the absolute path of the config file.
func (h *Holder) Path() string {
	return h.path
}

// Get returns the current configuration. The returned value must not be
// modified.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// OnChange registers fn to run after every successful reload.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

// Reload reads the file again. On error the current configuration is kept.
func (h *Holder) Reload() error {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	next, err := Load(h.path)

	h.mu.RLock()
	m := h.metrics
	h.mu.RUnlock()
	m.ObserveConfigReload(err, time.Now())

	if err != nil {
		h.logger.Error().Err(err).Str("path", h.path).Msg("config reload failed, keeping current config")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	prev := h.current
	h.current = next
	listeners := slices.Clone(h.listeners)
	h.mu.Unlock()

	h.logDiff(prev, next)
	for _, fn := range listeners {
		fn(next)
	}

	h.logger.Info().Str("path", h.path).Msg("configuration reloaded")
	return nil
}

// WatchFile reloads when the config file is written or replaced. The
// directory is watched so atomic renames are seen.
func (h *Holder) WatchFile() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(h.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	h.watcher = w

	go h.forwardFileEvents(w)
	h.startLoop()

	h.logger.Info().Str("path", h.path).Msg("watching config file")
	return nil
}

// WatchSignals reloads on SIGHUP.
func (h *Holder) WatchSignals() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sig)
		for {
			select {
			case <-sig:
				h.request("SIGHUP")
			case <-h.done:
				return
			}
		}
	}()
	h.startLoop()

	h.logger.Info().Msg("SIGHUP reloads config")
}

// Stop ends file and signal watching. It is safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

// request queues a reload. A pending request absorbs new ones.
func (h *Holder) request(source string) {
	select {
	case h.trigger <- source:
	default:
	}
}

func (h *Holder) startLoop() {
	h.loopOnce.Do(func() { go h.reloadLoop() })
}

// reloadLoop waits for requests to settle for the debounce window, then
// reloads once.
func (h *Holder) reloadLoop() {
	var (
		timer   *time.Timer
		fire    <-chan time.Time
		pending string
	)
	for {
		select {
		case src := <-h.trigger:
			pending = src
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			h.logger.Debug().Str("source", pending).Msg("reloading config")
			_ = h.Reload()
		case <-h.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (h *Holder) forwardFileEvents(w *fsnotify.Watcher) {
	name := filepath.Base(h.path)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			h.request("file " + ev.Op.String())
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("config watcher error")
		case <-h.done:
			return
		}
	}
}

func (h *Holder) logDiff(prev, next *Config) {
	if prev.Logging.Level != next.Logging.Level {
		h.logger.Info().
			Str("old", prev.Logging.Level).
			Str("new", next.Logging.Level).
			Msg("log level changed")
	}
	if len(prev.Auth.Tokens) != len(next.Auth.Tokens) {
		h.logger.Info().
			Int("old", len(prev.Auth.Tokens)).
			Int("new", len(next.Auth.Tokens)).
			Msg("auth token count changed")
	}
	for _, field := range RestartRequired(prev, next) {
		h.logger.Warn().Str("field", field).Msg("changed field takes effect after restart")
	}
}

// restartFields pairs each non-reloadable field with its accessor.
var restartFields = []struct {
	name string
	get  func(*Config) any
}{
	{"server.host", func(c *Config) any { return c.Server.Host }},
	{"server.port", func(c *Config) any { return c.Server.Port }},
	{"sources.mode", func(c *Config) any { return c.Sources.Mode }},
	{"sources.pricing", func(c *Config) any { return c.Sources.Pricing }},
	{"sources.auth", func(c *Config) any { return c.Sources.Auth }},
	{"database.dsn", func(c *Config) any { return c.Database.DSN }},
	{"rating.concurrency", func(c *Config) any { return c.Rating.Concurrency }},
	{"rating.invalid_unit_policy", func(c *Config) any { return c.Rating.InvalidUnitPolicy }},
	{"logging.format", func(c *Config) any { return c.Logging.Format }},
	{"metrics.enabled", func(c *Config) any { return c.Metrics.Enabled }},
	{"metrics.path", func(c *Config) any { return c.Metrics.Path }},
	{"tracing", func(c *Config) any { return c.Tracing }},
}

// ReloadableFields lists the settings applied without a restart.
func ReloadableFields() []string {
	return []string{"auth.tokens", "logging.level"}
}

// NonReloadableFields lists the settings that need a restart.
func NonReloadableFields() []string {
	out := make([]string, len(restartFields))
	for i, f := range restartFields {
		out[i] = f.name
	}
	return out
}

// RestartRequired returns the non-reloadable fields that differ between
// prev and next.
func RestartRequired(prev, next *Config) []string {
	var changed []string
	for _, f := range restartFields {
		if !reflect.DeepEqual(f.get(prev), f.get(next)) {
			changed = append(changed, f.name)
		}
	}
	return changed
}
