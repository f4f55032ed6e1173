package configfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-mantis/core"
	"gopkg.in/yaml.v3"
)

// serviceKeys are the top-level keys decoded into core.Config. Everything else
// in the file belongs to the application shell.
var serviceKeys = []string{"service_name", "reconciliation", "webhooks"}

// Snapshot is one parsed revision of the config file.
type Snapshot struct {
	Raw map[string]any
	App AppConfig
}

// Service returns the service-level keys of the snapshot.
func (s Snapshot) Service() map[string]any {
	out := map[string]any{}
	for _, key := range serviceKeys {
		if value, ok := s.Raw[key]; ok {
			out[key] = value
		}
	}
	return out
}

// ServiceConfig decodes the service keys over defaults through cfgx.
func (s Snapshot) ServiceConfig(defaults core.Config) (core.Config, error) {
	return core.DecodeConfig(s.Service(), defaults)
}

type LoaderOption func(*Loader)

func WithLogger(logger core.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Loader reads a YAML config file and watches it for changes.
type Loader struct {
	path     string
	logger   core.Logger
	mu       sync.RWMutex
	current  Snapshot
	onChange []func(Snapshot)
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string, opts ...LoaderOption) (*Loader, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("configfile: path is required")
	}
	l := &Loader{path: path, logger: glog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	snapshot, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = snapshot
	return l, nil
}

func (l *Loader) Path() string {
	return l.path
}

// Snapshot returns the latest successfully parsed revision.
func (l *Loader) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

func (l *Loader) App() AppConfig {
	return l.Snapshot().App
}

// LoadRaw serves the service keys of the latest revision to
// core.NewCfgxConfigProvider.
func (l *Loader) LoadRaw(context.Context) (map[string]any, error) {
	return l.Snapshot().Service(), nil
}

// OnChange registers a callback invoked whenever the config reloads.
func (l *Loader) OnChange(fn func(Snapshot)) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch hot-reloads the config on file changes until ctx is done or the
// returned stop function is called. The parent directory is watched so
// editors that replace the file atomically are still observed.
func (l *Loader) Watch(ctx context.Context) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("configfile: watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("configfile: watch %s: %w", dir, err)
	}
	target := filepath.Clean(l.path)

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
					if _, err := l.Reload(); err != nil {
						l.logger.Warn("config reload failed, keeping previous revision",
							"path", l.path,
							"error", err.Error(),
						)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Warn("config watcher error", "path", l.path, "error", err.Error())
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-finished
		})
	}, nil
}

// Reload forces an immediate re-read of the config file.
func (l *Loader) Reload() (Snapshot, error) {
	snapshot, err := l.load()
	if err != nil {
		return Snapshot{}, err
	}
	l.mu.Lock()
	l.current = snapshot
	callbacks := make([]func(Snapshot), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(snapshot)
	}
	l.logger.Info("config reloaded", "path", l.path)
	return snapshot, nil
}

func (l *Loader) load() (Snapshot, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("configfile: read %s: %w", l.path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Snapshot{}, fmt.Errorf("configfile: parse %s: %w", l.path, err)
	}
	app := DefaultAppConfig()
	if err := yaml.Unmarshal(data, &app); err != nil {
		return Snapshot{}, fmt.Errorf("configfile: parse %s: %w", l.path, err)
	}
	app = app.Normalized()
	if err := app.Validate(); err != nil {
		return Snapshot{}, err
	}
	snapshot := Snapshot{Raw: raw, App: app}
	if _, err := snapshot.ServiceConfig(core.DefaultConfig()); err != nil {
		return Snapshot{}, fmt.Errorf("configfile: %s: %w", l.path, err)
	}
	return snapshot, nil
}

var _ core.RawConfigLoader = (*Loader)(nil)
