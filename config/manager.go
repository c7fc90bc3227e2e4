package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeFunc receives the new config and the JSON names of the fields that differ
// from the previous one.
type ChangeFunc func(cfg Config, changed []string)

// Manager owns the on-disk config file. Files and updates are partial: fields they
// omit keep their current value. Every accepted change is validated, written
// atomically and pushed to the Watch callback; edits made by other processes are
// picked up through fsnotify.
type Manager struct {
	path         string
	mu           sync.RWMutex
	cfg          Config
	watcher      *fsnotify.Watcher
	debounce     time.Duration
	onChange     ChangeFunc
	suppressSelf atomic.Bool
	logger       *slog.Logger
}

type managerOptions struct {
	configPath    string
	initialConfig *Config
	debounce      time.Duration
	logger        *slog.Logger
}

type ManagerOption func(*managerOptions)

func NewManager(opts ...ManagerOption) (*Manager, error) {
	options := managerOptions{
		debounce: 300 * time.Millisecond,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	configPath := options.configPath
	if configPath == "" {
		var err error
		configPath, err = defaultConfigPath()
		if err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	base := DefaultConfigWithRoot(filepath.Dir(configPath))
	if options.initialConfig != nil {
		base = options.initialConfig
	}
	cfg, err := loadOrCreate(configPath, *base)
	if err != nil {
		return nil, err
	}

	return &Manager{
		path:     configPath,
		cfg:      cfg,
		debounce: options.debounce,
		logger:   options.logger,
	}, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.clone()
}

func (m *Manager) Path() string {
	return m.path
}

// UpdateFromJSON applies a partial JSON document on top of the current config.
// Secrets sent back in their masked form keep their current value.
func (m *Manager) UpdateFromJSON(jsonStr string) error {
	current := m.Get()
	next := current.clone()
	if err := decodeOnto([]byte(jsonStr), &next); err != nil {
		return fmt.Errorf("parse config json: %w", err)
	}
	next.restoreMasked(current)
	return m.Update(next)
}

func (m *Manager) Update(newCfg Config) error {
	if err := newCfg.Validate(); err != nil {
		return err
	}

	changed := ChangedFields(m.Get(), newCfg)
	if len(changed) == 0 {
		return nil
	}

	m.suppressSelf.Store(true)
	defer time.AfterFunc(m.debounce, func() { m.suppressSelf.Store(false) })

	if err := writeConfigFile(m.path, newCfg); err != nil {
		m.suppressSelf.Store(false)
		return err
	}

	m.apply(newCfg, changed)
	return nil
}

// Watch registers onChange and starts following the file. Calling it again only
// replaces the callback.
func (m *Manager) Watch(ctx context.Context, onChange ChangeFunc) error {
	m.mu.Lock()
	m.onChange = onChange
	if m.watcher != nil {
		m.mu.Unlock()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.watcher = watcher
	m.mu.Unlock()

	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	go m.watchLoop(ctx, watcher)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var timerMu sync.Mutex
	var timer *time.Timer
	trigger := func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(m.debounce, m.reloadFromDisk)
		timerMu.Unlock()
	}

	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !m.isConfigEvent(evt) || m.suppressSelf.Load() {
				continue
			}
			trigger()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				m.logger.Warn("config watcher error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) isConfigEvent(evt fsnotify.Event) bool {
	if filepath.Clean(evt.Name) != filepath.Clean(m.path) {
		return false
	}
	return evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// reloadFromDisk re-reads the file over the current config. A removed file is
// recreated from the current config rather than reset to defaults.
func (m *Manager) reloadFromDisk() {
	current := m.Get()
	next := current.clone()
	if err := readConfigFile(m.path, &next); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.logger.Error("config reload failed", "path", m.path, "error", err)
			return
		}
		if err := writeConfigFile(m.path, current); err != nil {
			m.logger.Error("config recreate failed", "path", m.path, "error", err)
		}
		return
	}
	if err := next.Validate(); err != nil {
		m.logger.Error("config rejected", "path", m.path, "error", err)
		return
	}

	if changed := ChangedFields(current, next); len(changed) > 0 {
		m.apply(next, changed)
	}
}

func (m *Manager) apply(cfg Config, changed []string) {
	cfg = cfg.clone()
	m.mu.Lock()
	m.cfg = cfg
	cb := m.onChange
	m.mu.Unlock()

	m.logger.Info("config changed", "path", m.path, "fields", changed)
	if cb != nil {
		cb(cfg.clone(), changed)
	}
}

// clone copies cfg so that decoding into or editing the copy never writes through
// to a shared slice.
func (c Config) clone() Config {
	c.EnabledInstrumentClasses = append([]string(nil), c.EnabledInstrumentClasses...)
	return c
}

// ChangedFields lists the JSON names of the top-level fields that differ, sorted.
func ChangedFields(a, b Config) []string {
	fa, errA := fieldsOf(a)
	fb, errB := fieldsOf(b)
	if errA != nil || errB != nil {
		return []string{"*"}
	}
	var changed []string
	for name, va := range fa {
		if !bytes.Equal(va, fb[name]) {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}

func fieldsOf(cfg Config) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// loadOrCreate reads path over base, or writes base to path when the file does not
// exist yet.
func loadOrCreate(path string, base Config) (Config, error) {
	cfg := base.clone()
	err := readConfigFile(path, &cfg)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		if err := base.Validate(); err != nil {
			return Config{}, err
		}
		if err := writeConfigFile(path, base); err != nil {
			return Config{}, fmt.Errorf("write initial config: %w", err)
		}
		return base.clone(), nil
	default:
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := decodeOnto(data, cfg); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// decodeOnto decodes data over the fields already set in cfg. Unknown fields are
// rejected so a typo does not silently keep the old value.
func decodeOnto(data []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

func defaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, "cortexflow", "config.json"), nil
}

func writeConfigFile(path string, cfg Config) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), "cfg-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(&cfg); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
		return fmt.Errorf("encode config: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
		return fmt.Errorf("flush config: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpFile.Name())
		return fmt.Errorf("close temp config: %w", err)
	}
	return os.Rename(tmpFile.Name(), path)
}

func WithConfigDir(dir string) ManagerOption {
	return func(o *managerOptions) {
		if dir == "" {
			return
		}
		o.configPath = filepath.Join(dir, "config.json")
	}
}

func WithConfigPath(path string) ManagerOption {
	return func(o *managerOptions) {
		if path != "" {
			o.configPath = path
		}
	}
}

func WithDebounce(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithInitialConfig sets the base that a new or partial file is applied over.
func WithInitialConfig(cfg *Config) ManagerOption {
	return func(o *managerOptions) {
		o.initialConfig = cfg
	}
}

func WithLogger(logger *slog.Logger) ManagerOption {
	return func(o *managerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
