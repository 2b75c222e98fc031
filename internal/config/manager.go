package config

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.yaml.in/yaml/v3"

	"tickq/pkg/logx"
)

// Manager loads the YAML config file and, when watching, republishes it to
// subscribers on change. A change is only committed after it validates.
type Manager struct {
	path string

	mu  sync.RWMutex
	cfg *Config

	// subsMu guards the subscriber list and ensures we never send on a
	// channel that is concurrently being closed in Unsubscribe().
	subsMu sync.Mutex
	subs   []chan *Config

	log logx.Logger

	// lastHash tracks the last committed file content, so editor-induced
	// double write events don't cause redundant publishes.
	lastHash uint64
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// Parse reads and strictly decodes the file without committing it.
func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", m.path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate %s: %w", m.path, err)
	}
	return cfg, nil
}

// Load parses and commits. A missing file commits the defaults.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if os.IsNotExist(err) {
		cfg = Default()
	} else if err != nil {
		return nil, err
	}
	m.commit(cfg)
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Subscribe returns a channel receiving each newly committed config.
func (m *Manager) Subscribe(buffer int) chan *Config {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			last := len(m.subs) - 1
			m.subs[i] = m.subs[last]
			m.subs[last] = nil
			m.subs = m.subs[:last]
			close(ch)
			return
		}
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if ch == nil {
			continue
		}
		// Deliver the latest; if the subscriber lags, drop one stale item
		// first so the newest config still lands.
		select {
		case ch <- cfg:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- cfg:
			default:
			}
		}
	}
}

// Watch blocks until ctx is done, reloading and publishing the file on
// filesystem changes. Writes are debounced so partial saves don't surface
// as parse failures.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	reload := func() {
		cfg, err := m.Parse()
		if err != nil {
			m.log.Warn("config reload rejected", logx.String("path", m.path), logx.Err(err))
			return
		}
		h := hashConfig(cfg)
		m.mu.RLock()
		unchanged := h != 0 && h == m.lastHash
		m.mu.RUnlock()
		if unchanged {
			return
		}
		m.commit(cfg)
		m.publish(cfg)
		m.log.Info("config reloaded", logx.String("path", m.path))
	}
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, reload)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) &&
				ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}
