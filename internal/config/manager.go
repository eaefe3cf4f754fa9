package config

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"sync"
	"time"

	logx "tvbot/pkg/logx"
)

const validateTimeout = 5 * time.Second

// Manager holds the live configuration. Reloads are validated before they
// replace it and are then published to subscribers.
type Manager struct {
	path         string
	requireToken bool
	lookupEnv    func(string) (string, bool)
	validator    func(ctx context.Context, cfg *Config) error
	log          logx.Logger

	mu   sync.RWMutex
	cfg  *Config
	hash uint64

	// held across sends so Unsubscribe cannot close a channel mid-send
	subMu sync.Mutex
	subs  []chan *Config
}

func NewManager(path string) *Manager {
	return &Manager{path: path, requireToken: true, lookupEnv: os.LookupEnv}
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetRequireToken(false) lets offline commands run without a bot token.
func (m *Manager) SetRequireToken(v bool) { m.requireToken = v }

func (m *Manager) SetEnvLookup(fn func(string) (string, bool)) { m.lookupEnv = fn }

// SetValidator adds a check that runs on every reload before commit.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads the file, overlays the environment and validates the result.
// Nothing is committed.
func (m *Manager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	cfg, err := Decode(m.path, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.path, err)
	}
	if err = ApplyEnv(cfg, m.lookupEnv); err == nil {
		err = cfg.Validate(m.requireToken)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid config %s:\n%w", m.path, err)
	}
	return cfg, nil
}

func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err == nil {
		m.Commit(cfg)
	}
	return cfg, err
}

func (m *Manager) Commit(cfg *Config) {
	h := fingerprint(cfg)
	m.mu.Lock()
	m.cfg, m.hash = cfg, h
	m.mu.Unlock()
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Reload commits and publishes the file when its content changed and it
// validates. The bool reports whether anything was published.
func (m *Manager) Reload(ctx context.Context) (bool, error) {
	cfg, err := m.Parse()
	if err != nil {
		return false, err
	}
	h := fingerprint(cfg)
	m.mu.RLock()
	same := h != 0 && h == m.hash
	m.mu.RUnlock()
	if same {
		return false, nil
	}
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		defer cancel()
		if err := m.validator(vctx, cfg); err != nil {
			return false, fmt.Errorf("config rejected: %w", err)
		}
	}
	m.Commit(cfg)
	m.publish(cfg)
	return true, nil
}

func fingerprint(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}

func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for i := range m.subs {
		if m.subs[i] != ch {
			continue
		}
		m.subs = append(m.subs[:i], m.subs[i+1:]...)
		close(ch)
		return
	}
}

// publish hands cfg to each subscriber, evicting its oldest pending
// config when the buffer is full.
func (m *Manager) publish(cfg *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		offer(ch, cfg)
	}
}

func offer(ch chan *Config, cfg *Config) {
	for {
		select {
		case ch <- cfg:
			return
		default:
		}
		select {
		case <-ch:
		default:
			return
		}
	}
}
