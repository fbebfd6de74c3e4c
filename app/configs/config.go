package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Config struct {
	Store       StoreConfig       `json:"store"`
	Persistence PersistenceConfig `json:"persistence"`
	FollowUp    FollowUpConfig    `json:"follow_up"`
	Sweep       SweepConfig       `json:"sweep"`
	Console     ConsoleConfig     `json:"console"`
}

type StoreConfig struct {
	// Backend selects the bundled persistence adapter: "sqlite" or "postgres".
	Backend     string `json:"backend"`
	DataDir     string `json:"data_dir"`
	PostgresDSN string `json:"postgres_dsn"`
}

type PersistenceConfig struct {
	TimeoutSec int `json:"timeout_sec"`
	MaxRetries int `json:"max_retries"`
	Workers    int `json:"workers"`
	Buffer     int `json:"buffer"`
}

type FollowUpConfig struct {
	DefaultHours int `json:"default_hours"`
}

type SweepConfig struct {
	IntervalSec int `json:"interval_sec"`
}

type ConsoleConfig struct {
	Actor        string `json:"actor"`
	DefaultScope string `json:"default_scope"`
}

type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

func DefaultPath() string {
	return filepath.Join("config", "config.json")
}

func NewManager(path string) (*Manager, error) {
	cfg := defaultConfig()
	mgr := &Manager{
		path: path,
		cfg:  cfg,
	}
	if err := mgr.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	if err := mgr.save(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Update(apply func(*Config)) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	apply(&m.cfg)
	applyDefaults(&m.cfg)
	if err := m.saveLocked(); err != nil {
		return Config{}, err
	}
	return m.cfg, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return err
	}
	m.cfg = fileCfg
	applyDefaults(&m.cfg)
	return nil
}

func (m *Manager) save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

func defaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Backend: "sqlite",
			DataDir: filepath.Join("output", "db"),
		},
		Persistence: PersistenceConfig{
			TimeoutSec: 10,
			MaxRetries: 0,
			Workers:    4,
			Buffer:     128,
		},
		FollowUp: FollowUpConfig{
			DefaultHours: 48,
		},
		Sweep: SweepConfig{
			IntervalSec: 60,
		},
		Console: ConsoleConfig{
			Actor:        "local_user",
			DefaultScope: "inbox",
		},
	}
}

func applyDefaults(cfg *Config) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Backend)) {
	case "sqlite", "postgres":
		cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	default:
		cfg.Store.Backend = "sqlite"
	}
	if strings.TrimSpace(cfg.Store.DataDir) == "" {
		cfg.Store.DataDir = filepath.Join("output", "db")
	}
	if cfg.Persistence.TimeoutSec <= 0 {
		cfg.Persistence.TimeoutSec = 10
	}
	if cfg.Persistence.MaxRetries < 0 {
		cfg.Persistence.MaxRetries = 0
	}
	if cfg.Persistence.Workers <= 0 {
		cfg.Persistence.Workers = 4
	}
	if cfg.Persistence.Buffer <= 0 {
		cfg.Persistence.Buffer = 128
	}
	if cfg.FollowUp.DefaultHours <= 0 {
		cfg.FollowUp.DefaultHours = 48
	}
	if cfg.Sweep.IntervalSec <= 0 {
		cfg.Sweep.IntervalSec = 60
	}
	if strings.TrimSpace(cfg.Console.Actor) == "" {
		cfg.Console.Actor = "local_user"
	}
	if strings.TrimSpace(cfg.Console.DefaultScope) == "" {
		cfg.Console.DefaultScope = "inbox"
	}
}
