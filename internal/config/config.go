package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v2"

	"beacontrace/internal/model"
)

type Config struct {
	LogLevel string         `json:"log_level" yaml:"log_level"`
	Beacon   BeaconConfig   `json:"beacon" yaml:"beacon"`
	Radio    RadioConfig    `json:"radio" yaml:"radio"`
	Matching MatchingConfig `json:"matching" yaml:"matching"`
	Sync     SyncConfig     `json:"sync" yaml:"sync"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	API      APIConfig      `json:"api" yaml:"api"`
}

type BeaconConfig struct {
	RotationPeriod time.Duration `json:"rotation_period" yaml:"rotation_period"`
	Retention      time.Duration `json:"retention" yaml:"retention"`
	PruneInterval  time.Duration `json:"prune_interval" yaml:"prune_interval"`
}

// CodesPerDay is the fixed number of codes a single daily seed expands into.
func (b BeaconConfig) CodesPerDay() int {
	if b.RotationPeriod <= 0 {
		return 0
	}
	return int((24 * time.Hour) / b.RotationPeriod)
}

type RadioConfig struct {
	Driver      string `json:"driver" yaml:"driver"`
	PushEnabled bool   `json:"push_enabled" yaml:"push_enabled"`
}

type MatchingConfig struct {
	PeriodGranularity time.Duration `json:"period_granularity" yaml:"period_granularity"`
	ProximityDBM      int           `json:"proximity_threshold_dbm" yaml:"proximity_threshold_dbm"`
	ExposureThreshold int           `json:"exposure_threshold" yaml:"exposure_threshold"`
	DefaultAdvice     model.Advice  `json:"default_advice" yaml:"default_advice"`
	RecomputeInterval time.Duration `json:"recompute_interval" yaml:"recompute_interval"`
}

type SyncConfig struct {
	BaseURL      string        `json:"base_url" yaml:"base_url"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
	Kafka        KafkaConfig   `json:"kafka" yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Beacon: BeaconConfig{
			RotationPeriod: 120 * time.Second,
			Retention:      14 * 24 * time.Hour,
			PruneInterval:  1 * time.Hour,
		},
		Radio: RadioConfig{Driver: "loopback", PushEnabled: true},
		Matching: MatchingConfig{
			PeriodGranularity: 1 * time.Minute,
			ProximityDBM:      -70,
			ExposureThreshold: 1,
			DefaultAdvice:     model.AdviceNormal,
			RecomputeInterval: 15 * time.Minute,
		},
		Sync: SyncConfig{
			BaseURL:      "http://localhost:9080",
			Timeout:      15 * time.Second,
			PollInterval: 1 * time.Hour,
			Kafka:        KafkaConfig{Enabled: false},
		},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:beacontrace.db?_pragma=busy_timeout(5000)"},
		API:     APIConfig{Enabled: true, Addr: ":8091"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Beacon.RotationPeriod <= 0 {
		cfg.Beacon.RotationPeriod = 120 * time.Second
	}
	if cfg.Beacon.Retention <= 0 {
		cfg.Beacon.Retention = 14 * 24 * time.Hour
	}
	if cfg.Beacon.PruneInterval <= 0 {
		cfg.Beacon.PruneInterval = 1 * time.Hour
	}
	if cfg.Radio.Driver == "" {
		cfg.Radio.Driver = "loopback"
	}
	if cfg.Matching.PeriodGranularity <= 0 {
		cfg.Matching.PeriodGranularity = 1 * time.Minute
	}
	if cfg.Matching.ProximityDBM == 0 {
		cfg.Matching.ProximityDBM = -70
	}
	if cfg.Matching.ExposureThreshold <= 0 {
		cfg.Matching.ExposureThreshold = 1
	}
	if cfg.Matching.DefaultAdvice == "" {
		cfg.Matching.DefaultAdvice = model.AdviceNormal
	}
	if cfg.Matching.RecomputeInterval <= 0 {
		cfg.Matching.RecomputeInterval = 15 * time.Minute
	}
	if cfg.Sync.Timeout <= 0 {
		cfg.Sync.Timeout = 15 * time.Second
	}
	if cfg.Sync.PollInterval <= 0 {
		cfg.Sync.PollInterval = 1 * time.Hour
	}
}

func Validate(cfg *Config) error {
	if cfg.Beacon.RotationPeriod < time.Second {
		return fmt.Errorf("beacon.rotation_period too small: %s", cfg.Beacon.RotationPeriod)
	}
	if (24*time.Hour)%cfg.Beacon.RotationPeriod != 0 {
		return fmt.Errorf("beacon.rotation_period must divide 24h evenly: %s", cfg.Beacon.RotationPeriod)
	}
	if cfg.Matching.ProximityDBM > 0 {
		return errors.New("matching.proximity_threshold_dbm must be negative (dBm scale)")
	}
	switch cfg.Matching.DefaultAdvice {
	case model.AdviceNormal, model.AdviceSelfIsolation:
	default:
		return fmt.Errorf("matching.default_advice invalid: %q", cfg.Matching.DefaultAdvice)
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Sync.Kafka.Enabled {
		if len(cfg.Sync.Kafka.Brokers) == 0 || cfg.Sync.Kafka.Topic == "" || cfg.Sync.Kafka.GroupID == "" {
			return errors.New("sync.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Storage.Enabled && cfg.Storage.Driver == "" {
		return errors.New("storage.driver required when storage.enabled is true")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps a fixed config with no backing file; Reload and
// Watch are inert. Used when no config file is given.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.cfg.Store(cfg)
	if m.path != "" {
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if m.path == "" {
		return
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
