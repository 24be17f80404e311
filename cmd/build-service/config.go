package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"contractlab/internal/build/backend"
	"contractlab/internal/build/deps"
	"contractlab/internal/build/events"
	"contractlab/internal/build/workspace"
	"contractlab/internal/common/cache"
	"contractlab/internal/common/mq"
	"contractlab/internal/common/storage"
	"contractlab/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 5 * time.Minute
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultWorkspaceRoot   = "./data/workspaces"
	defaultStatusTTL       = 7 * 24 * time.Hour
	defaultLockTTL         = 5 * time.Minute
	defaultLockWait        = 60 * time.Second

	backendLocal  = "local"
	backendRemote = "remote"
	lockLocal     = "local"
	lockRedis     = "redis"
	eventsNone    = "none"
	eventsKafka   = "kafka"
	eventsNats    = "nats"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// BackendConfig selects where builds run.
type BackendConfig struct {
	Mode   string               `yaml:"mode"`
	Remote backend.RemoteConfig `yaml:"remote"`
}

// RunnerConfig holds subprocess limits.
type RunnerConfig struct {
	MaxOutputBytes int64 `yaml:"maxOutputBytes"`
}

// DependenciesConfig holds dependency install settings.
type DependenciesConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	Timeout         time.Duration `yaml:"timeout"`
	GitCommand      string        `yaml:"gitCommand"`
	GitTimeout      time.Duration `yaml:"gitTimeout"`
	ArchiveMaxBytes int64         `yaml:"archiveMaxBytes"`
}

// LockConfig selects the owner lock implementation.
type LockConfig struct {
	Driver string        `yaml:"driver"`
	TTL    time.Duration `yaml:"ttl"`
	Wait   time.Duration `yaml:"wait"`
}

// ServiceConfig holds request limits.
type ServiceConfig struct {
	MaxCodeBytes  int           `yaml:"maxCodeBytes"`
	MaxConcurrent int           `yaml:"maxConcurrent"`
	SlotWait      time.Duration `yaml:"slotWait"`
	StatusTimeout time.Duration `yaml:"statusTimeout"`
}

// StatusConfig holds run status retention.
type StatusConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// EventsConfig selects the run event broker.
type EventsConfig struct {
	Driver string         `yaml:"driver"`
	Topic  string         `yaml:"topic"`
	Kafka  mq.KafkaConfig `yaml:"kafka"`
	Nats   mq.NatsConfig  `yaml:"nats"`
}

// AppConfig holds build-service config.
type AppConfig struct {
	Server       ServerConfig        `yaml:"server"`
	Logger       logger.Config       `yaml:"logger"`
	Backend      BackendConfig       `yaml:"backend"`
	Workspace    workspace.Config    `yaml:"workspace"`
	Toolchain    backend.LocalConfig `yaml:"toolchain"`
	Isolation    backend.Isolation   `yaml:"isolation"`
	Runner       RunnerConfig        `yaml:"runner"`
	Dependencies DependenciesConfig  `yaml:"dependencies"`
	Lock         LockConfig          `yaml:"lock"`
	Service      ServiceConfig       `yaml:"service"`
	Status       StatusConfig        `yaml:"status"`
	Redis        cache.RedisConfig   `yaml:"redis"`
	MinIO        storage.MinIOConfig `yaml:"minio"`
	Events       EventsConfig        `yaml:"events"`
}

// loadEnvFile loads KEY=VALUE pairs into the environment. A missing file is fine.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file failed: %w", err)
	}
	return nil
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path, envFile string) (*AppConfig, error) {
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyServerDefaults(&cfg.Server)
	if err := applyBackendDefaults(&cfg); err != nil {
		return nil, err
	}
	if err := applyLockDefaults(&cfg); err != nil {
		return nil, err
	}
	if err := applyEventsDefaults(&cfg.Events); err != nil {
		return nil, err
	}
	if cfg.Redis.Addr != "" {
		applyRedisDefaults(&cfg.Redis)
	}
	if cfg.Status.TTL <= 0 {
		cfg.Status.TTL = defaultStatusTTL
	}
	if cfg.Dependencies.GitCommand == "" {
		cfg.Dependencies.GitCommand = deps.DefaultGitTemplate
	}
	return &cfg, nil
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Addr == "" {
		cfg.Addr = defaultHTTPAddr
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
}

func applyBackendDefaults(cfg *AppConfig) error {
	cfg.Backend.Mode = strings.ToLower(strings.TrimSpace(cfg.Backend.Mode))
	switch cfg.Backend.Mode {
	case "":
		cfg.Backend.Mode = backendLocal
	case backendLocal:
	case backendRemote:
		if cfg.Backend.Remote.BaseURL == "" {
			return fmt.Errorf("backend.remote.baseURL is required in remote mode")
		}
		return nil
	default:
		return fmt.Errorf("unknown backend mode %q", cfg.Backend.Mode)
	}

	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = defaultWorkspaceRoot
	}
	if cfg.Isolation != "" {
		cfg.Toolchain.Isolation = cfg.Isolation
	}
	switch cfg.Toolchain.Isolation {
	case "":
		cfg.Toolchain.Isolation = backend.IsolationScratch
	case backend.IsolationScratch, backend.IsolationSerial:
	default:
		return fmt.Errorf("unknown isolation %q", cfg.Toolchain.Isolation)
	}
	if cfg.Toolchain.BuildCommand == "" {
		cfg.Toolchain.BuildCommand = backend.DefaultBuildCommand
	}
	if cfg.Toolchain.TestCommand == "" {
		cfg.Toolchain.TestCommand = backend.DefaultTestCommand
	}
	return nil
}

func applyLockDefaults(cfg *AppConfig) error {
	switch cfg.Lock.Driver {
	case "":
		cfg.Lock.Driver = lockLocal
		if cfg.Redis.Addr != "" {
			cfg.Lock.Driver = lockRedis
		}
	case lockLocal:
	case lockRedis:
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis lock")
		}
	default:
		return fmt.Errorf("unknown lock driver %q", cfg.Lock.Driver)
	}
	if cfg.Lock.TTL <= 0 {
		cfg.Lock.TTL = defaultLockTTL
	}
	if cfg.Lock.Wait <= 0 {
		cfg.Lock.Wait = defaultLockWait
	}
	return nil
}

func applyEventsDefaults(cfg *EventsConfig) error {
	cfg.Driver = strings.ToLower(strings.TrimSpace(cfg.Driver))
	if cfg.Topic == "" {
		cfg.Topic = events.DefaultTopic
	}
	switch cfg.Driver {
	case "", eventsNone:
		cfg.Driver = eventsNone
	case eventsKafka:
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("events.kafka.brokers is required")
		}
		if cfg.Kafka.ClientID == "" {
			cfg.Kafka.ClientID = "contractlab-build"
		}
	case eventsNats:
		if cfg.Nats.URL == "" {
			return fmt.Errorf("events.nats.url is required")
		}
		if cfg.Nats.Name == "" {
			cfg.Nats.Name = "contractlab-build"
		}
	default:
		return fmt.Errorf("unknown events driver %q", cfg.Driver)
	}
	return nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
}
