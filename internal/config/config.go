// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"joblb/internal/mq"
	"joblb/internal/network"
)

// Config represents the joblb configuration structure
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Node      NodeConfig      `yaml:"node"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Queue     QueueConfig     `yaml:"queue"`
	Store     StoreConfig     `yaml:"store"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BrokerConfig contains the broker socket settings
type BrokerConfig struct {
	Protocol   string `yaml:"protocol"`    // transport scheme, tcp by default
	Host       string `yaml:"host"`        // bind host, * for all interfaces
	ClientPort int    `yaml:"client_port"` // client-facing router
	WorkerPort int    `yaml:"worker_port"` // worker-facing router
}

// NodeConfig contains client/worker agent settings
type NodeConfig struct {
	BrokerHost string `yaml:"broker_host"`
	Name       string `yaml:"name"`     // reported in lifecycle frames; hostname when empty
	Identity   string `yaml:"identity"` // routing identity; generated when empty
}

// HeartbeatConfig contains the liveness probing settings
type HeartbeatConfig struct {
	Interval    string `yaml:"interval"`
	BaseTimeout string `yaml:"base_timeout"`
	Grace       string `yaml:"grace"`
	MaxRetries  int    `yaml:"max_retries"`
}

// QueueConfig contains event queue settings
type QueueConfig struct {
	PollInterval string `yaml:"poll_interval"`
	MaxLength    int    `yaml:"max_length"` // 0 = unbounded
}

// StoreConfig contains the job record database settings
type StoreConfig struct {
	Path string `yaml:"path"`
}

// GatewayConfig contains the HTTP API settings
type GatewayConfig struct {
	Address   string `yaml:"address"`
	JWTSecret string `yaml:"jwt_secret"` // bearer tokens are required when set
	JWTIssuer string `yaml:"jwt_issuer"`
}

// ExecutorConfig contains worker job function settings
type ExecutorConfig struct {
	SQLPath string `yaml:"sql_path"` // database queried by sql jobs; disabled when empty
}

// LoggingConfig contains log settings
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// NewDefaultConfig returns a configuration with every default filled in
func NewDefaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Protocol:   "tcp",
			Host:       "*",
			ClientPort: mq.DefaultClientPort,
			WorkerPort: mq.DefaultWorkerPort,
		},
		Node: NodeConfig{
			BrokerHost: "localhost",
		},
		Heartbeat: HeartbeatConfig{
			Interval:    mq.DefaultInterval.String(),
			BaseTimeout: mq.DefaultBaseTimeout.String(),
			Grace:       mq.DefaultGracePeriod.String(),
			MaxRetries:  mq.DefaultMaxRetries,
		},
		Queue: QueueConfig{
			PollInterval: mq.DefaultPollInterval.String(),
		},
		Store: StoreConfig{
			Path: "joblb.db",
		},
		Gateway: GatewayConfig{
			Address:   ":8080",
			JWTIssuer: "joblb",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from a YAML file on top of the defaults,
// then applies JOBLB_* environment overrides
func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := NewDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads filepath when it is set, otherwise the defaults with
// environment overrides applied
func LoadOrDefault(filepath string) (*Config, error) {
	if filepath != "" {
		return LoadConfig(filepath)
	}

	config := NewDefaultConfig()
	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// LoadEnvFiles loads .env style files into the process environment.
// Missing files are skipped.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", file, err)
		}
	}
	return nil
}

// ApplyEnv overrides values from JOBLB_* environment variables
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"JOBLB_BROKER_PROTOCOL":    &c.Broker.Protocol,
		"JOBLB_BROKER_BIND_HOST":   &c.Broker.Host,
		"JOBLB_BROKER_HOST":        &c.Node.BrokerHost,
		"JOBLB_NODE_NAME":          &c.Node.Name,
		"JOBLB_NODE_IDENTITY":      &c.Node.Identity,
		"JOBLB_HEARTBEAT_INTERVAL": &c.Heartbeat.Interval,
		"JOBLB_QUEUE_POLL":         &c.Queue.PollInterval,
		"JOBLB_STORE_PATH":         &c.Store.Path,
		"JOBLB_GATEWAY_ADDRESS":    &c.Gateway.Address,
		"JOBLB_JWT_SECRET":         &c.Gateway.JWTSecret,
		"JOBLB_SQL_PATH":           &c.Executor.SQLPath,
		"JOBLB_LOG_LEVEL":          &c.Logging.Level,
	}
	for key, target := range strs {
		if value, ok := os.LookupEnv(key); ok {
			*target = value
		}
	}

	ints := map[string]*int{
		"JOBLB_CLIENT_PORT":           &c.Broker.ClientPort,
		"JOBLB_WORKER_PORT":           &c.Broker.WorkerPort,
		"JOBLB_HEARTBEAT_MAX_RETRIES": &c.Heartbeat.MaxRetries,
		"JOBLB_QUEUE_MAX_LENGTH":      &c.Queue.MaxLength,
	}
	for key, target := range ints {
		value, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*target = n
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Broker.ClientPort <= 0 || c.Broker.ClientPort > 65535 {
		return fmt.Errorf("broker.client_port must be between 1 and 65535")
	}
	if c.Broker.WorkerPort <= 0 || c.Broker.WorkerPort > 65535 {
		return fmt.Errorf("broker.worker_port must be between 1 and 65535")
	}
	if c.Broker.ClientPort == c.Broker.WorkerPort {
		return fmt.Errorf("broker.client_port and broker.worker_port must differ")
	}

	if c.Heartbeat.MaxRetries < 0 {
		return fmt.Errorf("heartbeat.max_retries must not be negative")
	}
	if _, err := c.HeartbeatSettings(); err != nil {
		return err
	}

	if c.Queue.MaxLength < 0 {
		return fmt.Errorf("queue.max_length must not be negative")
	}
	if _, err := c.PollInterval(); err != nil {
		return err
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}

	return nil
}

func parseDuration(field, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}

// HeartbeatSettings parses the heartbeat section
func (c *Config) HeartbeatSettings() (mq.HeartbeatConfig, error) {
	interval, err := parseDuration("heartbeat.interval", c.Heartbeat.Interval, mq.DefaultInterval)
	if err != nil {
		return mq.HeartbeatConfig{}, err
	}
	base, err := parseDuration("heartbeat.base_timeout", c.Heartbeat.BaseTimeout, mq.DefaultBaseTimeout)
	if err != nil {
		return mq.HeartbeatConfig{}, err
	}
	grace, err := parseDuration("heartbeat.grace", c.Heartbeat.Grace, mq.DefaultGracePeriod)
	if err != nil {
		return mq.HeartbeatConfig{}, err
	}

	return mq.HeartbeatConfig{
		Interval:    interval,
		BaseTimeout: base,
		GracePeriod: grace,
		MaxRetries:  c.Heartbeat.MaxRetries,
	}, nil
}

// PollInterval parses the queue poll interval
func (c *Config) PollInterval() (time.Duration, error) {
	return parseDuration("queue.poll_interval", c.Queue.PollInterval, mq.DefaultPollInterval)
}

// BrokerSettings builds the broker configuration
func (c *Config) BrokerSettings() (mq.BrokerConfig, error) {
	hb, err := c.HeartbeatSettings()
	if err != nil {
		return mq.BrokerConfig{}, err
	}
	poll, err := c.PollInterval()
	if err != nil {
		return mq.BrokerConfig{}, err
	}

	host := c.Broker.Host
	if host == "" {
		host = "*"
	}
	return mq.BrokerConfig{
		ClientEndpoint: network.Endpoint(c.Broker.Protocol, host, c.Broker.ClientPort),
		WorkerEndpoint: network.Endpoint(c.Broker.Protocol, host, c.Broker.WorkerPort),
		Heartbeat:      hb,
		PollInterval:   poll,
		MaxQueueLength: c.Queue.MaxLength,
	}, nil
}

// ClientSettings builds the node configuration for a client agent
func (c *Config) ClientSettings() mq.NodeConfig {
	return c.nodeSettings(c.Broker.ClientPort)
}

// WorkerSettings builds the node configuration for a worker agent
func (c *Config) WorkerSettings() mq.NodeConfig {
	return c.nodeSettings(c.Broker.WorkerPort)
}

func (c *Config) nodeSettings(port int) mq.NodeConfig {
	poll, err := c.PollInterval()
	if err != nil {
		poll = mq.DefaultPollInterval
	}
	host := c.Node.BrokerHost
	if host == "" {
		host = "localhost"
	}
	return mq.NodeConfig{
		Endpoint:     network.Endpoint(c.Broker.Protocol, host, port),
		Identity:     c.Node.Identity,
		Node:         c.Node.Name,
		PollInterval: poll,
	}
}

// Save saves the configuration to a YAML file
func (c *Config) Save(filepath string) error {
	return SaveConfig(c, filepath)
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, filepath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
