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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"joblb/internal/mq"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestNewDefaultConfig(t *testing.T) {
	c := NewDefaultConfig()
	require.NoError(t, c.Validate())

	assert.Equal(t, 8765, c.Broker.ClientPort)
	assert.Equal(t, 8766, c.Broker.WorkerPort)

	hb, err := c.HeartbeatSettings()
	require.NoError(t, err)
	assert.Equal(t, mq.DefaultHeartbeatConfig(), hb)

	poll, err := c.PollInterval()
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, poll)
}

func TestLoadConfigMergesDefaults(t *testing.T) {
	path := writeFile(t, "joblb.yaml", `
broker:
  client_port: 9100
  worker_port: 9101
heartbeat:
  interval: 10s
queue:
  max_length: 50
`)

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, c.Broker.ClientPort)
	assert.Equal(t, "tcp", c.Broker.Protocol)
	assert.Equal(t, 50, c.Queue.MaxLength)

	hb, err := c.HeartbeatSettings()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, hb.Interval)
	assert.Equal(t, mq.DefaultBaseTimeout, hb.BaseTimeout)

	broker, err := c.BrokerSettings()
	require.NoError(t, err)
	assert.Equal(t, "tcp://*:9100", broker.ClientEndpoint)
	assert.Equal(t, "tcp://*:9101", broker.WorkerEndpoint)
	assert.Equal(t, 50, broker.MaxQueueLength)

	assert.Equal(t, "tcp://localhost:9100", c.ClientSettings().Endpoint)
	assert.Equal(t, "tcp://localhost:9101", c.WorkerSettings().Endpoint)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeFile(t, "bad.yaml", "broker: [not a map"))
	assert.Error(t, err)

	_, err = LoadConfig(writeFile(t, "ports.yaml", "broker:\n  client_port: 9000\n  worker_port: 9000\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"client port", func(c *Config) { c.Broker.ClientPort = 0 }},
		{"worker port", func(c *Config) { c.Broker.WorkerPort = 70000 }},
		{"interval", func(c *Config) { c.Heartbeat.Interval = "soon" }},
		{"negative grace", func(c *Config) { c.Heartbeat.Grace = "-1s" }},
		{"retries", func(c *Config) { c.Heartbeat.MaxRetries = -1 }},
		{"poll", func(c *Config) { c.Queue.PollInterval = "0s" }},
		{"max length", func(c *Config) { c.Queue.MaxLength = -3 }},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewDefaultConfig()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("JOBLB_CLIENT_PORT", "9200")
	t.Setenv("JOBLB_BROKER_HOST", "broker.internal")
	t.Setenv("JOBLB_NODE_NAME", "node-7")
	t.Setenv("JOBLB_LOG_LEVEL", "debug")

	c, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, 9200, c.Broker.ClientPort)
	assert.Equal(t, "debug", c.Logging.Level)

	node := c.ClientSettings()
	assert.Equal(t, "tcp://broker.internal:9200", node.Endpoint)
	assert.Equal(t, "node-7", node.Node)

	t.Setenv("JOBLB_QUEUE_MAX_LENGTH", "many")
	assert.Error(t, NewDefaultConfig().ApplyEnv())
}

func TestLoadEnvFiles(t *testing.T) {
	path := writeFile(t, ".env", "JOBLB_TEST_ONLY_VALUE=from-dotenv\n")
	t.Cleanup(func() { os.Unsetenv("JOBLB_TEST_ONLY_VALUE") })

	require.NoError(t, LoadEnvFiles(filepath.Join(t.TempDir(), "absent.env"), path))
	assert.Equal(t, "from-dotenv", os.Getenv("JOBLB_TEST_ONLY_VALUE"))
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "joblb.yaml")
	c := NewDefaultConfig()
	c.Gateway.JWTSecret = "secret"
	require.NoError(t, c.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, c, loaded)
}

func TestManager(t *testing.T) {
	path := filepath.Join(t.TempDir(), "joblb.yaml")
	m := NewManager(path)
	assert.False(t, m.Exists())

	c, err := m.Load()
	require.NoError(t, err)
	assert.True(t, m.Exists())
	assert.Equal(t, NewDefaultConfig(), c)

	_, err = m.Generate(false)
	assert.Error(t, err, "generate must not silently replace a config")

	c.Queue.MaxLength = 7
	require.NoError(t, m.Save(c))

	_, err = m.Generate(true)
	require.NoError(t, err)
	reloaded, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.Queue.MaxLength)

	require.NoError(t, m.RestoreFromBackup())
	restored, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, 7, restored.Queue.MaxLength)
}
