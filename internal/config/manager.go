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
	"fmt"
	"os"
)

// Manager handles configuration file operations for the CLI
type Manager struct {
	path string
}

// NewManager creates a manager for the config file at path
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Path returns the configuration file path
func (m *Manager) Path() string {
	return m.path
}

// Exists reports whether the configuration file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Load loads the configuration, writing the defaults first if the file
// does not exist yet
func (m *Manager) Load() (*Config, error) {
	if !m.Exists() {
		config := NewDefaultConfig()
		if err := m.Save(config); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return config, nil
	}

	config, err := LoadConfig(m.path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return config, nil
}

// Save writes config to the managed path
func (m *Manager) Save(config *Config) error {
	if err := SaveConfig(config, m.path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// Generate writes a fresh default configuration. An existing file is
// backed up first unless overwrite is false, in which case it is an error.
func (m *Manager) Generate(overwrite bool) (*Config, error) {
	if m.Exists() {
		if !overwrite {
			return nil, fmt.Errorf("config file already exists: %s", m.path)
		}
		if err := m.Backup(); err != nil {
			return nil, fmt.Errorf("failed to back up existing config: %w", err)
		}
	}

	config := NewDefaultConfig()
	if err := m.Save(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Backup copies the current file to <path>.backup
func (m *Manager) Backup() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return os.WriteFile(m.backupPath(), data, 0600)
}

// RestoreFromBackup restores configuration from backup
func (m *Manager) RestoreFromBackup() error {
	if _, err := os.Stat(m.backupPath()); os.IsNotExist(err) {
		return fmt.Errorf("backup file does not exist: %s", m.backupPath())
	}

	config, err := LoadConfig(m.backupPath())
	if err != nil {
		return fmt.Errorf("failed to load backup: %w", err)
	}
	return m.Save(config)
}

func (m *Manager) backupPath() string {
	return m.path + ".backup"
}
