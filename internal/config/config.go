// internal/config/config.go

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"sshmen/internal/crypto"
	apperr "sshmen/internal/error"
	"sshmen/internal/models"
)

const (
	DefaultConfigFileName = "ssh_hosts.json"
	DefaultConfigDir      = ".config/sshmen"
	DefaultFilePerms      = 0600
)

// Manager holds the bookmark file in memory. Callers Load, mutate and Save.
type Manager struct {
	configPath string
	config     *models.Config
}

// NewManager returns a manager for configPath, or for the default location
// when configPath is empty.
func NewManager(configPath string) *Manager {
	if configPath == "" {
		if dir, err := GetDefaultConfigDir(); err == nil {
			configPath = filepath.Join(dir, DefaultConfigFileName)
		} else {
			configPath = DefaultConfigFileName
		}
	}

	return &Manager{
		configPath: configPath,
		config:     &models.Config{},
	}
}

func (m *Manager) Path() string {
	return m.configPath
}

// Load reads the bookmark file. A missing file yields an empty config and
// is written out so the user has something to edit.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.config = &models.Config{
				Hosts:     make([]models.Host, 0),
				Passwords: make([]models.Password, 0),
			}
			return m.Save()
		}
		return apperr.New(apperr.ConfigError, "failed to read config file", err)
	}

	cfg := &models.Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return apperr.New(apperr.ConfigError, fmt.Sprintf("failed to parse config file %s", m.configPath), err)
	}
	m.config = cfg
	return nil
}

// Save writes the bookmark file with owner-only permissions.
func (m *Manager) Save() error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0700); err != nil {
		return apperr.New(apperr.ConfigError, "failed to create config directory", err)
	}

	data, err := json.MarshalIndent(m.config, "", "    ")
	if err != nil {
		return apperr.New(apperr.ConfigError, "failed to marshal config", err)
	}

	if err := os.WriteFile(m.configPath, data, DefaultFilePerms); err != nil {
		return apperr.New(apperr.ConfigError, "failed to write config file", err)
	}
	return os.Chmod(m.configPath, DefaultFilePerms)
}

func (m *Manager) GetHosts() []models.Host {
	return m.config.Hosts
}

// UpsertHost replaces the bookmark with the same name or appends a new one.
func (m *Manager) UpsertHost(host models.Host) error {
	if host.Name == "" {
		return apperr.New(apperr.ValidationError, "bookmark name cannot be empty", nil)
	}
	if err := host.Validate(); err != nil {
		return apperr.New(apperr.ValidationError, "invalid bookmark", err)
	}
	for i := range m.config.Hosts {
		if m.config.Hosts[i].Name == host.Name {
			m.config.Hosts[i] = host
			return nil
		}
	}
	m.config.Hosts = append(m.config.Hosts, host)
	return nil
}

func (m *Manager) DeleteHost(name string) error {
	for i, host := range m.config.Hosts {
		if host.Name == name {
			m.config.Hosts = append(m.config.Hosts[:i], m.config.Hosts[i+1:]...)
			return nil
		}
	}
	return apperr.New(apperr.ValidationError, fmt.Sprintf("bookmark %q not found", name), nil)
}

// FindHostByName returns a copy of the named bookmark.
func (m *Manager) FindHostByName(name string) (models.Host, error) {
	for _, host := range m.config.Hosts {
		if host.Name == name {
			return host, nil
		}
	}
	return models.Host{}, apperr.New(apperr.ConfigError, fmt.Sprintf("bookmark %q not found", name), nil)
}

func (m *Manager) GetPasswords() []models.Password {
	return m.config.Passwords
}

// AddPassword stores an already encrypted password and returns its index.
func (m *Manager) AddPassword(password models.Password) int {
	m.config.Passwords = append(m.config.Passwords, password)
	return len(m.config.Passwords) - 1
}

// DeletePassword refuses to remove a password a bookmark still points at.
func (m *Manager) DeletePassword(index int) error {
	if index < 0 || index >= len(m.config.Passwords) {
		return errors.New("invalid password index")
	}
	for _, host := range m.config.Hosts {
		if host.PasswordID == index {
			return fmt.Errorf("password is in use by bookmark %q", host.Name)
		}
	}
	m.config.Passwords = append(m.config.Passwords[:index], m.config.Passwords[index+1:]...)
	for i := range m.config.Hosts {
		if m.config.Hosts[i].PasswordID > index {
			m.config.Hosts[i].PasswordID--
		}
	}
	return nil
}

func (m *Manager) GetPassword(index int) (models.Password, error) {
	if index < 0 || index >= len(m.config.Passwords) {
		return models.Password{}, errors.New("invalid password index")
	}
	return m.config.Passwords[index], nil
}

// HostPassword returns the decrypted stored password for host, or "" when
// it has none.
func (m *Manager) HostPassword(host *models.Host, cipher *crypto.Cipher) (string, error) {
	if !host.HasPassword() {
		return "", nil
	}
	stored, err := m.GetPassword(host.PasswordID)
	if err != nil {
		return "", apperr.New(apperr.ConfigError, fmt.Sprintf("bookmark %q references a missing password", host.Name), err)
	}
	plain, err := stored.GetDecrypted(cipher)
	if err != nil {
		return "", apperr.New(apperr.CryptoError, "failed to decrypt stored password", err)
	}
	return plain, nil
}

// GetDefaultConfigDir returns ~/.config/sshmen.
func GetDefaultConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get home directory: %w", err)
	}
	return filepath.Join(homeDir, DefaultConfigDir), nil
}
