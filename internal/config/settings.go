// internal/config/settings.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	apperr "sshmen/internal/error"
	"sshmen/internal/utils"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	SettingsFileName = "settings.yaml"
	EnvFileName      = ".env"
	EnvPrefix        = "SSHMEN"
)

// Settings tune the session and tunnel engine. Every path the engine touches
// comes from here.
type Settings struct {
	KnownHostsFile  string `yaml:"known_hosts_file" envconfig:"KNOWN_HOSTS_FILE"`
	HashKnownHosts  bool   `yaml:"hash_known_hosts" envconfig:"HASH_KNOWN_HOSTS"`
	TunnelStateFile string `yaml:"tunnel_state_file" envconfig:"TUNNEL_STATE_FILE"`
	KeyDir          string `yaml:"key_dir" envconfig:"KEY_DIR"`

	ConnectTimeout   time.Duration `yaml:"connect_timeout" envconfig:"CONNECT_TIMEOUT"`
	KeepAlive        time.Duration `yaml:"keep_alive" envconfig:"KEEP_ALIVE"`
	ReconnectInitial time.Duration `yaml:"reconnect_initial" envconfig:"RECONNECT_INITIAL"`
	ReconnectMax     time.Duration `yaml:"reconnect_max" envconfig:"RECONNECT_MAX"`

	SnippetTrigger  string   `yaml:"snippet_trigger" envconfig:"SNIPPET_TRIGGER"`
	BookmarkTrigger string   `yaml:"bookmark_trigger" envconfig:"BOOKMARK_TRIGGER"`
	Snippets        []string `yaml:"snippets" envconfig:"SNIPPETS"`

	// Background tints the local terminal during shells when a bookmark has
	// no color of its own.
	Background string `yaml:"background" envconfig:"BACKGROUND"`

	LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFile  string `yaml:"log_file" envconfig:"LOG_FILE"`
}

// DefaultSettings are used for anything the settings file and environment
// leave unset.
func DefaultSettings(configDir string) Settings {
	return Settings{
		KnownHostsFile:   "~/.ssh/known_hosts",
		TunnelStateFile:  filepath.Join(configDir, "tunnels.json"),
		KeyDir:           "~/.ssh",
		ConnectTimeout:   10 * time.Second,
		KeepAlive:        30 * time.Second,
		ReconnectInitial: time.Second,
		ReconnectMax:     time.Minute,
		SnippetTrigger:   "~~",
		BookmarkTrigger:  "~b",
		LogLevel:         "info",
		LogFile:          filepath.Join(configDir, "sshmen.log"),
	}
}

// LoadSettings layers defaults, configDir/.env, configDir/settings.yaml and
// SSHMEN_* environment variables, later sources winning. Missing files are
// skipped.
func LoadSettings(configDir string) (*Settings, error) {
	s := DefaultSettings(configDir)

	envPath := filepath.Join(configDir, EnvFileName)
	if _, err := os.Stat(envPath); err == nil {
		// godotenv never overrides variables already in the environment.
		if err := godotenv.Load(envPath); err != nil {
			return nil, apperr.New(apperr.ConfigError, fmt.Sprintf("failed to read %s", envPath), err)
		}
	}

	settingsPath := filepath.Join(configDir, SettingsFileName)
	data, err := os.ReadFile(settingsPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, apperr.New(apperr.ConfigError, fmt.Sprintf("failed to parse %s", settingsPath), err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, apperr.New(apperr.ConfigError, fmt.Sprintf("failed to read %s", settingsPath), err)
	}

	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return nil, apperr.New(apperr.ConfigError, "failed to read environment overrides", err)
	}

	for _, p := range []*string{&s.KnownHostsFile, &s.TunnelStateFile, &s.KeyDir, &s.LogFile} {
		expanded, err := utils.ExpandHome(*p)
		if err != nil {
			return nil, apperr.New(apperr.ConfigError, fmt.Sprintf("failed to expand %s", *p), err)
		}
		*p = expanded
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) Validate() error {
	if s.KnownHostsFile == "" {
		return apperr.New(apperr.ConfigError, "known_hosts_file cannot be empty", nil)
	}
	if s.TunnelStateFile == "" {
		return apperr.New(apperr.ConfigError, "tunnel_state_file cannot be empty", nil)
	}
	if s.ConnectTimeout <= 0 {
		return apperr.New(apperr.ConfigError, "connect_timeout must be positive", nil)
	}
	if s.KeepAlive < 0 {
		return apperr.New(apperr.ConfigError, "keep_alive cannot be negative", nil)
	}
	if s.ReconnectInitial <= 0 || s.ReconnectMax < s.ReconnectInitial {
		return apperr.New(apperr.ConfigError, "reconnect_max must be at least reconnect_initial, and both positive", nil)
	}
	return nil
}
