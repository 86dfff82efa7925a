package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Port     string `toml:"port"`
	FilePath string `toml:"file"`
	BaudRate int    `toml:"baud_rate"`

	CommunicationID string `toml:"communication_id"`
	RevisionLevel   string `toml:"revision_level"`

	HandshakeTimeout string `toml:"handshake_timeout"`
	TransferTimeout  string `toml:"transfer_timeout"`
	LineTimeout      string `toml:"line_timeout"`

	HandshakeRetries *int `toml:"handshake_retries"`
	TransferRetries  *int `toml:"transfer_retries"`
	LineRetries      *int `toml:"line_retries"`

	Loop  *bool `toml:"loop"`
	Debug *bool `toml:"debug"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig

	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}

	return fc, nil
}

// DefaultConfigPath returns the default configuration file path,
// ~/.dexsim/config.toml, if the user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".dexsim", "config.toml")
	}

	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("port", fc.Port, &cfg.Port)
	s.setString("file", fc.FilePath, &cfg.FilePath)
	s.setString("communication-id", fc.CommunicationID, &cfg.CommunicationID)
	s.setString("revision-level", fc.RevisionLevel, &cfg.RevisionLevel)

	s.setInt("baud", fc.BaudRate, &cfg.BaudRate)

	if err := s.setDuration("handshake-timeout", fc.HandshakeTimeout, &cfg.HandshakeTimeout); err != nil {
		return err
	}
	if err := s.setDuration("transfer-timeout", fc.TransferTimeout, &cfg.TransferTimeout); err != nil {
		return err
	}
	if err := s.setDuration("line-timeout", fc.LineTimeout, &cfg.LineTimeout); err != nil {
		return err
	}

	s.setRetries("handshake-retries", fc.HandshakeRetries, &cfg.HandshakeRetries)
	s.setRetries("transfer-retries", fc.TransferRetries, &cfg.TransferRetries)
	s.setRetries("line-retries", fc.LineRetries, &cfg.LineRetries)

	s.setBool("loop", fc.Loop, &cfg.Loop)
	s.setBool("debug", fc.Debug, &cfg.Debug)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)

	return err == nil
}
