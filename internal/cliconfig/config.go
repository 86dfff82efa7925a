// Package cliconfig holds the CLI configuration for dexsim: defaults,
// TOML file loading, DEXSIM_* environment overrides and validation.
//
// Precedence, highest first: command-line flags, environment variables,
// config file, built-in defaults.
package cliconfig

import (
	"fmt"
	"strconv"
	"time"

	"github.com/vendtel/go-dex/dex"
	"github.com/vendtel/go-dex/serialport"
)

// Built-in defaults for the interactive prompts.
const (
	DefaultPort     = "COM1"
	DefaultFilePath = "evadts.txt"
)

// Config holds CLI configuration for dexsim.
type Config struct {
	Port     string
	FilePath string
	BaudRate int

	CommunicationID string
	RevisionLevel   string

	HandshakeTimeout time.Duration // per-enquiry response wait, second handshake
	TransferTimeout  time.Duration // per-enquiry response wait, transfer opening
	LineTimeout      time.Duration // acknowledgment wait per data block

	HandshakeRetries int
	TransferRetries  int
	LineRetries      int

	Loop  bool
	Debug bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Port:             DefaultPort,
		FilePath:         DefaultFilePath,
		BaudRate:         serialport.DefaultBaudRate,
		CommunicationID:  dex.DefaultCommunicationID,
		RevisionLevel:    dex.DefaultRevisionLevel,
		HandshakeTimeout: dex.DefaultT1Timeout,
		TransferTimeout:  dex.DefaultT2Timeout,
		LineTimeout:      dex.DefaultT3Timeout,
		HandshakeRetries: dex.DefaultRetryLimit,
		TransferRetries:  dex.DefaultRetryLimit,
		LineRetries:      dex.DefaultRetryLimit,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.FilePath == "" {
		return fmt.Errorf("file is required")
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("baud rate must be positive")
	}

	if len(c.CommunicationID) != dex.CommunicationIDLength {
		return fmt.Errorf("communication ID must be %d characters", dex.CommunicationIDLength)
	}
	if len(c.RevisionLevel) != dex.RevisionLevelLength {
		return fmt.Errorf("revision level must be %d characters", dex.RevisionLevelLength)
	}

	for name, d := range map[string]time.Duration{
		"handshake-timeout": c.HandshakeTimeout,
		"transfer-timeout":  c.TransferTimeout,
		"line-timeout":      c.LineTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	for name, n := range map[string]int{
		"handshake-retries": c.HandshakeRetries,
		"transfer-retries":  c.TransferRetries,
		"line-retries":      c.LineRetries,
	} {
		if n < 0 || n > dex.MaxRetryLimit {
			return fmt.Errorf("%s must be in [0, %d]", name, dex.MaxRetryLimit)
		}
	}

	return nil
}

// SessionOptions converts the configuration into dex session options.
func (c *Config) SessionOptions() []dex.SessionOption {
	return []dex.SessionOption{
		dex.WithCommunicationID(c.CommunicationID),
		dex.WithRevisionLevel(c.RevisionLevel),
		dex.WithT1Timeout(c.HandshakeTimeout),
		dex.WithT2Timeout(c.TransferTimeout),
		dex.WithT3Timeout(c.LineTimeout),
		dex.WithHandshakeRetryLimit(c.HandshakeRetries),
		dex.WithTransferRetryLimit(c.TransferRetries),
		dex.WithLineRetryLimit(c.LineRetries),
	}
}

// configSetter helps apply configuration values while respecting flag
// precedence: a value is applied only when the corresponding flag has
// not been set explicitly.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setRetries sets a retry count; zero is a valid budget, so only
// negative values are skipped.
func (s *configSetter) setRetries(flag string, value *int, dst *int) {
	if value == nil || *value < 0 || s.changed[flag] {
		return
	}
	*dst = *value
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setDuration parses and sets a duration given as a string like "5s".
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", flag, err)
	}
	*dst = d

	return nil
}

// setIntFromString parses and sets an int value.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: %w", flag, err)
	}
	*dst = n

	return nil
}

// setBoolFromString parses and sets a bool value.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}

	if b, err := strconv.ParseBool(value); err == nil {
		*dst = b
	}
}
