package cliconfig

import "os"

// Environment variable names recognized by dexsim.
const (
	envPort             = "DEXSIM_PORT"
	envFile             = "DEXSIM_FILE"
	envBaudRate         = "DEXSIM_BAUD_RATE"
	envCommunicationID  = "DEXSIM_COMMUNICATION_ID"
	envRevisionLevel    = "DEXSIM_REVISION_LEVEL"
	envHandshakeTimeout = "DEXSIM_HANDSHAKE_TIMEOUT"
	envTransferTimeout  = "DEXSIM_TRANSFER_TIMEOUT"
	envLineTimeout      = "DEXSIM_LINE_TIMEOUT"
	envHandshakeRetries = "DEXSIM_HANDSHAKE_RETRIES"
	envTransferRetries  = "DEXSIM_TRANSFER_RETRIES"
	envLineRetries      = "DEXSIM_LINE_RETRIES"
	envLoop             = "DEXSIM_LOOP"
	envDebug            = "DEXSIM_DEBUG"
)

// ApplyEnvConfig applies DEXSIM_* environment variables to the Config
// struct. It respects flags that have been explicitly set (changed map).
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("port", os.Getenv(envPort), &cfg.Port)
	s.setString("file", os.Getenv(envFile), &cfg.FilePath)
	s.setString("communication-id", os.Getenv(envCommunicationID), &cfg.CommunicationID)
	s.setString("revision-level", os.Getenv(envRevisionLevel), &cfg.RevisionLevel)

	if err := s.setIntFromString("baud", os.Getenv(envBaudRate), &cfg.BaudRate); err != nil {
		return err
	}

	if err := s.setDuration("handshake-timeout", os.Getenv(envHandshakeTimeout), &cfg.HandshakeTimeout); err != nil {
		return err
	}
	if err := s.setDuration("transfer-timeout", os.Getenv(envTransferTimeout), &cfg.TransferTimeout); err != nil {
		return err
	}
	if err := s.setDuration("line-timeout", os.Getenv(envLineTimeout), &cfg.LineTimeout); err != nil {
		return err
	}

	if err := s.setIntFromString("handshake-retries", os.Getenv(envHandshakeRetries), &cfg.HandshakeRetries); err != nil {
		return err
	}
	if err := s.setIntFromString("transfer-retries", os.Getenv(envTransferRetries), &cfg.TransferRetries); err != nil {
		return err
	}
	if err := s.setIntFromString("line-retries", os.Getenv(envLineRetries), &cfg.LineRetries); err != nil {
		return err
	}

	s.setBoolFromString("loop", os.Getenv(envLoop), &cfg.Loop)
	s.setBoolFromString("debug", os.Getenv(envDebug), &cfg.Debug)

	return nil
}
