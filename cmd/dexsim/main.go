// Command dexsim simulates the vending-machine side of a DEX/UCS audit
// transfer: it waits for a telemetry host on a serial line, completes
// both handshakes and delivers an EVA-DTS audit file line by line.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/vendtel/go-dex/dex"
	"github.com/vendtel/go-dex/evadts"
	"github.com/vendtel/go-dex/internal/cliconfig"
	"github.com/vendtel/go-dex/internal/pool"
	"github.com/vendtel/go-dex/logger"
	"github.com/vendtel/go-dex/serialport"
)

// loopRestartDelay separates sessions in --loop mode so the host sees a
// quiet line between audits.
const loopRestartDelay = 2 * time.Second

var exampleUsage = strings.TrimSpace(`
  dexsim --port /dev/ttyUSB0 --file audit.dex
  dexsim --port COM3 --baud 9600 --loop
  dexsim --config ~/.dexsim/config.toml
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}

	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:     "dexsim",
		Short:   "Serve a DEX/UCS audit transfer on a serial line",
		Example: exampleUsage,
		Version: getVersion(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}
			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config %s: %w", cfgFile, err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}

			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}

			if cfg.Debug {
				logger.SetLevel(logger.DebugLevel)
			}

			promptMissing(&cfg, changed)

			if err := cfg.Validate(); err != nil {
				return err
			}

			return run(cmd.Context(), cfg)
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.dexsim/config.toml)")
	root.Flags().StringVarP(&cfg.Port, "port", "p", cfg.Port, "serial device to serve on")
	root.Flags().StringVarP(&cfg.FilePath, "file", "f", cfg.FilePath, "EVA-DTS audit file to transmit")
	root.Flags().IntVar(&cfg.BaudRate, "baud", cfg.BaudRate, "serial line baud rate")

	root.Flags().StringVar(&cfg.CommunicationID, "communication-id", cfg.CommunicationID, "10-character device communication ID")
	root.Flags().StringVar(&cfg.RevisionLevel, "revision-level", cfg.RevisionLevel, "6-character revision and level code")

	root.Flags().DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", cfg.HandshakeTimeout, "response wait per handshake enquiry")
	root.Flags().DurationVar(&cfg.TransferTimeout, "transfer-timeout", cfg.TransferTimeout, "response wait when opening the transfer")
	root.Flags().DurationVar(&cfg.LineTimeout, "line-timeout", cfg.LineTimeout, "acknowledgment wait per data block")

	root.Flags().IntVar(&cfg.HandshakeRetries, "handshake-retries", cfg.HandshakeRetries, "handshake retry budget")
	root.Flags().IntVar(&cfg.TransferRetries, "transfer-retries", cfg.TransferRetries, "transfer-open retry budget")
	root.Flags().IntVar(&cfg.LineRetries, "line-retries", cfg.LineRetries, "per-block resend budget")

	root.Flags().BoolVar(&cfg.Loop, "loop", cfg.Loop, "serve sessions until interrupted")
	root.Flags().BoolVar(&cfg.Debug, "debug", cfg.Debug, "log protocol traffic")

	if err := root.Execute(); err != nil {
		logger.Error("dexsim", "error", err)
		os.Exit(1)
	}
}

// run serves one audit session, or keeps serving them in loop mode
// until the context is canceled.
func run(parent context.Context, cfg cliconfig.Config) error {
	log := logger.GetLogger()

	lines, err := evadts.ReadLines(cfg.FilePath)
	if err != nil {
		return err
	}
	log.Info("audit file loaded", "file", cfg.FilePath, "lines", len(lines))

	sessCfg, err := dex.NewSessionConfig(append(cfg.SessionOptions(), dex.WithLogger(log))...)
	if err != nil {
		return err
	}

	port, err := serialport.Open(cfg.Port, cfg.BaudRate)
	if err != nil {
		return err
	}
	defer port.Close()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		engine := dex.NewEngine(sessCfg, port, lines)

		log.Info("waiting for host enquiry", "port", cfg.Port, "baud", cfg.BaudRate)

		err := engine.Run(ctx)
		m := engine.Metrics()

		switch {
		case err != nil && ctx.Err() != nil:
			log.Info("interrupted")

			return nil

		case err != nil:
			log.Error("session failed",
				"phase", engine.Session().Phase(),
				"linesConfirmed", m.LineConfirmedCount.Load(),
				"error", err,
			)
			if !cfg.Loop {
				return err
			}

		default:
			log.Info("audit delivered",
				"linesConfirmed", m.LineConfirmedCount.Load(),
				"blocksSent", m.FrameSendCount.Load(),
				"resends", m.FrameRetryCount.Load(),
				"bytesSent", m.BytesSent.Load(),
			)
			if !cfg.Loop {
				return nil
			}
		}

		timer := pool.GetTimer(loopRestartDelay)
		select {
		case <-ctx.Done():
			pool.PutTimer(timer)

			return nil
		case <-timer.C:
			pool.PutTimer(timer)
		}
	}
}

// promptMissing asks for the port and file interactively when stdin is
// a terminal and the value was not pinned by a flag. Empty input keeps
// the shown default.
func promptMissing(cfg *cliconfig.Config, changed map[string]bool) {
	if !stdinIsTerminal() {
		return
	}

	in := bufio.NewReader(os.Stdin)

	if !changed["port"] {
		if ports, err := serialport.List(); err == nil && len(ports) > 0 {
			fmt.Printf("available ports: %s\n", strings.Join(ports, ", "))
		}
		cfg.Port = promptString(in, "serial port", cfg.Port)
	}
	if !changed["file"] {
		cfg.FilePath = promptString(in, "audit file", cfg.FilePath)
	}
}

func promptString(in *bufio.Reader, label, def string) string {
	fmt.Printf("%s [%s]: ", label, def)

	line, _ := in.ReadString('\n')

	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}

	return line
}

func stdinIsTerminal() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}

	return fi.Mode()&os.ModeCharDevice != 0
}
