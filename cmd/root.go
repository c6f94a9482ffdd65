// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// TCP adapter flag
	tcpAddress string

	// Engine flags
	primaryAddress string
	maxTries       int
	maxLock        int
	respondSpecs   []string

	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "ebusstat",
	Short: "eBus Protocol Analyzer",
	Long: `ebusstat - A CLI tool for monitoring, analyzing and talking to an eBus.

Every byte read from the bus is fed through a protocol engine that tracks
arbitration, decodes telegrams and, when commands are queued, competes for the
bus as a primary node.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 2400]
  TCP:       --tcp ebusd-adapter:9999
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the EBUS_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Static responses for requests to this node's secondary address:
  --respond 0704=B5424149000102  answer identification requests
  --respond B509@10=01020304     only for requests from 0x10`,
	Version:           "1.0.0",
	PersistentPreRunE: setupLogging,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 2400, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// TCP adapter flag
	rootCmd.PersistentFlags().StringVar(&tcpAddress, "tcp", "", "Raw TCP adapter address (host:port)")

	// Engine flags
	rootCmd.PersistentFlags().StringVarP(&primaryAddress, "address", "a", "ff", "Primary address of this node (hex)")
	rootCmd.PersistentFlags().IntVar(&maxTries, "max-tries", 2, "Arbitration and acknowledge attempts per command")
	rootCmd.PersistentFlags().IntVar(&maxLock, "max-lock", 4, "SYN intervals to wait after a successful send")
	rootCmd.PersistentFlags().StringArrayVar(&respondSpecs, "respond", nil, "Static response PBSB[@QQ]=HEXDATA (repeatable)")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

// setupLogging installs the tint handler on stderr
func setupLogging(cmd *cobra.Command, args []string) error {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level: %s", logLevel)
	}

	slog.SetDefault(slog.New(
		tint.NewHandler(
			os.Stderr,
			&tint.Options{
				Level:      level,
				TimeFormat: time.Kitchen,
			},
		),
	))
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
