// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/Thermoquad/ebusstat/pkg/ebus"
	"github.com/spf13/cobra"
)

var rawLogRecord string

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw telegram log in human-readable format",
	Long: `Continuously decode and display eBus telegrams as they finish.

Each telegram is printed with timestamp, type, final state, addresses,
command and data. Failed telegrams (arbitration, NACK, missing ACK, CRC
errors) are shown as well.

Use --record to also save the raw byte stream to a capture file that can be
inspected later with the replay command.

Supports serial, TCP and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringVar(&rawLogRecord, "record", "", "Write the raw byte stream to a capture file")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if rawLogRecord != "" {
		closeCapture, err := s.record(rawLogRecord)
		if err != nil {
			return err
		}
		defer closeCapture()
	}

	fmt.Printf("ebusstat - Raw Telegram Log\n")
	fmt.Printf("Connection: %s\n", s.info)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signalContext()
	defer stop()
	s.start(ctx)

	for {
		select {
		case t := <-s.runner.Telegrams():
			fmt.Print(ebus.FormatTelegram(t, time.Now()))

		case err := <-s.Done():
			drainTelegrams(s.runner, func(t ebus.Telegram) {
				fmt.Print(ebus.FormatTelegram(t, time.Now()))
			})
			return sessionEnded(err)
		}
	}
}

// drainTelegrams hands every telegram still buffered in r to fn
func drainTelegrams(r *ebus.Runner, fn func(ebus.Telegram)) {
	for {
		select {
		case t := <-r.Telegrams():
			fn(t)
		default:
			return
		}
	}
}
