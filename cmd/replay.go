// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Thermoquad/ebusstat/pkg/capture"
	"github.com/Thermoquad/ebusstat/pkg/ebus"
	"github.com/spf13/cobra"
)

var replayErrorsOnly bool

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Decode a capture file recorded with raw_log --record",
	Long: `Feed a recorded byte stream through a passive engine and print every
telegram with the time it was received, followed by a statistics summary.

The engine never transmits during a replay, so configured responses and the
node's own address only affect how telegrams are classified.

Use --errors-only to print failed and invalid telegrams only.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayErrorsOnly, "errors-only", false, "Only print failed or invalid telegrams")
}

// replayCapture feeds every chunk of r to engine and hands each finished
// telegram to fn together with the time of the chunk that finished it
func replayCapture(r *capture.Reader, engine *ebus.Engine, fn func(ebus.Telegram, capture.Chunk)) error {
	var current capture.Chunk
	engine.SetTelegramFunc(func(t ebus.Telegram) {
		fn(t, current)
	})

	for {
		chunk, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		current = chunk
		for _, b := range chunk.Data {
			engine.ProcessReceivedByte(b)
		}
	}
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	r, err := capture.NewReader(f)
	if err != nil {
		return err
	}

	engine, err := newEngine()
	if err != nil {
		return err
	}

	header := r.Header()
	fmt.Printf("ebusstat - Replay\n")
	fmt.Printf("File: %s\n", args[0])
	fmt.Printf("Source: %s\n", header.Source)
	fmt.Printf("Recorded: %s\n\n", header.Started.Format("2006-01-02 15:04:05"))

	stats := ebus.NewStatistics()
	err = replayCapture(r, engine, func(t ebus.Telegram, chunk capture.Chunk) {
		validationErrors := ebus.ValidateTelegram(t)
		stats.Update(t, validationErrors)

		if t.State() == ebus.StateEndArbitration {
			return
		}
		if replayErrorsOnly && !t.State().IsError() && len(validationErrors) == 0 {
			return
		}
		fmt.Print(ebus.FormatTelegram(t, chunk.Time))
	})
	if err != nil {
		return fmt.Errorf("capture read failed: %w", err)
	}

	if r.Truncated() {
		fmt.Printf("\nCapture ends inside a record; replayed up to the last complete chunk\n")
	}

	fmt.Println()
	fmt.Print(stats.String())
	return nil
}
