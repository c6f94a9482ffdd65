// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/Thermoquad/ebusstat/pkg/ebus"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze failed and malformed telegrams",
	Long: `Track telegram errors, malformed frames and bus anomalies with statistics.

This command validates each finished telegram and detects:
  - Protocol failures (unexpected SYN, NACK, missing ACK)
  - Request and response CRC errors
  - Length bytes of 16 or more (read as 0)
  - Source addresses that are not primary addresses
  - Statistics and trends (telegram rate, error rate, completion rate)

By default, only errors are displayed. Use --show-all to display valid telegrams too.

In TUI mode the bus participants are listed as they appear, and commands can
be queued with Tab followed by "ZZ PBSB [DATA]", e.g. "15 0704". Press 'r' to
reset the statistics.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all telegrams (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	if statsInterval < 1 {
		return fmt.Errorf("--stats-interval must be at least 1, got %d", statsInterval)
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signalContext()
	defer stop()
	s.start(ctx)

	if useTUI {
		return runTUIMode(ctx, s)
	}
	return runTextMode(s)
}

// printTelegramErrors prints a failed or anomalous telegram in highlighted format
func printTelegramErrors(t ebus.Telegram, errs []ebus.ValidationError) {
	timestamp := time.Now().Format("15:04:05.000")

	if t.State().IsError() {
		fmt.Printf("[%s] \033[1;31m%s:\033[0m %02X -> %02X cmd=%s\n",
			timestamp, ebus.FormatState(t.State()), t.QQ(), t.ZZ(), ebus.FormatCommand(t.Command()))
	} else {
		fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %02X -> %02X cmd=%s\n",
			timestamp, t.QQ(), t.ZZ(), ebus.FormatCommand(t.Command()))
	}

	for i, err := range errs {
		switch err.Type {
		case ebus.AnomalyRequestCRC, ebus.AnomalyResponseCRC:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
			if received, ok := err.Details["received"].(byte); ok {
				if calculated, ok := err.Details["calculated"].(byte); ok {
					fmt.Printf("    CRC: received=0x%02X, calculated=0x%02X\n", received, calculated)
				}
			}

		case ebus.AnomalyLengthClamped, ebus.AnomalyResponseLengthClamped:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
			if declared, ok := err.Details["declared"].(byte); ok {
				fmt.Printf("    NN=0x%02X (max %d)\n", declared, ebus.MaxDataLength-1)
			}

		case ebus.AnomalySourceNotPrimary:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)

		default:
			fmt.Printf("  Issue %d: %s\n", i+1, err.Message)
		}
	}

	if raw := t.RequestBytes(); len(raw) > 0 {
		fmt.Printf("  Request: %s\n", ebus.FormatHex(raw))
	}
	if raw := t.ResponseBytes(); len(raw) > 0 {
		fmt.Printf("  Response: %s\n", ebus.FormatHex(raw))
	}
	fmt.Printf("  >>> TELEGRAM REJECTED <<<\n\n")
}

// printCommandResult prints the outcome of a command queued by this node
func printCommandResult(c ebus.Command) {
	timestamp := time.Now().Format("15:04:05.000")
	color := "32"
	if c.State().IsError() {
		color = "31"
	}
	fmt.Printf("[%s] \033[1;%smCOMMAND %s:\033[0m %02X -> %02X cmd=%s tries=%d\n\n",
		timestamp, color, ebus.FormatState(c.State()), c.QQ(), c.ZZ(),
		ebus.FormatCommand(c.Command()), c.TriesUsed())
}

// runTUIMode runs error detection in TUI mode
func runTUIMode(ctx context.Context, s *session) error {
	m := initialModel(s.info, s.engine.PrimaryAddress(), statsInterval, showAll, s.runner.Enqueue)
	p := tea.NewProgram(m, tea.WithContext(ctx))

	// Bus reader goroutine
	go func() {
		for {
			select {
			case t := <-s.runner.Telegrams():
				p.Send(telegramMsg{
					telegram:         t,
					validationErrors: ebus.ValidateTelegram(t),
				})
			case c := <-s.runner.Results():
				p.Send(resultMsg{command: c})
			case err := <-s.Done():
				p.Send(busClosedMsg{err: sessionEnded(err)})
				return
			}
		}
	}()

	// Run TUI
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %v", err)
	}

	return nil
}

// runTextMode runs error detection in text mode
func runTextMode(s *session) error {
	fmt.Printf("ebusstat - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", s.info)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All telegrams\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := ebus.NewStatistics()

	// Statistics ticker
	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	handle := func(t ebus.Telegram) {
		validationErrors := ebus.ValidateTelegram(t)
		stats.Update(t, validationErrors)

		// Arbitration losses are part of normal bus operation
		if t.State() == ebus.StateEndArbitration {
			return
		}

		if t.State().IsError() || len(validationErrors) > 0 {
			printTelegramErrors(t, validationErrors)
		} else if showAll {
			fmt.Print(ebus.FormatTelegram(t, time.Now()))
		}
	}

	for {
		select {
		case t := <-s.runner.Telegrams():
			handle(t)

		case c := <-s.runner.Results():
			stats.UpdateCommand(c)
			printCommandResult(c)

		case err := <-s.Done():
			drainTelegrams(s.runner, handle)
			fmt.Println()
			fmt.Print(stats.String())
			return sessionEnded(err)

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}
