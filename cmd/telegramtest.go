// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/ebusstat/pkg/ebus"
	"github.com/spf13/cobra"
)

var (
	telegramTestTimeout int
)

var telegramTestCmd = &cobra.Command{
	Use:   "telegram_test",
	Short: "Test connection by waiting for a valid eBus telegram",
	Long: `Wait for a valid eBus telegram on the connection until timeout.

This command connects to a serial port, TCP adapter or WebSocket and waits for
any telegram that completes without protocol errors and passes validation
(CRC, length and source address checks). Failed telegrams and arbitration
rounds are counted but otherwise ignored.

Exit codes:
  0 - Telegram received before timeout
  1 - Timeout reached without receiving a valid telegram
  2 - Connection error

Useful for testing connectivity to a bus adapter.`,
	RunE: runTelegramTest,
}

func init() {
	rootCmd.AddCommand(telegramTestCmd)
	telegramTestCmd.Flags().IntVar(&telegramTestTimeout, "timeout", 10, "Timeout in seconds to wait for a telegram")
}

// isValidTelegram reports whether t completed and passed validation
func isValidTelegram(t ebus.Telegram) bool {
	return t.State() == ebus.StateEndCompleted && len(ebus.ValidateTelegram(t)) == 0
}

func runTelegramTest(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer s.Close()

	fmt.Printf("ebusstat - Telegram Test\n")
	fmt.Printf("Connection: %s\n", s.info)
	fmt.Printf("Timeout: %d seconds\n", telegramTestTimeout)
	fmt.Printf("Waiting for valid eBus telegram...\n\n")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(telegramTestTimeout)*time.Second)
	defer cancel()
	s.start(ctx)

	skipped := 0
	for {
		select {
		case t := <-s.runner.Telegrams():
			if !isValidTelegram(t) {
				skipped++
				continue
			}
			if skipped > 0 {
				fmt.Printf("(skipped %d failed telegrams)\n", skipped)
			}
			fmt.Printf("SUCCESS: Received valid telegram\n")
			fmt.Printf("  Type: %s\n", ebus.FormatType(t.Type()))
			fmt.Printf("  Source: 0x%02X\n", t.QQ())
			fmt.Printf("  Destination: 0x%02X\n", t.ZZ())
			fmt.Printf("  Command: %s\n", ebus.FormatCommand(t.Command()))
			fmt.Printf("  Length: %d bytes\n", t.NN())
			fmt.Printf("  CRC: 0x%02X\n", t.RequestCRC())
			if t.Type() == ebus.TypePrimarySecondary {
				fmt.Printf("  Response: [%s]\n", ebus.FormatHex(t.ResponseData()))
			}
			os.Exit(0)

		case err := <-s.Done():
			if ctx.Err() != nil {
				fmt.Fprintf(os.Stderr, "TIMEOUT: No valid telegram received within %d seconds\n", telegramTestTimeout)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			os.Exit(2)
		}
	}
}
