// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/ebusstat/pkg/ebus"
	"github.com/spf13/cobra"
)

var (
	sendDestination string
	sendCommandHex  string
	sendData        string
	sendTimeout     int
	sendCount       int
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a command on the bus and wait for the result",
	Long: `Queue a command from this node's primary address and wait for the outcome.

The command competes for the bus through arbitration. Requests to a primary
address complete when the destination acknowledges them, broadcasts complete
once transmitted, and requests to a secondary address wait for the response,
which is acknowledged and printed.

Examples:
  # Read the identification of secondary 0x15
  ebusstat send --port /dev/ttyUSB0 --zz 15 --cmd 0704

  # Broadcast a date/time telegram
  ebusstat send --tcp adapter:9999 --zz fe --cmd 0700 --data 0015103001

Exit codes:
  0 - All commands successful
  1 - One or more commands failed/timed out
  2 - Connection error`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendDestination, "zz", "", "Destination address (hex)")
	sendCmd.Flags().StringVar(&sendCommandHex, "cmd", "", "Command PBSB (4 hex digits)")
	sendCmd.Flags().StringVar(&sendData, "data", "", "Request data (hex)")
	sendCmd.Flags().IntVar(&sendTimeout, "timeout", 5, "Timeout in seconds for each command")
	sendCmd.Flags().IntVar(&sendCount, "count", 1, "Number of times to send the command")
	sendCmd.MarkFlagRequired("zz")
	sendCmd.MarkFlagRequired("cmd")
}

func runSend(cmd *cobra.Command, args []string) error {
	zz, err := parseHexByte(sendDestination)
	if err != nil {
		return err
	}
	command, err := parseCommand(sendCommandHex)
	if err != nil {
		return err
	}
	data, err := parseHexData(sendData)
	if err != nil {
		return err
	}
	if sendCount < 1 {
		return fmt.Errorf("--count must be at least 1, got %d", sendCount)
	}

	s, err := openSession()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer s.Close()

	c, err := ebus.NewCommand(s.engine.PrimaryAddress(), zz, command, data)
	if err != nil {
		return err
	}

	fmt.Printf("ebusstat - Send Command\n")
	fmt.Printf("Connection: %s\n", s.info)
	fmt.Printf("Request: %02X -> %02X cmd=%s data=[%s]\n", c.QQ(), c.ZZ(), ebus.FormatCommand(command), ebus.FormatHex(data))
	fmt.Printf("Timeout: %d seconds per command\n\n", sendTimeout)

	ctx, stop := signalContext()
	defer stop()
	s.start(ctx)

	successCount := 0
	failCount := 0

	for i := 1; i <= sendCount; i++ {
		fmt.Printf("Send %d/%d: ", i, sendCount)

		x, err := sendCommand(ctx, s, c, time.Duration(sendTimeout)*time.Second)
		switch {
		case errors.Is(err, ErrBusClosed):
			fmt.Printf("READ FAILED: %v\n", err)
			os.Exit(2)
		case errors.Is(err, ErrExchangeTimeout):
			fmt.Printf("TIMEOUT (no result in %ds)\n", sendTimeout)
			failCount++
		case err != nil:
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		default:
			printExchange(x)
			if x.answered() {
				successCount++
			} else {
				failCount++
			}
		}

		if ctx.Err() != nil {
			break
		}
	}

	// Summary
	fmt.Printf("\n--- Send statistics ---\n")
	fmt.Printf("%d commands sent, %d successful, %.0f%% failed\n",
		successCount+failCount, successCount, float64(failCount)/float64(successCount+failCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}

// printExchange prints the result line of one command
func printExchange(x exchange) {
	state := ebus.FormatState(x.command.State())
	if x.response == nil {
		fmt.Printf("%s, tries=%d, time=%v\n", state, x.command.TriesUsed(), x.elapsed.Round(time.Millisecond))
		return
	}

	r := x.response
	if r.State() != ebus.StateEndCompleted {
		fmt.Printf("%s, response %s, tries=%d\n", state, ebus.FormatState(r.State()), x.command.TriesUsed())
		return
	}
	fmt.Printf("response from %02X: [%s], tries=%d, time=%v\n",
		r.ZZ(), ebus.FormatHex(r.ResponseData()), x.command.TriesUsed(), x.elapsed.Round(time.Millisecond))
	if r.Command() == ebus.CmdIdentification {
		fmt.Printf("  %s\n", formatIdentification(r.ResponseData()))
	}
}
