// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Thermoquad/ebusstat/pkg/ebus"
	"github.com/spf13/cobra"
)

var (
	scanTimeout int
	scanTargets string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover secondaries by sending identification requests",
	Long: `Send an identification request (07 04) to each secondary address and list
the devices that answer.

Without --targets every secondary address except this node's own is probed,
one at a time. Each answer is decoded as manufacturer, device id, software
and hardware version.

Examples:
  # Probe every secondary address
  ebusstat scan --port /dev/ttyUSB0

  # Probe selected addresses only
  ebusstat scan --tcp adapter:9999 --targets 08,15,26

Exit codes:
  0 - Scan successful (at least one device found)
  1 - Scan failed (no devices answered)
  2 - Connection error`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 2, "Timeout in seconds for each address")
	scanCmd.Flags().StringVar(&scanTargets, "targets", "", "Comma separated secondary addresses (hex)")
}

// isSecondary reports whether address can be the destination of a
// primary-secondary telegram
func isSecondary(address byte) bool {
	return !ebus.IsPrimary(address) &&
		address != ebus.SYN &&
		address != ebus.ESC &&
		address != ebus.BroadcastAddress
}

// parseScanTargets returns the addresses to probe, skipping own
func parseScanTargets(spec string, own byte) ([]byte, error) {
	targets := make([]byte, 0)
	if strings.TrimSpace(spec) == "" {
		for a := 0; a <= 0xFF; a++ {
			if isSecondary(byte(a)) && byte(a) != own {
				targets = append(targets, byte(a))
			}
		}
		return targets, nil
	}

	for _, field := range strings.Split(spec, ",") {
		a, err := parseHexByte(field)
		if err != nil {
			return nil, err
		}
		if !isSecondary(a) {
			return nil, fmt.Errorf("%w: 0x%02X is not a secondary address", ErrInvalidAddress, a)
		}
		if a != own {
			targets = append(targets, a)
		}
	}
	return targets, nil
}

// formatIdentification decodes an identification response: manufacturer,
// five ASCII id characters, then BCD software and hardware versions
func formatIdentification(data []byte) string {
	if len(data) < 10 {
		return fmt.Sprintf("identification too short (%d bytes)", len(data))
	}
	id := strings.TrimRight(string(data[1:6]), "\x00 ")
	return fmt.Sprintf("manufacturer=0x%02X id=%q sw=%02X.%02X hw=%02X.%02X",
		data[0], id, data[6], data[7], data[8], data[9])
}

func runScan(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer s.Close()

	targets, err := parseScanTargets(scanTargets, s.engine.SecondaryAddress())
	if err != nil {
		return err
	}

	fmt.Printf("ebusstat - Secondary Scan\n")
	fmt.Printf("Connection: %s\n", s.info)
	fmt.Printf("Source: 0x%02X\n", s.engine.PrimaryAddress())
	fmt.Printf("Targets: %d addresses\n", len(targets))
	fmt.Printf("Timeout: %d seconds per address\n\n", scanTimeout)

	ctx, stop := signalContext()
	defer stop()
	s.start(ctx)

	found := 0
	for _, zz := range targets {
		c := ebus.MustCommand(s.engine.PrimaryAddress(), zz, ebus.CmdIdentification, nil)
		x, err := sendCommand(ctx, s, c, time.Duration(scanTimeout)*time.Second)
		if errors.Is(err, ErrBusClosed) {
			fmt.Printf("READ FAILED: %v\n", err)
			os.Exit(2)
		}
		if ctx.Err() != nil {
			break
		}
		if err != nil || !x.answered() {
			continue
		}

		found++
		fmt.Printf("\nDevice found:\n")
		fmt.Printf("  Address: 0x%02X\n", zz)
		fmt.Printf("  Response: [%s]\n", ebus.FormatHex(x.response.ResponseData()))
		fmt.Printf("  %s\n", formatIdentification(x.response.ResponseData()))
	}

	// Summary
	fmt.Printf("\n--- Scan summary ---\n")
	fmt.Printf("Devices found: %d\n", found)

	if found == 0 {
		fmt.Printf("No devices answered. Check connection and bus power.\n")
		os.Exit(1)
	}

	return nil
}
