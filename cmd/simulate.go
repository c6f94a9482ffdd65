// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/ebusstat/pkg/ebus"
	"github.com/spf13/cobra"
)

var (
	simulateFrom     string
	simulateShowWire bool
)

// simulationSteps bounds one simulated exchange
const simulationSteps = 200

var ErrSimulationFailed = errors.New("simulation failed")

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Check the configured responses on a simulated bus",
	Long: `Run this node and a virtual primary on an in-memory bus and let the virtual
primary request every command configured with --respond.

No connection is needed. Each exchange is printed as the telegram the virtual
primary received, and the response data is compared with the configuration.
Responses limited to one source (PBSB@QQ=...) are requested from that source.

Example:
  ebusstat simulate --address 30 --respond 0704=B5424149000102 --show-wire`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simulateFrom, "from", "10", "Primary address of the virtual requester (hex)")
	simulateCmd.Flags().BoolVar(&simulateShowWire, "show-wire", false, "Print the raw bus symbols of each exchange")
}

// simulatedExchange is one request of the virtual primary
type simulatedExchange struct {
	expected staticResponse
	command  ebus.Command
	telegram *ebus.Telegram
	wire     []byte
}

// ok reports whether the node answered with the configured data
func (x simulatedExchange) ok() bool {
	return x.command.State() == ebus.StateEndCompleted &&
		x.telegram != nil &&
		x.telegram.State() == ebus.StateEndCompleted &&
		bytes.Equal(x.telegram.ResponseData(), x.expected.data)
}

// simulateResponses requests every response from an engine built with cfg
func simulateResponses(cfg ebus.Config, from byte, responses []staticResponse) ([]simulatedExchange, error) {
	if !ebus.IsPrimary(from) {
		return nil, fmt.Errorf("%w: 0x%02X is not a primary address", ErrInvalidAddress, from)
	}

	exchanges := make([]simulatedExchange, 0, len(responses))
	for _, r := range responses {
		source := from
		if !r.anySrc {
			source = r.source
		}
		if source == cfg.PrimaryAddress {
			return nil, fmt.Errorf("%w: requester 0x%02X is this node's address", ErrInvalidAddress, source)
		}

		node := newResponderEngine(cfg, responses)
		x, err := simulateExchange(node, source, r)
		if err != nil {
			return nil, err
		}
		exchanges = append(exchanges, x)
	}
	return exchanges, nil
}

func simulateExchange(node *ebus.Engine, source byte, r staticResponse) (simulatedExchange, error) {
	c, err := ebus.NewCommand(source, node.SecondaryAddress(), r.command, nil)
	if err != nil {
		return simulatedExchange{}, err
	}
	x := simulatedExchange{expected: r}

	requesterCfg := ebus.DefaultConfig
	requesterCfg.PrimaryAddress = source
	requester := ebus.NewEngine(requesterCfg)

	queue := []ebus.Command{c}
	done := false
	requester.SetDequeueFunc(func(next *ebus.Command) bool {
		if len(queue) == 0 {
			return false
		}
		*next = queue[0]
		queue = queue[1:]
		return true
	})
	requester.SetCommandDoneFunc(func(result ebus.Command) {
		x.command = result
		done = true
	})
	requester.SetTelegramFunc(func(t ebus.Telegram) {
		if done && x.telegram == nil && matchesCommand(t, c) {
			x.telegram = &t
		}
	})

	w := ebus.NewWire()
	w.Attach(node)
	w.Attach(requester)

	w.RunUntil(func() bool {
		if !done || !w.Idle() {
			return false
		}
		return x.telegram != nil || x.command.State() != ebus.StateEndCompleted
	}, simulationSteps)

	x.wire = w.History()
	return x, nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := newEngineConfig()
	if err != nil {
		return err
	}
	responses, err := parseResponses(respondSpecs)
	if err != nil {
		return err
	}
	if len(responses) == 0 {
		return fmt.Errorf("nothing to simulate: add at least one --respond")
	}
	from, err := parseHexByte(simulateFrom)
	if err != nil {
		return err
	}

	fmt.Printf("ebusstat - Simulation\n")
	fmt.Printf("Node: primary 0x%02X, secondary 0x%02X\n", cfg.PrimaryAddress, ebus.ToSecondary(cfg.PrimaryAddress))
	fmt.Printf("Responses: %d\n\n", len(responses))

	exchanges, err := simulateResponses(cfg, from, responses)
	if err != nil {
		return err
	}

	failed := 0
	for _, x := range exchanges {
		if x.telegram != nil {
			fmt.Print(ebus.FormatTelegram(*x.telegram, time.Now()))
		} else {
			fmt.Printf("%02X -> %02X cmd=%s: %s\n", x.command.QQ(), x.command.ZZ(),
				ebus.FormatCommand(x.expected.command), ebus.FormatState(x.command.State()))
		}
		if simulateShowWire {
			fmt.Printf("  wire: %s\n", ebus.FormatHex(x.wire))
		}
		if x.ok() {
			fmt.Printf("  OK\n\n")
		} else {
			failed++
			fmt.Printf("  MISMATCH: expected [%s]\n\n", ebus.FormatHex(x.expected.data))
		}
	}

	fmt.Printf("--- Simulation summary ---\n")
	fmt.Printf("%d exchanges, %d failed\n", len(exchanges), failed)
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d exchanges", ErrSimulationFailed, failed, len(exchanges))
	}
	return nil
}
